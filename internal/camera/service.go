package camera

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bilbercode/amba-rpc/internal/ambarpc"
)

const DefaultCaptureTimeout = 30 * time.Second

var (
	commandErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name:      "command_errors_total",
		Namespace: "amba_rpc",
		Help:      "number of failed camera commands",
	}, []string{"command"})
	captures = promauto.NewCounter(prometheus.CounterOpts{
		Name:      "captures_total",
		Namespace: "amba_rpc",
		Help:      "number of photos taken",
	})
)

type service struct {
	rpc            ambarpc.Caller
	captureTimeout time.Duration
}

// NewService builds the command catalog on top of an authenticated session.
// captureTimeout <= 0 selects DefaultCaptureTimeout.
func NewService(rpc ambarpc.Caller, captureTimeout time.Duration) Service {
	if captureTimeout <= 0 {
		captureTimeout = DefaultCaptureTimeout
	}
	return &service{rpc: rpc, captureTimeout: captureTimeout}
}

func (s *service) call(ctx context.Context, command string, msgID int, fields ambarpc.Fields) (ambarpc.Message, error) {
	resp, err := s.rpc.Call(ctx, msgID, fields)
	if err != nil {
		commandErrors.WithLabelValues(command).Inc()
		return nil, fmt.Errorf("%s failed: %w", command, err)
	}
	return resp, nil
}

func (s *service) ConfigGet(ctx context.Context, name string) (interface{}, error) {
	resp, err := s.call(ctx, "config_get", ambarpc.MsgConfigGet, ambarpc.Fields{"type": name})
	if err != nil {
		return nil, err
	}
	return resp.Param(), nil
}

// ConfigGetAll flattens the list of single entry objects the camera returns.
func (s *service) ConfigGetAll(ctx context.Context) (map[string]interface{}, error) {
	resp, err := s.call(ctx, "config_get_all", ambarpc.MsgConfigGetAll, nil)
	if err != nil {
		return nil, err
	}
	entries, ok := resp.Param().([]interface{})
	if !ok {
		return nil, fmt.Errorf("config_get_all failed: unexpected param %T", resp.Param())
	}
	config := make(map[string]interface{})
	for _, entry := range entries {
		kv, ok := entry.(map[string]interface{})
		if !ok {
			log.WithField("entry", entry).Warn("skipping malformed config entry")
			continue
		}
		for k, v := range kv {
			config[k] = v
		}
	}
	return config, nil
}

func (s *service) ConfigSet(ctx context.Context, name string, value interface{}) (ambarpc.Message, error) {
	return s.call(ctx, "config_set", ambarpc.MsgConfigSet, ambarpc.Fields{"type": name, "param": value})
}

// ConfigDescribe parses descriptions of the form "settable:a#b#c" or "readonly".
func (s *service) ConfigDescribe(ctx context.Context, name string) (*Setting, error) {
	resp, err := s.call(ctx, "config_describe", ambarpc.MsgConfigGetAll, ambarpc.Fields{"param": name})
	if err != nil {
		return nil, err
	}
	entries, ok := resp.Param().([]interface{})
	if !ok || len(entries) == 0 {
		return nil, fmt.Errorf("config_describe failed: no description for %s", name)
	}
	kv, ok := entries[0].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("config_describe failed: malformed description for %s", name)
	}
	desc, ok := kv[name].(string)
	if !ok {
		return nil, fmt.Errorf("config_describe failed: no description for %s", name)
	}

	access, values := desc, ""
	if i := strings.Index(desc, ":"); i >= 0 {
		access, values = desc[:i], desc[i+1:]
	}
	setting := &Setting{Name: name, Access: Access(access), Options: []string{}}
	if values != "" {
		setting.Options = strings.Split(values, "#")
	}
	return setting, nil
}

// Capture takes a photo and blocks until the camera reports it saved.
func (s *service) Capture(ctx context.Context) (string, error) {
	if err := s.rpc.Send(ambarpc.MsgCapture, nil); err != nil {
		commandErrors.WithLabelValues("capture").Inc()
		return "", fmt.Errorf("capture failed: %w", err)
	}
	msg, err := s.rpc.WaitFor(ctx, ambarpc.MatchID(ambarpc.MsgStatus, ambarpc.Fields{"type": ambarpc.EventPhotoTaken}), s.captureTimeout)
	if err != nil {
		commandErrors.WithLabelValues("capture").Inc()
		return "", fmt.Errorf("capture failed: %w", err)
	}
	path, ok := msg.Param().(string)
	if !ok {
		return "", errors.New("capture failed: photo_taken carried no path")
	}
	captures.Inc()
	log.WithField("path", path).Info("photo taken")
	return path, nil
}

// PreviewStart starts the RTSP preview served on rtsp://<camera>/live.
func (s *service) PreviewStart(ctx context.Context) (ambarpc.Message, error) {
	return s.call(ctx, "preview_start", ambarpc.MsgPreviewStart, ambarpc.Fields{"param": "none_force"})
}

func (s *service) PreviewStop(ctx context.Context) (ambarpc.Message, error) {
	return s.call(ctx, "preview_stop", ambarpc.MsgPreviewStop, nil)
}

func (s *service) RecordStart(ctx context.Context) (ambarpc.Message, error) {
	return s.call(ctx, "record_start", ambarpc.MsgRecordStart, nil)
}

func (s *service) RecordStop(ctx context.Context) (ambarpc.Message, error) {
	return s.call(ctx, "record_stop", ambarpc.MsgRecordStop, nil)
}

// RecordTime returns the current recording length.
func (s *service) RecordTime(ctx context.Context) (interface{}, error) {
	resp, err := s.call(ctx, "record_time", ambarpc.MsgRecordTime, nil)
	if err != nil {
		return nil, err
	}
	return resp.Param(), nil
}

func (s *service) Battery(ctx context.Context) (ambarpc.Message, error) {
	return s.call(ctx, "battery", ambarpc.MsgBattery, nil)
}

func (s *service) StorageUsage(ctx context.Context, kind StorageKind) (ambarpc.Message, error) {
	if kind == "" {
		kind = StorageFree
	}
	return s.call(ctx, "storage_usage", ambarpc.MsgStorageUsage, ambarpc.Fields{"type": string(kind)})
}

// Format erases the SD card.
func (s *service) Format(ctx context.Context) (ambarpc.Message, error) {
	log.Warn("formatting camera storage")
	return s.call(ctx, "format", ambarpc.MsgFormat, nil)
}

// Ls lists a directory. Appending " -D -S" to path returns sizes and dates.
func (s *service) Ls(ctx context.Context, path string) (ambarpc.Message, error) {
	return s.call(ctx, "ls", ambarpc.MsgLs, ambarpc.Fields{"param": path})
}

func (s *service) Cd(ctx context.Context, path string) (ambarpc.Message, error) {
	return s.call(ctx, "cd", ambarpc.MsgCd, ambarpc.Fields{"param": path})
}

// Rm removes files, path may contain wildcards.
func (s *service) Rm(ctx context.Context, path string) (ambarpc.Message, error) {
	return s.call(ctx, "rm", ambarpc.MsgRm, ambarpc.Fields{"param": path})
}

func (s *service) MediaInfo(ctx context.Context, path string) (ambarpc.Message, error) {
	return s.call(ctx, "mediainfo", ambarpc.MsgMediaInfo, ambarpc.Fields{"param": path})
}
