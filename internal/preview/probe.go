// Package preview checks the RTSP live view a camera serves once
// MSG_PREVIEW_START succeeded.
package preview

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/sdp/v3"
	log "github.com/sirupsen/logrus"

	"github.com/bilbercode/amba-rpc/internal/rtsp"
	"github.com/bilbercode/amba-rpc/internal/rtsp/transport"
)

const (
	DefaultPort     = 554
	DefaultDuration = 3 * time.Second
)

var (
	ErrNoVideo   = errors.New("no video media described by server")
	ErrNoPackets = errors.New("no RTP packets received")
)

// Options tune a probe.
type Options struct {
	// Duration is how long packets are sampled after PLAY.
	Duration    time.Duration
	DialTimeout time.Duration
}

// Report summarises what the stream delivered.
type Report struct {
	URL         string
	Control     string
	Session     string
	Codec       string
	PayloadType uint8
	ClockRate   int

	RTPPackets    int
	RTCPPackets   int
	SenderReports int
	Bytes         int
	SSRC          uint32
	FirstSequence uint16
	LastSequence  uint16
}

// LiveURL is the preview location of a camera at host.
func LiveURL(host string) string {
	return "rtsp://" + host + "/live"
}

// Probe dials the stream at rawURL and samples it.
func Probe(ctx context.Context, rawURL string, opts Options) (*Report, error) {
	host, err := hostPort(rawURL)
	if err != nil {
		return nil, err
	}
	dialer := &net.Dialer{Timeout: opts.DialTimeout}
	nc, err := dialer.DialContext(ctx, "tcp", host)
	if err != nil {
		return nil, fmt.Errorf("failed to dial endpoint %s: %w", host, err)
	}
	defer nc.Close()
	return ProbeConn(ctx, nc, rawURL, opts)
}

// ProbeConn runs the probe over an established connection.
func ProbeConn(ctx context.Context, nc net.Conn, rawURL string, opts Options) (*Report, error) {
	if opts.Duration <= 0 {
		opts.Duration = DefaultDuration
	}
	client := rtsp.NewClient(ctx, nc)
	defer client.Close()

	report := &Report{URL: rawURL}

	if _, err := client.SendRequest(ctx, &rtsp.Request{Method: rtsp.MethodOptions, Url: rawURL}); err != nil {
		return nil, fmt.Errorf("failed to query options for %s: %w", rawURL, err)
	}

	res, err := client.SendRequest(ctx, &rtsp.Request{
		Method: rtsp.MethodDescribe,
		Url:    rawURL,
		Header: http.Header{"Accept": []string{"application/sdp"}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get session description for url %s: %w", rawURL, err)
	}
	description := &sdp.SessionDescription{}
	if err := description.Unmarshal(res.Body); err != nil {
		return nil, fmt.Errorf("failed to parse SDP for URL %s: %w", rawURL, err)
	}
	base := res.Header.Get("Content-Base")
	if base == "" {
		base = rawURL
	}

	media := videoMedia(description)
	if media == nil {
		return nil, ErrNoVideo
	}
	report.Codec, report.PayloadType, report.ClockRate = rtpmap(media)
	control, _ := media.Attribute("control")
	report.Control = controlURL(base, control)

	requested := transport.Interleaved(0)
	res, err = client.SendRequest(ctx, &rtsp.Request{
		Method: rtsp.MethodSetup,
		Url:    report.Control,
		Header: http.Header{"Transport": []string{requested.String()}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed setup resources on URL %s: %w", report.Control, err)
	}
	report.Session = res.Session()
	if report.Session == "" {
		return nil, errors.New("no session ID returned")
	}
	rtpChannel, rtcpChannel := uint8(0), uint8(1)
	if v := res.Header.Get("Transport"); v != "" {
		granted, err := transport.Parse(v)
		if err != nil {
			return nil, fmt.Errorf("failed to parse transport reply: %w", err)
		}
		if len(granted.Interleaved) > 0 {
			rtpChannel = uint8(granted.Interleaved[0])
			rtcpChannel = rtpChannel + 1
			if len(granted.Interleaved) > 1 {
				rtcpChannel = uint8(granted.Interleaved[1])
			}
		}
	}

	var mu sync.Mutex
	unsubscribe := client.SubscribeInterleavedFrames(func(channel uint8, payload []byte) {
		mu.Lock()
		defer mu.Unlock()
		switch channel {
		case rtpChannel:
			packet := &rtp.Packet{}
			if err := packet.Unmarshal(payload); err != nil {
				log.WithError(err).Debug("dropping malformed RTP packet")
				return
			}
			if report.RTPPackets == 0 {
				report.FirstSequence = packet.SequenceNumber
				report.SSRC = packet.SSRC
			}
			report.LastSequence = packet.SequenceNumber
			report.RTPPackets++
			report.Bytes += len(packet.Payload)
		case rtcpChannel:
			packets, err := rtcp.Unmarshal(payload)
			if err != nil {
				log.WithError(err).Debug("dropping malformed RTCP packet")
				return
			}
			report.RTCPPackets += len(packets)
			for _, p := range packets {
				if _, ok := p.(*rtcp.SenderReport); ok {
					report.SenderReports++
				}
			}
		}
	})
	defer unsubscribe()

	session := http.Header{"Session": []string{report.Session}}
	if _, err := client.SendRequest(ctx, &rtsp.Request{Method: rtsp.MethodPlay, Url: base, Header: session}); err != nil {
		return nil, fmt.Errorf("failed to request server to start stream %s: %w", base, err)
	}
	log.WithFields(log.Fields{"url": base, "session": report.Session}).Info("sampling preview stream")

	timer := time.NewTimer(opts.Duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-client.Done():
		if err := client.Err(); err != nil {
			return nil, err
		}
	case <-timer.C:
	}

	teardownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := client.SendRequest(teardownCtx, &rtsp.Request{Method: rtsp.MethodTeardown, Url: base, Header: session}); err != nil {
		log.WithError(err).Warn("preview teardown failed")
	}

	mu.Lock()
	defer mu.Unlock()
	out := *report
	if out.RTPPackets == 0 {
		return &out, ErrNoPackets
	}
	return &out, nil
}

func videoMedia(d *sdp.SessionDescription) *sdp.MediaDescription {
	for _, md := range d.MediaDescriptions {
		if md.MediaName.Media == "video" {
			return md
		}
	}
	return nil
}

// rtpmap reads "96 H264/90000".
func rtpmap(md *sdp.MediaDescription) (codec string, payloadType uint8, clockRate int) {
	value, ok := md.Attribute("rtpmap")
	if !ok {
		if len(md.MediaName.Formats) > 0 {
			pt, _ := strconv.Atoi(md.MediaName.Formats[0])
			payloadType = uint8(pt)
		}
		return "", payloadType, 0
	}
	fields := strings.Fields(value)
	if len(fields) == 0 {
		return "", 0, 0
	}
	pt, _ := strconv.Atoi(fields[0])
	payloadType = uint8(pt)
	if len(fields) < 2 {
		return "", payloadType, 0
	}
	parts := strings.Split(fields[1], "/")
	codec = parts[0]
	if len(parts) > 1 {
		clockRate, _ = strconv.Atoi(parts[1])
	}
	return codec, payloadType, clockRate
}

func controlURL(base, control string) string {
	switch {
	case control == "" || control == "*":
		return base
	case strings.HasPrefix(control, "rtsp://"):
		return control
	default:
		return strings.TrimSuffix(base, "/") + "/" + control
	}
}

func hostPort(rawURL string) (string, error) {
	uri, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse URL: %w", err)
	}
	if uri.Scheme != "rtsp" || uri.Hostname() == "" {
		return "", fmt.Errorf("not an rtsp URL: %s", rawURL)
	}
	if uri.Port() == "" {
		return net.JoinHostPort(uri.Hostname(), strconv.Itoa(DefaultPort)), nil
	}
	return uri.Host, nil
}
