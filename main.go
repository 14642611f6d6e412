package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	cli "github.com/jawher/mow.cli"
	log "github.com/sirupsen/logrus"

	"github.com/bilbercode/amba-rpc/internal/ambarpc"
	"github.com/bilbercode/amba-rpc/internal/camera"
	"github.com/bilbercode/amba-rpc/internal/preview"
)

const (
	appName = "amba-rpc"
	appDesc = "ambarella camera remote control"
)

type session struct {
	rpc    *ambarpc.Client
	camera camera.Service
}

func main() {
	app := cli.App(appName, appDesc)

	address := app.String(cli.StringOpt{
		Name:   "a address",
		Desc:   "camera address",
		EnvVar: "AMBA_ADDRESS",
		Value:  ambarpc.DefaultAddress,
	})

	port := app.Int(cli.IntOpt{
		Name:   "p port",
		Desc:   "camera control port",
		EnvVar: "AMBA_PORT",
		Value:  ambarpc.DefaultPort,
	})

	timeout := app.String(cli.StringOpt{
		Name:   "timeout",
		Desc:   "response timeout, 0 waits forever",
		EnvVar: "AMBA_TIMEOUT",
		Value:  "10s",
	})

	logLevel := app.String(cli.StringOpt{
		Name:   "log.level",
		Desc:   "log level",
		EnvVar: "LOG_LEVEL",
		Value:  "info",
	})

	metricsAddr := app.String(cli.StringOpt{
		Name:   "metrics.addr",
		Desc:   "address to serve prometheus metrics on, empty disables",
		EnvVar: "METRICS_ADDR",
		Value:  "",
	})

	app.Before = func() {
		level, err := log.ParseLevel(*logLevel)
		if err != nil {
			log.WithError(err).Fatal("invalid log level")
		}
		log.SetLevel(level)
	}

	// run connects, authenticates and hands the session to fn while the
	// metrics endpoint is served alongside.
	run := func(fn func(ctx context.Context, s *session) error) {
		callTimeout, err := time.ParseDuration(*timeout)
		if err != nil {
			log.WithError(err).Fatal("invalid timeout")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		group, ctx := errgroup.WithContext(ctx)
		done := make(chan struct{})

		if *metricsAddr != "" {
			server := &http.Server{Addr: *metricsAddr, Handler: promhttp.Handler()}
			group.Go(func() error {
				err := server.ListenAndServe()
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			})
			group.Go(func() error {
				select {
				case <-ctx.Done():
				case <-done:
				}
				return server.Shutdown(context.Background())
			})
		}

		group.Go(func() error {
			defer close(done)
			rpc := ambarpc.NewClient(*address, *port, ambarpc.WithCallTimeout(callTimeout))
			if err := rpc.Connect(ctx); err != nil {
				return err
			}
			defer rpc.Close()
			if err := rpc.Authenticate(ctx); err != nil {
				return err
			}
			return fn(ctx, &session{rpc: rpc, camera: camera.NewService(rpc, 0)})
		})

		if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Fatal("command failed")
		}
	}

	app.Command("battery", "show battery status", func(cmd *cli.Cmd) {
		cmd.Action = func() {
			run(func(ctx context.Context, s *session) error {
				return output(s.camera.Battery(ctx))
			})
		}
	})

	app.Command("config", "read and change settings", func(cmd *cli.Cmd) {
		cmd.Command("get", "show one or all settings", func(cmd *cli.Cmd) {
			cmd.Spec = "[NAME]"
			name := cmd.StringArg("NAME", "", "setting name")
			cmd.Action = func() {
				run(func(ctx context.Context, s *session) error {
					if *name == "" {
						return output(s.camera.ConfigGetAll(ctx))
					}
					return output(s.camera.ConfigGet(ctx, *name))
				})
			}
		})
		cmd.Command("set", "change a setting", func(cmd *cli.Cmd) {
			cmd.Spec = "NAME VALUE"
			name := cmd.StringArg("NAME", "", "setting name")
			value := cmd.StringArg("VALUE", "", "new value")
			cmd.Action = func() {
				run(func(ctx context.Context, s *session) error {
					return output(s.camera.ConfigSet(ctx, *name, *value))
				})
			}
		})
		cmd.Command("describe", "show access and options of a setting", func(cmd *cli.Cmd) {
			cmd.Spec = "NAME"
			name := cmd.StringArg("NAME", "", "setting name")
			cmd.Action = func() {
				run(func(ctx context.Context, s *session) error {
					return output(s.camera.ConfigDescribe(ctx, *name))
				})
			}
		})
	})

	app.Command("capture", "take a photo", func(cmd *cli.Cmd) {
		cmd.Action = func() {
			run(func(ctx context.Context, s *session) error {
				return output(s.camera.Capture(ctx))
			})
		}
	})

	app.Command("record", "control video recording", func(cmd *cli.Cmd) {
		cmd.Command("start", "start recording", func(cmd *cli.Cmd) {
			cmd.Action = func() {
				run(func(ctx context.Context, s *session) error {
					return output(s.camera.RecordStart(ctx))
				})
			}
		})
		cmd.Command("stop", "stop recording", func(cmd *cli.Cmd) {
			cmd.Action = func() {
				run(func(ctx context.Context, s *session) error {
					return output(s.camera.RecordStop(ctx))
				})
			}
		})
		cmd.Command("time", "show the current recording length", func(cmd *cli.Cmd) {
			cmd.Action = func() {
				run(func(ctx context.Context, s *session) error {
					return output(s.camera.RecordTime(ctx))
				})
			}
		})
	})

	app.Command("storage", "show free or total storage", func(cmd *cli.Cmd) {
		total := cmd.BoolOpt("t total", false, "report total instead of free space")
		cmd.Action = func() {
			kind := camera.StorageFree
			if *total {
				kind = camera.StorageTotal
			}
			run(func(ctx context.Context, s *session) error {
				return output(s.camera.StorageUsage(ctx, kind))
			})
		}
	})

	app.Command("ls", "list a directory", func(cmd *cli.Cmd) {
		cmd.Spec = "[PATH]"
		path := cmd.StringArg("PATH", "/tmp/fuse_d/DCIM", "directory")
		cmd.Action = func() {
			run(func(ctx context.Context, s *session) error {
				return output(s.camera.Ls(ctx, *path))
			})
		}
	})

	app.Command("mediainfo", "describe a media file", func(cmd *cli.Cmd) {
		cmd.Spec = "PATH"
		path := cmd.StringArg("PATH", "", "file")
		cmd.Action = func() {
			run(func(ctx context.Context, s *session) error {
				return output(s.camera.MediaInfo(ctx, *path))
			})
		}
	})

	app.Command("rm", "remove files, wildcards allowed", func(cmd *cli.Cmd) {
		cmd.Spec = "PATH"
		path := cmd.StringArg("PATH", "", "file or pattern")
		cmd.Action = func() {
			run(func(ctx context.Context, s *session) error {
				return output(s.camera.Rm(ctx, *path))
			})
		}
	})

	app.Command("preview", "start the live preview and sample its RTSP stream", func(cmd *cli.Cmd) {
		duration := cmd.StringOpt("d duration", "3s", "sampling time")
		keep := cmd.BoolOpt("k keep", false, "leave the preview running afterwards")
		cmd.Action = func() {
			sample, err := time.ParseDuration(*duration)
			if err != nil {
				log.WithError(err).Fatal("invalid duration")
			}
			run(func(ctx context.Context, s *session) error {
				if _, err := s.camera.PreviewStart(ctx); err != nil {
					return err
				}
				report, err := preview.Probe(ctx, preview.LiveURL(*address), preview.Options{Duration: sample})
				if !*keep {
					if _, stopErr := s.camera.PreviewStop(ctx); stopErr != nil {
						log.WithError(stopErr).Warn("failed to stop preview")
					}
				}
				if report != nil {
					if printErr := output(report, nil); printErr != nil {
						return printErr
					}
				}
				return err
			})
		}
	})

	app.Command("events", "print camera events until interrupted", func(cmd *cli.Cmd) {
		raw := cmd.BoolOpt("r raw", false, "print every message, not only status events")
		cmd.Action = func() {
			run(func(ctx context.Context, s *session) error {
				s.rpc.SubscribeEvent(ambarpc.EventViewfinderStart, func(string, ambarpc.Message) error {
					log.Info("*** STARTING ***")
					return nil
				})
				s.rpc.SubscribeEvent(ambarpc.EventViewfinderStop, func(string, ambarpc.Message) error {
					log.Info("*** STOPPING ***")
					return nil
				})
				s.rpc.SubscribeEvent(ambarpc.EventRecordComplete, func(_ string, fields ambarpc.Message) error {
					log.WithField("path", fields.Param()).Info("file saved")
					return nil
				})
				s.rpc.SubscribeAllEvents(func(event string, fields ambarpc.Message) error {
					return output(map[string]interface{}{"event": event, "fields": fields}, nil)
				})
				if *raw {
					s.rpc.SubscribeAllMessages(func(msgID int, fields ambarpc.Message) error {
						return output(map[string]interface{}{"msg_id": msgID, "fields": fields}, nil)
					})
				}
				return s.rpc.Run(ctx)
			})
		}
	})

	err := app.Run(os.Args)
	if err != nil {
		log.WithError(err).Panic("failed to execute application")
	}
}

func output(v interface{}, err error) error {
	if err != nil {
		return err
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	fmt.Println(string(b))
	return nil
}
