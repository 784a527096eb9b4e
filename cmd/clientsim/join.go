package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"clientsim/internal/config"
	"clientsim/pkg/api"
	"clientsim/pkg/model"
)

const joinCloseTimeout = 30 * time.Second

func newJoinCmd(a *app) *cobra.Command {
	var (
		count   int
		name    string
		remotes []string
	)

	cmd := &cobra.Command{
		Use:   "join",
		Short: "Join a session with N participants until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if count < 1 {
				return fmt.Errorf("--count must be at least 1, got %d", count)
			}
			sessionURL, err := a.sessionURL()
			if err != nil {
				return err
			}
			overrides, err := settingsOverrides(cmd.Flags())
			if err != nil {
				return err
			}
			settings := config.Apply(a.cfg.Settings(), overrides)
			if err := settings.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc := api.NewService(a.pool, a.cfg.BrowserConfig(), a.log)
			for i := 0; i < count; i++ {
				username := participantName(name, i, count)
				var spawned string
				if len(remotes) > 0 {
					spawned, err = svc.SpawnRemote(ctx, sessionURL, settings, username, remotes[i%len(remotes)])
				} else {
					spawned, err = svc.SpawnLocal(ctx, sessionURL, settings, username)
				}
				if err != nil {
					a.log.Err(err, "创建参与者失败", "index", i)
					continue
				}
				follow(ctx, a, svc, spawned)
			}

			<-ctx.Done()
			a.log.Info("收到退出信号，关闭全部参与者")
			closeCtx, cancel := context.WithTimeout(context.Background(), joinCloseTimeout)
			defer cancel()
			return svc.CloseAll(closeCtx)
		},
	}

	flags := cmd.Flags()
	flags.String("url", "", "session url, e.g. https://demo.hyper.video/space/abc")
	flags.IntVarP(&count, "count", "n", 1, "number of participants")
	flags.StringVar(&name, "name", "", "display name, suffixed with the index when count > 1")
	flags.StringSliceVar(&remotes, "remote", nil, "worker websocket urls, participants run locally when empty")
	addSettingsFlags(flags)
	return cmd
}

// participantName 空名称交给 cookie 池或随机名
func participantName(base string, i, count int) string {
	if base == "" || count == 1 {
		return base
	}
	return fmt.Sprintf("%s-%d", base, i)
}

// follow 记录参与者状态变化直到其结束
func follow(ctx context.Context, a *app, svc api.Service, name string) {
	ch, err := svc.Subscribe(ctx, name)
	if err != nil {
		a.log.Err(err, "订阅参与者状态失败", "participant", name)
		return
	}
	go func() {
		for s := range ch {
			a.log.Info("参与者状态", "participant", s.Username, "running", s.Running, "joined", s.Joined,
				"muted", s.Muted, "video", s.VideoActivated, "screenshare", s.ScreenshareActivated)
		}
	}()
}

func addSettingsFlags(fs *pflag.FlagSet) {
	fs.Bool("headless", true, "run the browser without a window")
	fs.Bool("audio", true, "join with the microphone enabled")
	fs.Bool("video", true, "join with the camera enabled")
	fs.Bool("screenshare", false, "share the screen after joining")
	fs.Bool("blur", false, "enable background blur")
	fs.String("noise-suppression", "", "noise suppression mode")
	fs.String("transport", "", "webtransport or webrtc")
	fs.String("resolution", "", "webcam resolution, e.g. P720")
	fs.String("fake-media", "", "<builtin>, none, or a file/url used as fake capture input")
	fs.String("frontend", "", "classic or lite")
}

// settingsOverrides 仅收集命令行上显式设置的参数
func settingsOverrides(fs *pflag.FlagSet) (*config.Overrides, error) {
	o := &config.Overrides{}
	var err error
	boolFlag := func(name string, dst **bool) {
		if err != nil || !fs.Changed(name) {
			return
		}
		var v bool
		if v, err = fs.GetBool(name); err == nil {
			*dst = &v
		}
	}
	text := func(name string, set func(string) error) {
		if err != nil || !fs.Changed(name) {
			return
		}
		var v string
		if v, err = fs.GetString(name); err == nil {
			if serr := set(v); serr != nil {
				err = fmt.Errorf("--%s: %w", name, serr)
			}
		}
	}

	boolFlag("headless", &o.Headless)
	boolFlag("audio", &o.AudioEnabled)
	boolFlag("video", &o.VideoEnabled)
	boolFlag("screenshare", &o.ScreenshareEnabled)
	boolFlag("blur", &o.Blur)
	text("noise-suppression", func(s string) error {
		var v model.NoiseSuppression
		if err := v.UnmarshalText([]byte(s)); err != nil {
			return err
		}
		o.NoiseSuppression = &v
		return nil
	})
	text("transport", func(s string) error {
		var v model.TransportMode
		if err := v.UnmarshalText([]byte(s)); err != nil {
			return err
		}
		o.Transport = &v
		return nil
	})
	text("resolution", func(s string) error {
		var v model.WebcamResolution
		if err := v.UnmarshalText([]byte(s)); err != nil {
			return err
		}
		o.Resolution = &v
		return nil
	})
	text("fake-media", func(s string) error {
		o.FakeMedia = &s
		return nil
	})
	text("frontend", func(s string) error {
		var v model.Frontend
		if err := v.UnmarshalText([]byte(s)); err != nil {
			return err
		}
		o.Frontend = &v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}
