package participant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"clientsim/internal/auth"
	"clientsim/internal/config"
	"clientsim/internal/logger"
	"clientsim/pkg/model"
)

const closeTimeout = 15 * time.Second

var errNoPage = errors.New("no page, participant has not joined yet")

// actor 独占一个浏览器会话，逐条执行命令
type actor struct {
	cfg      config.ParticipantConfig
	fe       frontend
	pool     *auth.Pool
	cookie   *auth.BorrowedCookie
	launch   LaunchFunc
	timings  timings
	log      logger.Logger
	state    *Watch[model.ParticipantState]
	commands <-chan model.ParticipantMessage

	browser Browser
	page    Page
}

func newActor(cfg config.ParticipantConfig, o options, l logger.Logger,
	state *Watch[model.ParticipantState], commands <-chan model.ParticipantMessage) *actor {
	return &actor{
		cfg:      cfg,
		fe:       frontendFor(cfg.Settings.Frontend),
		pool:     o.pool,
		cookie:   o.cookie,
		launch:   o.launch,
		timings:  o.timings,
		log:      l,
		state:    state,
		commands: commands,
	}
}

// run 准备 cookie、启动浏览器，并与事件循环一起运行到结束
func (a *actor) run(ctx context.Context) error {
	defer func() { a.cookie.Release() }()

	if a.cookie == nil && a.fe.cookie && a.pool != nil {
		c, err := a.pool.FetchNewCookie(ctx, a.cfg.BaseURL(), a.cfg.Username)
		if err != nil {
			return fmt.Errorf("fetch session cookie: %w", err)
		}
		a.cookie = c
	}

	browser, err := a.launch(ctx, a.cfg, a.log)
	if err != nil {
		a.log.Err(err, "启动浏览器失败")
		return err
	}
	a.browser = browser

	pumpCtx, stopPump := context.WithCancel(ctx)
	var g errgroup.Group
	g.Go(func() error { return browser.Run(pumpCtx) })

	err = a.drive(ctx)
	stopPump()
	if perr := g.Wait(); perr != nil {
		a.log.Debug("浏览器事件循环异常退出", "error", perr)
	}
	return err
}

// drive 首次入会后进入命令循环
func (a *actor) drive(ctx context.Context) error {
	a.state.Update(func(s *model.ParticipantState) { s.Running = true })
	defer a.state.Update(func(s *model.ParticipantState) { s.Running = false })

	if err := a.join(ctx); err != nil {
		a.log.Err(err, "启动后首次入会失败")
		a.kill()
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			a.kill()
			return ctx.Err()
		case <-a.browser.Detached():
			a.log.Warn("浏览器被意外关闭")
			a.kill()
			return nil
		case m, ok := <-a.commands:
			if !ok || m.Command == model.CmdClose {
				a.close(ctx)
				return nil
			}
			if m.Command == model.CmdJoin && a.state.Get().Joined {
				a.log.Warn("已在会中")
				continue
			}
			if err := a.handle(ctx, m); err != nil {
				a.log.Err(err, "执行命令失败", "command", m.String())
			}
			a.refreshState(ctx)
		}
	}
}

func (a *actor) handle(ctx context.Context, m model.ParticipantMessage) error {
	if m.Command == model.CmdJoin {
		return a.join(ctx)
	}
	if a.page == nil {
		return errNoPage
	}
	switch m.Command {
	case model.CmdLeave:
		return a.leave(ctx)
	case model.CmdToggleAudio:
		return a.toggle(ctx, a.fe.mute, "麦克风")
	case model.CmdToggleVideo:
		return a.toggle(ctx, a.fe.video, "摄像头")
	case model.CmdToggleScreenshare:
		if err := a.toggle(ctx, a.fe.screenshare, "屏幕共享"); err != nil {
			return err
		}
		return sleep(ctx, a.timings.screenshareWait)
	case model.CmdSetNoiseSuppression:
		return a.setNoiseSuppression(ctx, m.NoiseSuppression)
	case model.CmdSetWebcamResolution:
		return a.setWebcamResolution(ctx, m.Resolution)
	case model.CmdToggleBackgroundBlur:
		return a.toggleBackgroundBlur(ctx)
	}
	return fmt.Errorf("%w: %q", model.ErrUnknownCommand, m.Command)
}

func (a *actor) leave(ctx context.Context) error {
	if err := a.page.Click(ctx, a.fe.leave); err != nil {
		return fmt.Errorf("click leave button: %w", err)
	}
	a.log.Info("已离开会议")
	return nil
}

func (a *actor) toggle(ctx context.Context, selector, what string) error {
	if err := a.page.Click(ctx, selector); err != nil {
		return fmt.Errorf("click %s: %w", selector, err)
	}
	a.log.Info("切换"+what, "selector", selector)
	return nil
}

func (a *actor) setNoiseSuppression(ctx context.Context, v model.NoiseSuppression) error {
	if !a.fe.settings {
		a.log.Debug("当前前端不支持设置降噪", "frontend", a.fe.kind)
		return nil
	}
	a.log.Info("设置降噪模式", "value", v)
	if _, err := a.page.Call(ctx, jsSetNoiseSuppression, string(v.OrDefault())); err != nil {
		return fmt.Errorf("set noise suppression: %w", err)
	}
	return nil
}

func (a *actor) setWebcamResolution(ctx context.Context, v model.WebcamResolution) error {
	if !a.fe.settings {
		a.log.Debug("当前前端不支持设置分辨率", "frontend", a.fe.kind)
		return nil
	}
	a.log.Debug("设置摄像头分辨率", "value", v)
	if _, err := a.page.Call(ctx, jsSetResolution, string(v.OrDefault())); err != nil {
		return fmt.Errorf("set webcam resolution: %w", err)
	}
	return nil
}

func (a *actor) setBackgroundBlur(ctx context.Context, v bool) error {
	if !a.fe.settings {
		a.log.Debug("当前前端不支持背景虚化", "frontend", a.fe.kind)
		return nil
	}
	if _, err := a.page.Call(ctx, jsSetBackgroundBlur, v); err != nil {
		return fmt.Errorf("set background blur: %w", err)
	}
	return nil
}

func (a *actor) setForceWebrtc(ctx context.Context, v bool) error {
	if !a.fe.settings {
		a.log.Debug("当前前端不支持切换传输方式", "frontend", a.fe.kind)
		return nil
	}
	if _, err := a.page.Call(ctx, jsSetForceWebrtc, v); err != nil {
		return fmt.Errorf("set transport mode: %w", err)
	}
	return nil
}

func (a *actor) toggleBackgroundBlur(ctx context.Context) error {
	if !a.fe.settings {
		a.log.Debug("当前前端不支持背景虚化", "frontend", a.fe.kind)
		return nil
	}
	cur, err := a.page.Call(ctx, jsGetBackgroundBlur)
	if err != nil {
		return fmt.Errorf("read background blur: %w", err)
	}
	return a.setBackgroundBlur(ctx, !cur.Bool())
}

// close 尽力离会、关闭页面并结束浏览器进程
func (a *actor) close(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
	defer cancel()

	a.log.Debug("正在关闭浏览器")
	if a.page != nil {
		if a.state.Get().Joined {
			if err := a.leave(ctx); err != nil {
				a.log.Err(err, "关闭浏览器前离会失败")
			}
		}
		if err := a.page.Close(ctx); err != nil {
			a.log.Err(err, "关闭页面失败")
		}
	}
	if err := a.browser.Close(ctx); err != nil {
		a.log.Err(err, "关闭浏览器失败")
		a.kill()
	}
	a.state.Update(func(s *model.ParticipantState) { s.Joined = false })
	a.log.Info("浏览器已关闭")
}

func (a *actor) kill() {
	if err := a.browser.Kill(); err != nil {
		a.log.Err(err, "结束浏览器进程失败")
		return
	}
	a.log.Debug("浏览器进程已结束")
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
