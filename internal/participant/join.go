package participant

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"clientsim/internal/auth"
	"clientsim/pkg/model"
)

// maxPageRetries 首次尝试之外创建页面的最大重试次数
const maxPageRetries = 5

const minPollInterval = 10 * time.Millisecond

// join 完成一次完整的入会流程，已在会中时直接返回
func (a *actor) join(ctx context.Context) error {
	if a.state.Get().Joined {
		a.log.Warn("已在会中")
		return nil
	}
	if err := a.acquirePage(ctx); err != nil {
		return err
	}

	if a.fe.cookie {
		if a.cookie != nil {
			if err := a.page.SetCookie(ctx, auth.SessionCookieName, a.cookie.Token(), a.cfg.Domain()); err != nil {
				return fmt.Errorf("set session cookie: %w", err)
			}
			a.log.Debug("已写入会话 cookie", "domain", a.cfg.Domain())
		} else {
			a.log.Warn("没有可用的会话 cookie")
		}
	}

	if err := a.page.Navigate(ctx, a.cfg.SessionURL.String()); err != nil {
		return err
	}
	a.log.Debug("已打开会议页面", "url", a.cfg.SessionURL.String())

	if a.fe.nameInput != "" {
		if err := a.waitFor(ctx, a.fe.nameInput); err != nil {
			return fmt.Errorf("find name input: %w", err)
		}
		if err := a.page.Fill(ctx, a.fe.nameInput, a.cfg.Username); err != nil {
			return fmt.Errorf("fill name input: %w", err)
		}
		a.log.Debug("已填写显示名")
	}

	if err := a.waitFor(ctx, a.fe.joinButton); err != nil {
		return fmt.Errorf("find join button: %w", err)
	}
	if err := a.page.Click(ctx, a.fe.joinButton); err != nil {
		return fmt.Errorf("click join button: %w", err)
	}
	a.log.Debug("已点击入会按钮")

	if err := a.waitFor(ctx, a.fe.leave); err != nil {
		return fmt.Errorf("leave button never appeared, not joined: %w", err)
	}
	a.log.Info("已加入会议")

	if err := a.applySettings(ctx); err != nil {
		a.log.Err(err, "应用参与者设置失败")
	}
	a.refreshState(ctx)
	return nil
}

// acquirePage 复用已有页面或新建页面并打开会议地址，失败时按退避重试
func (a *actor) acquirePage(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = a.timings.retryInitial
	b.MaxInterval = a.timings.retryMax

	for attempt := 0; ; attempt++ {
		err := a.openPage(ctx)
		if err == nil {
			return nil
		}
		if attempt >= maxPageRetries {
			return err
		}
		a.log.Warn("创建页面失败，稍后重试", "attempt", attempt+1, "error", err)
		if werr := sleep(ctx, b.NextBackOff()); werr != nil {
			return werr
		}
	}
}

func (a *actor) openPage(ctx context.Context) error {
	if a.page == nil {
		p, err := a.browser.NewPage(ctx)
		if err != nil {
			return err
		}
		a.page = p
	}
	return a.page.Navigate(ctx, a.cfg.SessionURL.String())
}

// waitFor 轮询直到元素出现或超时
func (a *actor) waitFor(ctx context.Context, selector string) error {
	ctx, cancel := context.WithTimeout(ctx, a.timings.elementTimeout)
	defer cancel()

	interval := a.timings.pollInterval
	if interval < minPollInterval {
		interval = minPollInterval
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	var lastErr error
	for {
		ok, err := a.page.Exists(ctx, selector)
		if err == nil && ok {
			return nil
		}
		if err != nil {
			lastErr = err
		}
		select {
		case <-ctx.Done():
			if lastErr != nil {
				return fmt.Errorf("wait for %s: %w (last error: %v)", selector, ctx.Err(), lastErr)
			}
			return fmt.Errorf("wait for %s: %w", selector, ctx.Err())
		case <-t.C:
		}
	}
}

// applySettings 入会后把配置中的功能开关同步到页面
func (a *actor) applySettings(ctx context.Context) error {
	s := a.cfg.Settings

	if a.fe.settings {
		if err := a.setNoiseSuppression(ctx, s.NoiseSuppression); err != nil {
			return err
		}
		if err := a.setBackgroundBlur(ctx, s.Blur); err != nil {
			return err
		}
		if err := a.setWebcamResolution(ctx, s.Resolution); err != nil {
			return err
		}
		if err := a.setForceWebrtc(ctx, s.Transport.OrDefault() == model.TransportWebRTC); err != nil {
			return err
		}
	}

	if on, ok := a.controlState(ctx, a.fe.mute); ok && on != s.AudioEnabled {
		if err := a.toggle(ctx, a.fe.mute, "麦克风"); err != nil {
			return err
		}
	}
	if on, ok := a.controlState(ctx, a.fe.video); ok && on != s.VideoEnabled {
		if err := a.toggle(ctx, a.fe.video, "摄像头"); err != nil {
			return err
		}
	}
	if on, ok := a.controlState(ctx, a.fe.screenshare); ok && on != s.ScreenshareEnabled {
		if err := a.toggle(ctx, a.fe.screenshare, "屏幕共享"); err != nil {
			return err
		}
		return sleep(ctx, a.timings.screenshareWait)
	}
	return nil
}

// controlState 读取开关控件的 data-test-state
func (a *actor) controlState(ctx context.Context, selector string) (on bool, ok bool) {
	v, found, err := a.page.Attribute(ctx, selector, stateAttribute)
	if err != nil || !found {
		return false, false
	}
	return v == "true", true
}

// refreshState 重新探测页面控件生成完整状态，探测失败的字段取默认值
func (a *actor) refreshState(ctx context.Context) {
	if a.page == nil {
		return
	}
	next := model.ParticipantState{
		NoiseSuppression: model.NoiseSuppressionNone,
		TransportMode:    model.TransportWebTransport,
		WebcamResolution: model.ResolutionAuto,
	}

	if ok, err := a.page.Exists(ctx, a.fe.leave); err == nil {
		next.Joined = ok
	}
	if on, ok := a.controlState(ctx, a.fe.mute); ok {
		next.Muted = !on
	}
	if on, ok := a.controlState(ctx, a.fe.video); ok {
		next.VideoActivated = on
	}
	if on, ok := a.controlState(ctx, a.fe.screenshare); ok {
		next.ScreenshareActivated = on
	}

	if a.fe.settings {
		if r, err := a.page.Call(ctx, jsGetNoiseSuppression); err == nil {
			var ns model.NoiseSuppression
			if ns.UnmarshalText([]byte(r.String())) == nil {
				next.NoiseSuppression = ns
			}
		}
		if r, err := a.page.Call(ctx, jsGetForceWebrtc); err == nil && r.Bool() {
			next.TransportMode = model.TransportWebRTC
		}
		if r, err := a.page.Call(ctx, jsGetResolution); err == nil {
			var res model.WebcamResolution
			if res.UnmarshalText([]byte(r.String())) == nil {
				next.WebcamResolution = res
			}
		}
		if r, err := a.page.Call(ctx, jsGetBackgroundBlur); err == nil {
			next.BackgroundBlur = r.Bool()
		}
	}

	a.state.Update(func(s *model.ParticipantState) {
		s.Joined = next.Joined
		s.Muted = next.Muted
		s.VideoActivated = next.VideoActivated
		s.ScreenshareActivated = next.ScreenshareActivated
		s.NoiseSuppression = next.NoiseSuppression
		s.TransportMode = next.TransportMode
		s.WebcamResolution = next.WebcamResolution
		s.BackgroundBlur = next.BackgroundBlur
	})
}
