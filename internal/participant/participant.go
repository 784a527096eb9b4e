package participant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"clientsim/internal/auth"
	"clientsim/internal/config"
	"clientsim/internal/logger"
	"clientsim/pkg/model"
)

var (
	// ErrNotRunning actor 已结束，不再接收命令
	ErrNotRunning = errors.New("participant is not running")
	// ErrQueueFull 命令队列已满
	ErrQueueFull = errors.New("participant command queue is full")
)

const commandQueueSize = 64

// Spec 参与者的执行位置，Local 与 Remote 二选一
type Spec struct {
	Local  *config.ParticipantConfig
	Remote *Query
}

// Participant actor 的控制句柄
type Participant struct {
	name     string
	created  time.Time
	state    *Watch[model.ParticipantState]
	commands chan model.ParticipantMessage
	cancel   context.CancelFunc
	done     chan struct{}
	err      error
	log      logger.Logger
}

// Option Spawn 的可选参数
type Option func(*options)

type options struct {
	pool    *auth.Pool
	cookie  *auth.BorrowedCookie
	log     logger.Logger
	sink    chan<- model.ParticipantLogMessage
	launch  LaunchFunc
	dialer  *websocket.Dialer
	timings timings
	created func() time.Time
}

// timings actor 内部等待与重试参数
type timings struct {
	elementTimeout  time.Duration
	pollInterval    time.Duration
	retryInitial    time.Duration
	retryMax        time.Duration
	screenshareWait time.Duration
}

func defaultTimings() timings {
	return timings{
		elementTimeout:  30 * time.Second,
		pollInterval:    100 * time.Millisecond,
		retryInitial:    200 * time.Millisecond,
		retryMax:        5 * time.Second,
		screenshareWait: time.Second,
	}
}

// WithPool 设置 cookie 池
func WithPool(p *auth.Pool) Option {
	return func(o *options) { o.pool = p }
}

// WithCookie 预先解析好的 cookie，actor 结束时归还
func WithCookie(c *auth.BorrowedCookie) Option {
	return func(o *options) { o.cookie = c }
}

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithLogSink actor 日志同时投递到该通道
func WithLogSink(sink chan<- model.ParticipantLogMessage) Option {
	return func(o *options) { o.sink = sink }
}

// WithLauncher 替换浏览器启动方式
func WithLauncher(fn LaunchFunc) Option {
	return func(o *options) {
		if fn != nil {
			o.launch = fn
		}
	}
}

// WithDialer 远程参与者使用的 websocket 拨号器
func WithDialer(d *websocket.Dialer) Option {
	return func(o *options) {
		if d != nil {
			o.dialer = d
		}
	}
}

// WithElementTimeout 等待页面元素的超时
func WithElementTimeout(d time.Duration) Option {
	return func(o *options) { o.timings.elementTimeout = d }
}

// WithPollInterval 轮询页面元素的间隔
func WithPollInterval(d time.Duration) Option {
	return func(o *options) { o.timings.pollInterval = d }
}

// WithRetryBackoff 创建页面重试的初始与最大间隔
func WithRetryBackoff(initial, max time.Duration) Option {
	return func(o *options) {
		o.timings.retryInitial = initial
		o.timings.retryMax = max
	}
}

// WithScreenshareDelay 切换屏幕共享后等待界面稳定的时间
func WithScreenshareDelay(d time.Duration) Option {
	return func(o *options) { o.timings.screenshareWait = d }
}

// Spawn 立即返回句柄，actor 在后台启动浏览器或连接远程 worker
func Spawn(ctx context.Context, spec Spec, opts ...Option) (*Participant, error) {
	o := options{
		log:     logger.NewNop(),
		launch:  LaunchChrome,
		dialer:  websocket.DefaultDialer,
		timings: defaultTimings(),
		created: time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	var name string
	switch {
	case spec.Local != nil && spec.Remote != nil:
		return nil, errors.New("participant spec must be either local or remote, not both")
	case spec.Local != nil:
		name = spec.Local.Username
	case spec.Remote != nil:
		name = spec.Remote.Username
	default:
		return nil, errors.New("participant spec is empty")
	}
	if name == "" {
		return nil, errors.New("participant username is empty")
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p := &Participant{
		name:     name,
		created:  o.created(),
		state:    NewWatch(model.ParticipantState{Username: name}),
		commands: make(chan model.ParticipantMessage, commandQueueSize),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	l := newSinkLogger(o.log.With("participant", name), name, o.sink)
	p.log = l

	var run func(context.Context) error
	if spec.Local != nil {
		a := newActor(*spec.Local, o, l, p.state, p.commands)
		run = a.run
	} else {
		r := newRemote(*spec.Remote, o, l, p.state, p.commands)
		run = r.run
	}

	go func() {
		defer close(p.done)
		defer cancel()
		err := run(runCtx)
		if err != nil && !errors.Is(err, context.Canceled) {
			l.Err(err, "参与者运行失败")
		}
		p.err = err
		// 取消路径下 actor 可能来不及复位
		if p.state.Get().Running {
			p.state.Update(func(s *model.ParticipantState) { s.Running = false })
		}
		l.Debug("参与者任务结束")
	}()
	return p, nil
}

// Name 显示名
func (p *Participant) Name() string { return p.name }

// Created 创建时间
func (p *Participant) Created() time.Time { return p.created }

// State 最新状态快照
func (p *Participant) State() model.ParticipantState { return p.state.Get() }

// Watch 状态单元，用于订阅变化
func (p *Participant) Watch() *Watch[model.ParticipantState] { return p.state }

// Done actor 结束时关闭
func (p *Participant) Done() <-chan struct{} { return p.done }

// Err actor 结束原因，仅在 Done 关闭后有意义
func (p *Participant) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// Send 非阻塞投递命令
func (p *Participant) Send(m model.ParticipantMessage) error {
	select {
	case <-p.done:
		return ErrNotRunning
	default:
	}
	select {
	case p.commands <- m:
		return nil
	default:
		return ErrQueueFull
	}
}

// Join 未入会时发送 Join
func (p *Participant) Join() error {
	s := p.state.Get()
	if !s.Running {
		p.log.Debug("浏览器未运行，忽略入会")
		return ErrNotRunning
	}
	if s.Joined {
		p.log.Debug("已在会中，忽略入会")
		return nil
	}
	return p.Send(model.Message(model.CmdJoin))
}

func (p *Participant) sendJoined(m model.ParticipantMessage) error {
	s := p.state.Get()
	if !s.Running {
		p.log.Debug("浏览器未运行，忽略命令", "command", m.String())
		return ErrNotRunning
	}
	if !s.Joined {
		p.log.Debug("尚未入会，忽略命令", "command", m.String())
		return nil
	}
	return p.Send(m)
}

// Leave 离开会议
func (p *Participant) Leave() error { return p.sendJoined(model.Message(model.CmdLeave)) }

// ToggleAudio 切换麦克风
func (p *Participant) ToggleAudio() error {
	return p.sendJoined(model.Message(model.CmdToggleAudio))
}

// ToggleVideo 切换摄像头
func (p *Participant) ToggleVideo() error {
	return p.sendJoined(model.Message(model.CmdToggleVideo))
}

// ToggleScreenshare 切换屏幕共享
func (p *Participant) ToggleScreenshare() error {
	return p.sendJoined(model.Message(model.CmdToggleScreenshare))
}

// ToggleBackgroundBlur 切换背景虚化
func (p *Participant) ToggleBackgroundBlur() error {
	return p.sendJoined(model.Message(model.CmdToggleBackgroundBlur))
}

// SetNoiseSuppression 设置降噪模式
func (p *Participant) SetNoiseSuppression(v model.NoiseSuppression) error {
	return p.sendJoined(model.SetNoiseSuppression(v))
}

// SetWebcamResolution 设置摄像头分辨率
func (p *Participant) SetWebcamResolution(v model.WebcamResolution) error {
	return p.sendJoined(model.SetWebcamResolution(v))
}

// Dispatch 按命令类型调用对应的带检查方法，Close 不等待结束
func (p *Participant) Dispatch(m model.ParticipantMessage) error {
	switch m.Command {
	case model.CmdJoin:
		return p.Join()
	case model.CmdClose:
		return p.Send(m)
	case model.CmdLeave, model.CmdToggleAudio, model.CmdToggleVideo, model.CmdToggleScreenshare,
		model.CmdToggleBackgroundBlur, model.CmdSetNoiseSuppression, model.CmdSetWebcamResolution:
		return p.sendJoined(m)
	}
	return fmt.Errorf("%w: %q", model.ErrUnknownCommand, m.Command)
}

// Close 请求优雅关闭并等待 actor 结束，已结束时直接返回
func (p *Participant) Close(ctx context.Context) error {
	select {
	case <-p.done:
		p.log.Debug("浏览器已关闭")
		return nil
	default:
	}
	if err := p.Send(model.Message(model.CmdClose)); err != nil {
		if errors.Is(err, ErrNotRunning) {
			return nil
		}
		p.log.Warn("发送关闭命令失败，直接取消", "error", err)
		p.cancel()
	}
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop 取消 actor 并等待结束，不保证清理流程执行完毕
func (p *Participant) Stop() {
	p.cancel()
	<-p.done
}
