package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"clientsim/internal/auth"
	"clientsim/internal/logger"
	"clientsim/internal/participant"
	"clientsim/pkg/model"
)

const (
	defaultTick = time.Second
	closeWait   = 2 * time.Second
)

// Summary 一次运行的结果统计
type Summary struct {
	Scheduled int
	// Failed 获取 cookie 或连接 worker 失败
	Failed int
	// Dropped 运行结束前 worker 断开了连接
	Dropped   int
	Completed int
}

// Runner 按入会延迟分批连接 worker，并在运行时长内保持连接
type Runner struct {
	cfg    *Config
	pool   *auth.Pool
	dialer *websocket.Dialer
	clock  Clock
	tick   time.Duration
	runFor time.Duration
	log    logger.Logger

	mu      sync.Mutex
	summary Summary
}

// Option Runner 的可选配置
type Option func(*Runner)

// WithLogger 设置日志器
func WithLogger(l logger.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.log = l
		}
	}
}

// WithClock 替换调度时钟
func WithClock(c Clock) Option {
	return func(r *Runner) {
		if c != nil {
			r.clock = c
		}
	}
}

// WithTick 调度检查间隔
func WithTick(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.tick = d
		}
	}
}

// WithRunDuration 覆盖计划中的 run_seconds
func WithRunDuration(d time.Duration) Option {
	return func(r *Runner) { r.runFor = d }
}

// WithDialer 连接 worker 使用的拨号器
func WithDialer(d *websocket.Dialer) Option {
	return func(r *Runner) {
		if d != nil {
			r.dialer = d
		}
	}
}

// NewRunner 校验计划并创建 Runner
func NewRunner(cfg *Config, pool *auth.Pool, opts ...Option) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &Runner{
		cfg:    cfg,
		pool:   pool,
		dialer: websocket.DefaultDialer,
		clock:  RealClock{},
		tick:   defaultTick,
		runFor: cfg.RunDuration(),
		log:    logger.NewNop(),
	}
	for _, o := range opts {
		o(r)
	}
	if r.pool == nil {
		r.pool = auth.NewPool(auth.WithLogger(r.log))
	}
	return r, nil
}

// Run 每个 tick 调度到期的参与者，全部调度后等待所有连接结束
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	total := r.cfg.TotalParticipants()
	r.log.Info("开始编排", "participants", total, "run", r.runFor)

	start := r.clock.Now()
	scheduled := make([]bool, total)
	remaining := total

	var g errgroup.Group
	t := time.NewTicker(r.tick)
	defer t.Stop()

loop:
	for remaining > 0 {
		elapsed := r.clock.Since(start)
		for i := 0; i < total; i++ {
			if scheduled[i] || !r.cfg.Due(i, elapsed) {
				continue
			}
			scheduled[i] = true
			remaining--
			r.count(func(s *Summary) { s.Scheduled++ })

			q, cookie, err := r.prepare(ctx, i)
			if err != nil {
				r.log.Err(err, "准备参与者失败", "index", i)
				r.count(func(s *Summary) { s.Failed++ })
				continue
			}
			g.Go(func() error {
				r.hold(ctx, i, q, cookie)
				return nil
			})
			r.log.Info("参与者已调度", "index", i, "username", q.Username, "worker", q.RemoteURL, "elapsed", elapsed.Truncate(time.Second))
		}
		if remaining == 0 {
			break
		}
		select {
		case <-ctx.Done():
			r.log.Warn("编排被取消", "unscheduled", remaining)
			break loop
		case <-t.C:
		}
	}

	_ = g.Wait()
	s := r.Summary()
	r.log.Info("编排结束", "scheduled", s.Scheduled, "completed", s.Completed, "dropped", s.Dropped, "failed", s.Failed)
	return s, ctx.Err()
}

// Summary 当前统计
func (r *Runner) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.summary
}

func (r *Runner) count(fn func(*Summary)) {
	r.mu.Lock()
	fn(&r.summary)
	r.mu.Unlock()
}

// prepare 生成查询并注册新访客，cookie 由连接任务持有到结束
func (r *Runner) prepare(ctx context.Context, i int) (participant.Query, *auth.BorrowedCookie, error) {
	q, err := r.cfg.Query(i)
	if err != nil {
		return participant.Query{}, nil, err
	}
	cookie, err := q.EnsureCookie(ctx, r.pool)
	if err != nil {
		return participant.Query{}, nil, fmt.Errorf("fetch cookie for %s: %w", q.Username, err)
	}
	r.log.Debug("已获取访客 cookie", "index", i, "username", q.Username)
	return q, cookie, nil
}

// hold 连接 worker 并被动消费帧，运行时长结束后关闭连接
func (r *Runner) hold(ctx context.Context, i int, q participant.Query, cookie *auth.BorrowedCookie) {
	defer cookie.Release()
	l := r.log.With("index", i, "participant", q.Username)

	target, err := q.ConnectURL()
	if err != nil {
		l.Err(err, "无效的 worker 地址")
		r.count(func(s *Summary) { s.Failed++ })
		return
	}
	conn, _, err := r.dialer.DialContext(ctx, target, nil)
	if err != nil {
		l.Err(err, "连接 worker 失败", "worker", q.RemoteURL)
		r.count(func(s *Summary) { s.Failed++ })
		return
	}
	defer conn.Close()
	l.Info("已连接 worker，保持连接", "worker", q.RemoteURL)

	drained := make(chan error, 1)
	go func() { drained <- drain(conn, l) }()

	timer := time.NewTimer(r.runFor)
	defer timer.Stop()

	select {
	case err := <-drained:
		if err != nil {
			l.Err(err, "worker 连接提前断开")
		} else {
			l.Warn("worker 提前关闭了连接")
		}
		r.count(func(s *Summary) { s.Dropped++ })
		return
	case <-timer.C:
		l.Info("运行时长已到，断开参与者")
		r.count(func(s *Summary) { s.Completed++ })
	case <-ctx.Done():
		l.Info("编排取消，断开参与者")
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	select {
	case <-drained:
	case <-time.After(closeWait):
	}
}

// drain 读取 worker 的帧直到连接关闭，日志行转发到本地日志
func drain(conn *websocket.Conn, l logger.Logger) error {
	var last model.ParticipantState
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				return nil
			}
			return err
		}
		if e, ok := model.DecodeErrorFrame(data); ok {
			return fmt.Errorf("worker rejected participant: %s", e.Error)
		}
		var f model.ResponseFrame
		if err := json.Unmarshal(data, &f); err != nil {
			l.Debug("无法解析 worker 消息", "error", err)
			continue
		}
		if f.State != last {
			l.Debug("参与者状态变化", "running", f.State.Running, "joined", f.State.Joined)
			last = f.State
		}
		if f.Log != nil {
			logger.Log(l, string(f.Log.Level), f.Log.Message)
		}
	}
}
