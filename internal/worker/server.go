package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"clientsim/internal/auth"
	"clientsim/internal/config"
	"clientsim/internal/ctxkeys"
	"clientsim/internal/logger"
	"clientsim/internal/participant"
	"clientsim/internal/storage"
	"clientsim/pkg/model"
)

const (
	writeWait    = 10 * time.Second
	maxFrameSize = 64 * 1024
	logSinkSize  = 256
)

// ErrShuttingDown worker 正在关闭，不再接受新连接
var ErrShuttingDown = errors.New("worker is shutting down")

// Server 远程参与者服务端：每个 websocket 连接驱动一个本地参与者
type Server struct {
	pool      *auth.Pool
	browser   config.BrowserConfig
	journal   *storage.Journal
	log       logger.Logger
	opts      []participant.Option
	closeWait time.Duration
	upgrader  websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// Option Server 的可选配置
type Option func(*Server)

// WithLogger 设置日志器
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithJournal 把状态、日志与命令写入事件日志库
func WithJournal(j *storage.Journal) Option {
	return func(s *Server) { s.journal = j }
}

// WithParticipantOptions 作用于每个新建参与者的额外选项
func WithParticipantOptions(opts ...participant.Option) Option {
	return func(s *Server) { s.opts = append(s.opts, opts...) }
}

// WithCloseTimeout 等待参与者优雅关闭的上限
func WithCloseTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.closeWait = d
		}
	}
}

// New 创建 worker 服务端
func New(pool *auth.Pool, browser config.BrowserConfig, opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		pool:      pool,
		browser:   browser,
		log:       logger.NewNop(),
		closeWait: 30 * time.Second,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		ctx:    ctx,
		cancel: cancel,
	}
	for _, o := range opts {
		o(s)
	}
	if s.pool == nil {
		s.pool = auth.NewPool(auth.WithLogger(s.log))
	}
	return s
}

// Router 注册连接、健康检查与指标路由
func (s *Server) Router() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)

	router.Get("/", s.handleConnect)
	router.Get("/healthz", s.handleHealthz)
	router.Handle("/metrics", promhttp.Handler())
	return router
}

// ListenAndServe 监听直到 ctx 结束，证书与私钥都配置时启用 TLS
func (s *Server) ListenAndServe(ctx context.Context, addr, certFile, keyFile string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	tls := certFile != "" && keyFile != ""

	errCh := make(chan error, 1)
	go func() {
		if tls {
			errCh <- srv.ListenAndServeTLS(certFile, keyFile)
			return
		}
		errCh <- srv.ListenAndServe()
	}()
	s.log.Info("worker 已启动", "address", addr, "tls", tls)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("worker listen %s: %w", addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.closeWait)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	if serr := s.Shutdown(shutdownCtx); serr != nil && err == nil {
		err = serr
	}
	s.log.Info("worker 已停止")
	return err
}

// Shutdown 拒绝新连接，结束全部参与者并等待连接退出
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	return true
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.journal != nil {
		if err := s.journal.Ping(r.Context()); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, model.ErrorFrame{Error: "journal unavailable"})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	connID := uuid.NewString()
	ctx := ctxkeys.WithTraceID(s.ctx, connID)
	l := s.log.With("conn", connID, "remote", r.RemoteAddr)

	q, decodeErr := participant.DecodeQuery(r.URL.Query().Get(participant.PayloadParam))

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.Err(err, "websocket 升级失败")
		ConnectionsTotal.WithLabelValues(outcomeRejected).Inc()
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxFrameSize)

	if !s.track() {
		s.reject(conn, l, ErrShuttingDown)
		return
	}
	defer s.wg.Done()

	if decodeErr != nil {
		s.reject(conn, l, fmt.Errorf("the configuration cannot be used to join the participant: %w", decodeErr))
		return
	}

	l = l.With("participant", q.Username)
	p, sink, err := s.spawn(ctx, q, l)
	if err != nil {
		s.reject(conn, l, fmt.Errorf("the configuration cannot be used to join the participant: %w", err))
		return
	}

	ConnectionsTotal.WithLabelValues(outcomeAccepted).Inc()
	ActiveParticipants.Inc()
	defer ActiveParticipants.Dec()
	l.Info("新的参与者连接", "session", q.SessionURL)

	b := &bridge{server: s, conn: conn, participant: p, sink: sink, log: l}
	b.run(ctx)
	l.Info("参与者连接结束")
}

// spawn 由查询启动本地参与者；查询带的 cookie 属于控制端，不进入本地池，否则由参与者自行注册
func (s *Server) spawn(ctx context.Context, q participant.Query, l logger.Logger) (*participant.Participant, <-chan model.ParticipantLogMessage, error) {
	cfg, err := q.ParticipantConfig(s.browser)
	if err != nil {
		return nil, nil, err
	}

	var cookie *auth.BorrowedCookie
	if q.Cookie != nil && *q.Cookie != "" {
		cookie = auth.Unpooled(auth.NewHyperSessionCookie(cfg.BaseURL(), q.Username, *q.Cookie))
	}

	sink := make(chan model.ParticipantLogMessage, logSinkSize)
	opts := append([]participant.Option{
		participant.WithPool(s.pool),
		participant.WithLogger(l),
		participant.WithLogSink(sink),
	}, s.opts...)
	opts = append(opts, participant.WithCookie(cookie))

	p, err := participant.Spawn(ctx, participant.Spec{Local: &cfg}, opts...)
	if err != nil {
		cookie.Release()
		return nil, nil, err
	}
	return p, sink, nil
}

func (s *Server) reject(conn *websocket.Conn, l logger.Logger, err error) {
	l.Err(err, "拒绝参与者连接")
	ConnectionsTotal.WithLabelValues(outcomeRejected).Inc()
	_ = writeError(conn, err.Error())
	closeConn(conn, websocket.ClosePolicyViolation, "")
}

// record 写入事件日志；worker 关闭时仍需记录最后的事件
func (s *Server) record(ctx context.Context, l logger.Logger, fn func(context.Context, *storage.Journal) error) {
	if s.journal == nil {
		return
	}
	if err := fn(context.WithoutCancel(ctx), s.journal); err != nil {
		l.Err(err, "写入事件日志失败")
	}
}
