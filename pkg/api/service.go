package api

import (
	"context"
	"fmt"

	"clientsim/internal/auth"
	"clientsim/internal/config"
	"clientsim/internal/logger"
	"clientsim/internal/participant"
	"clientsim/internal/session"
	"clientsim/pkg/model"
)

// Service 服务接口
type Service interface {
	// SpawnLocal 在本机启动参与者，返回显示名
	SpawnLocal(ctx context.Context, sessionURL string, settings config.Settings, username string) (string, error)

	// SpawnRemote 在远程 worker 上启动参与者，返回显示名
	SpawnRemote(ctx context.Context, sessionURL string, settings config.Settings, username, remoteURL string) (string, error)

	// List 按创建顺序列出参与者状态
	List() []model.ParticipantState

	// State 单个参与者的状态
	State(name string) (model.ParticipantState, error)

	// Subscribe 订阅参与者状态，ctx 结束时关闭通道
	Subscribe(ctx context.Context, name string) (<-chan model.ParticipantState, error)

	// Send 向参与者发送命令
	Send(name string, m model.ParticipantMessage) error

	// Close 关闭并移除参与者
	Close(ctx context.Context, name string) error

	// CloseAll 关闭全部参与者
	CloseAll(ctx context.Context) error

	// Cookies 池中可用的访客 cookie
	Cookies() []auth.HyperSessionCookie
}

type service struct {
	store *session.Store
	log   logger.Logger
}

// NewService 创建并返回服务接口实现
func NewService(pool *auth.Pool, browser config.BrowserConfig, l logger.Logger, opts ...participant.Option) Service {
	if l == nil {
		l = logger.NewNop()
	}
	return &service{store: session.NewStore(pool, browser, l, opts...), log: l}
}

func (s *service) SpawnLocal(ctx context.Context, sessionURL string, settings config.Settings, username string) (string, error) {
	p, err := s.store.SpawnLocal(ctx, sessionURL, settings, username)
	if err != nil {
		return "", err
	}
	return p.Name(), nil
}

func (s *service) SpawnRemote(ctx context.Context, sessionURL string, settings config.Settings, username, remoteURL string) (string, error) {
	p, err := s.store.SpawnRemote(ctx, sessionURL, settings, username, remoteURL)
	if err != nil {
		return "", err
	}
	return p.Name(), nil
}

func (s *service) List() []model.ParticipantState {
	list := s.store.List()
	out := make([]model.ParticipantState, len(list))
	for i, p := range list {
		out[i] = p.State()
	}
	return out
}

func (s *service) get(name string) (*participant.Participant, error) {
	p, ok := s.store.Get(name)
	if !ok {
		return nil, fmt.Errorf("participant %q not found", name)
	}
	return p, nil
}

func (s *service) State(name string) (model.ParticipantState, error) {
	p, err := s.get(name)
	if err != nil {
		return model.ParticipantState{}, err
	}
	return p.State(), nil
}

func (s *service) Subscribe(ctx context.Context, name string) (<-chan model.ParticipantState, error) {
	p, err := s.get(name)
	if err != nil {
		return nil, err
	}
	ch := make(chan model.ParticipantState, 1)
	go func() {
		defer close(ch)
		send := func(st model.ParticipantState) bool {
			select {
			case ch <- st:
				return true
			case <-ctx.Done():
				return false
			}
		}
		w := p.Watch()
		for {
			state, _, changed := w.Load()
			if !send(state) {
				return
			}
			select {
			case <-changed:
			case <-p.Done():
				if final := p.State(); final != state {
					send(final)
				}
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (s *service) Send(name string, m model.ParticipantMessage) error {
	p, err := s.get(name)
	if err != nil {
		return err
	}
	return p.Dispatch(m)
}

func (s *service) Close(ctx context.Context, name string) error {
	return s.store.Close(ctx, name)
}

func (s *service) CloseAll(ctx context.Context) error {
	return s.store.CloseAll(ctx)
}

func (s *service) Cookies() []auth.HyperSessionCookie {
	return s.store.Pool().Snapshot()
}
