package session

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"clientsim/internal/auth"
	"clientsim/internal/config"
	"clientsim/internal/logger"
	"clientsim/internal/participant"
)

// Store 参与者注册表，按名称索引，按创建时间排序
type Store struct {
	mu           sync.RWMutex
	participants map[string]*participant.Participant
	pool         *auth.Pool
	browser      config.BrowserConfig
	log          logger.Logger
	opts         []participant.Option
}

// NewStore 创建参与者注册表，opts 作用于之后创建的每个参与者
func NewStore(pool *auth.Pool, browser config.BrowserConfig, l logger.Logger, opts ...participant.Option) *Store {
	if l == nil {
		l = logger.NewNop()
	}
	if pool == nil {
		pool = auth.NewPool(auth.WithLogger(l))
	}
	return &Store{
		participants: make(map[string]*participant.Participant),
		pool:         pool,
		browser:      browser,
		log:          l,
		opts:         opts,
	}
}

// Pool cookie 池
func (s *Store) Pool() *auth.Pool { return s.pool }

// Add 注册已创建的参与者，名称重复时返回错误
func (s *Store) Add(p *participant.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.participants[p.Name()]; ok {
		return fmt.Errorf("participant %q already exists", p.Name())
	}
	s.participants[p.Name()] = p
	s.log.Info("添加参与者", "participant", p.Name())
	return nil
}

// SpawnLocal 在本机启动参与者；未指定名称时优先复用池中 cookie 的身份
func (s *Store) SpawnLocal(ctx context.Context, sessionURL string, settings config.Settings, username string) (*participant.Participant, error) {
	cookie, name, err := s.identity(sessionURL, username)
	if err != nil {
		return nil, err
	}
	cfg, err := config.NewParticipantConfig(name, sessionURL, settings, s.browser)
	if err != nil {
		cookie.Release()
		return nil, err
	}
	return s.spawn(ctx, participant.Spec{Local: &cfg}, cookie)
}

// SpawnRemote 在远程 worker 上启动参与者
func (s *Store) SpawnRemote(ctx context.Context, sessionURL string, settings config.Settings, username, remoteURL string) (*participant.Participant, error) {
	cookie, name, err := s.identity(sessionURL, username)
	if err != nil {
		return nil, err
	}
	cfg, err := config.NewParticipantConfig(name, sessionURL, settings, s.browser)
	if err != nil {
		cookie.Release()
		return nil, err
	}
	q, err := participant.NewQuery(cfg, remoteURL)
	if err != nil {
		cookie.Release()
		return nil, err
	}
	return s.spawn(ctx, participant.Spec{Remote: &q}, cookie)
}

func (s *Store) identity(sessionURL, username string) (*auth.BorrowedCookie, string, error) {
	u, err := config.ParseSessionURL(sessionURL)
	if err != nil {
		return nil, "", err
	}
	if username != "" {
		return nil, username, nil
	}
	if c := s.pool.GiveCookie(config.BaseURL(u)); c != nil {
		return c, c.Username(), nil
	}
	return nil, GenerateName(), nil
}

func (s *Store) spawn(ctx context.Context, spec participant.Spec, cookie *auth.BorrowedCookie) (*participant.Participant, error) {
	name := ""
	if spec.Local != nil {
		name = spec.Local.Username
	} else {
		name = spec.Remote.Username
	}
	if _, ok := s.Get(name); ok {
		cookie.Release()
		return nil, fmt.Errorf("participant %q already exists", name)
	}

	opts := append([]participant.Option{
		participant.WithPool(s.pool),
		participant.WithLogger(s.log),
	}, s.opts...)
	opts = append(opts, participant.WithCookie(cookie))

	p, err := participant.Spawn(ctx, spec, opts...)
	if err != nil {
		cookie.Release()
		return nil, err
	}
	if err := s.Add(p); err != nil {
		p.Stop()
		return nil, err
	}
	return p, nil
}

// GenerateName 生成随机显示名
func GenerateName() string {
	return "guest-" + uuid.NewString()[:8]
}

// Get 获取参与者
func (s *Store) Get(name string) (*participant.Participant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.participants[name]
	return p, ok
}

// Delete 移除参与者但不关闭它
func (s *Store) Delete(name string) (*participant.Participant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[name]
	if ok {
		delete(s.participants, name)
		s.log.Info("移除参与者", "participant", name)
	}
	return p, ok
}

// Close 关闭并移除参与者
func (s *Store) Close(ctx context.Context, name string) error {
	p, ok := s.Delete(name)
	if !ok {
		return fmt.Errorf("participant %q not found", name)
	}
	return p.Close(ctx)
}

// List 按创建时间排序的全部参与者
func (s *Store) List() []*participant.Participant {
	s.mu.RLock()
	list := make([]*participant.Participant, 0, len(s.participants))
	for _, p := range s.participants {
		list = append(list, p)
	}
	s.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		if list[i].Created().Equal(list[j].Created()) {
			return list[i].Name() < list[j].Name()
		}
		return list[i].Created().Before(list[j].Created())
	})
	return list
}

// Keys 按创建时间排序的参与者名称
func (s *Store) Keys() []string {
	list := s.List()
	keys := make([]string, len(list))
	for i, p := range list {
		keys[i] = p.Name()
	}
	return keys
}

// Prev 排在 name 之前的参与者，已是第一个时返回 false
func (s *Store) Prev(name string) (string, bool) {
	keys := s.Keys()
	for i, k := range keys {
		if k == name {
			if i == 0 {
				return "", false
			}
			return keys[i-1], true
		}
	}
	return "", false
}

// Next 排在 name 之后的参与者，已是最后一个时返回 false
func (s *Store) Next(name string) (string, bool) {
	keys := s.Keys()
	for i, k := range keys {
		if k == name {
			if i == len(keys)-1 {
				return "", false
			}
			return keys[i+1], true
		}
	}
	return "", false
}

// Len 参与者数量
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.participants)
}

// CloseAll 并发关闭全部参与者并清空注册表
func (s *Store) CloseAll(ctx context.Context) error {
	s.mu.Lock()
	list := make([]*participant.Participant, 0, len(s.participants))
	for _, p := range s.participants {
		list = append(list, p)
	}
	s.participants = make(map[string]*participant.Participant)
	s.mu.Unlock()

	var g errgroup.Group
	for _, p := range list {
		g.Go(func() error {
			if err := p.Close(ctx); err != nil {
				s.log.Err(err, "关闭参与者超时，强制取消", "participant", p.Name())
				p.Stop()
				return fmt.Errorf("close %s: %w", p.Name(), err)
			}
			return nil
		})
	}
	err := g.Wait()
	s.log.Info("已关闭全部参与者", "count", len(list))
	return err
}
