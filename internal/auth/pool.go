package auth

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"clientsim/internal/logger"
)

// Pool 按站点划分的访客 cookie 池，先进先出
type Pool struct {
	mu      sync.Mutex
	cookies map[string][]HyperSessionCookie

	stash   *Stash
	client  *Client
	limiter *rate.Limiter
	// capacity 每个站点最多保留的 cookie 数，0 表示不限
	capacity int
	log      logger.Logger
}

// Option 池的可选配置
type Option func(*Pool)

// WithLogger 设置日志器
func WithLogger(l logger.Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.log = l
		}
	}
}

// WithClient 设置后端接口客户端
func WithClient(c *Client) Option {
	return func(p *Pool) {
		if c != nil {
			p.client = c
		}
	}
}

// WithStash 设置持久化文件
func WithStash(s *Stash) Option {
	return func(p *Pool) { p.stash = s }
}

// WithCapacity 每个站点最多保留 n 个 cookie，超出时丢弃归还的 cookie，<=0 表示不限
func WithCapacity(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.capacity = n
		}
	}
}

// WithFetchRate 限制每秒注册访客的次数，<=0 表示不限制
func WithFetchRate(perSecond float64) Option {
	return func(p *Pool) {
		if perSecond > 0 {
			p.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// NewPool 创建空的 cookie 池
func NewPool(opts ...Option) *Pool {
	p := &Pool{
		cookies: make(map[string][]HyperSessionCookie),
		client:  NewClient(nil),
		log:     logger.NewNop(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// LoadPool 创建 cookie 池并载入持久化文件中未过期的 cookie
func LoadPool(opts ...Option) (*Pool, error) {
	p := NewPool(opts...)
	if p.stash == nil {
		return p, nil
	}
	data, err := p.stash.Read()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	loaded := 0
	for domain, cookies := range data.Cookies {
		key := NormalizeDomain(domain)
		for _, c := range cookies {
			if c.Expired(now) {
				continue
			}
			p.cookies[key] = append(p.cookies[key], c)
			loaded++
		}
	}
	p.log.Info("载入访客 cookie", "path", p.stash.Path(), "count", loaded)
	return p, nil
}

// GiveCookie 取出站点队首的 cookie，队列为空时返回 nil
func (p *Pool) GiveCookie(domain string) *BorrowedCookie {
	key := NormalizeDomain(domain)
	p.mu.Lock()
	q := p.cookies[key]
	if len(q) == 0 {
		p.mu.Unlock()
		return nil
	}
	c := q[0]
	p.cookies[key] = q[1:]
	p.mu.Unlock()

	p.log.Debug("借出访客 cookie", "domain", key, "username", c.Username)
	return p.Borrow(c)
}

// FetchNewCookie 注册新访客、设置显示名并写入持久化文件
func (p *Pool) FetchNewCookie(ctx context.Context, baseURL, name string) (*BorrowedCookie, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	domain := NormalizeDomain(baseURL)
	token, err := p.client.RegisterGuest(ctx, domain)
	if err != nil {
		return nil, err
	}
	if err := p.client.SetName(ctx, domain, token, name); err != nil {
		return nil, fmt.Errorf("set name for guest %q: %w", name, err)
	}

	c := NewHyperSessionCookie(domain, name, token)
	if p.stash != nil {
		if err := p.stash.Append(c); err != nil {
			p.log.Err(err, "写入 cookie 文件失败", "path", p.stash.Path())
		}
	}
	p.log.Info("注册新访客", "domain", domain, "username", name)
	return p.Borrow(c), nil
}

// Borrow 将外部传入的 cookie 包装为借出状态，释放后归入本池
func (p *Pool) Borrow(c HyperSessionCookie) *BorrowedCookie {
	c.Domain = NormalizeDomain(c.Domain)
	return &BorrowedCookie{cookie: c, pool: p}
}

// Len 站点当前可借出的 cookie 数
func (p *Pool) Len(domain string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.cookies[NormalizeDomain(domain)])
}

// Snapshot 返回池中全部 cookie，站点按字母序
func (p *Pool) Snapshot() []HyperSessionCookie {
	p.mu.Lock()
	defer p.mu.Unlock()
	domains := make([]string, 0, len(p.cookies))
	for d := range p.cookies {
		domains = append(domains, d)
	}
	sort.Strings(domains)
	var out []HyperSessionCookie
	for _, d := range domains {
		out = append(out, p.cookies[d]...)
	}
	return out
}

// Client 后端接口客户端
func (p *Pool) Client() *Client { return p.client }

func (p *Pool) push(c HyperSessionCookie) {
	p.mu.Lock()
	if p.capacity > 0 && len(p.cookies[c.Domain]) >= p.capacity {
		p.mu.Unlock()
		p.log.Debug("cookie 池已满，丢弃归还的 cookie", "domain", c.Domain, "username", c.Username)
		return
	}
	p.cookies[c.Domain] = append(p.cookies[c.Domain], c)
	p.mu.Unlock()
	p.log.Debug("归还访客 cookie", "domain", c.Domain, "username", c.Username)
}
