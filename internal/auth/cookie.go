package auth

import (
	"strings"
	"sync"
	"time"
)

// CookieLifetime 新注册的访客会话有效期
const CookieLifetime = 365 * 24 * time.Hour

// HyperSessionCookie 一个访客身份：站点、显示名与会话令牌
type HyperSessionCookie struct {
	Domain    string    `json:"domain"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Username  string    `json:"username"`
	Cookie    string    `json:"cookie"`
}

// NewHyperSessionCookie 以当前时间创建 cookie
func NewHyperSessionCookie(domain, username, token string) HyperSessionCookie {
	now := time.Now().UTC()
	return HyperSessionCookie{
		Domain:    NormalizeDomain(domain),
		CreatedAt: now,
		ExpiresAt: now.Add(CookieLifetime),
		Username:  username,
		Cookie:    token,
	}
}

// Expired 判断在给定时间点是否已过期
func (c HyperSessionCookie) Expired(at time.Time) bool {
	return !c.ExpiresAt.IsZero() && !at.Before(c.ExpiresAt)
}

// NormalizeDomain 池的键统一去掉末尾斜杠
func NormalizeDomain(d string) string {
	return strings.TrimRight(strings.TrimSpace(d), "/")
}

// BorrowedCookie 独占持有的 cookie，Release 后归还给来源池
type BorrowedCookie struct {
	cookie HyperSessionCookie
	pool   *Pool
	once   sync.Once
}

// Unpooled 包装不属于任何池的 cookie，Release 不归还
func Unpooled(c HyperSessionCookie) *BorrowedCookie {
	c.Domain = NormalizeDomain(c.Domain)
	return &BorrowedCookie{cookie: c}
}

// Cookie 返回持有的 cookie 副本
func (b *BorrowedCookie) Cookie() HyperSessionCookie { return b.cookie }

// Username 显示名
func (b *BorrowedCookie) Username() string { return b.cookie.Username }

// Token 会话令牌
func (b *BorrowedCookie) Token() string { return b.cookie.Cookie }

// Domain 所属站点
func (b *BorrowedCookie) Domain() string { return b.cookie.Domain }

// Release 归还 cookie，可重复调用，nil 安全
func (b *BorrowedCookie) Release() {
	if b == nil {
		return
	}
	b.once.Do(func() {
		if b.pool != nil {
			b.pool.push(b.cookie)
		}
	})
}
