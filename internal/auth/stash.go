package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	stashFileMode   = 0o600
	stashDirMode    = 0o700
	tempFilePattern = ".cookies-*.json.tmp"
)

// HyperSessionCookieStash cookie 文件的持久化结构
type HyperSessionCookieStash struct {
	Cookies map[string][]HyperSessionCookie `json:"cookies"`
}

// Stash 磁盘上的 cookie 文件，只保存白名单内的站点
type Stash struct {
	path    string
	allowed []string
	mu      sync.Mutex
}

// NewStash 创建 cookie 文件访问器，allowed 为允许持久化的域名后缀
func NewStash(path string, allowed []string) *Stash {
	return &Stash{path: path, allowed: allowed}
}

// Path 文件路径
func (s *Stash) Path() string { return s.path }

// Read 读取文件，文件不存在时返回空结构
func (s *Stash) Read() (HyperSessionCookieStash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

// Append 读取-追加-写回一条 cookie
func (s *Stash) Append(c HyperSessionCookie) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.read()
	if err != nil {
		return err
	}
	data.Cookies[c.Domain] = append(data.Cookies[c.Domain], c)
	return s.write(data)
}

// Save 覆盖写入，白名单外的站点被丢弃
func (s *Stash) Save(data HyperSessionCookieStash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(data)
}

// Allowed 判断站点是否允许持久化
func (s *Stash) Allowed(domain string) bool {
	host := domain
	if u, err := url.Parse(domain); err == nil && u.Host != "" {
		host = u.Hostname()
	}
	host = strings.ToLower(host)
	for _, a := range s.allowed {
		a = strings.ToLower(strings.TrimPrefix(a, "."))
		if host == a || strings.HasSuffix(host, "."+a) {
			return true
		}
	}
	return false
}

func (s *Stash) read() (HyperSessionCookieStash, error) {
	out := HyperSessionCookieStash{Cookies: map[string][]HyperSessionCookie{}}
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return out, nil
		}
		return out, fmt.Errorf("read cookie stash %q: %w", s.path, err)
	}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("parse cookie stash %q: %w", s.path, err)
	}
	if out.Cookies == nil {
		out.Cookies = map[string][]HyperSessionCookie{}
	}
	return out, nil
}

func (s *Stash) write(data HyperSessionCookieStash) error {
	filtered := HyperSessionCookieStash{Cookies: map[string][]HyperSessionCookie{}}
	for domain, cookies := range data.Cookies {
		if s.Allowed(domain) && len(cookies) > 0 {
			filtered.Cookies[domain] = cookies
		}
	}

	raw, err := json.MarshalIndent(filtered, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cookie stash: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, stashDirMode); err != nil {
		return fmt.Errorf("create cookie stash dir %q: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, tempFilePattern)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write file cookie stash %q: %w", tmpName, err)
	}
	if err := tmp.Chmod(stashFileMode); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod cookie stash: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace cookie stash %q: %w", s.path, err)
	}
	return nil
}
