package config

import (
	"errors"
	"fmt"
	"net/url"
)

// BrowserConfig 浏览器进程配置
type BrowserConfig struct {
	Binary       string `yaml:"binary" mapstructure:"binary"`
	WindowWidth  int    `yaml:"window_width" mapstructure:"window_width"`
	WindowHeight int    `yaml:"window_height" mapstructure:"window_height"`
	CacheDir     string `yaml:"cache_dir" mapstructure:"cache_dir"`
}

// ParticipantConfig 单个参与者的不可变配置，创建 actor 时确定
type ParticipantConfig struct {
	Username   string
	SessionURL *url.URL
	Settings   Settings
	Browser    BrowserConfig
}

// NewParticipantConfig 解析会话地址并组装参与者配置
func NewParticipantConfig(username, sessionURL string, s Settings, b BrowserConfig) (ParticipantConfig, error) {
	if username == "" {
		return ParticipantConfig{}, errors.New("username is empty")
	}
	u, err := ParseSessionURL(sessionURL)
	if err != nil {
		return ParticipantConfig{}, err
	}
	if err := s.Validate(); err != nil {
		return ParticipantConfig{}, err
	}
	return ParticipantConfig{Username: username, SessionURL: u, Settings: s, Browser: b}, nil
}

// ParseSessionURL 校验会话地址必须是带 host 的 http(s) 地址
func ParseSessionURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse session url %q: %w", raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("session url %q must be an absolute http(s) url", raw)
	}
	return u, nil
}

// BaseURL 会话所在站点的 origin，例如 https://example.hyper.video
func (p ParticipantConfig) BaseURL() string {
	return BaseURL(p.SessionURL)
}

// Domain 写入浏览器 cookie 使用的域名
func (p ParticipantConfig) Domain() string {
	if p.SessionURL == nil {
		return ""
	}
	return p.SessionURL.Hostname()
}

// BaseURL 返回地址的 scheme://host 部分
func BaseURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	return (&url.URL{Scheme: u.Scheme, Host: u.Host}).String()
}
