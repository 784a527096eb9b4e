package participant

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"clientsim/internal/auth"
	"clientsim/internal/config"
	"clientsim/pkg/model"
)

// PayloadParam 连接地址中携带参与者配置的查询参数名
const PayloadParam = "payload"

// Query 远程参与者的完整配置，编码后作为连接参数发给 worker
type Query struct {
	Username           string                 `json:"username"`
	RemoteURL          string                 `json:"remote_url"`
	SessionURL         string                 `json:"session_url"`
	BaseURL            string                 `json:"base_url"`
	Cookie             *string                `json:"cookie,omitempty"`
	FakeMedia          model.FakeMedia        `json:"fake_media"`
	AudioEnabled       bool                   `json:"audio_enabled"`
	VideoEnabled       bool                   `json:"video_enabled"`
	Headless           bool                   `json:"headless"`
	ScreenshareEnabled bool                   `json:"screenshare_enabled"`
	NoiseSuppression   model.NoiseSuppression `json:"noise_suppression"`
	Transport          model.TransportMode    `json:"transport"`
	Resolution         model.WebcamResolution `json:"resolution"`
	Blur               bool                   `json:"blur"`
	Frontend           model.Frontend         `json:"frontend,omitempty"`
}

// NewQuery 由本地参与者配置生成远程查询，本地媒体文件退化为 builtin
func NewQuery(cfg config.ParticipantConfig, remoteURL string) (Query, error) {
	if cfg.SessionURL == nil {
		return Query{}, errors.New("session url is required for a remote participant")
	}
	if _, err := ParseRemoteURL(remoteURL); err != nil {
		return Query{}, err
	}
	s := cfg.Settings
	return Query{
		Username:           cfg.Username,
		RemoteURL:          remoteURL,
		SessionURL:         cfg.SessionURL.String(),
		BaseURL:            cfg.BaseURL(),
		FakeMedia:          s.Media().ForRemote(),
		AudioEnabled:       s.AudioEnabled,
		VideoEnabled:       s.VideoEnabled,
		Headless:           s.Headless,
		ScreenshareEnabled: s.ScreenshareEnabled,
		NoiseSuppression:   s.NoiseSuppression.OrDefault(),
		Transport:          s.Transport.OrDefault(),
		Resolution:         s.Resolution.OrDefault(),
		Blur:               s.Blur,
		Frontend:           s.Frontend,
	}, nil
}

// ParseRemoteURL 校验 worker 地址，接受 ws(s) 与 http(s)
func ParseRemoteURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse remote url %q: %w", raw, err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return nil, fmt.Errorf("remote url %q must use ws, wss, http or https", raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("remote url %q has no host", raw)
	}
	return u, nil
}

// Encode JSON 后做标准 base64 编码
func (q Query) Encode() (string, error) {
	b, err := json.Marshal(q)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// DecodeQuery Encode 的逆过程，兼容 URL 安全字母表
func DecodeQuery(payload string) (Query, error) {
	payload = strings.TrimSpace(payload)
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		var uerr error
		raw, uerr = base64.URLEncoding.DecodeString(payload)
		if uerr != nil {
			return Query{}, fmt.Errorf("decode payload: %w", err)
		}
	}
	var q Query
	if err := json.Unmarshal(raw, &q); err != nil {
		return Query{}, fmt.Errorf("parse payload: %w", err)
	}
	if q.Username == "" {
		return Query{}, errors.New("parse payload: username is empty")
	}
	if _, err := config.ParseSessionURL(q.SessionURL); err != nil {
		return Query{}, fmt.Errorf("parse payload: %w", err)
	}
	return q, nil
}

// ConnectURL worker 连接地址，http(s) 换成 ws(s) 并附加 payload 参数
func (q Query) ConnectURL() (string, error) {
	u, err := ParseRemoteURL(q.RemoteURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	payload, err := q.Encode()
	if err != nil {
		return "", err
	}
	values := u.Query()
	values.Set(PayloadParam, payload)
	u.RawQuery = values.Encode()
	return u.String(), nil
}

// Settings 查询中的功能开关
func (q Query) Settings() config.Settings {
	return config.Settings{
		Headless:           q.Headless,
		AudioEnabled:       q.AudioEnabled,
		VideoEnabled:       q.VideoEnabled,
		ScreenshareEnabled: q.ScreenshareEnabled,
		NoiseSuppression:   q.NoiseSuppression.OrDefault(),
		Transport:          q.Transport.OrDefault(),
		Resolution:         q.Resolution.OrDefault(),
		Blur:               q.Blur,
		FakeMedia:          q.FakeMedia.String(),
		Frontend:           q.Frontend.OrDefault(),
	}
}

// ParticipantConfig 在 worker 端还原出本地参与者配置
func (q Query) ParticipantConfig(browser config.BrowserConfig) (config.ParticipantConfig, error) {
	return config.NewParticipantConfig(q.Username, q.SessionURL, q.Settings(), browser)
}

// EnsureCookie 查询中没有 cookie 时注册一个新访客，返回的 cookie 需由调用方持有到连接结束
func (q *Query) EnsureCookie(ctx context.Context, pool *auth.Pool) (*auth.BorrowedCookie, error) {
	if q.Cookie != nil {
		return nil, nil
	}
	if pool == nil {
		return nil, errors.New("no cookie pool to fetch a session cookie")
	}
	base := q.BaseURL
	if base == "" {
		u, err := config.ParseSessionURL(q.SessionURL)
		if err != nil {
			return nil, err
		}
		base = config.BaseURL(u)
	}
	c, err := pool.FetchNewCookie(ctx, base, q.Username)
	if err != nil {
		return nil, err
	}
	token := c.Token()
	q.Cookie = &token
	return c, nil
}
