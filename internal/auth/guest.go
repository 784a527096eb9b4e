package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// SessionCookieName 后端会话 cookie 名
const SessionCookieName = "hyper_session"

// ErrNoSessionCookie 访客注册响应中没有会话 cookie
var ErrNoSessionCookie = errors.New("no " + SessionCookieName + " cookie in response")

// Client 访客身份相关的后端接口
type Client struct {
	http *http.Client
}

// NewClient 创建接口客户端，重定向不会被跟随
func NewClient(hc *http.Client) *Client {
	c := &http.Client{Timeout: 30 * time.Second}
	if hc != nil {
		cp := *hc
		c = &cp
	}
	c.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &Client{http: c}
}

// RegisterGuest 注册访客并返回会话令牌
func (c *Client) RegisterGuest(ctx context.Context, baseURL string) (string, error) {
	endpoint := endpoint(baseURL, "/api/v1/auth/guest") + "?username=guest"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build guest request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("register guest at %s: %w", baseURL, err)
	}
	defer drain(resp)

	if resp.StatusCode >= http.StatusBadRequest {
		return "", statusError("register guest", resp)
	}
	for _, ck := range resp.Cookies() {
		if ck.Name == SessionCookieName && ck.Value != "" {
			return ck.Value, nil
		}
	}
	return "", ErrNoSessionCookie
}

// SetName 修改会话的显示名
func (c *Client) SetName(ctx context.Context, baseURL, token, name string) error {
	body, err := json.Marshal(map[string]string{"name": name})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint(baseURL, "/api/v1/auth/me/name"), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build set name request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cookie", SessionCookieName+"="+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("set name at %s: %w", baseURL, err)
	}
	defer drain(resp)
	if resp.StatusCode >= http.StatusBadRequest {
		return statusError("set name", resp)
	}
	return nil
}

// CheckValidity 会话是否仍被后端接受
func (c *Client) CheckValidity(ctx context.Context, baseURL, token string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint(baseURL, "/api/v1/auth/me"), nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Cookie", SessionCookieName+"="+token)
	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("check session at %s: %w", baseURL, err)
	}
	defer drain(resp)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return false, nil
	case resp.StatusCode >= http.StatusBadRequest:
		return false, statusError("check session", resp)
	}
	return true, nil
}

// Logout 注销会话
func (c *Client) Logout(ctx context.Context, baseURL, token string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint(baseURL, "/api/v1/auth/logout"), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Cookie", SessionCookieName+"="+token)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("logout at %s: %w", baseURL, err)
	}
	defer drain(resp)
	if resp.StatusCode >= http.StatusBadRequest {
		return statusError("logout", resp)
	}
	return nil
}

func endpoint(baseURL, path string) string {
	return strings.TrimRight(baseURL, "/") + path
}

func statusError(op string, resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("%s: unexpected status %d: %s", op, resp.StatusCode, strings.TrimSpace(string(b)))
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
