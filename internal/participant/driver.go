package participant

import (
	"context"

	"github.com/tidwall/gjson"

	"clientsim/internal/cdp"
	"clientsim/internal/config"
	"clientsim/internal/logger"
)

// Page actor 需要的页面操作
type Page interface {
	Navigate(ctx context.Context, url string) error
	SetCookie(ctx context.Context, name, value, domain string) error
	Exists(ctx context.Context, selector string) (bool, error)
	Click(ctx context.Context, selector string) error
	Attribute(ctx context.Context, selector, name string) (string, bool, error)
	Fill(ctx context.Context, selector, text string) error
	Call(ctx context.Context, fn string, args ...any) (gjson.Result, error)
	Close(ctx context.Context) error
}

// Browser actor 独占的浏览器实例
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	// Run 事件循环，阻塞到连接结束
	Run(ctx context.Context) error
	Detached() <-chan struct{}
	Kill() error
	Close(ctx context.Context) error
}

// LaunchFunc 按参与者配置启动浏览器
type LaunchFunc func(ctx context.Context, cfg config.ParticipantConfig, l logger.Logger) (Browser, error)

// LaunchChrome 通过 CDP 启动本机 chromium/chrome
func LaunchChrome(ctx context.Context, cfg config.ParticipantConfig, l logger.Logger) (Browser, error) {
	b, err := cdp.Launch(ctx, cfg, l)
	if err != nil {
		return nil, err
	}
	return chromeBrowser{b}, nil
}

type chromeBrowser struct {
	*cdp.Browser
}

func (b chromeBrowser) NewPage(ctx context.Context) (Page, error) {
	p, err := b.Browser.NewPage(ctx)
	if err != nil {
		return nil, err
	}
	return p, nil
}
