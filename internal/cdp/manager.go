package cdp

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/protocol/target"
	"github.com/mafredri/cdp/rpcc"

	"clientsim/internal/config"
	"clientsim/internal/logger"
)

// Browser 一个浏览器进程及其浏览器级 CDP 连接
type Browser struct {
	launcher *launcher.Launcher
	devtools *devtool.DevTools
	conn     *rpcc.Conn
	client   *cdp.Client
	log      logger.Logger

	mu       sync.Mutex
	pageID   target.ID
	closing  atomic.Bool
	detached chan struct{}
	once     sync.Once
}

// newLauncher 构造启动参数，保留 rod 的 leakless 守护以便父进程退出时浏览器随之结束
func newLauncher(bin string, cfg config.ParticipantConfig, media MediaFiles) *launcher.Launcher {
	lc := launcher.New().Bin(bin).Headless(cfg.Settings.Headless).Leakless(true)
	for _, f := range LaunchFlags(cfg.Settings, cfg.Browser, media) {
		lc = lc.Set(f.Name, f.Values...)
	}
	return lc
}

// Launch 启动浏览器进程并建立浏览器级连接
func Launch(ctx context.Context, cfg config.ParticipantConfig, l logger.Logger) (*Browser, error) {
	if l == nil {
		l = logger.NewNop()
	}
	bin, err := FindBinary(cfg.Browser.Binary)
	if err != nil {
		return nil, err
	}
	media, err := ResolveMedia(ctx, cfg.Settings.Media(), cfg.Browser.CacheDir)
	if err != nil {
		// 媒体文件不可用时退回内置测试媒体
		l.Err(err, "无法读取伪造媒体文件", "source", cfg.Settings.FakeMedia)
	}

	lc := newLauncher(bin, cfg, media)
	l.Debug("启动浏览器", "binary", bin, "headless", cfg.Settings.Headless)
	wsURL, err := lc.Launch()
	if err != nil {
		lc.Kill()
		return nil, fmt.Errorf("launch browser %s: %w", bin, err)
	}

	conn, err := rpcc.DialContext(ctx, wsURL)
	if err != nil {
		lc.Kill()
		lc.Cleanup()
		return nil, fmt.Errorf("connect to browser: %w", err)
	}

	httpURL, err := devtoolsHTTP(wsURL)
	if err != nil {
		conn.Close()
		lc.Kill()
		lc.Cleanup()
		return nil, err
	}

	return &Browser{
		launcher: lc,
		devtools: devtool.New(httpURL),
		conn:     conn,
		client:   cdp.NewClient(conn),
		log:      l,
		detached: make(chan struct{}),
	}, nil
}

// devtoolsHTTP 由 ws://host:port/devtools/browser/<id> 推出 http://host:port
func devtoolsHTTP(wsURL string) (string, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return "", fmt.Errorf("parse devtools url %q: %w", wsURL, err)
	}
	scheme := "http"
	if u.Scheme == "wss" {
		scheme = "https"
	}
	return (&url.URL{Scheme: scheme, Host: u.Host}).String(), nil
}

// NewPage 复用已有的页面 target，没有时创建新页面，并建立页面级连接
func (b *Browser) NewPage(ctx context.Context) (*Page, error) {
	targets, err := b.devtools.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}

	var sel *devtool.Target
	for _, t := range targets {
		if t.Type == devtool.Page {
			sel = t
			break
		}
	}
	if sel == nil {
		reply, err := b.client.Target.CreateTarget(ctx, target.NewCreateTargetArgs("about:blank"))
		if err != nil {
			return nil, fmt.Errorf("create page: %w", err)
		}
		targets, err = b.devtools.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("list targets: %w", err)
		}
		for _, t := range targets {
			if t.ID == string(reply.TargetID) {
				sel = t
				break
			}
		}
		if sel == nil {
			return nil, fmt.Errorf("created page %s not listed", reply.TargetID)
		}
	}

	conn, err := rpcc.DialContext(ctx, sel.WebSocketDebuggerURL)
	if err != nil {
		return nil, fmt.Errorf("connect to page %s: %w", sel.ID, err)
	}

	b.mu.Lock()
	b.pageID = target.ID(sel.ID)
	b.mu.Unlock()

	b.log.Debug("已连接页面", "target", sel.ID, "url", sel.URL)
	id := target.ID(sel.ID)
	release := func() {
		b.mu.Lock()
		if b.pageID == id {
			b.pageID = ""
		}
		b.mu.Unlock()
	}
	return &Page{id: sel.ID, conn: conn, client: cdp.NewClient(conn), release: release}, nil
}

// Run 持续消费浏览器事件，直到连接关闭或 ctx 结束；页面被外部关闭时标记为 detached
func (b *Browser) Run(ctx context.Context) error {
	if err := b.client.Target.SetDiscoverTargets(ctx, target.NewSetDiscoverTargetsArgs(true)); err != nil {
		if ctx.Err() != nil || b.closing.Load() {
			return nil
		}
		return fmt.Errorf("discover targets: %w", err)
	}
	destroyed, err := b.client.Target.TargetDestroyed(ctx)
	if err != nil {
		if ctx.Err() != nil || b.closing.Load() {
			return nil
		}
		return fmt.Errorf("subscribe target destroyed: %w", err)
	}
	defer destroyed.Close()

	for {
		ev, err := destroyed.Recv()
		if err != nil {
			if ctx.Err() == nil && !b.closing.Load() {
				b.markDetached("browser connection closed")
			}
			return nil
		}
		b.mu.Lock()
		ours := ev.TargetID == b.pageID
		b.mu.Unlock()
		if ours && !b.closing.Load() {
			b.markDetached("page closed")
		}
	}
}

func (b *Browser) markDetached(reason string) {
	b.once.Do(func() {
		b.log.Warn("浏览器已断开", "reason", reason)
		close(b.detached)
	})
}

// Detached 浏览器或页面被外部关闭时关闭的通道
func (b *Browser) Detached() <-chan struct{} { return b.detached }

// Kill 立即结束浏览器进程
func (b *Browser) Kill() error {
	b.closing.Store(true)
	_ = b.conn.Close()
	b.launcher.Kill()
	b.launcher.Cleanup()
	return nil
}

// Close 正常关闭浏览器并清理临时用户目录
func (b *Browser) Close(ctx context.Context) error {
	b.closing.Store(true)
	err := b.client.Browser.Close(ctx)
	_ = b.conn.Close()
	b.launcher.Kill()
	b.launcher.Cleanup()
	if err != nil {
		// 进程退出时连接随之断开，命令本身常返回错误
		b.log.Debug("关闭浏览器命令返回错误", "error", err)
	}
	return nil
}
