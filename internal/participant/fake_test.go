package participant

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"clientsim/internal/config"
	"clientsim/internal/logger"
)

// fakePage 模拟会议页面：点击入会后出现离会按钮，开关控件翻转 data-test-state
type fakePage struct {
	mu          sync.Mutex
	fe          frontend
	joined      bool
	neverJoin   bool
	controls    map[string]bool
	settings    map[string]string
	navigations int
	cookies     []string
	filled      map[string]string
	clicks      []string
	closed      bool
	navigateErr error
}

func newFakePage(fe frontend) *fakePage {
	return &fakePage{
		fe: fe,
		controls: map[string]bool{
			fe.mute:        true,
			fe.video:       true,
			fe.screenshare: false,
		},
		settings: map[string]string{
			jsGetNoiseSuppression: `"none"`,
			jsGetBackgroundBlur:   `false`,
			jsGetResolution:       `"auto"`,
			jsGetForceWebrtc:      `false`,
		},
		filled: map[string]string{},
	}
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navigations++
	return p.navigateErr
}

func (p *fakePage) SetCookie(ctx context.Context, name, value, domain string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cookies = append(p.cookies, name+"="+value+"@"+domain)
	return nil
}

func (p *fakePage) Exists(ctx context.Context, selector string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch selector {
	case p.fe.leave:
		return p.joined, nil
	case p.fe.nameInput, p.fe.joinButton:
		return !p.joined, nil
	}
	_, ok := p.controls[selector]
	return ok, nil
}

func (p *fakePage) Click(ctx context.Context, selector string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clicks = append(p.clicks, selector)
	switch selector {
	case p.fe.joinButton:
		p.joined = !p.neverJoin
		return nil
	case p.fe.leave:
		if !p.joined {
			return errors.New("element not found: " + selector)
		}
		p.joined = false
		return nil
	}
	v, ok := p.controls[selector]
	if !ok {
		return errors.New("element not found: " + selector)
	}
	p.controls[selector] = !v
	return nil
}

// setControl 在页面外部改变控件状态，remove 时删除控件
func (p *fakePage) setControl(selector string, v, remove bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if remove {
		delete(p.controls, selector)
		return
	}
	p.controls[selector] = v
}

func (p *fakePage) Attribute(ctx context.Context, selector, name string) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.controls[selector]
	if !ok || name != stateAttribute {
		return "", false, nil
	}
	return strconv.FormatBool(v), true, nil
}

func (p *fakePage) Fill(ctx context.Context, selector, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.filled[selector] = text
	return nil
}

func (p *fakePage) Call(ctx context.Context, fn string, args ...any) (gjson.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	setters := map[string]string{
		jsSetNoiseSuppression: jsGetNoiseSuppression,
		jsSetBackgroundBlur:   jsGetBackgroundBlur,
		jsSetResolution:       jsGetResolution,
		jsSetForceWebrtc:      jsGetForceWebrtc,
	}
	if getter, ok := setters[fn]; ok {
		switch v := args[0].(type) {
		case string:
			p.settings[getter] = strconv.Quote(v)
		default:
			p.settings[getter] = fmt.Sprint(v)
		}
		return gjson.Result{}, nil
	}
	v, ok := p.settings[fn]
	if !ok {
		return gjson.Result{}, fmt.Errorf("unknown function %s", fn)
	}
	return gjson.Parse(v), nil
}

func (p *fakePage) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

type pageSnapshot struct {
	joined      bool
	navigations int
	cookies     []string
	clicks      []string
	closed      bool
	filled      map[string]string
}

func (p *fakePage) snapshot() pageSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	filled := make(map[string]string, len(p.filled))
	for k, v := range p.filled {
		filled[k] = v
	}
	return pageSnapshot{
		joined:      p.joined,
		navigations: p.navigations,
		cookies:     append([]string(nil), p.cookies...),
		clicks:      append([]string(nil), p.clicks...),
		closed:      p.closed,
		filled:      filled,
	}
}

func (p *fakePage) count(selector string) int {
	n := 0
	for _, c := range p.snapshot().clicks {
		if c == selector {
			n++
		}
	}
	return n
}

func (p *fakePage) setting(getter string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.settings[getter]
}

// fakeBrowser 前 failPages 次创建页面失败
type fakeBrowser struct {
	mu        sync.Mutex
	page      *fakePage
	failPages int
	pageErrs  []error
	newPages  int
	detached  chan struct{}
	killed    bool
	closed    bool
	runExited chan struct{}
}

func newFakeBrowser(page *fakePage) *fakeBrowser {
	return &fakeBrowser{page: page, detached: make(chan struct{}), runExited: make(chan struct{})}
}

func (b *fakeBrowser) NewPage(ctx context.Context) (Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.newPages++
	if b.newPages <= b.failPages {
		err := fmt.Errorf("create page attempt %d failed", b.newPages)
		b.pageErrs = append(b.pageErrs, err)
		return nil, err
	}
	return b.page, nil
}

func (b *fakeBrowser) Run(ctx context.Context) error {
	defer close(b.runExited)
	<-ctx.Done()
	return nil
}

func (b *fakeBrowser) Detached() <-chan struct{} { return b.detached }

func (b *fakeBrowser) Kill() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.killed = true
	return nil
}

func (b *fakeBrowser) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *fakeBrowser) status() (newPages int, killed, closed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.newPages, b.killed, b.closed
}

func launcherFor(b Browser) LaunchFunc {
	return func(context.Context, config.ParticipantConfig, logger.Logger) (Browser, error) {
		return b, nil
	}
}

func testConfig(t *testing.T, mutate func(*config.Settings)) config.ParticipantConfig {
	t.Helper()
	s := config.DefaultSettings()
	if mutate != nil {
		mutate(&s)
	}
	cfg, err := config.NewParticipantConfig("alice", "https://demo.hyper.video/space/abc", s, config.BrowserConfig{})
	require.NoError(t, err)
	return cfg
}

func fastOptions(b Browser) []Option {
	return []Option{
		WithLauncher(launcherFor(b)),
		WithElementTimeout(200 * time.Millisecond),
		WithPollInterval(10 * time.Millisecond),
		WithRetryBackoff(time.Millisecond, 2*time.Millisecond),
		WithScreenshareDelay(0),
	}
}
