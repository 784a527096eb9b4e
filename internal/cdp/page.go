package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/protocol/input"
	"github.com/mafredri/cdp/protocol/network"
	"github.com/mafredri/cdp/protocol/page"
	"github.com/mafredri/cdp/protocol/runtime"
	"github.com/mafredri/cdp/rpcc"
	"github.com/tidwall/gjson"
)

const readyPollInterval = 100 * time.Millisecond

const (
	jsExists = `(sel) => document.querySelector(sel) !== null`
	jsClick  = `(sel) => {
		const el = document.querySelector(sel);
		if (!el) throw new Error("element not found: " + sel);
		el.click();
		return true;
	}`
	jsAttribute = `(sel, name) => {
		const el = document.querySelector(sel);
		if (!el) throw new Error("element not found: " + sel);
		return el.getAttribute(name);
	}`
	jsFocusClear = `(sel) => {
		const el = document.querySelector(sel);
		if (!el) throw new Error("element not found: " + sel);
		el.focus();
		el.value = "";
		el.dispatchEvent(new Event("input", { bubbles: true }));
		return true;
	}`
	jsReadyState = `() => document.readyState`
)

// Page 一个页面 target 的 CDP 连接
type Page struct {
	id      string
	conn    *rpcc.Conn
	client  *cdp.Client
	release func()
}

// ID 页面 target ID
func (p *Page) ID() string { return p.id }

// Navigate 跳转并等待文档加载完成
func (p *Page) Navigate(ctx context.Context, url string) error {
	reply, err := p.client.Page.Navigate(ctx, page.NewNavigateArgs(url))
	if err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	if reply.ErrorText != nil && *reply.ErrorText != "" {
		return fmt.Errorf("navigate to %s: %s", url, *reply.ErrorText)
	}

	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()
	for {
		state, err := p.Call(ctx, jsReadyState)
		if err == nil && state.String() != "loading" {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for %s to load: %w", url, ctx.Err())
		case <-ticker.C:
		}
	}
}

// SetCookie 为指定域名写入 cookie，path 固定为 /
func (p *Page) SetCookie(ctx context.Context, name, value, domain string) error {
	args := network.NewSetCookieArgs(name, value).SetDomain(domain).SetPath("/")
	if _, err := p.client.Network.SetCookie(ctx, args); err != nil {
		return fmt.Errorf("set cookie %s for %s: %w", name, domain, err)
	}
	return nil
}

// Exists 选择器是否能匹配到元素
func (p *Page) Exists(ctx context.Context, selector string) (bool, error) {
	v, err := p.Call(ctx, jsExists, selector)
	if err != nil {
		return false, err
	}
	return v.Bool(), nil
}

// Click 点击元素
func (p *Page) Click(ctx context.Context, selector string) error {
	_, err := p.Call(ctx, jsClick, selector)
	return err
}

// Attribute 读取元素属性，属性不存在时 ok 为 false
func (p *Page) Attribute(ctx context.Context, selector, name string) (string, bool, error) {
	v, err := p.Call(ctx, jsAttribute, selector, name)
	if err != nil {
		return "", false, err
	}
	if v.Type == gjson.Null {
		return "", false, nil
	}
	return v.String(), true, nil
}

// Fill 清空输入框并模拟键入文本
func (p *Page) Fill(ctx context.Context, selector, text string) error {
	if _, err := p.Call(ctx, jsFocusClear, selector); err != nil {
		return err
	}
	if err := p.client.Input.InsertText(ctx, input.NewInsertTextArgs(text)); err != nil {
		return fmt.Errorf("type into %s: %w", selector, err)
	}
	return nil
}

// Call 以 JSON 参数调用一段 JS 函数，返回值按值传回
func (p *Page) Call(ctx context.Context, fn string, args ...any) (gjson.Result, error) {
	encoded := make([]string, 0, len(args))
	for _, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return gjson.Result{}, fmt.Errorf("encode argument: %w", err)
		}
		encoded = append(encoded, string(b))
	}
	return p.Evaluate(ctx, "("+fn+")("+strings.Join(encoded, ", ")+")")
}

// Evaluate 执行表达式，异常时返回错误
func (p *Page) Evaluate(ctx context.Context, expr string) (gjson.Result, error) {
	args := runtime.NewEvaluateArgs(expr).SetReturnByValue(true).SetAwaitPromise(true)
	reply, err := p.client.Runtime.Evaluate(ctx, args)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("evaluate: %w", err)
	}
	if ex := reply.ExceptionDetails; ex != nil {
		msg := ex.Text
		if ex.Exception != nil && ex.Exception.Description != nil {
			msg = *ex.Exception.Description
		}
		return gjson.Result{}, fmt.Errorf("evaluate: %s", msg)
	}
	if len(reply.Result.Value) == 0 {
		return gjson.Result{}, nil
	}
	return gjson.ParseBytes(reply.Result.Value), nil
}

// Close 关闭页面及其连接
func (p *Page) Close(ctx context.Context) error {
	if p.release != nil {
		p.release()
	}
	err := p.client.Page.Close(ctx)
	_ = p.conn.Close()
	if err != nil {
		return fmt.Errorf("close page %s: %w", p.id, err)
	}
	return nil
}
