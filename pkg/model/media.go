package model

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
)

// FakeMediaKind 伪造媒体来源类型
type FakeMediaKind string

const (
	FakeMediaNone    FakeMediaKind = "none"
	FakeMediaBuiltin FakeMediaKind = "builtin"
	// FakeMediaFile 本地文件或 http(s) 地址
	FakeMediaFile FakeMediaKind = "file"
)

// FakeMedia 浏览器采集设备使用的伪造媒体
type FakeMedia struct {
	Kind   FakeMediaKind
	Source string
}

// ParseFakeMedia 解析配置中的文本形式：<none>、<builtin> 或文件/URL
func ParseFakeMedia(s string) FakeMedia {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "<none>", "none":
		return FakeMedia{Kind: FakeMediaNone}
	case "<builtin>", "builtin":
		return FakeMedia{Kind: FakeMediaBuiltin}
	}
	return FakeMedia{Kind: FakeMediaFile, Source: strings.TrimSpace(s)}
}

// BuiltinFakeMedia 浏览器自带的测试画面与音频
func BuiltinFakeMedia() FakeMedia { return FakeMedia{Kind: FakeMediaBuiltin} }

func (f FakeMedia) String() string {
	switch f.Kind {
	case FakeMediaBuiltin:
		return "<builtin>"
	case FakeMediaFile:
		return f.Source
	}
	return "<none>"
}

// URL 来源为 http(s) 地址时返回解析结果
func (f FakeMedia) URL() (*url.URL, bool) {
	if f.Kind != FakeMediaFile {
		return nil, false
	}
	u, err := url.Parse(f.Source)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, false
	}
	return u, true
}

// ForRemote 转换为可跨主机传递的形式：本地文件无法传递，退化为 builtin
func (f FakeMedia) ForRemote() FakeMedia {
	if f.Kind != FakeMediaFile {
		return f
	}
	if _, ok := f.URL(); ok {
		return f
	}
	return BuiltinFakeMedia()
}

// MarshalJSON 输出 "none" | "builtin" | {"url": "..."}
func (f FakeMedia) MarshalJSON() ([]byte, error) {
	switch f.Kind {
	case FakeMediaBuiltin:
		return []byte(`"builtin"`), nil
	case FakeMediaFile:
		return json.Marshal(map[string]string{"url": f.Source})
	}
	return []byte(`"none"`), nil
}

func (f *FakeMedia) UnmarshalJSON(b []byte) error {
	r := gjson.ParseBytes(b)
	switch {
	case r.Type == gjson.Null:
		*f = FakeMedia{Kind: FakeMediaNone}
	case r.Type == gjson.String:
		switch strings.ToLower(r.String()) {
		case "none":
			*f = FakeMedia{Kind: FakeMediaNone}
		case "builtin":
			*f = FakeMedia{Kind: FakeMediaBuiltin}
		default:
			return fmt.Errorf("unknown fake media %q", r.String())
		}
	case r.IsObject() && r.Get("url").Exists():
		*f = FakeMedia{Kind: FakeMediaFile, Source: r.Get("url").String()}
	default:
		return fmt.Errorf("invalid fake media %s", string(b))
	}
	return nil
}
