package config

import (
	"fmt"

	"clientsim/pkg/model"
)

// Settings 参与者的功能开关与媒体配置
type Settings struct {
	Headless           bool                   `yaml:"headless" mapstructure:"headless"`
	AudioEnabled       bool                   `yaml:"audio_enabled" mapstructure:"audio_enabled"`
	VideoEnabled       bool                   `yaml:"video_enabled" mapstructure:"video_enabled"`
	ScreenshareEnabled bool                   `yaml:"screenshare_enabled" mapstructure:"screenshare_enabled"`
	NoiseSuppression   model.NoiseSuppression `yaml:"noise_suppression" mapstructure:"noise_suppression"`
	Transport          model.TransportMode    `yaml:"transport" mapstructure:"transport"`
	Resolution         model.WebcamResolution `yaml:"resolution" mapstructure:"resolution"`
	Blur               bool                   `yaml:"blur" mapstructure:"blur"`
	FakeMedia          string                 `yaml:"fake_media" mapstructure:"fake_media"`
	Frontend           model.Frontend         `yaml:"frontend" mapstructure:"frontend"`
}

// DefaultSettings 内置默认值，所有覆盖层的最底层
func DefaultSettings() Settings {
	return Settings{
		Headless:         true,
		AudioEnabled:     true,
		VideoEnabled:     true,
		NoiseSuppression: model.NoiseSuppressionNone,
		Transport:        model.TransportWebTransport,
		Resolution:       model.ResolutionAuto,
		FakeMedia:        "<builtin>",
		Frontend:         model.FrontendClassic,
	}
}

// Media 解析伪造媒体配置
func (s Settings) Media() model.FakeMedia { return model.ParseFakeMedia(s.FakeMedia) }

// Validate 校验枚举取值
func (s Settings) Validate() error {
	if !s.NoiseSuppression.OrDefault().Valid() {
		return fmt.Errorf("invalid noise_suppression %q", s.NoiseSuppression)
	}
	if !s.Transport.OrDefault().Valid() {
		return fmt.Errorf("invalid transport %q", s.Transport)
	}
	if !s.Resolution.OrDefault().Valid() {
		return fmt.Errorf("invalid resolution %q", s.Resolution)
	}
	switch s.Frontend.OrDefault() {
	case model.FrontendClassic, model.FrontendLite:
	default:
		return fmt.Errorf("invalid frontend %q", s.Frontend)
	}
	return nil
}

// Overrides 可选覆盖层，nil 字段表示不覆盖
type Overrides struct {
	Headless           *bool                   `yaml:"headless,omitempty" mapstructure:"headless"`
	AudioEnabled       *bool                   `yaml:"audio_enabled,omitempty" mapstructure:"audio_enabled"`
	VideoEnabled       *bool                   `yaml:"video_enabled,omitempty" mapstructure:"video_enabled"`
	ScreenshareEnabled *bool                   `yaml:"screenshare_enabled,omitempty" mapstructure:"screenshare_enabled"`
	NoiseSuppression   *model.NoiseSuppression `yaml:"noise_suppression,omitempty" mapstructure:"noise_suppression"`
	Transport          *model.TransportMode    `yaml:"transport,omitempty" mapstructure:"transport"`
	Resolution         *model.WebcamResolution `yaml:"resolution,omitempty" mapstructure:"resolution"`
	Blur               *bool                   `yaml:"blur,omitempty" mapstructure:"blur"`
	FakeMedia          *string                 `yaml:"fake_media,omitempty" mapstructure:"fake_media"`
	Frontend           *model.Frontend         `yaml:"frontend,omitempty" mapstructure:"frontend"`
}

// Apply 按顺序叠加覆盖层，后面的层优先级更高
func Apply(base Settings, layers ...*Overrides) Settings {
	out := base
	for _, o := range layers {
		if o == nil {
			continue
		}
		set(&out.Headless, o.Headless)
		set(&out.AudioEnabled, o.AudioEnabled)
		set(&out.VideoEnabled, o.VideoEnabled)
		set(&out.ScreenshareEnabled, o.ScreenshareEnabled)
		set(&out.NoiseSuppression, o.NoiseSuppression)
		set(&out.Transport, o.Transport)
		set(&out.Resolution, o.Resolution)
		set(&out.Blur, o.Blur)
		set(&out.FakeMedia, o.FakeMedia)
		set(&out.Frontend, o.Frontend)
	}
	return out
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// Ptr 返回值的指针，便于构造覆盖层
func Ptr[T any](v T) *T { return &v }
