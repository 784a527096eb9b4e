package model

import (
	"fmt"
	"strings"
)

// TransportMode 媒体传输方式
type TransportMode string

const (
	TransportWebTransport TransportMode = "webtransport"
	TransportWebRTC       TransportMode = "webrtc"
)

// TransportModes 全部传输方式
var TransportModes = []TransportMode{TransportWebTransport, TransportWebRTC}

func (t TransportMode) Valid() bool {
	return t == TransportWebTransport || t == TransportWebRTC
}

// OrDefault 空值时返回 webtransport
func (t TransportMode) OrDefault() TransportMode {
	if t == "" {
		return TransportWebTransport
	}
	return t
}

func (t *TransportMode) UnmarshalText(b []byte) error {
	v := TransportMode(strings.ToLower(string(b)))
	if v == "" {
		v = TransportWebTransport
	}
	if !v.Valid() {
		return fmt.Errorf("unknown transport mode %q", string(b))
	}
	*t = v
	return nil
}

// WebcamResolution 摄像头编码分辨率
type WebcamResolution string

const (
	ResolutionAuto  WebcamResolution = "auto"
	ResolutionP144  WebcamResolution = "P144"
	ResolutionP240  WebcamResolution = "P240"
	ResolutionP360  WebcamResolution = "P360"
	ResolutionP480  WebcamResolution = "P480"
	ResolutionP720  WebcamResolution = "P720"
	ResolutionP1080 WebcamResolution = "P1080"
	ResolutionP1440 WebcamResolution = "P1440"
	ResolutionP2160 WebcamResolution = "P2160"
	ResolutionP4320 WebcamResolution = "P4320"
)

// WebcamResolutions 全部分辨率，按从低到高排列
var WebcamResolutions = []WebcamResolution{
	ResolutionAuto, ResolutionP144, ResolutionP240, ResolutionP360, ResolutionP480,
	ResolutionP720, ResolutionP1080, ResolutionP1440, ResolutionP2160, ResolutionP4320,
}

func (r WebcamResolution) Valid() bool {
	for _, v := range WebcamResolutions {
		if v == r {
			return true
		}
	}
	return false
}

// OrDefault 空值时返回 auto
func (r WebcamResolution) OrDefault() WebcamResolution {
	if r == "" {
		return ResolutionAuto
	}
	return r
}

func (r *WebcamResolution) UnmarshalText(b []byte) error {
	s := string(b)
	if s == "" {
		*r = ResolutionAuto
		return nil
	}
	for _, v := range WebcamResolutions {
		if strings.EqualFold(string(v), s) {
			*r = v
			return nil
		}
	}
	return fmt.Errorf("unknown webcam resolution %q", s)
}

// NoiseSuppression 降噪模式
type NoiseSuppression string

const (
	NoiseSuppressionNone               NoiseSuppression = "none"
	NoiseSuppressionDeepfilternet      NoiseSuppression = "deepfilternet"
	NoiseSuppressionRNNoise            NoiseSuppression = "rnnoise"
	NoiseSuppressionIrisShepherd       NoiseSuppression = "iris-shepherd"
	NoiseSuppressionKrispHigh          NoiseSuppression = "krisp-high"
	NoiseSuppressionKrispMedium        NoiseSuppression = "krisp-medium"
	NoiseSuppressionKrispLow           NoiseSuppression = "krisp-low"
	NoiseSuppressionKrispHighWithBVC   NoiseSuppression = "krisp-high-with-bvc"
	NoiseSuppressionKrispMediumWithBVC NoiseSuppression = "krisp-medium-with-bvc"
)

// NoiseSuppressions 全部降噪模式
var NoiseSuppressions = []NoiseSuppression{
	NoiseSuppressionNone, NoiseSuppressionDeepfilternet, NoiseSuppressionRNNoise,
	NoiseSuppressionIrisShepherd, NoiseSuppressionKrispHigh, NoiseSuppressionKrispMedium,
	NoiseSuppressionKrispLow, NoiseSuppressionKrispHighWithBVC, NoiseSuppressionKrispMediumWithBVC,
}

func (n NoiseSuppression) Valid() bool {
	for _, v := range NoiseSuppressions {
		if v == n {
			return true
		}
	}
	return false
}

// OrDefault 空值时返回 none
func (n NoiseSuppression) OrDefault() NoiseSuppression {
	if n == "" {
		return NoiseSuppressionNone
	}
	return n
}

func (n *NoiseSuppression) UnmarshalText(b []byte) error {
	v := NoiseSuppression(strings.ToLower(string(b)))
	if v == "" {
		v = NoiseSuppressionNone
	}
	if !v.Valid() {
		return fmt.Errorf("unknown noise suppression %q", string(b))
	}
	*n = v
	return nil
}

// Frontend 会议前端类型
type Frontend string

const (
	FrontendClassic Frontend = "classic"
	FrontendLite    Frontend = "lite"
)

// OrDefault 空值时返回 classic
func (f Frontend) OrDefault() Frontend {
	if f == "" {
		return FrontendClassic
	}
	return f
}

func (f *Frontend) UnmarshalText(b []byte) error {
	switch v := Frontend(strings.ToLower(string(b))); v {
	case "":
		*f = FrontendClassic
	case FrontendClassic, FrontendLite:
		*f = v
	default:
		return fmt.Errorf("unknown frontend %q", string(b))
	}
	return nil
}
