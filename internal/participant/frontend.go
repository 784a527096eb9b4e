package participant

import "clientsim/pkg/model"

// stateAttribute 控件开关状态属性，值为 "true" 表示开启
const stateAttribute = "data-test-state"

// frontend 不同会议前端的选择器与能力
type frontend struct {
	kind        model.Frontend
	nameInput   string
	joinButton  string
	leave       string
	mute        string
	video       string
	screenshare string
	// settings 页面是否暴露 hyper.settings 接口
	settings bool
	// cookie 是否需要预先写入会话 cookie
	cookie bool
}

var classicFrontend = frontend{
	kind:        model.FrontendClassic,
	nameInput:   `[data-testid="trigger-join-name"]`,
	joinButton:  `button[type="submit"]:not([disabled])`,
	leave:       `[data-testid="trigger-leave-call"]`,
	mute:        `[data-testid="toggle-audio"]`,
	video:       `[data-testid="toggle-video"]`,
	screenshare: `[data-testid="toggle-screen-share"]`,
	settings:    true,
	cookie:      true,
}

// lite 前端由路由处理身份，只支持点击类操作
var liteFrontend = frontend{
	kind:        model.FrontendLite,
	joinButton:  `button[data-test-id="join-button"]:not([disabled])`,
	leave:       `[data-test-id="trigger-leave-call"]`,
	mute:        `[data-test-id="toggle-audio"]`,
	video:       `[data-test-id="toggle-video"]`,
	screenshare: `[data-test-id="toggle-screen-share"]`,
}

func frontendFor(kind model.Frontend) frontend {
	if kind.OrDefault() == model.FrontendLite {
		return liteFrontend
	}
	return classicFrontend
}

// 页面内设置接口
const (
	jsGetNoiseSuppression = `() => hyper.settings.media.noiseSuppression`
	jsSetNoiseSuppression = `(v) => hyper.settings.media.actions.setNoiseSuppression(v)`
	jsGetBackgroundBlur   = `() => hyper.settings.media.backgroundBlur`
	jsSetBackgroundBlur   = `(v) => hyper.settings.media.actions.setBackgroundBlur(v)`
	jsGetResolution       = `() => hyper.settings.videoCodec.videoResolutionForWebcamEncoder.level`
	jsSetResolution       = `(v) => hyper.settings.videoCodec.actions.setVideoResolutionForWebcamEncoder(v)`
	jsGetForceWebrtc      = `() => hyper.settings.sessionDebug.forceWebrtc`
	jsSetForceWebrtc      = `(v) => hyper.settings.sessionDebug.actions.setForceWebrtc(v)`
)
