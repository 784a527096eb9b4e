package model

// ParticipantState 参与者状态快照，由 actor 在每条命令执行后重新探测生成
type ParticipantState struct {
	Username             string           `json:"username"`
	Running              bool             `json:"running"`
	Joined               bool             `json:"joined"`
	Muted                bool             `json:"muted"`
	VideoActivated       bool             `json:"video_activated"`
	NoiseSuppression     NoiseSuppression `json:"noise_suppression"`
	TransportMode        TransportMode    `json:"transport_mode"`
	WebcamResolution     WebcamResolution `json:"webcam_resolution"`
	BackgroundBlur       bool             `json:"background_blur"`
	ScreenshareActivated bool             `json:"screenshare_activated"`
}

// LogLevel 日志级别文本
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// ParticipantLogMessage 归属于某个参与者的一行日志
type ParticipantLogMessage struct {
	Username string   `json:"username"`
	Level    LogLevel `json:"level"`
	Message  string   `json:"message"`
}

// ResponseFrame worker 发往控制端的帧
type ResponseFrame struct {
	State ParticipantState       `json:"state"`
	Log   *ParticipantLogMessage `json:"log"`
}

// ErrorFrame 协议错误帧
type ErrorFrame struct {
	Error string `json:"error"`
}
