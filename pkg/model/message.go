package model

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// DecodeErrorFrame 判断 worker 消息是否为错误帧
func DecodeErrorFrame(data []byte) (ErrorFrame, bool) {
	e := gjson.GetBytes(data, "error")
	if !e.Exists() {
		return ErrorFrame{}, false
	}
	return ErrorFrame{Error: e.String()}, true
}

// ErrUnknownCommand 无法识别的命令帧
var ErrUnknownCommand = errors.New("unknown participant command")

// Command 参与者命令名
type Command string

const (
	CmdJoin                 Command = "Join"
	CmdLeave                Command = "Leave"
	CmdClose                Command = "Close"
	CmdToggleAudio          Command = "ToggleAudio"
	CmdToggleVideo          Command = "ToggleVideo"
	CmdToggleScreenshare    Command = "ToggleScreenshare"
	CmdSetNoiseSuppression  Command = "SetNoiseSuppression"
	CmdSetWebcamResolution  Command = "SetWebcamResolution"
	CmdToggleBackgroundBlur Command = "ToggleBackgroundBlur"
)

var unitCommands = map[Command]bool{
	CmdJoin: true, CmdLeave: true, CmdClose: true,
	CmdToggleAudio: true, CmdToggleVideo: true, CmdToggleScreenshare: true,
	CmdToggleBackgroundBlur: true,
}

// ParticipantMessage 发给参与者 actor 的一条命令
type ParticipantMessage struct {
	Command          Command
	NoiseSuppression NoiseSuppression
	Resolution       WebcamResolution
}

// Message 构造不带参数的命令
func Message(c Command) ParticipantMessage { return ParticipantMessage{Command: c} }

// SetNoiseSuppression 构造设置降噪的命令
func SetNoiseSuppression(v NoiseSuppression) ParticipantMessage {
	return ParticipantMessage{Command: CmdSetNoiseSuppression, NoiseSuppression: v}
}

// SetWebcamResolution 构造设置分辨率的命令
func SetWebcamResolution(v WebcamResolution) ParticipantMessage {
	return ParticipantMessage{Command: CmdSetWebcamResolution, Resolution: v}
}

func (m ParticipantMessage) String() string {
	switch m.Command {
	case CmdSetNoiseSuppression:
		return fmt.Sprintf("%s(%s)", m.Command, m.NoiseSuppression)
	case CmdSetWebcamResolution:
		return fmt.Sprintf("%s(%s)", m.Command, m.Resolution)
	}
	return string(m.Command)
}

// MarshalJSON 无参命令编码为字符串，带参命令编码为单键对象
func (m ParticipantMessage) MarshalJSON() ([]byte, error) {
	switch m.Command {
	case CmdSetNoiseSuppression:
		return sjson.SetBytes([]byte(`{}`), string(m.Command), string(m.NoiseSuppression))
	case CmdSetWebcamResolution:
		return sjson.SetBytes([]byte(`{}`), string(m.Command), string(m.Resolution))
	}
	if !unitCommands[m.Command] {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, m.Command)
	}
	return json.Marshal(string(m.Command))
}

func (m *ParticipantMessage) UnmarshalJSON(b []byte) error {
	r := gjson.ParseBytes(b)
	if r.Type == gjson.String {
		c := Command(r.String())
		if !unitCommands[c] {
			return fmt.Errorf("%w: %q", ErrUnknownCommand, r.String())
		}
		*m = ParticipantMessage{Command: c}
		return nil
	}
	if !r.IsObject() {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, string(b))
	}

	var (
		out   ParticipantMessage
		found bool
		err   error
	)
	r.ForEach(func(key, value gjson.Result) bool {
		found = true
		switch c := Command(key.String()); c {
		case CmdSetNoiseSuppression:
			out.Command = c
			err = out.NoiseSuppression.UnmarshalText([]byte(value.String()))
		case CmdSetWebcamResolution:
			out.Command = c
			err = out.Resolution.UnmarshalText([]byte(value.String()))
		default:
			err = fmt.Errorf("%w: %q", ErrUnknownCommand, key.String())
		}
		return false
	})
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: empty object", ErrUnknownCommand)
	}
	*m = out
	return nil
}
