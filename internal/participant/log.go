package participant

import (
	"fmt"
	"strings"

	"clientsim/internal/logger"
	"clientsim/pkg/model"
)

// sinkLogger 在写本地日志的同时把日志行投递给远程控制端
type sinkLogger struct {
	base     logger.Logger
	username string
	sink     chan<- model.ParticipantLogMessage
	kv       []any
}

func newSinkLogger(base logger.Logger, username string, sink chan<- model.ParticipantLogMessage) logger.Logger {
	if sink == nil {
		return base
	}
	return &sinkLogger{base: base, username: username, sink: sink}
}

func (s *sinkLogger) Debug(msg string, kv ...any) {
	s.base.Debug(msg, kv...)
	s.send(model.LevelDebug, msg, kv)
}

func (s *sinkLogger) Info(msg string, kv ...any) {
	s.base.Info(msg, kv...)
	s.send(model.LevelInfo, msg, kv)
}

func (s *sinkLogger) Warn(msg string, kv ...any) {
	s.base.Warn(msg, kv...)
	s.send(model.LevelWarn, msg, kv)
}

func (s *sinkLogger) Error(msg string, kv ...any) {
	s.base.Error(msg, kv...)
	s.send(model.LevelError, msg, kv)
}

func (s *sinkLogger) Err(err error, msg string, kv ...any) {
	s.base.Err(err, msg, kv...)
	s.send(model.LevelError, msg+": "+err.Error(), kv)
}

func (s *sinkLogger) With(kv ...any) logger.Logger {
	return &sinkLogger{
		base:     s.base.With(kv...),
		username: s.username,
		sink:     s.sink,
		kv:       append(append([]any{}, s.kv...), kv...),
	}
}

// send 非阻塞投递，通道满时丢弃
func (s *sinkLogger) send(level model.LogLevel, msg string, kv []any) {
	m := model.ParticipantLogMessage{
		Username: s.username,
		Level:    level,
		Message:  formatLine(msg, append(append([]any{}, s.kv...), kv...)),
	}
	select {
	case s.sink <- m:
	default:
	}
}

func formatLine(msg string, kv []any) string {
	if len(kv) == 0 {
		return msg
	}
	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i+1 < len(kv); i += 2 {
		fmt.Fprintf(&b, " %v=%v", kv[i], kv[i+1])
	}
	return b.String()
}
