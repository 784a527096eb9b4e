package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"clientsim/internal/logger"
	"clientsim/internal/participant"
	"clientsim/internal/storage"
	"clientsim/pkg/model"
)

// protocolError 控制端发来的帧无法解析
type protocolError struct {
	err error
}

func (e *protocolError) Error() string { return fmt.Sprintf("invalid command frame: %v", e.err) }

func (e *protocolError) Unwrap() error { return e.err }

type inbound struct {
	msg model.ParticipantMessage
	err error
}

// bridge 在一个连接与一个参与者之间转发命令、状态与日志
type bridge struct {
	server      *Server
	conn        *websocket.Conn
	participant *participant.Participant
	sink        <-chan model.ParticipantLogMessage
	log         logger.Logger

	last model.ParticipantState
	sent bool
}

func (b *bridge) run(ctx context.Context) {
	frames := make(chan inbound)
	stop := make(chan struct{})
	defer close(stop)

	b.conn.SetPingHandler(func(data string) error {
		b.log.Debug("收到 ping")
		err := b.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
	go b.read(frames, stop)

	state, _, changed := b.participant.Watch().Load()
	if err := b.sendState(ctx, state); err != nil {
		b.log.Err(err, "发送状态失败")
		b.closeParticipant()
		return
	}

	for {
		select {
		case <-ctx.Done():
			b.log.Info("worker 正在关闭，结束参与者")
			b.closeParticipant()
			b.flush(ctx)
			closeConn(b.conn, websocket.CloseGoingAway, "worker shutting down")
			return

		case f := <-frames:
			if f.err != nil {
				b.readFailed(f.err)
				b.closeParticipant()
				return
			}
			CommandsReceived.WithLabelValues(string(f.msg.Command)).Inc()
			b.server.record(ctx, b.log, func(ctx context.Context, j *storage.Journal) error {
				return j.RecordCommand(ctx, b.participant.Name(), f.msg)
			})
			if f.msg.Command == model.CmdClose {
				b.log.Info("控制端请求关闭参与者")
				b.closeParticipant()
				b.flush(ctx)
				closeConn(b.conn, websocket.CloseNormalClosure, "")
				return
			}
			if err := b.participant.Send(f.msg); err != nil {
				b.log.Warn("转发命令失败", "command", f.msg.String(), "error", err)
			}

		case m := <-b.sink:
			if err := b.sendLog(ctx, m); err != nil {
				b.log.Err(err, "发送日志失败")
				b.closeParticipant()
				return
			}

		case <-changed:
			state, _, changed = b.participant.Watch().Load()
			if err := b.sendState(ctx, state); err != nil {
				b.log.Err(err, "发送状态失败")
				b.closeParticipant()
				return
			}

		case <-b.participant.Done():
			b.log.Info("参与者已结束")
			b.flush(ctx)
			closeConn(b.conn, websocket.CloseNormalClosure, "participant stopped")
			return
		}
	}
}

// read 读取命令帧直到出错，二进制帧忽略
func (b *bridge) read(frames chan<- inbound, stop <-chan struct{}) {
	for {
		typ, data, err := b.conn.ReadMessage()
		var f inbound
		switch {
		case err != nil:
			f.err = err
		case typ == websocket.BinaryMessage:
			b.log.Debug("忽略二进制消息")
			continue
		default:
			if err := json.Unmarshal(data, &f.msg); err != nil {
				f.err = &protocolError{err: err}
			}
		}
		select {
		case frames <- f:
		case <-stop:
			return
		}
		if f.err != nil {
			return
		}
	}
}

func (b *bridge) readFailed(err error) {
	var perr *protocolError
	switch {
	case errors.As(err, &perr):
		b.log.Warn("无法解析命令帧", "error", err)
		_ = writeError(b.conn, err.Error())
		closeConn(b.conn, websocket.CloseUnsupportedData, "")
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		b.log.Info("控制端关闭了连接")
	default:
		b.log.Err(err, "读取控制端消息失败")
		_ = writeError(b.conn, err.Error())
	}
}

// sendState 只在状态确实变化时发送
func (b *bridge) sendState(ctx context.Context, state model.ParticipantState) error {
	if b.sent && state == b.last {
		return nil
	}
	if err := b.write(model.ResponseFrame{State: state}, frameState); err != nil {
		return err
	}
	b.last, b.sent = state, true
	b.server.record(ctx, b.log, func(ctx context.Context, j *storage.Journal) error {
		return j.RecordState(ctx, state)
	})
	return nil
}

func (b *bridge) sendLog(ctx context.Context, m model.ParticipantLogMessage) error {
	state := b.participant.State()
	if err := b.write(model.ResponseFrame{State: state, Log: &m}, frameLog); err != nil {
		return err
	}
	b.last, b.sent = state, true
	b.server.record(ctx, b.log, func(ctx context.Context, j *storage.Journal) error {
		return j.RecordLog(ctx, m)
	})
	return nil
}

// flush 发送积压的日志与最终状态
func (b *bridge) flush(ctx context.Context) {
drain:
	for {
		select {
		case m := <-b.sink:
			if err := b.sendLog(ctx, m); err != nil {
				return
			}
		default:
			break drain
		}
	}
	if err := b.sendState(ctx, b.participant.State()); err != nil {
		b.log.Debug("发送最终状态失败", "error", err)
	}
}

func (b *bridge) write(frame model.ResponseFrame, kind string) error {
	_ = b.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := b.conn.WriteJSON(frame); err != nil {
		return err
	}
	FramesSent.WithLabelValues(kind).Inc()
	return nil
}

// closeParticipant 优雅关闭参与者，超时后强制取消
func (b *bridge) closeParticipant() {
	ctx, cancel := context.WithTimeout(context.Background(), b.server.closeWait)
	defer cancel()
	if err := b.participant.Close(ctx); err != nil {
		b.log.Err(err, "关闭参与者超时，强制取消")
		b.participant.Stop()
	}
}

// writeError 发送 {"error": msg} 帧
func writeError(conn *websocket.Conn, msg string) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(model.ErrorFrame{Error: msg}); err != nil {
		return err
	}
	FramesSent.WithLabelValues(frameError).Inc()
	return nil
}

func closeConn(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(writeWait))
}
