package participant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/gorilla/websocket"

	"clientsim/internal/auth"
	"clientsim/internal/logger"
	"clientsim/pkg/model"
)

const writeTimeout = 10 * time.Second

// remote 通过 websocket 驱动运行在 worker 上的参与者
type remote struct {
	query    Query
	pool     *auth.Pool
	cookie   *auth.BorrowedCookie
	dialer   *websocket.Dialer
	log      logger.Logger
	state    *Watch[model.ParticipantState]
	commands <-chan model.ParticipantMessage
}

func newRemote(q Query, o options, l logger.Logger,
	state *Watch[model.ParticipantState], commands <-chan model.ParticipantMessage) *remote {
	if o.cookie != nil && q.Cookie == nil {
		token := o.cookie.Token()
		q.Cookie = &token
	}
	return &remote{
		query:    q,
		pool:     o.pool,
		cookie:   o.cookie,
		dialer:   o.dialer,
		log:      l.With("remote", q.RemoteURL),
		state:    state,
		commands: commands,
	}
}

func (r *remote) run(ctx context.Context) error {
	defer func() { r.cookie.Release() }()

	fetched, err := r.query.EnsureCookie(ctx, r.pool)
	if err != nil {
		return fmt.Errorf("ensure session cookie: %w", err)
	}
	defer fetched.Release()

	target, err := r.query.ConnectURL()
	if err != nil {
		return err
	}

	r.log.Info("连接远程 worker")
	conn, resp, err := r.dialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			_ = resp.Body.Close()
			r.log.Error("websocket 握手失败", "status", resp.StatusCode, "body", string(body))
		}
		return fmt.Errorf("connect to worker %s: %w", r.query.RemoteURL, err)
	}
	defer conn.Close()
	r.log.Info("已连接远程 worker")

	readDone := make(chan error, 1)
	go func() { readDone <- r.read(conn) }()

	for {
		select {
		case <-ctx.Done():
			deadline := time.Now().Add(time.Second)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return ctx.Err()
		case err := <-readDone:
			if err != nil {
				return err
			}
			r.log.Info("远程连接已结束")
			return nil
		case m := <-r.commands:
			r.log.Debug("发送命令", "command", m.String())
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(m); err != nil {
				return fmt.Errorf("send %s: %w", m, err)
			}
		}
	}
}

// read 消费 worker 发来的状态与日志帧
func (r *remote) read(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				r.log.Debug("worker 关闭了连接", "code", ce.Code)
				return nil
			}
			return fmt.Errorf("read from worker: %w", err)
		}
		if e, ok := model.DecodeErrorFrame(data); ok {
			return fmt.Errorf("worker rejected participant: %s", e.Error)
		}

		var f model.ResponseFrame
		if err := json.Unmarshal(data, &f); err != nil {
			r.log.Err(err, "无法解析 worker 消息")
			continue
		}
		r.state.Set(f.State)
		if f.Log != nil {
			logger.Log(r.log, string(f.Log.Level), f.Log.Message)
		}
	}
}
