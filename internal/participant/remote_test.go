package participant

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clientsim/internal/logger"
	"clientsim/pkg/model"
)

// fakeWorker 最小化的 worker：回放固定状态并记录收到的命令
type fakeWorker struct {
	mu       sync.Mutex
	received []model.ParticipantMessage
	payload  Query
}

func (f *fakeWorker) commands() []model.ParticipantMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.ParticipantMessage(nil), f.received...)
}

func (f *fakeWorker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q, err := DecodeQuery(r.URL.Query().Get(PayloadParam))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.payload = q
	f.mu.Unlock()

	up := websocket.Upgrader{}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	state := model.ParticipantState{Username: q.Username, Running: true, Joined: true}
	_ = conn.WriteJSON(model.ResponseFrame{
		State: state,
		Log:   &model.ParticipantLogMessage{Username: q.Username, Level: model.LevelInfo, Message: "已加入会议"},
	})

	for {
		var m model.ParticipantMessage
		if err := conn.ReadJSON(&m); err != nil {
			return
		}
		f.mu.Lock()
		f.received = append(f.received, m)
		f.mu.Unlock()

		switch m.Command {
		case model.CmdToggleAudio:
			state.Muted = !state.Muted
		case model.CmdClose:
			state.Running = false
			state.Joined = false
			_ = conn.WriteJSON(model.ResponseFrame{State: state})
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
		_ = conn.WriteJSON(model.ResponseFrame{State: state})
	}
}

func remoteQuery(t *testing.T, srvURL string) Query {
	t.Helper()
	q, err := NewQuery(testConfig(t, nil), srvURL)
	require.NoError(t, err)
	token := "tok"
	q.Cookie = &token
	return q
}

func TestRemoteParticipant(t *testing.T) {
	worker := &fakeWorker{}
	srv := httptest.NewServer(worker)
	defer srv.Close()

	var logs strings.Builder
	var logMu sync.Mutex
	q := remoteQuery(t, srv.URL)
	p, err := Spawn(context.Background(), Spec{Remote: &q},
		WithLogger(logger.NewWriter(lockedWriter{&logMu, &logs}, "debug")))
	require.NoError(t, err)

	waitState(t, p, joined)
	require.NoError(t, p.ToggleAudio())
	waitState(t, p, func(s model.ParticipantState) bool { return s.Muted })

	require.NoError(t, p.Close(context.Background()))
	waitDone(t, p)
	assert.NoError(t, p.Err())
	assert.False(t, p.State().Running)

	assert.Equal(t, []model.ParticipantMessage{
		model.Message(model.CmdToggleAudio),
		model.Message(model.CmdClose),
	}, worker.commands())

	worker.mu.Lock()
	assert.Equal(t, "alice", worker.payload.Username)
	worker.mu.Unlock()

	logMu.Lock()
	assert.Contains(t, logs.String(), "已加入会议")
	logMu.Unlock()
}

func TestRemoteRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"invalid payload"}`))
	}))
	defer srv.Close()

	q := remoteQuery(t, srv.URL)
	p, err := Spawn(context.Background(), Spec{Remote: &q})
	require.NoError(t, err)
	waitDone(t, p)
	require.Error(t, p.Err())
	assert.Contains(t, p.Err().Error(), "invalid payload")
}

func TestRemoteHandshakeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	q := remoteQuery(t, srv.URL)
	p, err := Spawn(context.Background(), Spec{Remote: &q})
	require.NoError(t, err)
	waitDone(t, p)
	assert.Error(t, p.Err())
	assert.False(t, p.State().Running)
}

type lockedWriter struct {
	mu *sync.Mutex
	b  *strings.Builder
}

func (w lockedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.b.Write(p)
}
