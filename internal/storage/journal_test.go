package storage

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	gormlogger "gorm.io/gorm/logger"

	"clientsim/internal/ctxkeys"
	"clientsim/internal/logger"
	"clientsim/pkg/model"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "db", "journal.db"), "test_", logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestJournalRecordsEvents(t *testing.T) {
	j := openTestJournal(t)
	ctx := ctxkeys.WithTraceID(context.Background(), "conn-1")

	require.NoError(t, j.RecordCommand(ctx, "alice", model.Message(model.CmdJoin)))
	require.NoError(t, j.RecordState(ctx, model.ParticipantState{Username: "alice", Running: true, Joined: true}))
	require.NoError(t, j.RecordLog(ctx, model.ParticipantLogMessage{Username: "alice", Level: model.LevelInfo, Message: "已加入会议"}))
	require.NoError(t, j.RecordLog(ctx, model.ParticipantLogMessage{Username: "bob", Level: model.LevelWarn, Message: "x"}))

	events, err := j.Events(context.Background(), "alice", 10)
	require.NoError(t, err)
	require.Len(t, events, 3)

	kinds := map[string]Event{}
	for _, e := range events {
		assert.Equal(t, "conn-1", e.ConnID)
		kinds[e.Kind] = e
	}
	assert.Equal(t, "Join", kinds[KindCommand].Message)
	assert.True(t, gjson.Get(kinds[KindState].State, "joined").Bool())
	assert.Equal(t, "info", kinds[KindLog].Level)
}

func TestJournalPrune(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	require.NoError(t, j.RecordLog(ctx, model.ParticipantLogMessage{Username: "a", Level: model.LevelInfo, Message: "m"}))

	n, err := j.Prune(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	events, err := j.Events(ctx, "a", 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestGormLoggerCarriesTraceID(t *testing.T) {
	var buf bytes.Buffer
	g := NewGormLogger(logger.NewWriter(&buf, "debug"))
	ctx := ctxkeys.WithTraceID(context.Background(), "trace-9")

	g.Warn(ctx, "careful")
	assert.Contains(t, buf.String(), `"traceId":"trace-9"`)

	buf.Reset()
	g.Info(ctx, "hidden")
	assert.Empty(t, buf.String())

	buf.Reset()
	g.LogMode(gormlogger.Info).Trace(ctx, time.Now(), func() (string, int64) { return "SELECT 1", 1 }, nil)
	assert.Contains(t, buf.String(), "SELECT 1")
}
