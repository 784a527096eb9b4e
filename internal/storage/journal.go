package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"clientsim/internal/ctxkeys"
	"clientsim/internal/logger"
	"clientsim/pkg/model"
)

// 事件类型
const (
	KindState   = "state"
	KindLog     = "log"
	KindCommand = "command"
)

// Event worker 上一个参与者连接的事件记录
type Event struct {
	ID          string `gorm:"primaryKey;size:36"`
	ConnID      string `gorm:"index;size:36"`
	Participant string `gorm:"index;size:128"`
	Kind        string `gorm:"size:16"`
	Level       string `gorm:"size:16"`
	Message     string
	State       string
	CreatedAt   time.Time `gorm:"index"`
}

// Journal 参与者事件日志库
type Journal struct {
	db  *gorm.DB
	log logger.Logger
}

// Open 打开 sqlite 数据库并迁移表结构
func Open(dsn, prefix string, l logger.Logger) (*Journal, error) {
	if l == nil {
		l = logger.NewNop()
	}
	if dir := filepath.Dir(dsn); dsn != ":memory:" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         NewGormLogger(l),
		NamingStrategy: schema.NamingStrategy{TablePrefix: prefix},
	})
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", dsn, err)
	}
	if err := db.AutoMigrate(&Event{}); err != nil {
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	l.Info("事件日志库已打开", "dsn", dsn)
	return &Journal{db: db, log: l}, nil
}

func (j *Journal) insert(ctx context.Context, e Event) error {
	e.ID = uuid.NewString()
	e.ConnID = ctxkeys.TraceID(ctx)
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	return j.db.WithContext(ctx).Create(&e).Error
}

// RecordState 记录一次状态变化
func (j *Journal) RecordState(ctx context.Context, s model.ParticipantState) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return j.insert(ctx, Event{Participant: s.Username, Kind: KindState, State: string(b)})
}

// RecordLog 记录参与者日志行
func (j *Journal) RecordLog(ctx context.Context, m model.ParticipantLogMessage) error {
	return j.insert(ctx, Event{
		Participant: m.Username,
		Kind:        KindLog,
		Level:       string(m.Level),
		Message:     m.Message,
	})
}

// RecordCommand 记录收到的命令
func (j *Journal) RecordCommand(ctx context.Context, participant string, m model.ParticipantMessage) error {
	return j.insert(ctx, Event{Participant: participant, Kind: KindCommand, Message: m.String()})
}

// Events 参与者最近的事件，按时间正序
func (j *Journal) Events(ctx context.Context, participant string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []Event
	err := j.db.WithContext(ctx).
		Where("participant = ?", participant).
		Order("created_at desc").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	for i, k := 0, len(out)-1; i < k; i, k = i+1, k-1 {
		out[i], out[k] = out[k], out[i]
	}
	return out, nil
}

// Prune 删除早于给定时间的事件
func (j *Journal) Prune(ctx context.Context, before time.Time) (int64, error) {
	res := j.db.WithContext(ctx).Where("created_at < ?", before).Delete(&Event{})
	return res.RowsAffected, res.Error
}

// Ping 检查数据库连接
func (j *Journal) Ping(ctx context.Context) error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close 关闭数据库
func (j *Journal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
