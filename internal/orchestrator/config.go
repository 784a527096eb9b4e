package orchestrator

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"clientsim/internal/config"
	"clientsim/internal/participant"
)

// DefaultRunSeconds 未配置 run_seconds 时每个连接保持的时长
const DefaultRunSeconds = 60

var (
	// ErrNoWorkers 计划中没有 worker
	ErrNoWorkers = errors.New("config.workers must be non-empty")
	// ErrNoParticipants 计划中没有参与者
	ErrNoParticipants = errors.New("config.participants_specs must be non-empty")
)

// WorkerURL 一个 worker 的地址
type WorkerURL struct {
	URL string `yaml:"url"`
}

// ParticipantSpec 单个参与者的覆盖项
type ParticipantSpec struct {
	Username          *string           `yaml:"username,omitempty"`
	WaitToJoinSeconds *int              `yaml:"wait_to_join_seconds,omitempty"`
	Initial           *config.Overrides `yaml:"initial,omitempty"`
}

// Config 编排计划文件
type Config struct {
	SessionURL        string            `yaml:"session_url"`
	Workers           []WorkerURL       `yaml:"workers"`
	Defaults          *config.Overrides `yaml:"defaults,omitempty"`
	ParticipantsSpecs []ParticipantSpec `yaml:"participants_specs,omitempty"`
	RunSeconds        *int              `yaml:"run_seconds,omitempty"`
}

// Effective 叠加默认值后的参与者配置及其分配的 worker
type Effective struct {
	Index     int
	Username  string
	WorkerURL string
	Settings  config.Settings
}

// LoadConfig 读取并解析 YAML 计划文件
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig 解析 YAML 计划
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return &cfg, nil
}

// Validate 在调度前检查整个计划，任何错误都会中止运行
func (c *Config) Validate() error {
	if len(c.Workers) == 0 {
		return ErrNoWorkers
	}
	if c.TotalParticipants() == 0 {
		return ErrNoParticipants
	}
	if _, err := config.ParseSessionURL(c.SessionURL); err != nil {
		return err
	}
	for i, w := range c.Workers {
		if _, err := participant.ParseRemoteURL(w.URL); err != nil {
			return fmt.Errorf("workers[%d]: %w", i, err)
		}
	}
	if c.RunSeconds != nil && *c.RunSeconds < 0 {
		return fmt.Errorf("run_seconds must not be negative, got %d", *c.RunSeconds)
	}
	for i := range c.ParticipantsSpecs {
		e := c.EffectiveParticipant(i)
		if err := e.Settings.Validate(); err != nil {
			return fmt.Errorf("participants_specs[%d]: %w", i, err)
		}
		if w := c.ParticipantsSpecs[i].WaitToJoinSeconds; w != nil && *w < 0 {
			return fmt.Errorf("participants_specs[%d]: wait_to_join_seconds must not be negative", i)
		}
	}
	return nil
}

// TotalParticipants 计划中的参与者数量
func (c *Config) TotalParticipants() int { return len(c.ParticipantsSpecs) }

// ParticipantSpec 第 i 个参与者的覆盖项，越界时为空
func (c *Config) ParticipantSpec(i int) ParticipantSpec {
	if i < 0 || i >= len(c.ParticipantsSpecs) {
		return ParticipantSpec{}
	}
	return c.ParticipantsSpecs[i]
}

// RunDuration 每个连接保持的时长
func (c *Config) RunDuration() time.Duration {
	if c.RunSeconds == nil {
		return DefaultRunSeconds * time.Second
	}
	return time.Duration(*c.RunSeconds) * time.Second
}

// WaitToJoin 第 i 个参与者的入会延迟
func (c *Config) WaitToJoin(i int) time.Duration {
	if w := c.ParticipantSpec(i).WaitToJoinSeconds; w != nil {
		return time.Duration(*w) * time.Second
	}
	return 0
}

// Due 已运行时间按整秒计，达到入会延迟即可调度
func (c *Config) Due(i int, elapsed time.Duration) bool {
	return elapsed.Truncate(time.Second) >= c.WaitToJoin(i)
}

// EffectiveParticipant 内置默认 < defaults < initial 依次叠加，worker 按下标轮询分配
func (c *Config) EffectiveParticipant(i int) Effective {
	spec := c.ParticipantSpec(i)
	e := Effective{
		Index:    i,
		Username: fmt.Sprintf("orch-%d", i),
		Settings: config.Apply(config.DefaultSettings(), c.Defaults, spec.Initial),
	}
	if spec.Username != nil && *spec.Username != "" {
		e.Username = *spec.Username
	}
	if len(c.Workers) > 0 {
		e.WorkerURL = c.Workers[i%len(c.Workers)].URL
	}
	return e
}

// Query 第 i 个参与者发给 worker 的查询，cookie 尚未解析
func (c *Config) Query(i int) (participant.Query, error) {
	e := c.EffectiveParticipant(i)
	cfg, err := config.NewParticipantConfig(e.Username, c.SessionURL, e.Settings, config.BrowserConfig{})
	if err != nil {
		return participant.Query{}, err
	}
	return participant.NewQuery(cfg, e.WorkerURL)
}
