package config

import (
	"os"
	"path/filepath"
	"runtime"
)

const (
	// DefaultWorkerAddress worker 默认监听地址
	DefaultWorkerAddress = "127.0.0.1:8081"
	// WorkerAddressEnv 兼容的 worker 监听地址环境变量
	WorkerAddressEnv = "CLIENT_SIMULATOR_HTTP_ADDRESS"
)

// Config 配置文件结构体
type Config struct {
	Version string `yaml:"version" mapstructure:"version"`
	DataDir string `yaml:"data_dir" mapstructure:"data_dir"`
	URL     string `yaml:"url" mapstructure:"url"`

	Sqlite struct {
		Dsn    string `yaml:"dsn" mapstructure:"dsn"`
		Prefix string `yaml:"prefix" mapstructure:"prefix"`
	} `yaml:"sqlite" mapstructure:"sqlite"`

	Log struct {
		Level  string   `yaml:"level" mapstructure:"level"`
		Writer []string `yaml:"writer" mapstructure:"writer"`
		File   string   `yaml:"file" mapstructure:"file"`
	} `yaml:"log" mapstructure:"log"`

	Browser BrowserConfig `yaml:"browser" mapstructure:"browser"`

	Worker struct {
		Address string `yaml:"address" mapstructure:"address"`
		Cert    string `yaml:"cert" mapstructure:"cert"`
		Key     string `yaml:"key" mapstructure:"key"`
	} `yaml:"worker" mapstructure:"worker"`

	Cookies CookieConfig `yaml:"cookies" mapstructure:"cookies"`

	// Participant 叠加在内置默认值之上的参与者配置
	Participant Overrides `yaml:"participant" mapstructure:"participant"`
}

// CookieConfig 会话 cookie 池配置
type CookieConfig struct {
	PersistDomains []string `yaml:"persist_domains" mapstructure:"persist_domains"`
	FetchPerSecond float64  `yaml:"fetch_per_second" mapstructure:"fetch_per_second"`
	MaxPerDomain   int      `yaml:"max_per_domain" mapstructure:"max_per_domain"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	cfg := &Config{
		Version: "1.0.0",
		DataDir: DefaultDataDir(),
	}
	cfg.Sqlite.Prefix = "clientsim_"
	cfg.Log.Level = "info"
	cfg.Log.Writer = []string{"console", "file"}
	cfg.Browser = BrowserConfig{WindowWidth: 1920, WindowHeight: 1080}
	cfg.Worker.Address = DefaultWorkerAddress
	cfg.Cookies = CookieConfig{
		PersistDomains: []string{"hyper.video", "hyper.systems"},
		FetchPerSecond: 2,
		MaxPerDomain:   64,
	}
	return cfg
}

// Settings 内置默认值叠加配置文件中的 participant 段
func (c *Config) Settings() Settings {
	return Apply(DefaultSettings(), &c.Participant)
}

// BrowserConfig 补全缓存目录后的浏览器配置
func (c *Config) BrowserConfig() BrowserConfig {
	b := c.Browser
	if b.CacheDir == "" {
		b.CacheDir = filepath.Join(c.DataDir, "cache")
	}
	return b
}

// CookieStashPath cookie 持久化文件路径
func (c *Config) CookieStashPath() string {
	return filepath.Join(c.DataDir, "cookies.json")
}

// LogFile 日志文件路径，未配置时位于数据目录下
func (c *Config) LogFile() string {
	if c.Log.File != "" {
		return c.Log.File
	}
	return filepath.Join(c.DataDir, "logs", "clientsim.log")
}

// DefaultDataDir 按平台约定返回当前用户的数据目录
func DefaultDataDir() string {
	if runtime.GOOS == "linux" {
		if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
			return filepath.Join(dir, "clientsim")
		}
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, ".local", "share", "clientsim")
		}
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "clientsim")
	}
	return filepath.Join(os.TempDir(), "clientsim")
}
