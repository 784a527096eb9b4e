package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	configName = "config"
	configType = "yaml"
	envPrefix  = "CLIENTSIM"
)

// flagKeys 命令行参数名到配置键的映射
var flagKeys = map[string]string{
	"url":       "url",
	"data-dir":  "data_dir",
	"log-level": "log.level",
	"address":   "worker.address",
	"cert":      "worker.cert",
	"key":       "worker.key",
	"browser":   "browser.binary",
	"sqlite":    "sqlite.dsn",
}

// Load 依次叠加默认值、配置文件、环境变量与命令行参数
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v, NewConfig())
	v.SetConfigType(configType)

	if flags != nil {
		if f := flags.Lookup("data-dir"); f != nil && f.Changed {
			v.SetDefault("data_dir", f.Value.String())
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(v.GetString("data_dir"))
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("worker.address", envPrefix+"_WORKER_ADDRESS", WorkerAddressEnv); err != nil {
		return nil, fmt.Errorf("binding env: %w", err)
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("binding flag %q: %w", name, err)
				}
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Settings().Validate(); err != nil {
		return nil, fmt.Errorf("validating participant config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("version", d.Version)
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("url", d.URL)
	v.SetDefault("sqlite.dsn", d.Sqlite.Dsn)
	v.SetDefault("sqlite.prefix", d.Sqlite.Prefix)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.writer", d.Log.Writer)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("browser.binary", d.Browser.Binary)
	v.SetDefault("browser.window_width", d.Browser.WindowWidth)
	v.SetDefault("browser.window_height", d.Browser.WindowHeight)
	v.SetDefault("browser.cache_dir", d.Browser.CacheDir)
	v.SetDefault("worker.address", d.Worker.Address)
	v.SetDefault("worker.cert", d.Worker.Cert)
	v.SetDefault("worker.key", d.Worker.Key)
	v.SetDefault("cookies.persist_domains", d.Cookies.PersistDomains)
	v.SetDefault("cookies.fetch_per_second", d.Cookies.FetchPerSecond)
	v.SetDefault("cookies.max_per_domain", d.Cookies.MaxPerDomain)
}
