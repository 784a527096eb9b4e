package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"clientsim/internal/auth"
	"clientsim/internal/config"
	"clientsim/internal/logger"
)

// app 子命令共享的配置、日志与 cookie 池
type app struct {
	cfg  *config.Config
	log  logger.Logger
	pool *auth.Pool
}

func newRootCmd() *cobra.Command {
	a := &app{}
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "clientsim",
		Short:         "Simulate video-conference participants driven through headless browsers",
		SilenceUsage:  true,
		SilenceErrors: false,
		Version:       Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}
			return a.wire(cmd, configPath)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "config file (default <data-dir>/config.yaml)")
	flags.String("data-dir", config.DefaultDataDir(), "directory for config, cookies and logs")
	flags.String("log-level", "", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		newWorkerCmd(a),
		newOrchestrateCmd(a),
		newJoinCmd(a),
		newCookiesCmd(a),
		newJournalCmd(a),
	)
	return rootCmd
}

// wire 加载配置并创建日志器与 cookie 池
func (a *app) wire(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath, cmd.Flags())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	l := logger.New(logger.Options{Level: cfg.Log.Level, Writers: cfg.Log.Writer, File: cfg.LogFile()})

	pool, err := auth.LoadPool(
		auth.WithStash(auth.NewStash(cfg.CookieStashPath(), cfg.Cookies.PersistDomains)),
		auth.WithFetchRate(cfg.Cookies.FetchPerSecond),
		auth.WithCapacity(cfg.Cookies.MaxPerDomain),
		auth.WithLogger(l),
	)
	if err != nil {
		return fmt.Errorf("load cookies: %w", err)
	}

	a.cfg, a.log, a.pool = cfg, l.With("command", cmd.Name()), pool
	a.log.Debug("配置已加载", "data_dir", cfg.DataDir, "version", cfg.Version)
	return nil
}

// sessionURL 命令行参数优先，其次为配置中的 url
func (a *app) sessionURL() (string, error) {
	if a.cfg.URL == "" {
		return "", errors.New("no session url: pass --url or set url in the config file")
	}
	return a.cfg.URL, nil
}
