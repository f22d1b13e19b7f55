package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"cdpnetgraph/internal/config"
	"cdpnetgraph/internal/logger"
	"cdpnetgraph/internal/metrics"
	"cdpnetgraph/internal/storage"
	"cdpnetgraph/pkg/api"
)

var (
	configPath string
	logLevel   string

	cfg    *config.Config
	appLog *logger.ZeroLogger

	rootCmd = &cobra.Command{
		Use:           "netgraph",
		Short:         "Record a browser's network activity over CDP and build its request graph",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if logLevel != "" {
				c.Log.Level = logLevel
			}
			l, err := logger.New(logger.Options{Level: c.Log.Level, Writers: c.Log.Writer, File: c.Log.File})
			if err != nil {
				return err
			}
			cfg, appLog = c, l
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if appLog != nil {
				_ = appLog.Close()
			}
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "yaml config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (debug/info/warn/error)")
	rootCmd.AddCommand(recordCmd, replayCmd, runsCmd, targetsCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "netgraph:", err)
		os.Exit(1)
	}
}

// openService 按需打开 sqlite 存储并创建服务
func openService(withStore bool, m *metrics.Metrics) (api.Service, func(), error) {
	var st *storage.Store
	if withStore {
		var err error
		st, err = storage.Open(cfg.Sqlite.Dsn, cfg.Sqlite.Prefix, appLog)
		if err != nil {
			return nil, nil, err
		}
	}
	svc := api.NewService(api.Options{Config: cfg, Logger: appLog, Metrics: m, Store: st})
	cleanup := func() {
		svc.Close()
		if st != nil {
			if err := st.Close(); err != nil {
				appLog.Err(err, "关闭存储失败")
			}
		}
	}
	return svc, cleanup, nil
}
