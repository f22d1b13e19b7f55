package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"cdpnetgraph/internal/devtoolslog"
	"cdpnetgraph/internal/metrics"
)

var (
	recordURL      string
	recordNavigate string
	recordDuration time.Duration
	recordOut      string
	recordDB       bool
	recordJSON     bool
	metricsAddr    string

	recordCmd = &cobra.Command{
		Use:   "record",
		Short: "Attach to a running browser and record its network activity",
		Args:  cobra.NoArgs,
		RunE:  runRecord,
	}
)

func init() {
	f := recordCmd.Flags()
	f.StringVar(&recordURL, "url", "", "DevTools HTTP endpoint (defaults to browser.devtoolsURL)")
	f.StringVar(&recordNavigate, "navigate", "", "navigate the root page to this URL once recording starts")
	f.DurationVar(&recordDuration, "duration", 10*time.Second, "how long to record; 0 waits for Ctrl-C or browser exit")
	f.StringVar(&recordOut, "out", "", "write the captured DevTools log to this file")
	f.BoolVar(&recordDB, "db", false, "persist the run to the sqlite store")
	f.BoolVar(&recordJSON, "json", false, "print requests as JSON instead of a table")
	f.StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus /metrics on this address while recording")
}

func runRecord(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	addr := metricsAddr
	if addr == "" {
		addr = cfg.Metrics.Addr
	}
	if addr != "" {
		srv := serveMetrics(addr, m)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	svc, cleanup, err := openService(recordDB, m)
	if err != nil {
		return err
	}
	defer cleanup()

	id, err := svc.StartRecording(ctx, recordURL)
	if err != nil {
		return err
	}
	if recordNavigate != "" {
		if err := svc.Navigate(ctx, id, recordNavigate); err != nil {
			appLog.Err(err, "导航失败，继续录制", "url", recordNavigate)
		}
	}

	waitCtx := ctx
	if recordDuration > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, recordDuration)
		defer cancel()
	}
	if err := svc.Wait(waitCtx, id); err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return err
	}

	res, err := svc.StopRecording(context.Background(), id, recordDB)
	if err != nil {
		return err
	}
	if recordOut != "" {
		if err := devtoolslog.WriteFile(recordOut, devtoolslog.Redact(res.Log, cfg.Capture.RedactHeaders)); err != nil {
			return err
		}
		appLog.Info("日志已写入", "file", recordOut, "entries", len(res.Log))
	}
	if res.RunID != "" {
		appLog.Info("运行已保存", "run", res.RunID)
	}
	if recordJSON {
		return writeJSON(cmd.OutOrStdout(), res)
	}
	return printRequests(cmd.OutOrStdout(), res.Requests)
}

func serveMetrics(addr string, m *metrics.Metrics) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Err(err, "指标服务退出", "addr", addr)
		}
	}()
	appLog.Info("指标服务已启动", "addr", addr)
	return srv
}
