// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command ocmonitor runs the fleet heartbeat monitor: agent ingest, the
// dashboard API, live websocket updates, alert notification, and retention.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/llw2011/oc-monitor/internal/aggregator"
	"github.com/llw2011/oc-monitor/internal/alerting"
	"github.com/llw2011/oc-monitor/internal/api"
	"github.com/llw2011/oc-monitor/internal/auth"
	"github.com/llw2011/oc-monitor/internal/config"
	"github.com/llw2011/oc-monitor/internal/logging"
	"github.com/llw2011/oc-monitor/internal/metrics"
	"github.com/llw2011/oc-monitor/internal/notification"
	"github.com/llw2011/oc-monitor/internal/providers"
	"github.com/llw2011/oc-monitor/internal/retention"
	"github.com/llw2011/oc-monitor/internal/scheduler"
	"github.com/llw2011/oc-monitor/internal/store"
)

const (
	livenessSweepInterval = 10 * time.Second
	notifierInterval      = 30 * time.Second
	retentionInterval     = 6 * time.Hour
)

func main() {
	configPath := flag.String("config", "", "path to HCL config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "ocmonitor:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := logging.New(cfg.LoggingSettings())
	defer logger.Sync()

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}

	m := metrics.New()
	agg := aggregator.New(st, time.Duration(cfg.Monitor.OfflineTimeoutSec)*time.Second)
	engine := alerting.NewEngine(agg, st, alerting.Limits{
		CPUHigh:    cfg.Monitor.CPUHigh,
		MemHigh:    cfg.Monitor.MemHigh,
		DiskHigh:   cfg.Monitor.DiskHigh,
		StaleSec:   cfg.Monitor.StaleSec,
		OfflineSec: cfg.Monitor.OfflineTimeoutSec,
	}, cfg.Auth.AdminUser)

	dispatcher := notification.NewDispatcher(cfg.Notify, logger.WithComponent("notification"))
	notifier := alerting.NewNotifier(engine, st, dispatcher, cfg.Notify.MinIntervalSec,
		logger.WithComponent("notifier"))
	notifier.OnAttempt = func(outcome string) {
		m.NotifyAttempts.WithLabelValues(outcome).Inc()
	}
	retain := retention.New(st, cfg.Retention.EventsDays, cfg.Retention.HeartbeatsDays,
		logger.WithComponent("retention"))

	srv := api.NewServer(api.ServerOptions{
		Config:     cfg,
		Store:      st,
		Aggregator: agg,
		Engine:     engine,
		Authority:  auth.NewAuthority(cfg.Auth),
		Providers: providers.New(cfg.Providers,
			time.Duration(cfg.Monitor.ProbeTimeoutSec)*time.Second,
			logger.WithComponent("providers")),
		Retention:  retain,
		Dispatcher: dispatcher,
		Metrics:    m,
		Logger:     logger.WithComponent("api"),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched := scheduler.New(logger.WithComponent("scheduler"))
	sched.Add("ws-liveness", livenessSweepInterval, func(context.Context) error {
		srv.Hub().SweepLiveness()
		return nil
	})
	sched.Add("retention", retentionInterval, func(context.Context) error {
		result, err := retain.Run()
		if err != nil {
			return err
		}
		m.RetentionDeleted.WithLabelValues("events").Add(float64(result.DeletedEvents))
		m.RetentionDeleted.WithLabelValues("heartbeats").Add(float64(result.DeletedHeartbeats))
		return nil
	})
	if cfg.Notify.Enabled {
		sched.Add("notifier", notifierInterval, func(context.Context) error {
			return notifier.RunOnce()
		})
	}
	sched.Start(ctx)
	defer sched.Stop()

	limits := api.DefaultServerConfig()
	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: limits.ReadHeaderTimeout,
		ReadTimeout:       limits.ReadTimeout,
		IdleTimeout:       limits.IdleTimeout,
		MaxHeaderBytes:    limits.MaxHeaderBytes,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("ocmonitor listening",
		"addr", cfg.Listen,
		"db", cfg.DBPath,
		"dashboard_token", cfg.Auth.DashboardToken != "",
		"notify", cfg.Notify.Enabled,
		"notify_configured", dispatcher.Configured(),
		"notify_min_interval_sec", cfg.Notify.MinIntervalSec)

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("ocmonitor stopped")
	return nil
}
