package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/edgecache/internal/cache"
	"github.com/any-hub/edgecache/internal/config"
	"github.com/any-hub/edgecache/internal/fetch"
	"github.com/any-hub/edgecache/internal/origin"
	"github.com/any-hub/edgecache/internal/server"
	"github.com/any-hub/edgecache/internal/server/routes"
)

// components 是一次启动装配出的全部运行时对象。
type components struct {
	app      *fiber.App
	pool     *fetch.Pool
	registry *fetch.Registry
}

// buildComponents 按 “磁盘缓存 → 回源客户端 → 协调器 → 后台池 → Fiber” 顺序装配，
// 所有请求共享同一份 Registry 与 Store。
func buildComponents(cfg *config.Config, logger *logrus.Logger, reg *prometheus.Registry) (*components, error) {
	store, err := cache.NewStore(cfg.StoragePath, cache.Options{SyncWrites: cfg.SyncWrites})
	if err != nil {
		return nil, fmt.Errorf("初始化缓存目录失败: %w", err)
	}

	scheme := cache.NewScheme(cfg.ObjectExtension)
	client := origin.NewClient(origin.Options{
		Timeout:       cfg.OriginTimeout.DurationValue(),
		UserAgent:     cfg.UserAgent,
		MaxObjectSize: cfg.MaxObjectSize.Int64(),
	})

	var registerer prometheus.Registerer
	if reg != nil {
		registerer = reg
	}
	metrics := fetch.NewMetrics(registerer)
	registry := fetch.NewRegistry()
	coordinator, err := fetch.NewCoordinator(fetch.Options{
		Scheme:     scheme,
		Store:      store,
		Origin:     cfg.OriginURL(),
		Fetcher:    client,
		Registry:   registry,
		Attempts:   cfg.FetchAttempts,
		RetryDelay: cfg.RetryDelay.DurationValue(),
		Logger:     logger,
		Metrics:    metrics,
	})
	if err != nil {
		return nil, err
	}
	pool := fetch.NewPool(coordinator, cfg.FillWorkers, logger, metrics)

	dispatcher, err := server.NewDispatcher(server.DispatcherOptions{
		Scheme:         scheme,
		Store:          store,
		Fills:          pool,
		ContentType:    cfg.ContentType,
		PathPolicy:     cfg.PathPolicy,
		GetFillsOnMiss: cfg.GetFillsOnMiss,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}

	app, err := server.NewApp(server.AppOptions{
		Logger:      logger,
		Dispatcher:  dispatcher,
		AllowOrigin: cfg.AllowOrigin,
		Verbose:     cfg.Log.Verbose,
		Diagnostics: cfg.Diagnostics,
		Registerer:  registerer,
	})
	if err != nil {
		return nil, err
	}
	if cfg.Diagnostics {
		diag := routes.DiagnosticsOptions{
			Registry: registry,
			Pool:     pool,
			Started:  time.Now(),
		}
		if reg != nil {
			diag.Gatherer = reg
		}
		routes.RegisterDiagnosticRoutes(app, diag)
	}

	return &components{app: app, pool: pool, registry: registry}, nil
}

// serve 启动 HTTP 服务直到 ctx 结束，然后停止接收请求并在 ShutdownGrace 内等待后台填充。
func serve(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	comp, err := buildComponents(cfg, logger, reg)
	if err != nil {
		return err
	}

	listenCfg := fiber.ListenConfig{DisableStartupMessage: true}
	if cfg.TLSEnabled() {
		listenCfg.CertFile = cfg.TLSCertFile
		listenCfg.CertKeyFile = cfg.TLSKeyFile
	}

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"addr":   cfg.ListenAddr,
		"tls":    cfg.TLSEnabled(),
	}).Info("Fiber 服务启动")

	listenErr := make(chan error, 1)
	go func() {
		listenErr <- comp.app.Listen(cfg.ListenAddr, listenCfg)
	}()

	grace := cfg.ShutdownGrace.DurationValue()
	select {
	case err := <-listenErr:
		drainFills(comp.pool, grace, logger)
		return err
	case <-ctx.Done():
	}

	logger.WithFields(logrus.Fields{
		"action":    "shutdown",
		"in_flight": comp.registry.Len(),
	}).Info("收到退出信号，停止接收请求")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := comp.app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.WithError(err).WithField("action", "shutdown").Warn("http_shutdown_incomplete")
	}
	drainFills(comp.pool, grace, logger)

	if err := <-listenErr; err != nil {
		return err
	}
	return nil
}

// drainFills 等待后台填充结束，超过 grace 后放弃；未完成的填充只会留下被清理的暂存文件。
func drainFills(pool *fetch.Pool, grace time.Duration, logger *logrus.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := pool.Drain(ctx); err != nil {
		fields := logrus.Fields{"action": "shutdown", "grace": grace.String()}
		if errors.Is(err, context.DeadlineExceeded) {
			logger.WithFields(fields).Warn("fills_abandoned")
			return
		}
		logger.WithFields(fields).WithError(err).Warn("fills_drain_failed")
		return
	}
	logger.WithField("action", "shutdown").Info("fills_drained")
}
