// Command imgdaemon runs the media-processing daemon: it opens its
// metadata store, starts the scheduler and source-job runner, and serves
// both the Unix-domain wire protocol and a localhost debug/metrics HTTP
// surface until signaled to stop.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/jorgemgr94/imgdaemon/internal/cache"
	"github.com/jorgemgr94/imgdaemon/internal/config"
	"github.com/jorgemgr94/imgdaemon/internal/metrics"
	"github.com/jorgemgr94/imgdaemon/internal/notify"
	"github.com/jorgemgr94/imgdaemon/internal/pipeline"
	"github.com/jorgemgr94/imgdaemon/internal/plugin"
	"github.com/jorgemgr94/imgdaemon/internal/scheduler"
	"github.com/jorgemgr94/imgdaemon/internal/sourcejob"
	"github.com/jorgemgr94/imgdaemon/internal/store"
	"github.com/jorgemgr94/imgdaemon/internal/volume"
	"github.com/jorgemgr94/imgdaemon/internal/watchignore"
	"github.com/jorgemgr94/imgdaemon/internal/wire"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	log, err := newLogger(cfg.Environment)
	if err != nil {
		slog.Error("failed to build logger", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer log.Sync()

	m := metrics.New()

	conn, err := store.NewConnection(store.Config{
		Name:        "imgdaemon",
		Environment: cfg.Environment,
		DSN:         cfg.StoreDSN,
		Metrics:     m.Registry(),
	})
	if err != nil {
		log.Fatal("failed to create store connection", zap.Error(err))
	}
	if err := conn.Start(); err != nil {
		log.Fatal("failed to start store connection", zap.Error(err))
	}
	defer conn.Stop()

	db, err := store.New(log, conn)
	if err != nil {
		log.Fatal("failed to build store", zap.Error(err))
	}

	cacheMgr := cache.New(log, db, cfg.CacheMaxSizeMB, m)
	if err := cacheMgr.Refresh(context.Background()); err != nil {
		log.Warn("initial cache size refresh failed", zap.Error(err))
	}

	bus := notify.New(log, m)
	defer bus.Shutdown()

	pluginRegistry := plugin.NewRegistry(log)
	pluginRegistry.Register(plugin.NewStandardPlugin(log, cfg.CacheRoot+"/thumbnails", cfg.CacheRoot+"/previews"))
	pluginRegistry.Register(plugin.NewCR3Plugin(log, cfg.CacheRoot+"/thumbnails", cfg.CacheRoot+"/previews"))
	pluginRegistry.Register(plugin.NewRawPlugin(log, cfg.CacheRoot+"/thumbnails", cfg.CacheRoot+"/previews"))

	volumes := volume.NewChecker()
	watch := watchignore.New()

	sched := scheduler.New(log, cfg.WorkerCount, m)

	orchestrator := pipeline.New(log, sched, db, cacheMgr, pluginRegistry, volumes, watch, bus, pipeline.Options{
		MinFileSize:    cfg.MinFileSize,
		IgnorePatterns: cfg.IgnorePatterns,
	})

	runner := sourcejob.NewRunner(log, sched, cacheMgr, bus, m)
	sched.OnShutdown(runner.CancelAll)

	sched.Start()

	shutdown := make(chan struct{})
	var shutdownOnce sync.Once
	triggerShutdown := func() { shutdownOnce.Do(func() { close(shutdown) }) }

	server, err := wire.NewServer(log, wire.Config{
		SocketPath:          cfg.SocketPath,
		MinFileSize:         cfg.MinFileSize,
		IgnorePatterns:      cfg.IgnorePatterns,
		SupportedExtensions: cfg.SupportedExtensions,
	}, db, orchestrator, runner, bus, triggerShutdown)
	if err != nil {
		log.Fatal("failed to build wire protocol server", zap.Error(err))
	}
	if err := server.Listen(); err != nil {
		log.Fatal("failed to bind wire protocol socket", zap.Error(err))
	}

	go server.Serve()

	httpServer := newDebugServer(cfg.DebugHTTPAddr, m)
	go func() {
		log.Info("debug HTTP surface listening", zap.String("addr", cfg.DebugHTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("debug HTTP surface failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info("received shutdown signal")
	case <-shutdown:
		log.Info("shutdown requested over the wire protocol")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Warn("debug HTTP surface shutdown error", zap.Error(err))
	}

	server.Shutdown()
	sched.Shutdown(30 * time.Second)

	log.Info("imgdaemon exited")
}

func newLogger(environment string) (*zap.Logger, error) {
	if environment == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func newDebugServer(addr string, m *metrics.Metrics) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":    Version,
			"build_time": BuildTime,
			"git_commit": GitCommit,
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{})))

	return &http.Server{
		Addr:    addr,
		Handler: router,
	}
}
