// Package daemonrun assembles and runs the sdqueue daemon process.
package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"sdqueue/internal/config"
	"sdqueue/internal/daemon"
	"sdqueue/internal/download"
	"sdqueue/internal/engine"
	"sdqueue/internal/events"
	"sdqueue/internal/ipc"
	"sdqueue/internal/logging"
	"sdqueue/internal/notifications"
	"sdqueue/internal/registry"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the sdqueue daemon and blocks until SIGINT or SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		cfg.Logging.Level = level
	}
	logger, logCloser, err := logging.New(logging.Options{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		FilePath:    filepath.Join(cfg.Paths.LogDir, "sdqueue.log"),
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logCloser.Close()

	logDependencySnapshot(logger, cfg)
	pidPath := filepath.Join(cfg.Paths.StateDir, "sdqueue.pid")

	hub := events.NewHub(cfg.Events.HubCapacity)
	sink, closers := buildSinks(signalCtx, cfg, hub, logger)
	defer closeAll(logger, closers)

	reg, err := registry.FromConfig(cfg, logger)
	if err != nil {
		return fmt.Errorf("load model registry: %w", err)
	}
	gen, err := buildEngine(cfg, reg)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	downloads, err := buildDownloads(signalCtx, cfg, logger)
	if err != nil {
		return fmt.Errorf("create download clients: %w", err)
	}

	d, err := daemon.New(cfg, daemon.Dependencies{
		Engine:    gen,
		Registry:  reg,
		Downloads: downloads,
		Events:    sink,
		Hub:       hub,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		if errors.Is(err, daemon.ErrLocked) {
			return fmt.Errorf("%w (lock %s)", err, cfg.LockPath())
		}
		return fmt.Errorf("start daemon: %w", err)
	}
	ipcServer, err := ipc.NewServer(signalCtx, cfg.SocketPath(), d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	if err := writePIDFile(pidPath); err != nil {
		logger.Warn("unable to write pid file", logging.Error(err), logging.String("path", pidPath))
	}
	defer os.Remove(pidPath)

	<-signalCtx.Done()
	logger.Info("sdqueue daemon shutting down",
		logging.String(logging.FieldEventType, "daemon_shutdown"),
		logging.Int("queued", d.Status().Workflow.Queued),
	)
	d.Stop()
	return nil
}

// buildSinks fans events out to the in-process hub and any configured
// brokers. A broker that cannot be reached at startup is logged and skipped.
func buildSinks(ctx context.Context, cfg *config.Config, hub *events.Hub, logger *slog.Logger) (events.Sink, []io.Closer) {
	sinks := events.Multi{hub}
	var closers []io.Closer

	if url := strings.TrimSpace(cfg.Events.RedisURL); url != "" {
		pub, err := events.NewRedisPublisher(ctx, url, cfg.Events.RedisChannel)
		if err != nil {
			logging.WarnWithContext(logger, "redis event publisher disabled", "events_redis_unavailable",
				logging.Error(err),
				logging.String(logging.FieldImpact, "job events are not published to redis"),
				logging.String(logging.FieldErrorHint, "check events.redis_url"),
			)
		} else {
			fwd := events.NewForwarder(pub, cfg.Events.ForwardBuffer, logger)
			sinks = append(sinks, fwd)
			closers = append(closers, fwd)
		}
	}
	if url := strings.TrimSpace(cfg.Events.AMQPURL); url != "" {
		pub, err := events.NewAMQPPublisher(url, cfg.Events.AMQPExchange)
		if err != nil {
			logging.WarnWithContext(logger, "amqp event publisher disabled", "events_amqp_unavailable",
				logging.Error(err),
				logging.String(logging.FieldImpact, "job events are not published to amqp"),
				logging.String(logging.FieldErrorHint, "check events.amqp_url"),
			)
		} else {
			fwd := events.NewForwarder(pub, cfg.Events.ForwardBuffer, logger)
			sinks = append(sinks, fwd)
			closers = append(closers, fwd)
		}
	}
	if topic := strings.TrimSpace(cfg.Events.NtfyTopic); topic != "" {
		fwd := events.NewForwarder(notifications.NewNtfyPublisher(topic, cfg.NtfyTimeout()), cfg.Events.ForwardBuffer, logger)
		sinks = append(sinks, fwd)
		closers = append(closers, fwd)
	}
	return sinks, closers
}

func buildEngine(cfg *config.Config, reg *registry.Static) (engine.Engine, error) {
	if strings.TrimSpace(cfg.Engine.Binary) == "" {
		return engine.Unavailable{}, nil
	}
	return engine.NewCLI(cfg.Engine.Binary, reg,
		engine.WithThreads(cfg.Engine.Threads),
		engine.WithPreviewMethod(cfg.Engine.Preview),
	)
}

func buildDownloads(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*download.Router, error) {
	router := download.NewRouter()
	router.Register(download.NewHTTPClient(download.HTTPConfig{
		UserAgent: cfg.Download.UserAgent,
	}), "http", "https")

	s3Client, err := download.NewS3Client(ctx, download.S3Config{
		Region:          cfg.Download.S3Region,
		Endpoint:        cfg.Download.S3Endpoint,
		AccessKeyID:     cfg.Download.S3AccessKeyID,
		SecretAccessKey: cfg.Download.S3SecretAccessKey,
	})
	if err != nil {
		logger.Warn("s3 downloads disabled", logging.Error(err))
		return router, nil
	}
	router.Register(s3Client, "s3")
	return router, nil
}

func closeAll(logger *slog.Logger, closers []io.Closer) {
	for _, c := range closers {
		if err := c.Close(); err != nil {
			logger.Warn("event forwarder close failed", logging.Error(err))
		}
	}
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	logger.Info("dependency snapshot",
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.String("sd_binary", cfg.Engine.Binary),
		logging.Bool("sd_available", binaryAvailable(cfg.Engine.Binary)),
		logging.String("model_path", cfg.Model.Path),
		logging.Bool("upscaler_configured", cfg.Model.Upscaler != ""),
		logging.Bool("redis_events", cfg.Events.RedisURL != ""),
		logging.Bool("amqp_events", cfg.Events.AMQPURL != ""),
		logging.Bool("soft_delete", cfg.Queue.SoftDelete),
		logging.Int("retention_days", cfg.Queue.RetentionDays),
	)
}

func binaryAvailable(name string) bool {
	if strings.TrimSpace(name) == "" {
		return false
	}
	_, err := exec.LookPath(name)
	return err == nil
}
