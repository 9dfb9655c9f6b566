package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/t77yq/rep4rep-bot/internal/bot"
	"github.com/t77yq/rep4rep-bot/internal/config"
	"github.com/t77yq/rep4rep-bot/internal/events"
	"github.com/t77yq/rep4rep-bot/internal/maintenance"
	"github.com/t77yq/rep4rep-bot/internal/model"
	"github.com/t77yq/rep4rep-bot/internal/monitor"
	"github.com/t77yq/rep4rep-bot/internal/quota"
	"github.com/t77yq/rep4rep-bot/internal/rep4rep"
	"github.com/t77yq/rep4rep-bot/internal/steam"
	"github.com/t77yq/rep4rep-bot/internal/storage"
)

func main() {
	cfg, err := config.Load("./config")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.App.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	store, err := storage.NewSQLiteStore(logger, cfg.Database.Path)
	if err != nil {
		logger.Fatal("Failed to open database", zap.Error(err))
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	settings := loadRunSettings(ctx, cfg, store, logger)

	client := rep4rep.NewClient(cfg.Rep4Rep.BaseURL, logger)
	client.SetToken(settings.APIToken)

	if !cfg.Steam.DryRun {
		logger.Fatal("steam.dry_run=false requires a wire connector, none is configured")
	}
	connector := steam.NewDryRunConnector(logger)
	manager := steam.NewManager(connector, store, logger)
	defer manager.Close(context.Background())

	guards := steam.NewGuardRegistry(cfg.Steam.GuardTimeout, logger)

	orchestrator := bot.New(bot.Config{
		RestartDelay:   cfg.Bot.RestartDelay,
		RateLimitPause: cfg.Bot.RateLimitPause,
	}, store, manager, client, logger)

	// Optional NATS wiring: event fan-out, metrics and remote guard code
	// resolution.
	var nc *nats.Conn
	if cfg.NATS.Enabled {
		nc, err = connectNATS(cfg, logger)
		if err != nil {
			logger.Fatal("Failed to connect to NATS after retries", zap.Error(err))
		}
		defer nc.Close()

		go events.NewPublisher(nc, logger).Run(ctx, orchestrator.Events())

		_, err = nc.Subscribe("bot.guard.*", func(msg *nats.Msg) {
			parts := strings.Split(msg.Subject, ".")
			accountID := parts[len(parts)-1]
			code := strings.TrimSpace(string(msg.Data))
			if !guards.Resolve(accountID, code) {
				logger.Warn("No pending guard challenge",
					zap.String("account_id", accountID))
			}
		})
		if err != nil {
			logger.Fatal("Failed to subscribe to guard codes", zap.Error(err))
		}
	} else {
		go drainEvents(ctx, orchestrator.Events(), logger)
	}

	var collector *monitor.Collector
	if cfg.Monitor.Enabled {
		collector = monitor.NewCollector(orchestrator, nc, cfg.Monitor.Interval, logger)
		collector.Start(ctx)
		defer collector.Stop()
	}

	jobs := maintenance.NewJobs(store, quota.NewTracker(), cfg.Maintenance.LogRetention, func(accountID string) {
		logger.Info("Daily quota window reset", zap.String("account_id", accountID))
	}, logger)
	if err := jobs.Start(ctx); err != nil {
		logger.Fatal("Failed to start maintenance jobs", zap.Error(err))
	}
	defer jobs.Stop()

	if err := orchestrator.Start(ctx, settings); err != nil {
		logger.Fatal("Failed to start bot", zap.Error(err))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	orchestrator.Stop()

	done := make(chan struct{})
	go func() {
		orchestrator.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("All workers drained")
	case <-time.After(30 * time.Second):
		logger.Warn("Shutdown timeout reached, some workers may not have drained")
	}

	cancel()
	logger.Info("Shutting down gracefully")
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	return cfg.Build()
}

// loadRunSettings starts from the config file and applies any overrides
// stored in the settings table
func loadRunSettings(ctx context.Context, cfg *config.Config, store *storage.SQLiteStore, logger *zap.Logger) model.RunSettings {
	settings := cfg.RunSettings()

	if v := getSetting(ctx, store, logger, "work_mode"); v != "" {
		settings.WorkMode = model.WorkMode(v)
	}
	if v := getSetting(ctx, store, logger, "api_token"); v != "" {
		settings.APIToken = v
	}
	if v := getSetting(ctx, store, logger, "task_delay"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.TaskDelay = d
		} else {
			logger.Warn("Ignoring invalid task_delay setting", zap.String("value", v))
		}
	}
	if v := getSetting(ctx, store, logger, "comment_delay"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.CommentDelay = d
		} else {
			logger.Warn("Ignoring invalid comment_delay setting", zap.String("value", v))
		}
	}
	if v := getSetting(ctx, store, logger, "max_concurrent_accounts"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.MaxConcurrentAccounts = n
		} else {
			logger.Warn("Ignoring invalid max_concurrent_accounts setting", zap.String("value", v))
		}
	}

	return settings
}

func getSetting(ctx context.Context, store *storage.SQLiteStore, logger *zap.Logger, key string) string {
	value, err := store.GetSetting(ctx, key)
	if err != nil {
		logger.Warn("Failed to read setting", zap.String("key", key), zap.Error(err))
		return ""
	}
	return value
}

func connectNATS(cfg *config.Config, logger *zap.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(cfg.App.Name),
		nats.MaxReconnects(cfg.NATS.MaxReconnects),
		nats.ReconnectWait(cfg.NATS.ReconnectWait),
		nats.Timeout(cfg.NATS.ConnectTimeout),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			logger.Error("NATS connection error", zap.Error(err))
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}

	var nc *nats.Conn
	var err error
	for i := 0; i < 5; i++ {
		nc, err = nats.Connect(cfg.NATS.URL, opts...)
		if err == nil {
			logger.Info("Connected to NATS", zap.String("url", nc.ConnectedUrl()))
			return nc, nil
		}
		logger.Warn("Failed to connect to NATS, retrying...",
			zap.Int("attempt", i+1),
			zap.Error(err))
		time.Sleep(time.Second * time.Duration(i+1))
	}
	return nil, err
}

// drainEvents keeps the orchestrator's event buffer moving when no NATS
// fan-out is configured
func drainEvents(ctx context.Context, eventCh <-chan bot.Event, logger *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-eventCh:
			if event.Type == bot.EventLog {
				continue
			}
			logger.Debug("Event",
				zap.String("type", string(event.Type)),
				zap.String("account_id", event.AccountID),
				zap.String("task_id", event.TaskID))
		}
	}
}
