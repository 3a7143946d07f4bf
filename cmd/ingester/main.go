// Package main implements the anchorwatch ingester. It subscribes to
// program logs over websocket, decodes Anchor events, persists them in
// batches, and reconciles the live stream against the node's signature
// history in the background.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/meridian/anchorwatch/internal/backfill"
	"github.com/meridian/anchorwatch/internal/dedup"
	"github.com/meridian/anchorwatch/internal/event"
	"github.com/meridian/anchorwatch/internal/ingest"
	"github.com/meridian/anchorwatch/internal/platform/archive"
	"github.com/meridian/anchorwatch/internal/platform/kafka"
	anats "github.com/meridian/anchorwatch/internal/platform/nats"
	"github.com/meridian/anchorwatch/internal/platform/solana"
	"github.com/meridian/anchorwatch/internal/platform/storage"
)

func main() {
	var (
		configPath = flag.String("config", envOrDefault("CONFIG_PATH", ""), "Path to YAML config file")
		rpcURL     = flag.String("rpc-url", envOrDefault("RPC_URL", ""), "Solana RPC HTTP endpoint")
		programs   = flag.String("programs", envOrDefault("PROGRAMS", ""), "Comma-separated program ids to track")
		logLevel   = flag.String("log-level", envOrDefault("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")
	)
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	cfg, err := LoadConfig(*configPath, *rpcURL, *programs)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("starting ingester",
		"rpc_url", cfg.Node.RPCURL,
		"programs", cfg.Programs,
		"commitment", cfg.Node.Commitment,
		"dedup_backend", cfg.Dedup.Backend,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	db, err := storage.New(ctx, storage.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Database,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		slog.Error("failed to run database migrations", "error", err)
		os.Exit(1)
	}

	events := storage.NewEventRepository(db)
	checkpoints := storage.NewCheckpointRepository(db)
	scans := storage.NewScanRepository(db)

	// Optional NATS fanout of persisted events
	var publisher ingest.Publisher
	if cfg.Fanout.Enabled {
		natsCfg := anats.DefaultConfig()
		natsCfg.URL = cfg.Fanout.URL
		natsClient, err := anats.Connect(ctx, natsCfg)
		if err != nil {
			slog.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer natsClient.Close()

		if _, err := anats.EnsureStream(ctx, natsClient.JetStream(), anats.DefaultDecodedEventsStreamConfig()); err != nil {
			slog.Error("failed to ensure NATS stream", "error", err)
			os.Exit(1)
		}
		publisher = anats.NewPublisher(natsClient.JetStream(), logger)
	}

	writer := ingest.NewBatchWriter(ingest.WriterConfig{
		BatchSize:  cfg.Writer.BatchSize,
		MaxWait:    cfg.Writer.MaxWait,
		BufferSize: cfg.Writer.BufferSize,
		MaxRetries: cfg.Writer.MaxRetries,
	}, events, publisher, logger)

	if err := writer.Start(ctx); err != nil {
		slog.Error("failed to start batch writer", "error", err)
		os.Exit(1)
	}

	// Dedup cache
	var cache dedup.Cache
	switch cfg.Dedup.Backend {
	case "redis":
		redisCache, err := dedup.NewRedisCache(dedup.RedisConfig{
			Addr:     cfg.Dedup.RedisAddr,
			Password: cfg.Dedup.RedisPassword,
			DB:       cfg.Dedup.RedisDB,
			TTL:      cfg.Dedup.TTL,
		})
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		cache = redisCache
	default:
		cache = dedup.NewMemoryCache(dedup.MemoryConfig{
			TTL:     cfg.Dedup.TTL,
			MaxSize: cfg.Dedup.MaxSize,
		})
	}

	decoder := event.NewLogDecoder(cfg.Programs, logger)

	subscriber := ingest.NewSubscriber(ingest.SubscriberConfig{
		Endpoint:   wsEndpoint(cfg),
		Programs:   cfg.Programs,
		Commitment: cfg.Node.Commitment,
	}, decoder, writer, checkpoints, cache, logger)

	// Backfill side channels
	var announcer backfill.Announcer
	if cfg.Announce.Enabled {
		tm, err := kafka.NewTopicManager(cfg.Announce.Brokers)
		if err != nil {
			slog.Error("failed to create kafka admin client", "error", err)
			os.Exit(1)
		}
		if err := tm.EnsureTopics(ctx, kafka.DefaultTopicConfigs()); err != nil {
			slog.Error("failed to ensure kafka topics", "error", err)
			os.Exit(1)
		}
		tm.Close()

		kafkaAnnouncer, err := kafka.NewAnnouncer(cfg.Announce.Brokers, cfg.Announce.Topic, logger)
		if err != nil {
			slog.Error("failed to create kafka announcer", "error", err)
			os.Exit(1)
		}
		defer kafkaAnnouncer.Close()
		announcer = kafkaAnnouncer
	}

	var archiver backfill.Archiver
	if cfg.Archive.Enabled {
		scanArchiver, err := archive.NewScanArchiver(archive.Config{
			Endpoint:  cfg.Archive.Endpoint,
			Bucket:    cfg.Archive.Bucket,
			AccessKey: cfg.Archive.AccessKey,
			SecretKey: cfg.Archive.SecretKey,
			UseSSL:    cfg.Archive.UseSSL,
		}, logger)
		if err != nil {
			slog.Error("failed to create scan archiver", "error", err)
			os.Exit(1)
		}
		if err := scanArchiver.EnsureBucket(ctx); err != nil {
			slog.Error("failed to ensure archive bucket", "error", err)
			os.Exit(1)
		}
		archiver = scanArchiver
	}

	node := solana.NewClient(cfg.Node.RPCURL, cfg.Node.Commitment, logger)

	orchestrator := backfill.NewOrchestrator(backfill.Config{
		Programs:  cfg.Programs,
		Interval:  cfg.Backfill.Interval,
		PageLimit: cfg.Backfill.PageLimit,
	}, node, events, checkpoints, scans, decoder, writer, announcer, archiver, logger)

	if err := orchestrator.Start(ctx); err != nil {
		slog.Error("failed to start backfill orchestrator", "error", err)
		os.Exit(1)
	}

	// Graceful shutdown on signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Blocks until the context is cancelled, reconnecting as needed.
	if err := subscriber.Start(ctx); err != nil && ctx.Err() == nil {
		slog.Error("subscriber error", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := orchestrator.Stop(shutdownCtx); err != nil {
		slog.Error("orchestrator stop error", "error", err)
	}

	// Stop drains buffered events through a final flush.
	if err := writer.Stop(shutdownCtx); err != nil {
		slog.Error("writer stop error", "error", err)
	}

	slog.Info("ingester shutdown complete")
}

// wsEndpoint picks the websocket endpoint, deriving one from the RPC URL
// when none is configured.
func wsEndpoint(cfg *Config) string {
	if cfg.Node.WSURL != "" {
		return cfg.Node.WSURL
	}
	return cfg.Node.RPCURL
}

func envOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// splitAndTrim splits a comma-separated string and trims whitespace.
func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
