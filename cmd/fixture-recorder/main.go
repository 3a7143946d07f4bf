// Command fixture-recorder captures real node responses as JSON fixtures
// for decoder and backfill tests.
//
// Usage:
//
//	fixture-recorder -endpoint <rpc-url> -program <program-id> -type history
//	fixture-recorder -endpoint <rpc-url> -program <program-id> -type tx -count 20
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

type Fixture struct {
	Type       string          `json:"type"`
	ProgramID  string          `json:"program_id"`
	RecordedAt time.Time       `json:"recorded_at"`
	Data       json.RawMessage `json:"data"`
}

type SignatureFixture struct {
	Signature string `json:"signature"`
	Slot      uint64 `json:"slot"`
	Err       string `json:"err,omitempty"`
	BlockTime int64  `json:"block_time,omitempty"`
}

type TransactionFixture struct {
	Signature   string   `json:"signature"`
	Slot        uint64   `json:"slot"`
	Err         string   `json:"err,omitempty"`
	LogMessages []string `json:"log_messages"`
}

type Config struct {
	Endpoint    string
	ProgramID   string
	OutputDir   string
	FixtureType string
	Count       int
}

func main() {
	endpoint := flag.String("endpoint", "", "RPC endpoint URL")
	program := flag.String("program", "", "Program id (base58) to record")
	outputDir := flag.String("output", "./fixtures", "Output directory for fixtures")
	fixtureType := flag.String("type", "history", "Fixture type: history, tx")
	count := flag.Int("count", 50, "Number of signatures to record")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	flag.Parse()

	level := parseLogLevel(*logLevel)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if *endpoint == "" || *program == "" {
		logger.Error("endpoint and program are required")
		flag.Usage()
		os.Exit(1)
	}

	cfg := Config{
		Endpoint:    *endpoint,
		ProgramID:   *program,
		OutputDir:   *outputDir,
		FixtureType: *fixtureType,
		Count:       *count,
	}

	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		logger.Error("failed to create output directory", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("received shutdown signal")
		cancel()
	}()

	logger.Info("starting fixture recorder",
		"program", cfg.ProgramID,
		"type", cfg.FixtureType,
		"output", cfg.OutputDir,
	)

	client := rpc.New(cfg.Endpoint)

	var err error
	switch cfg.FixtureType {
	case "history":
		err = recordHistory(ctx, client, cfg, logger)
	case "tx":
		err = recordTransactions(ctx, client, cfg, logger)
	default:
		logger.Error("unsupported fixture type", "type", cfg.FixtureType)
		os.Exit(1)
	}

	if err != nil && ctx.Err() == nil {
		logger.Error("recording failed", "error", err)
		os.Exit(1)
	}
}

// recordHistory captures one page of the program's signature history.
func recordHistory(ctx context.Context, client *rpc.Client, cfg Config, logger *slog.Logger) error {
	sigs, err := fetchHistory(ctx, client, cfg)
	if err != nil {
		return err
	}

	fixtures := make([]SignatureFixture, 0, len(sigs))
	for _, s := range sigs {
		f := SignatureFixture{
			Signature: s.Signature.String(),
			Slot:      s.Slot,
		}
		if s.Err != nil {
			f.Err = fmt.Sprintf("%v", s.Err)
		}
		if s.BlockTime != nil {
			f.BlockTime = int64(*s.BlockTime)
		}
		fixtures = append(fixtures, f)
	}

	data, err := json.Marshal(fixtures)
	if err != nil {
		return fmt.Errorf("marshal signatures: %w", err)
	}

	filename := filepath.Join(cfg.OutputDir, fmt.Sprintf("history_%s.json", cfg.ProgramID))
	if err := saveFixture(filename, Fixture{
		Type:       "history",
		ProgramID:  cfg.ProgramID,
		RecordedAt: time.Now().UTC(),
		Data:       data,
	}); err != nil {
		return err
	}

	logger.Info("recorded signature history", "signatures", len(fixtures), "file", filename)
	return nil
}

// recordTransactions captures the log output of recent transactions, the
// exact input shape the decoder consumes.
func recordTransactions(ctx context.Context, client *rpc.Client, cfg Config, logger *slog.Logger) error {
	sigs, err := fetchHistory(ctx, client, cfg)
	if err != nil {
		return err
	}

	maxSupportedVersion := uint64(0)
	var fixtures []TransactionFixture

	for _, s := range sigs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		tx, err := client.GetTransaction(ctx, s.Signature, &rpc.GetTransactionOpts{
			Encoding:                       solana.EncodingBase64,
			MaxSupportedTransactionVersion: &maxSupportedVersion,
		})
		if err != nil {
			logger.Warn("failed to fetch transaction", "signature", s.Signature, "error", err)
			continue
		}
		if tx == nil || tx.Meta == nil {
			continue
		}

		f := TransactionFixture{
			Signature:   s.Signature.String(),
			Slot:        uint64(tx.Slot),
			LogMessages: tx.Meta.LogMessages,
		}
		if tx.Meta.Err != nil {
			f.Err = fmt.Sprintf("%v", tx.Meta.Err)
		}
		fixtures = append(fixtures, f)
	}

	if len(fixtures) == 0 {
		logger.Warn("no transactions recorded")
		return nil
	}

	data, err := json.Marshal(fixtures)
	if err != nil {
		return fmt.Errorf("marshal transactions: %w", err)
	}

	filename := filepath.Join(cfg.OutputDir, fmt.Sprintf("txs_%s.json", cfg.ProgramID))
	if err := saveFixture(filename, Fixture{
		Type:       "transactions",
		ProgramID:  cfg.ProgramID,
		RecordedAt: time.Now().UTC(),
		Data:       data,
	}); err != nil {
		return err
	}

	logger.Info("recorded transactions", "transactions", len(fixtures), "file", filename)
	return nil
}

func fetchHistory(ctx context.Context, client *rpc.Client, cfg Config) ([]*rpc.TransactionSignature, error) {
	program, err := solana.PublicKeyFromBase58(cfg.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("parse program id: %w", err)
	}

	limit := cfg.Count
	sigs, err := client.GetSignaturesForAddressWithOpts(ctx, program, &rpc.GetSignaturesForAddressOpts{
		Limit:      &limit,
		Commitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch signature history: %w", err)
	}
	return sigs, nil
}

func saveFixture(filename string, fixture Fixture) error {
	data, err := json.MarshalIndent(fixture, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal fixture: %w", err)
	}
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("write fixture %s: %w", filename, err)
	}
	return nil
}

func parseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
