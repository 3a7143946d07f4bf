package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/meridian/anchorwatch/internal/backfill"
)

// Announcer publishes backfill scan lifecycle records to Kafka. Records
// are keyed by program id so consumers observe each program's scans in
// order.
type Announcer struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

// NewAnnouncer creates an Announcer connected to the given brokers.
func NewAnnouncer(brokers, topic string, logger *slog.Logger) (*Announcer, error) {
	if topic == "" {
		topic = ScanAnnouncementsTopic
	}
	if logger == nil {
		logger = slog.Default()
	}

	brokerList := strings.Split(brokers, ",")
	for i := range brokerList {
		brokerList[i] = strings.TrimSpace(brokerList[i])
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokerList...),
		kgo.DefaultProduceTopic(topic),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	return &Announcer{
		client: client,
		topic:  topic,
		logger: logger.With("component", "kafka-announcer"),
	}, nil
}

// Announce publishes one scan record synchronously.
func (a *Announcer) Announce(ctx context.Context, rec *backfill.ScanRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal scan %s: %w", rec.ScanID, err)
	}

	record := &kgo.Record{
		Topic: a.topic,
		Key:   []byte(rec.ProgramID),
		Value: payload,
	}

	if err := a.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce scan %s: %w", rec.ScanID, err)
	}

	a.logger.Debug("scan announced",
		"scan_id", rec.ScanID,
		"status", rec.Status,
	)
	return nil
}

// Close flushes buffered records and releases the client.
func (a *Announcer) Close() {
	a.client.Close()
}
