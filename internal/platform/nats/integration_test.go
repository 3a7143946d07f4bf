//go:build integration
// +build integration

package nats_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	anats "github.com/meridian/anchorwatch/internal/platform/nats"
)

func TestNATSIntegration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg := anats.DefaultConfig()
	cfg.URL = "nats://localhost:4222"
	cfg.Name = "integration-test"

	client, err := anats.Connect(ctx, cfg)
	if err != nil {
		t.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer client.Close()

	streamCfg := anats.DefaultDecodedEventsStreamConfig()
	stream, err := anats.EnsureStream(ctx, client.JetStream(), streamCfg)
	if err != nil {
		t.Fatalf("Failed to create stream: %v", err)
	}

	consumerCfg := anats.DefaultFanoutConsumerConfig("integration-test-consumer")
	consumer, err := anats.EnsureConsumer(ctx, stream, consumerCfg)
	if err != nil {
		t.Fatalf("Failed to create consumer: %v", err)
	}

	testEvent := map[string]interface{}{
		"event_id":   "sigX:0:Swap",
		"event_type": "Swap",
		"signature":  "sigX",
		"slot":       12345,
	}

	eventData, err := json.Marshal(testEvent)
	if err != nil {
		t.Fatalf("Failed to marshal event: %v", err)
	}

	subject := anats.SubjectForEvent("Swap")
	ack, err := client.JetStream().Publish(ctx, subject, eventData)
	if err != nil {
		t.Fatalf("Failed to publish event: %v", err)
	}

	t.Logf("Published event to %s, seq=%d", subject, ack.Sequence)

	msgs, err := consumer.Fetch(1)
	if err != nil {
		t.Fatalf("Failed to fetch messages: %v", err)
	}

	msgCount := 0
	for msg := range msgs.Messages() {
		var received map[string]interface{}
		if err := json.Unmarshal(msg.Data(), &received); err != nil {
			t.Errorf("Failed to unmarshal received message: %v", err)
		} else if received["event_id"] != testEvent["event_id"] {
			t.Errorf("Event ID mismatch: got %v, want %v", received["event_id"], testEvent["event_id"])
		}
		msg.Ack()
		msgCount++
	}

	if msgCount != 1 {
		t.Errorf("Expected 1 message, got %d", msgCount)
	}
}
