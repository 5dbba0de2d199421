// Copyright 2025-2026 CERN. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package sink

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cerndb/hbase-packet-inspector/pkg/hbase"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Kafka serializes events as JSON and produces them to a single topic.
// Per-action rows carry a "kind" field instead of going to separate topics.
type Kafka struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewKafka creates a producer for the given brokers and topic.
func NewKafka(brokers []string, topic string, logger *zap.Logger) *Kafka {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           100 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	logger.Info("kafka producer ready",
		zap.Strings("brokers", brokers),
		zap.String("topic", topic),
	)
	return &Kafka{writer: w, logger: logger}
}

// Emit produces one event. The client key is the message key so per-client
// ordering survives partitioning.
func (k *Kafka) Emit(ev *hbase.Event) error {
	return k.produce(ev.Fields(), ev.Client)
}

// EmitSub produces a per-action row tagged with its kind.
func (k *Kafka) EmitSub(kind string, ev *hbase.Event) error {
	fields := ev.Fields()
	fields["kind"] = kind
	return k.produce(fields, ev.Client)
}

func (k *Kafka) produce(fields map[string]any, key string) error {
	value, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: value,
	})
}

// Close flushes and closes the producer.
func (k *Kafka) Close() error {
	return k.writer.Close()
}
