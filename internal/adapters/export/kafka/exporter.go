// Package kafka forwards newly stored entries to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"3tcapital/telescope/internal/core/entry"
	"3tcapital/telescope/internal/infrastructure/logger"
)

const (
	DefaultWriteTimeout = 5 * time.Second
	DefaultBuffer       = 256
)

// MessageWriter is the part of *kafka.Writer the exporter uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config describes the destination topic.
type Config struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
	WriteTimeout time.Duration
	// Buffer is the subscription buffer; entries beyond it are dropped.
	Buffer int
}

// NewWriter builds a kafka-go writer for cfg.
func NewWriter(cfg Config) *kafka.Writer {
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 50 * time.Millisecond
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           batchTimeout,
		AllowAutoTopicCreation: true,
	}
}

// Exporter publishes every entry of a subscription as one JSON message.
// Messages are keyed by request id so all entries of a request land on the
// same partition.
type Exporter struct {
	writer  MessageWriter
	timeout time.Duration
	log     *slog.Logger

	exported atomic.Int64
	failed   atomic.Int64
}

func New(writer MessageWriter, cfg Config, log *slog.Logger) *Exporter {
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}
	return &Exporter{
		writer:  writer,
		timeout: timeout,
		log:     logger.Component(log, "export.kafka"),
	}
}

// Run forwards entries until ctx is done or the subscription is closed.
func (x *Exporter) Run(ctx context.Context, sub *entry.Subscription) {
	x.log.Info("Entry export started")
	defer x.log.Info("Entry export stopped",
		"exported", x.exported.Load(),
		"failed", x.failed.Load(),
	)

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.C:
			if !ok {
				return
			}
			x.export(ctx, e)
		}
	}
}

func (x *Exporter) export(ctx context.Context, e entry.Entry) {
	msg, err := Message(e)
	if err != nil {
		x.failed.Add(1)
		x.log.Error("Failed to encode entry", "entry_id", e.ID, "error", err)
		return
	}

	writeCtx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()

	if err := x.writer.WriteMessages(writeCtx, msg); err != nil {
		x.failed.Add(1)
		x.log.Warn("Failed to export entry",
			"entry_id", e.ID,
			"type", e.Type,
			"error", err,
		)
		return
	}
	x.exported.Add(1)
}

// Message encodes e the way the dashboard API returns it.
func Message(e entry.Entry) (kafka.Message, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return kafka.Message{}, err
	}

	key := e.RequestID()
	if key == "" {
		key = e.ID
	}
	return kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Time:  e.Timestamp,
		Headers: []kafka.Header{
			{Key: "entry-type", Value: []byte(e.Type)},
		},
	}, nil
}

// Exported returns how many entries were written.
func (x *Exporter) Exported() int64 { return x.exported.Load() }

// Failed returns how many entries could not be written.
func (x *Exporter) Failed() int64 { return x.failed.Load() }

// Close closes the underlying writer.
func (x *Exporter) Close() error {
	return x.writer.Close()
}
