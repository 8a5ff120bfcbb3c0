// Package broker publishes accepted news items to Kafka for the clustering worker.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/DeafMist/crypto-news-radar/internal/models"
)

// MessageWriter is the part of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Publisher struct {
	w   MessageWriter
	log *slog.Logger
}

// NewWriter returns a writer that hashes message keys onto partitions, so
// items of one source stay ordered.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		BatchTimeout: 100 * time.Millisecond,
	}
}

func NewPublisher(w MessageWriter, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Publisher{w: w, log: logger}
}

// Publish writes items as JSON messages keyed by source.
func (p *Publisher) Publish(ctx context.Context, items []models.NewsItem) error {
	if len(items) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(items))
	for _, item := range items {
		value, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("marshal item %s: %w", item.ID, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(item.Source),
			Value: value,
			Headers: []kafka.Header{
				{Key: "id", Value: []byte(item.ID)},
			},
		})
	}

	if err := p.w.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish %d items: %w", len(msgs), err)
	}
	p.log.Info("published news items", slog.Int("count", len(msgs)))
	return nil
}

func (p *Publisher) Close() error {
	return p.w.Close()
}

// Decode parses a message written by Publish.
func Decode(msg kafka.Message) (models.NewsItem, error) {
	var item models.NewsItem
	if err := json.Unmarshal(msg.Value, &item); err != nil {
		return item, fmt.Errorf("decode news item: %w", err)
	}
	if item.ID == "" || item.URL == "" {
		return item, fmt.Errorf("decode news item: missing id or url")
	}
	return item, nil
}
