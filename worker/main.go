package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/DeafMist/crypto-news-radar/internal/backends"
	"github.com/DeafMist/crypto-news-radar/internal/broker"
	"github.com/DeafMist/crypto-news-radar/internal/cluster"
	"github.com/DeafMist/crypto-news-radar/internal/config"
	"github.com/DeafMist/crypto-news-radar/internal/logger"
	"github.com/DeafMist/crypto-news-radar/internal/models"
	"github.com/DeafMist/crypto-news-radar/internal/pipeline"
	"github.com/DeafMist/crypto-news-radar/internal/sources"
)

const dlqAttempts = 5

// errUndelivered stops the worker: committing any later batch would move the
// partition offset past messages that reached neither the store nor the DLQ.
var errUndelivered = errors.New("dead letter not delivered")

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type newsAnalyzer interface {
	Analyze(ctx context.Context, req pipeline.AnalyzeRequest) (pipeline.AnalyzeResponse, error)
}

type worker struct {
	log           *slog.Logger
	reader        messageReader
	dlq           messageWriter
	analyzer      newsAnalyzer
	batchSize     int
	flushInterval time.Duration
	backoff       time.Duration
}

// failedMessage is a consumed message bound for the dead letter topic.
type failedMessage struct {
	msg kafka.Message
	err error
}

func main() {
	log := logger.New("worker")
	if err := config.LoadDotEnv(); err != nil {
		log.Error("load .env", slog.Any("err", err))
		os.Exit(1)
	}
	cfg, err := config.LoadWorker()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	store, closeStore, err := backends.Open(ctx, cfg.Common, log)
	if err != nil {
		log.Error("open storage", slog.Any("err", err))
		os.Exit(1)
	}
	defer closeStore(context.Background())

	registry := sources.NewRegistry()
	if cfg.SourcesFile != "" {
		if err := registry.LoadFile(cfg.SourcesFile); err != nil {
			log.Error("load sources", slog.Any("err", err))
			os.Exit(1)
		}
	}
	engine := cluster.New(cluster.WithWeights(registry), cluster.WithOrigin(pipeline.Origin))

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.KafkaBrokers,
		Topic:          cfg.KafkaTopic,
		GroupID:        cfg.KafkaConsumer,
		QueueCapacity:  cfg.BatchSize,
		MinBytes:       1e3,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit only
	})
	defer reader.Close()

	dlqTopic := cfg.KafkaTopic + "_dlq"
	dlqWriter := kafka.NewWriter(kafka.WriterConfig{
		Brokers:     cfg.KafkaBrokers,
		Topic:       dlqTopic,
		MaxAttempts: 3,
	})
	defer dlqWriter.Close()

	w := &worker{
		log:           log,
		reader:        reader,
		dlq:           dlqWriter,
		analyzer:      pipeline.NewAnalyzer(engine, store, log, pipeline.WithDefaults(cfg.WindowMinutes, cfg.SimilarityThreshold)),
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		backoff:       time.Second,
	}

	log.Info("worker started",
		slog.String("topic", cfg.KafkaTopic),
		slog.String("group", cfg.KafkaConsumer),
		slog.String("dlq_topic", dlqTopic),
		slog.Int("batch_size", cfg.BatchSize),
		slog.Duration("flush_interval", cfg.FlushInterval),
	)

	if err := w.run(ctx); err != nil {
		log.Error("worker stopped, uncommitted batch is redelivered on restart", slog.Any("err", err))
		_ = reader.Close()
		_ = dlqWriter.Close()
		os.Exit(1)
	}
	log.Info("context canceled, stopping")
}

// run consumes until ctx is done. It returns errUndelivered, leaving the
// failed batch uncommitted, when a dead letter could not be written.
func (w *worker) run(ctx context.Context) error {
	for ctx.Err() == nil {
		batch := w.collect(ctx)
		if len(batch) == 0 {
			continue
		}
		if err := w.handle(ctx, batch); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
	return nil
}

// collect gathers up to batchSize messages, returning early once the flush
// interval elapses or ctx is done.
func (w *worker) collect(ctx context.Context) []kafka.Message {
	deadline := time.Now().Add(w.flushInterval)
	batch := make([]kafka.Message, 0, w.batchSize)

	for len(batch) < w.batchSize {
		fetchCtx, cancel := context.WithDeadline(ctx, deadline)
		msg, err := w.reader.FetchMessage(fetchCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
				return batch
			}
			w.log.Error("fetch message", slog.Any("err", err))
			select {
			case <-time.After(w.backoff):
			case <-ctx.Done():
			}
			return batch
		}
		batch = append(batch, msg)
	}
	return batch
}

// handle clusters a batch, dead-letters whatever failed and commits the
// batch. When a dead letter write is exhausted nothing is committed and
// errUndelivered is returned; the caller must stop consuming.
func (w *worker) handle(ctx context.Context, batch []kafka.Message) error {
	delivered := true
	for _, f := range w.process(ctx, batch) {
		w.log.Warn("process message failed, sending to DLQ",
			slog.Any("err", f.err),
			slog.Int("partition", f.msg.Partition),
			slog.Int64("offset", f.msg.Offset),
		)
		if !w.sendToDLQ(ctx, f) {
			delivered = false
		}
	}

	if !delivered {
		last := batch[len(batch)-1]
		w.log.Error("DLQ write exhausted retries, batch left uncommitted",
			slog.Int("messages", len(batch)),
			slog.Int("partition", last.Partition),
			slog.Int64("offset", last.Offset),
		)
		return fmt.Errorf("%w: partition %d offset %d", errUndelivered, last.Partition, last.Offset)
	}
	if err := w.reader.CommitMessages(ctx, batch...); err != nil {
		w.log.Error("commit messages", slog.Any("err", err))
	}
	return nil
}

// process decodes the batch and runs one clustering pass over the decodable
// items. Undecodable messages fail alone; a failed pass fails every item.
func (w *worker) process(ctx context.Context, batch []kafka.Message) []failedMessage {
	var (
		failed []failedMessage
		items  []models.NewsItem
		msgs   []kafka.Message
	)
	for _, msg := range batch {
		item, err := broker.Decode(msg)
		if err != nil {
			failed = append(failed, failedMessage{msg: msg, err: err})
			continue
		}
		items = append(items, item)
		msgs = append(msgs, msg)
	}
	if len(items) == 0 {
		return failed
	}

	resp, err := w.analyzer.Analyze(ctx, pipeline.AnalyzeRequest{Items: items})
	if err != nil {
		for _, msg := range msgs {
			failed = append(failed, failedMessage{msg: msg, err: err})
		}
		return failed
	}

	w.log.Info("clustered batch",
		slog.Int("items", len(items)),
		slog.Int("clusters", len(resp.Clusters)),
	)
	return failed
}

// sendToDLQ writes the message with its error context, backing off
// exponentially between attempts.
func (w *worker) sendToDLQ(ctx context.Context, f failedMessage) bool {
	headers := make([]kafka.Header, 0, len(f.msg.Headers)+4)
	headers = append(headers, f.msg.Headers...)
	headers = append(headers,
		kafka.Header{Key: "original_partition", Value: []byte(fmt.Sprintf("%d", f.msg.Partition))},
		kafka.Header{Key: "original_offset", Value: []byte(fmt.Sprintf("%d", f.msg.Offset))},
		kafka.Header{Key: "error", Value: []byte(f.err.Error())},
		kafka.Header{Key: "timestamp", Value: []byte(time.Now().UTC().Format(time.RFC3339))},
	)
	dlqMsg := kafka.Message{Key: f.msg.Key, Value: f.msg.Value, Headers: headers}

	for attempt := range dlqAttempts {
		err := w.dlq.WriteMessages(ctx, dlqMsg)
		if err == nil {
			w.log.Info("message sent to DLQ",
				slog.Int("partition", f.msg.Partition),
				slog.Int64("offset", f.msg.Offset),
				slog.Int("attempt", attempt+1),
			)
			return true
		}

		backoff := w.backoff * time.Duration(1<<uint(attempt))
		w.log.Warn("DLQ write failed, retrying",
			slog.Any("err", err),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", backoff),
		)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			w.log.Info("context canceled during DLQ retry")
			return false
		}
	}
	return false
}
