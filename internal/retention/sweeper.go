// Package retention deletes stored records older than their own ttl_days.
package retention

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/DeafMist/crypto-news-radar/internal/processing"
	"github.com/DeafMist/crypto-news-radar/internal/storage"
)

const (
	DefaultScanLimit = 1000
	DefaultTTLDays   = storage.DefaultTTLDays
)

// Failure records a key the sweep could not read or delete.
type Failure struct {
	Key   string `json:"key"`
	Error string `json:"error"`
}

// Result summarizes one sweep. DeletedKeys lists expired keys, which in a dry
// run were only reported.
type Result struct {
	DeletedKeys []string  `json:"deleted"`
	Kept        int       `json:"kept"`
	Failures    []Failure `json:"failures,omitempty"`
	DryRun      bool      `json:"dry_run"`
}

// Sweeper scans the retention prefixes of a store.
type Sweeper struct {
	store     storage.Store
	prefixes  []string
	scanLimit int
	log       *slog.Logger
	now       func() time.Time
}

type Option func(*Sweeper)

func WithPrefixes(prefixes ...string) Option {
	return func(s *Sweeper) { s.prefixes = prefixes }
}

func WithScanLimit(limit int) Option {
	return func(s *Sweeper) {
		if limit > 0 {
			s.scanLimit = limit
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

func New(store storage.Store, logger *slog.Logger, opts ...Option) *Sweeper {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Sweeper{
		store:     store,
		prefixes:  storage.RetentionPrefixes,
		scanLimit: DefaultScanLimit,
		log:       logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sweep lists up to the scan limit of keys per prefix and deletes every
// record whose whole-day age reached its ttl_days (14 when absent). Records
// without a readable created_at are kept. Absent and empty records are
// skipped without counting. A failing key or prefix listing is recorded and
// the sweep moves on; only a cancelled context aborts it.
func (s *Sweeper) Sweep(ctx context.Context, dryRun bool) (Result, error) {
	res := Result{DeletedKeys: []string{}, DryRun: dryRun}
	now := s.now().UTC()

	for _, prefix := range s.prefixes {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		keys, err := s.store.List(ctx, prefix, s.scanLimit)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, ctxErr
			}
			s.fail(&res, prefix, fmt.Errorf("list: %w", err))
			continue
		}

		for _, key := range keys {
			if err := ctx.Err(); err != nil {
				return res, err
			}

			payload, err := s.store.Get(ctx, key)
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			if err != nil {
				s.fail(&res, key, err)
				continue
			}
			if isEmptyRecord(payload) {
				continue
			}

			expired, ok := isExpired(payload, now)
			if !ok || !expired {
				res.Kept++
				continue
			}

			if !dryRun {
				if err := s.store.Delete(ctx, key); err != nil {
					s.fail(&res, key, err)
					continue
				}
			}
			res.DeletedKeys = append(res.DeletedKeys, key)
		}
	}

	s.log.Info("retention sweep done",
		"deleted", len(res.DeletedKeys),
		"kept", res.Kept,
		"failures", len(res.Failures),
		"dry_run", dryRun,
	)
	return res, nil
}

func (s *Sweeper) fail(res *Result, key string, err error) {
	s.log.Warn("retention sweep key failed", "key", key, "err", err)
	res.Failures = append(res.Failures, Failure{Key: key, Error: err.Error()})
}

// isExpired reports whether the record is past its ttl. ok is false when the
// record carries no usable created_at.
func isExpired(payload []byte, now time.Time) (expired, ok bool) {
	var env storage.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return false, false
	}
	created := processing.ParseTimestamp(env.CreatedAt)
	if created == nil {
		return false, false
	}

	ttl := float64(DefaultTTLDays)
	if env.TTLDays != nil {
		ttl = *env.TTLDays
	}
	ageDays := math.Floor(now.Sub(*created).Hours() / 24)
	return ageDays >= ttl, true
}

func isEmptyRecord(payload []byte) bool {
	var fields map[string]json.RawMessage
	return json.Unmarshal(payload, &fields) == nil && len(fields) == 0
}
