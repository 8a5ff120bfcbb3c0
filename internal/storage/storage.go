// Package storage defines the key/value record store shared by ingestion,
// clustering, market snapshots and the retention sweeper.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by Get when no record exists under the key.
var ErrNotFound = errors.New("record not found")

// Store persists JSON records under slash-separated keys.
type Store interface {
	Put(ctx context.Context, key string, payload []byte) error
	// Get returns ErrNotFound for absent keys.
	Get(ctx context.Context, key string) ([]byte, error)
	// List returns up to limit keys under prefix in lexical order.
	List(ctx context.Context, prefix string, limit int) ([]string, error)
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

const (
	DefaultTTLDays   = 14
	ClusterTTLDays   = 30
	createdAtField   = "created_at"
	ttlDaysField     = "ttl_days"
	defaultListLimit = 100
)

// Envelope is the retention metadata every stored record carries next to
// its own fields.
type Envelope struct {
	CreatedAt string   `json:"created_at,omitempty"`
	TTLDays   *float64 `json:"ttl_days,omitempty"`
}

// PutJSON stores v with created_at and ttl_days merged into its top-level
// object. v must marshal to a JSON object.
func PutJSON(ctx context.Context, s Store, key string, v any, createdAt time.Time, ttlDays float64) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}

	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return fmt.Errorf("record %s is not a json object: %w", key, err)
	}

	ts, _ := json.Marshal(createdAt.UTC().Format(time.RFC3339))
	ttl, _ := json.Marshal(ttlDays)
	fields[createdAtField] = ts
	fields[ttlDaysField] = ttl

	payload, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.Put(ctx, key, payload)
}

// GetJSON decodes the record under key into out.
func GetJSON(ctx context.Context, s Store, key string, out any) error {
	payload, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// NormalizeLimit applies the default listing size to non-positive limits.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return limit
}
