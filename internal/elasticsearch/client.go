package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/DeafMist/crypto-news-radar/internal/processing"
	"github.com/DeafMist/crypto-news-radar/internal/storage"
)

// Client keeps stored records as documents of a single index. Document IDs
// are hashes of the record key; the key itself is a keyword field so that
// prefix listing stays a single query.
type Client struct {
	es    *elasticsearch.Client
	index string
	log   *slog.Logger
}

var _ storage.Store = (*Client)(nil)

const indexMapping = `{
  "mappings": {
    "properties": {
      "key":        {"type": "keyword"},
      "created_at": {"type": "date"},
      "payload":    {"type": "object", "enabled": false}
    }
  }
}`

type document struct {
	Key       string          `json:"key"`
	CreatedAt *time.Time      `json:"created_at,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// New instantiates the Elasticsearch client.
func New(addr, index string, logger *slog.Logger) (*Client, error) {
	cfg := elasticsearch.Config{
		Addresses: []string{addr},
	}

	es, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Client{es: es, index: index, log: logger}, nil
}

// Ping checks if Elasticsearch is available.
func (c *Client) Ping(ctx context.Context) error {
	res, err := c.es.Ping(c.es.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("ping elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch ping failed: %s", res.Status())
	}

	return nil
}

// EnsureIndex creates the records index with its mapping when missing.
func (c *Client) EnsureIndex(ctx context.Context) error {
	res, err := c.es.Indices.Exists([]string{c.index}, c.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check index: %w", err)
	}
	res.Body.Close()

	if res.StatusCode == http.StatusOK {
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("check index failed: %s", res.Status())
	}

	res, err = c.es.Indices.Create(
		c.index,
		c.es.Indices.Create.WithContext(ctx),
		c.es.Indices.Create.WithBody(strings.NewReader(indexMapping)),
	)
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		// lost a creation race with another process
		if strings.Contains(string(body), "resource_already_exists_exception") {
			return nil
		}
		return fmt.Errorf("create index failed: %s", strings.TrimSpace(string(body)))
	}

	c.log.Info("created elasticsearch index", "index", c.index)
	return nil
}

func docID(key string) string {
	return processing.DeterministicHash(key)
}

// Put writes a record. payload must be valid JSON.
func (c *Client) Put(ctx context.Context, key string, payload []byte) error {
	if !json.Valid(payload) {
		return fmt.Errorf("record %s is not valid json", key)
	}

	doc := document{Key: key, Payload: payload}
	var env storage.Envelope
	if json.Unmarshal(payload, &env) == nil {
		doc.CreatedAt = processing.ParseTimestamp(env.CreatedAt)
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal doc: %w", err)
	}

	req := esapi.IndexRequest{
		Index:      c.index,
		DocumentID: docID(key),
		Body:       bytes.NewReader(body),
		Refresh:    "wait_for",
	}

	res, err := req.Do(ctx, c.es)
	if err != nil {
		return fmt.Errorf("index doc: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		data, _ := io.ReadAll(res.Body)
		return fmt.Errorf("index doc failed: %s", strings.TrimSpace(string(data)))
	}

	return nil
}

func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	req := esapi.GetRequest{
		Index:      c.index,
		DocumentID: docID(key),
	}

	res, err := req.Do(ctx, c.es)
	if err != nil {
		return nil, fmt.Errorf("get doc: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil, storage.ErrNotFound
	}
	if res.IsError() {
		data, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("get doc failed: %s", strings.TrimSpace(string(data)))
	}

	var parsed struct {
		Found  bool     `json:"found"`
		Source document `json:"_source"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode get response: %w", err)
	}
	if !parsed.Found || parsed.Source.Key != key {
		return nil, storage.ErrNotFound
	}

	return parsed.Source.Payload, nil
}

// List returns keys starting with prefix, sorted ascending.
func (c *Client) List(ctx context.Context, prefix string, limit int) ([]string, error) {
	limit = storage.NormalizeLimit(limit)

	query := map[string]any{"match_all": map[string]any{}}
	if prefix != "" {
		query = map[string]any{
			"prefix": map[string]any{
				"key": prefix,
			},
		}
	}

	body := map[string]any{
		"size":    limit,
		"query":   query,
		"_source": []string{"key"},
		"sort": []map[string]any{
			{"key": map[string]any{"order": "asc"}},
		},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal search body: %w", err)
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.index),
		c.es.Search.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return []string{}, nil
	}
	if res.IsError() {
		data, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("search failed: %s", strings.TrimSpace(string(data)))
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				Source struct {
					Key string `json:"key"`
				} `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	keys := make([]string, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		keys = append(keys, hit.Source.Key)
	}
	return keys, nil
}

func (c *Client) Delete(ctx context.Context, key string) error {
	req := esapi.DeleteRequest{
		Index:      c.index,
		DocumentID: docID(key),
		Refresh:    "wait_for",
	}

	res, err := req.Do(ctx, c.es)
	if err != nil {
		return fmt.Errorf("delete doc: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil
	}
	if res.IsError() {
		data, _ := io.ReadAll(res.Body)
		return fmt.Errorf("delete doc failed: %s", strings.TrimSpace(string(data)))
	}

	c.log.Debug("deleted record", "key", key)
	return nil
}

// Health pings Elasticsearch to ensure connectivity.
func (c *Client) Health(ctx context.Context) error {
	res, err := c.es.Cluster.Health(c.es.Cluster.Health.WithContext(ctx))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(res.Body)
		return fmt.Errorf("cluster health bad: %s", strings.TrimSpace(string(data)))
	}
	return nil
}

var errNotConnected = errors.New("elasticsearch not reachable")

// Connect creates a client and waits for it to answer a ping, doubling the
// delay between attempts up to 30s.
func Connect(ctx context.Context, addr, index string, attempts int, logger *slog.Logger) (*Client, error) {
	client, err := New(addr, index, logger)
	if err != nil {
		return nil, err
	}

	delay := 2 * time.Second
	for i := 0; i < attempts; i++ {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		pingErr := client.Ping(pingCtx)
		cancel()
		if pingErr == nil {
			return client, nil
		}

		if i == attempts-1 {
			return nil, fmt.Errorf("%w: %v", errNotConnected, pingErr)
		}
		client.log.Warn("elasticsearch ping failed, retrying",
			slog.Any("err", pingErr),
			slog.Int("attempt", i+1),
			slog.Int("max_retries", attempts),
			slog.Duration("retry_in", delay),
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		delay *= 2
		if delay > 30*time.Second {
			delay = 30 * time.Second
		}
	}

	return nil, errNotConnected
}
