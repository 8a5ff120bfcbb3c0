package storage_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DeafMist/crypto-news-radar/internal/storage"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]storage.Store {
	t.Helper()
	local, err := storage.NewLocal(t.TempDir(), nil)
	require.NoError(t, err)
	return map[string]storage.Store{
		"local":  local,
		"memory": storage.NewMemory(),
	}
}

func TestStoreContract(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(ctx, "news/raw/missing.json")
			require.ErrorIs(t, err, storage.ErrNotFound)

			require.NoError(t, s.Put(ctx, "news/raw/b/2.json", []byte(`{"n":2}`)))
			require.NoError(t, s.Put(ctx, "news/raw/a/1.json", []byte(`{"n":1}`)))
			require.NoError(t, s.Put(ctx, "news/raw/a/3.json", []byte(`{"n":3}`)))
			require.NoError(t, s.Put(ctx, "market/x/snapshot.json", []byte(`{}`)))

			got, err := s.Get(ctx, "news/raw/a/1.json")
			require.NoError(t, err)
			require.JSONEq(t, `{"n":1}`, string(got))

			keys, err := s.List(ctx, "news/raw", 10)
			require.NoError(t, err)
			require.Equal(t, []string{"news/raw/a/1.json", "news/raw/a/3.json", "news/raw/b/2.json"}, keys)

			limited, err := s.List(ctx, "news/raw/a", 1)
			require.NoError(t, err)
			require.Len(t, limited, 1)

			partial, err := s.List(ctx, "news/ra", 10)
			require.NoError(t, err)
			require.Equal(t, keys, partial)

			market, err := s.List(ctx, "market/", 10)
			require.NoError(t, err)
			require.Equal(t, []string{"market/x/snapshot.json"}, market)

			empty, err := s.List(ctx, "logs", 10)
			require.NoError(t, err)
			require.Empty(t, empty)

			require.NoError(t, s.Delete(ctx, "news/raw/a/1.json"))
			require.NoError(t, s.Delete(ctx, "news/raw/a/1.json"))
			_, err = s.Get(ctx, "news/raw/a/1.json")
			require.ErrorIs(t, err, storage.ErrNotFound)

			// overwrite
			require.NoError(t, s.Put(ctx, "news/raw/b/2.json", []byte(`{"n":22}`)))
			got, err = s.Get(ctx, "news/raw/b/2.json")
			require.NoError(t, err)
			require.JSONEq(t, `{"n":22}`, string(got))
		})
	}
}

func TestPutJSONMergesEnvelope(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemory()
	created := time.Date(2024, 5, 6, 7, 8, 9, 0, time.FixedZone("CET", 3600))

	err := storage.PutJSON(ctx, s, "news/raw/x.json", map[string]any{"title": "hello"}, created, 14)
	require.NoError(t, err)

	var rec struct {
		Title string `json:"title"`
		storage.Envelope
	}
	require.NoError(t, storage.GetJSON(ctx, s, "news/raw/x.json", &rec))
	require.Equal(t, "hello", rec.Title)
	require.Equal(t, "2024-05-06T06:08:09Z", rec.CreatedAt)
	require.NotNil(t, rec.TTLDays)
	require.Equal(t, 14.0, *rec.TTLDays)
}

func TestPutJSONRejectsNonObjects(t *testing.T) {
	err := storage.PutJSON(context.Background(), storage.NewMemory(), "k.json", []int{1, 2}, time.Now(), 14)
	require.Error(t, err)
}

func TestGetJSONDecodeError(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemory()
	require.NoError(t, s.Put(ctx, "bad.json", []byte("not json")))

	var out map[string]any
	err := storage.GetJSON(ctx, s, "bad.json", &out)
	require.Error(t, err)
	require.NotErrorIs(t, err, storage.ErrNotFound)

	var syntaxErr *json.SyntaxError
	require.ErrorAs(t, err, &syntaxErr)
}

func TestKeys(t *testing.T) {
	at := time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC)
	require.Equal(t, "news/raw/coindesk/20240102/abc.json", storage.NewsKey("coindesk", at, "abc"))
	require.Equal(t, "news/clustered/20240102/cluster-123.json", storage.ClusterKey(at, "cluster-123"))
	require.Equal(t, "market/binance/BTCUSDT/2024010215/snapshot.json", storage.MarketKey("binance", "BTCUSDT", at))
}

func TestLocalRejectsEmptyKey(t *testing.T) {
	local, err := storage.NewLocal(t.TempDir(), nil)
	require.NoError(t, err)
	require.Error(t, local.Put(context.Background(), "", []byte("{}")))
	require.Error(t, local.Put(context.Background(), "dir/", []byte("{}")))
}
