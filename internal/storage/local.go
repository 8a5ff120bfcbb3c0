package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// Local stores each record as a JSON file under root, with the key as its
// relative path.
type Local struct {
	root string
	log  *slog.Logger
}

// NewLocal creates root if needed.
func NewLocal(root string, logger *slog.Logger) (*Local, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Local{root: root, log: logger}, nil
}

func (l *Local) pathFor(key string) (string, error) {
	clean := path.Clean("/" + key)
	if clean == "/" || strings.HasSuffix(key, "/") {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return filepath.Join(l.root, filepath.FromSlash(clean[1:])), nil
}

func (l *Local) Put(_ context.Context, key string, payload []byte) error {
	p, err := l.pathFor(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", key, err)
	}

	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write %s: %w", key, err)
	}
	l.log.Debug("local storage put", "key", key)
	return nil
}

func (l *Local) Get(_ context.Context, key string) ([]byte, error) {
	p, err := l.pathFor(key)
	if err != nil {
		return nil, err
	}
	payload, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return payload, nil
}

// List matches keys by plain string prefix, like the other backends, so a
// prefix may end inside a path segment. Only directories that can hold a
// match are walked.
func (l *Local) List(_ context.Context, prefix string, limit int) ([]string, error) {
	limit = NormalizeLimit(limit)

	want := strings.TrimPrefix(path.Clean("/"+prefix), "/")
	if strings.HasSuffix(prefix, "/") && want != "" {
		want += "/"
	}
	start := ""
	if i := strings.LastIndex(want, "/"); i >= 0 {
		start = want[:i]
	}

	base := filepath.Join(l.root, filepath.FromSlash(start))
	if _, err := os.Stat(base); errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}

	keys := make([]string, 0)
	err := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(l.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if d.IsDir() {
			if key == "." || strings.HasPrefix(key+"/", want) || strings.HasPrefix(want, key+"/") {
				return nil
			}
			return filepath.SkipDir
		}
		if filepath.Ext(p) == ".json" && strings.HasPrefix(key, want) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}

	sort.Strings(keys)
	if len(keys) > limit {
		keys = keys[:limit]
	}
	return keys, nil
}

func (l *Local) Delete(_ context.Context, key string) error {
	p, err := l.pathFor(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	l.log.Debug("local storage delete", "key", key)
	return nil
}
