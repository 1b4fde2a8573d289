package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spherical/mdload/internal/domain"
	"github.com/spherical/mdload/internal/observability"
)

// DefaultDir is used when no cache directory is configured.
const DefaultDir = ".mdload_cache"

type fileEntry struct {
	Text *string `json:"text"`
}

// FileStore keeps one JSON file per key in a directory.
type FileStore struct {
	dir    string
	logger *observability.Logger
}

// NewFileStore creates the cache directory if needed.
func NewFileStore(dir string, logger *observability.Logger) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		dir = DefaultDir
	}
	if logger == nil {
		logger = observability.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, domain.CacheIOError(fmt.Sprintf("create cache dir %s", dir), err)
	}
	return &FileStore{dir: dir, logger: logger}, nil
}

// Dir returns the cache directory.
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, key+".json")
}

// Get reads an entry. Unreadable or malformed files are misses.
func (s *FileStore) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrMiss
		}
		s.logger.Warn().Err(err).Str("key", key).Msg("Unreadable cache entry, treating as miss")
		return "", ErrMiss
	}

	var entry fileEntry
	if err := json.Unmarshal(data, &entry); err != nil || entry.Text == nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("Corrupt cache entry, treating as miss")
		return "", ErrMiss
	}
	return *entry.Text, nil
}

// Put writes the entry to a temp file in the cache directory and renames it
// into place, so readers never see a partial entry.
func (s *FileStore) Put(ctx context.Context, key, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(fileEntry{Text: &text})
	if err != nil {
		return domain.CacheIOError("encode cache entry", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".tmp-"+key+"-*")
	if err != nil {
		return domain.CacheIOError("create temp cache entry", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return domain.CacheIOError("write temp cache entry", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return domain.CacheIOError("sync temp cache entry", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return domain.CacheIOError("close temp cache entry", err)
	}
	if err := os.Rename(tmpPath, s.path(key)); err != nil {
		_ = os.Remove(tmpPath)
		return domain.CacheIOError("commit cache entry", err)
	}
	return nil
}

// Purge deletes the whole cache directory and recreates it empty.
func (s *FileStore) Purge(_ context.Context) error {
	if err := os.RemoveAll(s.dir); err != nil {
		return domain.CacheIOError("purge cache dir", err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return domain.CacheIOError("recreate cache dir", err)
	}
	return nil
}

func (s *FileStore) Close() error { return nil }
