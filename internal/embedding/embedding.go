// Package embedding is the optional semantic hook. The default embedder is
// "none"; when a real implementation is injected, bullet vectors are cached
// on disk and consulted by ranking and dedup.
package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/boshu2/cassmem/internal/fslock"
	"github.com/boshu2/cassmem/internal/storage"
)

// CacheFile is the bullet-vector cache, relative to the data dir.
const CacheFile = "embeddings/bullets.json"

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Name() string
}

// None is the default embedder: always unavailable.
type None struct{}

// Embed always fails; callers fall back to keyword overlap.
func (None) Embed(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("no embedding model configured")
}

// Name identifies the embedder.
func (None) Name() string { return "none" }

// Cache maps bullet id to vector, persisted as a single JSON file written
// through the atomic writer under its own lock.
type Cache struct {
	path    string
	vectors map[string][]float32
	logger  *zap.Logger
}

type cacheFile struct {
	Model   string               `json:"model"`
	Vectors map[string][]float32 `json:"vectors"`
}

// OpenCache loads the cache at dataDir, tolerating a missing or corrupt
// file by starting empty.
func OpenCache(dataDir string, logger *zap.Logger) *Cache {
	c := &Cache{
		path:    filepath.Join(dataDir, CacheFile),
		vectors: map[string][]float32{},
		logger:  logger,
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		return c
	}
	var cf cacheFile
	if err := json.Unmarshal(data, &cf); err != nil {
		logger.Warn("embedding cache corrupt, starting empty", zap.Error(err))
		return c
	}
	if cf.Vectors != nil {
		c.vectors = cf.Vectors
	}
	return c
}

// Get returns the cached vector for a bullet id, or nil.
func (c *Cache) Get(id string) []float32 {
	return c.vectors[id]
}

// Put stores a vector in memory. Save persists.
func (c *Cache) Put(id string, vec []float32) {
	c.vectors[id] = vec
}

// Len reports the number of cached vectors.
func (c *Cache) Len() int {
	return len(c.vectors)
}

// Save writes the cache under its own lock so concurrent processes do not
// clobber each other's vectors.
func (c *Cache) Save(model string) error {
	return fslock.WithLock(c.path, func() error {
		if err := storage.EnsureDir(filepath.Dir(c.path)); err != nil {
			return err
		}
		data, err := json.MarshalIndent(cacheFile{Model: model, Vectors: c.vectors}, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal embedding cache: %w", err)
		}
		return storage.AtomicWrite(c.path, data)
	})
}
