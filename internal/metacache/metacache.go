// Package metacache persists deck metadata between ingestion runs so decks
// scraped without their tournament context can still be enriched later.
package metacache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"

	"github.com/arclabs561/decksage-sub002/internal/ingest"
	"github.com/arclabs561/decksage-sub002/internal/logger"
)

const keyPrefix = "deck/"

type Config struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string

	InMemory   bool
	SyncWrites bool

	// GCDiscardRatio is passed to value log GC runs.
	GCDiscardRatio float64
}

func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCDiscardRatio: 0.5,
	}
}

func InMemoryConfig() Config {
	return Config{InMemory: true, GCDiscardRatio: 0.5}
}

// badgerLogger routes badger's printf-style logging to slog.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Cache is a badger-backed ingest.MetadataCache.
type Cache struct {
	db    *badger.DB
	ratio float64
}

var _ ingest.MetadataCache = (*Cache)(nil)

func Open(cfg Config) (*Cache, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent metadata cache")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create cache directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(&badgerLogger{logger: logger.Logger().With("component", "metacache")})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open metadata cache: %w", err)
	}
	return &Cache{db: db, ratio: cfg.GCDiscardRatio}, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

func key(deckID string) []byte {
	return []byte(keyPrefix + deckID)
}

func (c *Cache) Get(ctx context.Context, deckID string) (ingest.DeckMetadata, bool, error) {
	var meta ingest.DeckMetadata
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(deckID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &meta)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ingest.DeckMetadata{}, false, nil
	}
	if err != nil {
		return ingest.DeckMetadata{}, false, fmt.Errorf("get metadata %s: %w", deckID, err)
	}
	return meta, true, nil
}

func (c *Cache) Put(ctx context.Context, deckID string, meta ingest.DeckMetadata) error {
	if deckID == "" {
		return errors.New("deck id is required")
	}
	val, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(deckID), val)
	})
}

// PutBatch writes many entries in one batch; used when importing a
// metadata file ahead of a large ingest.
func (c *Cache) PutBatch(ctx context.Context, entries map[string]ingest.DeckMetadata) error {
	wb := c.db.NewWriteBatch()
	defer wb.Cancel()

	for id, meta := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		val, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("encode metadata %s: %w", id, err)
		}
		if err := wb.Set(key(id), val); err != nil {
			return err
		}
	}
	return wb.Flush()
}

func (c *Cache) Delete(ctx context.Context, deckID string) error {
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(deckID))
	})
}

// Len counts cached decks by walking keys only.
func (c *Cache) Len() (int, error) {
	n := 0
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// CollectGarbage runs value log GC until there is nothing left to rewrite.
func (c *Cache) CollectGarbage() error {
	if c.db.Opts().InMemory {
		return nil
	}
	for {
		err := c.db.RunValueLogGC(c.ratio)
		if errors.Is(err, badger.ErrNoRewrite) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
