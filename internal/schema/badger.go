package schema

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/klauspost/compress/zstd"
)

const badgerKeyPrefix = "schema_context/"

// BadgerCache persists contexts as zstd-compressed JSON with native TTL so
// cached schema survives restarts of a single-node deployment.
type BadgerCache struct {
	db      *badger.DB
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// OpenBadgerCache opens dir, or an in-memory store when dir is empty.
func OpenBadgerCache(dir string) (*BadgerCache, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger schema cache: %w", err)
	}
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &BadgerCache{db: db, encoder: encoder, decoder: decoder}, nil
}

func (c *BadgerCache) Get(_ context.Context, tenantID string) (Context, bool, error) {
	var compressed []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(badgerKeyPrefix + tenantID))
		if err != nil {
			return err
		}
		compressed, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Context{}, false, nil
	}
	if err != nil {
		return Context{}, false, fmt.Errorf("read cached schema context: %w", err)
	}

	payload, err := c.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return Context{}, false, fmt.Errorf("decompress cached schema context: %w", err)
	}
	var value Context
	if err := json.Unmarshal(payload, &value); err != nil {
		return Context{}, false, fmt.Errorf("decode cached schema context: %w", err)
	}
	return value, true, nil
}

func (c *BadgerCache) Set(_ context.Context, tenantID string, value Context, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode schema context: %w", err)
	}
	compressed := c.encoder.EncodeAll(payload, nil)
	return c.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(badgerKeyPrefix+tenantID), compressed).WithTTL(ttl)
		return txn.SetEntry(entry)
	})
}

func (c *BadgerCache) Close() error {
	c.decoder.Close()
	if err := c.encoder.Close(); err != nil {
		_ = c.db.Close()
		return err
	}
	return c.db.Close()
}
