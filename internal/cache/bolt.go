package cache

import (
	"context"
	"encoding/binary"
	"fmt"
	"path"
	"time"

	"go.etcd.io/bbolt"
)

var bucketCache = []byte("cache")

// BoltCache кеш для одного узла на основе BoltDB.
// Каждое значение хранится с 8-байтовым префиксом - временем истечения (unix nano, 0 = бессрочно).
type BoltCache struct {
	db  *bbolt.DB
	now func() time.Time
}

// NewBoltCache открывает (или создает) файл кеша
func NewBoltCache(dbPath string) (*BoltCache, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("bolt cache path is empty")
	}

	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketCache)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create cache bucket: %w", err)
	}

	return &BoltCache{db: db, now: time.Now}, nil
}

// Get возвращает значение, если оно есть и не истекло
func (c *BoltCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	expired := false

	err := c.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketCache).Get([]byte(key))
		if len(raw) < 8 {
			return nil
		}

		expiresAt := int64(binary.BigEndian.Uint64(raw[:8]))
		if expiresAt != 0 && c.now().UnixNano() >= expiresAt {
			expired = true
			return nil
		}

		// Данные bbolt валидны только внутри транзакции
		value = append([]byte(nil), raw[8:]...)
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache: %w", err)
	}

	if expired {
		// Ленивая очистка истекшей записи
		_ = c.db.Update(func(tx *bbolt.Tx) error {
			return tx.Bucket(bucketCache).Delete([]byte(key))
		})
		return nil, false, nil
	}

	return value, value != nil, nil
}

// Set сохраняет значение с TTL
func (c *BoltCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt int64
	if ttl > 0 {
		expiresAt = c.now().Add(ttl).UnixNano()
	}

	raw := make([]byte, 8+len(value))
	binary.BigEndian.PutUint64(raw[:8], uint64(expiresAt))
	copy(raw[8:], value)

	err := c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketCache).Put([]byte(key), raw)
	})
	if err != nil {
		return fmt.Errorf("failed to write cache: %w", err)
	}

	return nil
}

// InvalidatePattern удаляет все ключи, подходящие под шаблон
func (c *BoltCache) InvalidatePattern(ctx context.Context, pattern string) error {
	if _, err := path.Match(pattern, ""); err != nil {
		return fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}

	err := c.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketCache)

		var matched [][]byte
		err := bucket.ForEach(func(k, _ []byte) error {
			if ok, _ := path.Match(pattern, string(k)); ok {
				matched = append(matched, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}

		// Удаляем после обхода: изменять bucket во время ForEach нельзя
		for _, k := range matched {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to invalidate cache: %w", err)
	}

	return nil
}

// Close closes the database
func (c *BoltCache) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}
