package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kilupskalvis/recordfetch/internal/models"
	bolt "go.etcd.io/bbolt"
)

// Bucket names used by the record cache.
var (
	bucketResources = []byte("resources")
	bucketKV        = []byte("kv")
)

// BoltCache persists merged resources in a single bbolt file so a new
// process can warm-load the store. Keys are "type/id", values are the
// resource encoded as JSON.
type BoltCache struct {
	db *bolt.DB
}

var _ Persister = (*BoltCache)(nil)

// OpenBoltCache opens or creates a bbolt database at the given path.
func OpenBoltCache(dbPath string) (*BoltCache, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create cache directory: %w", err)
		}
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketResources, bucketKV} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, err
	}

	return &BoltCache{db: db}, nil
}

// Close closes the database.
func (c *BoltCache) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Save writes resources in one transaction. Attributes and relationships
// are merged into any existing entry, matching the in-memory push.
func (c *BoltCache) Save(resources []*models.Resource) error {
	if len(resources) == 0 {
		return nil
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketResources)
		for _, res := range resources {
			key := []byte(res.Key())
			merged := &models.Resource{
				ID:            res.ID,
				Type:          res.Type,
				Attributes:    make(map[string]interface{}),
				Relationships: make(map[string]interface{}),
			}
			if existing := b.Get(key); existing != nil {
				if err := json.Unmarshal(existing, merged); err != nil {
					return fmt.Errorf("decode cached %s: %w", res.Key(), err)
				}
				if merged.Attributes == nil {
					merged.Attributes = make(map[string]interface{})
				}
				if merged.Relationships == nil {
					merged.Relationships = make(map[string]interface{})
				}
			}
			for k, v := range res.Attributes {
				merged.Attributes[k] = v
			}
			for k, v := range res.Relationships {
				merged.Relationships[k] = v
			}

			data, err := json.Marshal(merged)
			if err != nil {
				return fmt.Errorf("encode %s: %w", res.Key(), err)
			}
			if err := b.Put(key, data); err != nil {
				return fmt.Errorf("put %s: %w", res.Key(), err)
			}
		}
		return nil
	})
}

// Delete removes one resource.
func (c *BoltCache) Delete(typeName, id string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketResources).Delete([]byte(models.RecordKey(typeName, id)))
	})
}

// LoadAll returns every cached resource in key order.
func (c *BoltCache) LoadAll() ([]*models.Resource, error) {
	var resources []*models.Resource
	err := c.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketResources).ForEach(func(k, v []byte) error {
			var res models.Resource
			if err := json.Unmarshal(v, &res); err != nil {
				return fmt.Errorf("decode cached %s: %w", k, err)
			}
			resources = append(resources, &res)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return resources, nil
}

// Stats returns the number of cached resources per type.
func (c *BoltCache) Stats() (map[string]int, error) {
	counts := make(map[string]int)
	err := c.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketResources).ForEach(func(_, v []byte) error {
			var res models.Resource
			if err := json.Unmarshal(v, &res); err != nil {
				return err
			}
			counts[res.Type]++
			return nil
		})
	})
	return counts, err
}

// GetValue gets a value from the key-value bucket.
func (c *BoltCache) GetValue(key string) (string, error) {
	var val string
	err := c.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketKV).Get([]byte(key)); v != nil {
			val = string(v)
		}
		return nil
	})
	return val, err
}

// SetValue sets a value in the key-value bucket.
func (c *BoltCache) SetValue(key, value string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketKV).Put([]byte(key), []byte(value))
	})
}
