// internal/logcache/bolt.go
package logcache

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/tamzrod/classic-monitor/internal/device"
)

var bucketLogs = []byte("logs")

// Bolt is a Cache persisted in a BoltDB file, so a restart does not force
// a full log download.
type Bolt struct {
	db *bolt.DB
}

// OpenBolt opens or creates the database at path.
func OpenBolt(path string) (*Bolt, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketLogs)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &Bolt{db: db}, nil
}

func (b *Bolt) Get(key string) (*device.LogEntry, error) {
	var e device.LogEntry
	err := b.db.View(func(tx *bolt.Tx) error {
		bk := tx.Bucket(bucketLogs)
		if bk == nil {
			return fmt.Errorf("bucket %q not found", bucketLogs)
		}
		data := bk.Get([]byte(key))
		if data == nil {
			return fmt.Errorf("log %s: %w", key, ErrMiss)
		}
		return json.Unmarshal(data, &e)
	})
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (b *Bolt) Put(key string, e *device.LogEntry) error {
	if e == nil {
		return errors.New("logcache: nil entry")
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket(bucketLogs)
		if bk == nil {
			return fmt.Errorf("bucket %q not found", bucketLogs)
		}
		if data := bk.Get([]byte(key)); data != nil {
			var prev device.LogEntry
			if err := json.Unmarshal(data, &prev); err == nil && prev.Date.After(e.Date) {
				return nil
			}
		}
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		return bk.Put([]byte(key), data)
	})
}

func (b *Bolt) Delete(key string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket(bucketLogs)
		if bk == nil {
			return fmt.Errorf("bucket %q not found", bucketLogs)
		}
		return bk.Delete([]byte(key))
	})
}

// Close closes the database file.
func (b *Bolt) Close() error {
	return b.db.Close()
}
