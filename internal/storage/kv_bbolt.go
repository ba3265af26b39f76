package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"go.etcd.io/bbolt"
)

var metadataBucket = []byte("streams")

// BboltKV is the bbolt-backed hot-tier metadata store (spec §4.C),
// grounded on the teacher's BboltMetadataStore. Every Mutate call runs
// inside a single bbolt.Tx, giving the read-modify-write cycle the
// all-or-nothing commit the spec requires.
type BboltKV struct {
	db *bbolt.DB
}

// NewBboltKV opens (creating if needed) a bbolt database under dataDir.
func NewBboltKV(dataDir string) (*BboltKV, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create data dir: %w", err)
	}
	db, err := bbolt.Open(filepath.Join(dataDir, "streams.db"), 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: open bbolt: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(metadataBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: create bucket: %w", err)
	}
	return &BboltKV{db: db}, nil
}

func (k *BboltKV) Mutate(path string, fn func(current []byte, exists bool) ([]byte, bool, error)) error {
	return k.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(metadataBucket)
		current := b.Get([]byte(path))
		exists := current != nil
		var currentCopy []byte
		if exists {
			currentCopy = make([]byte, len(current))
			copy(currentCopy, current)
		}
		next, del, err := fn(currentCopy, exists)
		if err != nil {
			return err
		}
		if del {
			return b.Delete([]byte(path))
		}
		if next != nil {
			return b.Put([]byte(path), next)
		}
		return nil
	})
}

func (k *BboltKV) Get(path string) ([]byte, bool, error) {
	var out []byte
	err := k.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(metadataBucket).Get([]byte(path))
		if v != nil {
			out = make([]byte, len(v))
			copy(out, v)
		}
		return nil
	})
	return out, out != nil, err
}

func (k *BboltKV) ForEach(fn func(path string, data []byte) error) error {
	return k.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(metadataBucket).ForEach(func(key, value []byte) error {
			return fn(string(key), value)
		})
	})
}

func (k *BboltKV) Close() error {
	return k.db.Close()
}
