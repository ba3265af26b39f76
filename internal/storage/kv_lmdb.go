package storage

import (
	"fmt"
	"os"
	"runtime"

	"github.com/PowerDNS/lmdb-go/lmdb"
)

// LmdbKV is the LMDB-backed alternate hot-tier metadata store (spec
// §4.C), grounded on the teacher's LMDBMetadataStore. Offered as a
// configurable backend alongside bbolt for deployments that prefer
// LMDB's mmap-based reads.
type LmdbKV struct {
	env *lmdb.Env
	dbi lmdb.DBI
}

// NewLmdbKV opens (creating if needed) an LMDB environment under dataDir.
func NewLmdbKV(dataDir string) (*LmdbKV, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create data dir: %w", err)
	}
	env, err := lmdb.NewEnv()
	if err != nil {
		return nil, fmt.Errorf("storage: create lmdb env: %w", err)
	}
	if err := env.SetMapSize(1 << 30); err != nil {
		env.Close()
		return nil, fmt.Errorf("storage: set lmdb map size: %w", err)
	}
	if err := env.SetMaxDBs(1); err != nil {
		env.Close()
		return nil, fmt.Errorf("storage: set lmdb max dbs: %w", err)
	}
	if err := env.Open(dataDir, 0, 0o755); err != nil {
		env.Close()
		return nil, fmt.Errorf("storage: open lmdb env: %w", err)
	}

	var dbi lmdb.DBI
	err = env.Update(func(txn *lmdb.Txn) error {
		var err error
		dbi, err = txn.OpenDBI("streams", lmdb.Create)
		return err
	})
	if err != nil {
		env.Close()
		return nil, fmt.Errorf("storage: open lmdb dbi: %w", err)
	}
	return &LmdbKV{env: env, dbi: dbi}, nil
}

func (k *LmdbKV) Mutate(path string, fn func(current []byte, exists bool) ([]byte, bool, error)) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	return k.env.Update(func(txn *lmdb.Txn) error {
		current, getErr := txn.Get(k.dbi, []byte(path))
		exists := getErr == nil
		if getErr != nil && !lmdb.IsNotFound(getErr) {
			return getErr
		}
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
			if !exists {
				return nil
			}
			return txn.Del(k.dbi, []byte(path), nil)
		}
		if next != nil {
			return txn.Put(k.dbi, []byte(path), next, 0)
		}
		return nil
	})
}

func (k *LmdbKV) Get(path string) ([]byte, bool, error) {
	var out []byte
	err := k.env.View(func(txn *lmdb.Txn) error {
		data, err := txn.Get(k.dbi, []byte(path))
		if lmdb.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		out = make([]byte, len(data))
		copy(out, data)
		return nil
	})
	return out, out != nil, err
}

func (k *LmdbKV) ForEach(fn func(path string, data []byte) error) error {
	return k.env.View(func(txn *lmdb.Txn) error {
		cur, err := txn.OpenCursor(k.dbi)
		if err != nil {
			return err
		}
		defer cur.Close()
		for {
			key, val, err := cur.Get(nil, nil, lmdb.Next)
			if lmdb.IsNotFound(err) {
				return nil
			}
			if err != nil {
				return err
			}
			if err := fn(string(key), val); err != nil {
				return err
			}
		}
	})
}

func (k *LmdbKV) Close() error {
	k.env.CloseDBI(k.dbi)
	return k.env.Close()
}
