package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"aeo-audit/pkg/log"
	"aeo-audit/pkg/utils"
)

// BadgerKV implements KV on BadgerDB. Expiry is delegated to badger entry TTLs.
type BadgerKV struct {
	db  *badger.DB
	log *logrus.Entry
}

// NewBadgerKV opens a KV at dir, or an in-memory one when dir is empty
func NewBadgerKV(dir string, logger *logrus.Entry) (*BadgerKV, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
		logger.Info("Initializing in-memory cache")
	} else {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("%w: cannot create cache directory %s: %w", utils.ErrCache, dir, err)
		}
		opts = badger.DefaultOptions(dir)
		logger.Infof("Initializing cache at: %s", dir)
	}
	opts = opts.
		WithLogger(log.NewBadgerLogrusAdapter(logger)).
		WithNumVersionsToKeep(1)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open badger database: %w", utils.ErrCache, err)
	}
	return &BadgerKV{db: db, log: logger}, nil
}

const maxConflictRetries = 10

// dbUpdate wraps db.Update with a retry loop for BadgerDB transaction conflicts.
// Conflicting MVCC transactions resolve quickly, so a tight loop is enough.
func (s *BadgerKV) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := range maxConflictRetries {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debugf("BadgerDB transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("%w: transaction conflict not resolved after %d retries", utils.ErrCache, maxConflictRetries)
}

// Get implements KV
func (s *BadgerKV) Get(key string) ([]byte, bool, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: getting key '%s': %w", utils.ErrCache, key, err)
	}
	return out, true, nil
}

// Set implements KV. ttl <= 0 stores without expiry.
func (s *BadgerKV) Set(key string, value []byte, ttl time.Duration) error {
	err := s.dbUpdate(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(key), value)
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		s.log.WithField("key", key).Errorf("DB Update error in Set: %v", err)
		return fmt.Errorf("%w: setting key '%s': %w", utils.ErrCache, key, err)
	}
	return nil
}

// Delete implements KV
func (s *BadgerKV) Delete(key string) error {
	err := s.dbUpdate(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("%w: deleting key '%s': %w", utils.ErrCache, key, err)
	}
	return nil
}

// RunGC runs BadgerDB's value log garbage collection until ctx ends
func (s *BadgerKV) RunGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if s.db.IsClosed() {
				return
			}
			var err error
			for err == nil {
				err = s.db.RunValueLogGC(0.5)
			}
			if !errors.Is(err, badger.ErrNoRewrite) && !errors.Is(err, badger.ErrGCInMemoryMode) {
				s.log.Errorf("BadgerDB GC error: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Close implements KV
func (s *BadgerKV) Close() error {
	if s.db == nil || s.db.IsClosed() {
		return nil
	}
	return s.db.Close()
}
