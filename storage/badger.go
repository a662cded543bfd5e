package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const vectorKeyPrefix = "vec:"

// BadgerStore implements VectorStore using BadgerDB.
type BadgerStore struct {
	db     *badger.DB
	stopGC chan struct{}
}

type badgerRecord struct {
	Vector    []float32         `json:"vector"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp int64             `json:"timestamp"`
}

// NewBadgerStore opens (or creates) a badger-backed store at dataDir.
func NewBadgerStore(dataDir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dataDir).
		WithLogger(nil).
		WithLoggingLevel(badger.ERROR)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	s := &BadgerStore{db: db, stopGC: make(chan struct{})}
	go s.runGC()
	return s, nil
}

// runGC runs the value log garbage collector periodically.
func (s *BadgerStore) runGC() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			_ = s.db.RunValueLogGC(0.7)
		}
	}
}

func (s *BadgerStore) Insert(ctx context.Context, id string, vector []float32, metadata map[string]string, timestamp int64) error {
	_ = ctx
	data, err := json.Marshal(badgerRecord{Vector: vector, Metadata: metadata, Timestamp: timestamp})
	if err != nil {
		return fmt.Errorf("failed to encode record %q: %w", id, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(vectorKey(id), data)
	})
}

func (s *BadgerStore) Remove(ctx context.Context, id string) error {
	_ = ctx
	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(vectorKey(id))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
}

func (s *BadgerStore) Get(ctx context.Context, id string) ([]float32, map[string]string, int64, bool, error) {
	_ = ctx
	var rec badgerRecord
	var found bool

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(vectorKey(id))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return nil
			}
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		return nil, nil, 0, false, fmt.Errorf("failed to read record %q: %w", id, err)
	}
	if !found {
		return nil, nil, 0, false, nil
	}
	return rec.Vector, rec.Metadata, rec.Timestamp, true, nil
}

func (s *BadgerStore) Scan(ctx context.Context, fn func(id string, timestamp int64) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(vectorKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			id := strings.TrimPrefix(string(item.Key()), vectorKeyPrefix)
			var rec badgerRecord
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("failed to read record %q: %w", id, err)
			}
			if err := fn(id, rec.Timestamp); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BadgerStore) Stats(ctx context.Context) (Stats, error) {
	_ = ctx
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(vectorKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return Stats{}, err
	}
	return Stats{Count: count, Backend: "badger"}, nil
}

func (s *BadgerStore) Close() error {
	close(s.stopGC)
	return s.db.Close()
}

func vectorKey(id string) []byte {
	return []byte(vectorKeyPrefix + id)
}
