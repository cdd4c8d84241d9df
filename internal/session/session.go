// Package session persists conversation snapshots in BadgerDB so a chat
// can be resumed across process restarts.
package session

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	apperrors "github.com/nuwa-labs/nuwa/internal/errors"
	"github.com/nuwa-labs/nuwa/internal/llm"
)

const keyPrefix = "session:"

// Store wraps a Badger database holding session snapshots.
type Store struct {
	db     *badger.DB
	ttl    time.Duration
	logger *zap.Logger
}

// Open opens (or creates) the session database at path. Snapshots expire
// after ttl; zero means keep forever.
func Open(path string, ttl time.Duration, logger *zap.Logger) (*Store, error) {
	opts := badger.DefaultOptions(path).
		WithLogger(nil).
		WithNumVersionsToKeep(1).
		WithCompactL0OnClose(true).
		WithValueLogFileSize(16 << 20).
		WithMemTableSize(16 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, apperrors.Wrap(err, "SESSION_001", "failed to open session store")
	}

	return &Store{db: db, ttl: ttl, logger: logger}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save writes a snapshot of the conversation under the session ID.
func (s *Store) Save(id string, messages []llm.Message) error {
	data, err := json.Marshal(messages)
	if err != nil {
		return apperrors.Wrap(err, "SESSION_001", "failed to encode session")
	}

	return s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(keyPrefix+id), data)
		if s.ttl > 0 {
			entry = entry.WithTTL(s.ttl)
		}
		return txn.SetEntry(entry)
	})
}

// Load reads a snapshot back.
func (s *Store) Load(id string) ([]llm.Message, error) {
	var messages []llm.Message

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &messages)
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, apperrors.New("SESSION_001", "session not found: "+id)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, "SESSION_001", "failed to load session")
	}
	return messages, nil
}

// Delete removes a snapshot. Deleting a missing session is not an error.
func (s *Store) Delete(id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(keyPrefix + id))
	})
}

// List returns the IDs of all stored sessions.
func (s *Store) List() ([]string, error) {
	var ids []string

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := string(it.Item().Key())
			ids = append(ids, strings.TrimPrefix(key, keyPrefix))
		}
		return nil
	})
	if err != nil {
		return nil, apperrors.Wrap(err, "SESSION_001", "failed to list sessions")
	}
	return ids, nil
}

// RunGC triggers Badger value log garbage collection. Used by the
// maintenance job.
func (s *Store) RunGC() {
	for {
		if err := s.db.RunValueLogGC(0.5); err != nil {
			return
		}
	}
}
