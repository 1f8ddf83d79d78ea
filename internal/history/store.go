// Package history persists per-model launch counters and last-used launch
// configuration in an embedded badger store. Entries survive instance stop
// and daemon restart.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"modelzoo/pkg/types"
)

const keyPrefix = "launch/"

// Store wraps the badger database. Updates to the same key serialize via
// transaction conflict retry; different keys do not block each other.
type Store struct {
	db  *badger.DB
	log zerolog.Logger
}

// Open opens (or creates) the store at dir.
func Open(dir string, log zerolog.Logger) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open history store: %w", err)
	}
	return &Store{db: db, log: log.With().Str("component", "history").Logger()}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Key builds the canonical history key for a model.
func Key(zooName, modelName string) string {
	return zooName + ":" + modelName
}

// Lookup returns the entry for key, reporting whether one exists. It never
// blocks on concurrent writers.
func (s *Store) Lookup(zooName, modelName string) (types.LaunchHistoryEntry, bool, error) {
	var entry types.LaunchHistoryEntry
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + Key(zooName, modelName)))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	if err != nil {
		return types.LaunchHistoryEntry{}, false, fmt.Errorf("history lookup: %w", err)
	}
	return entry, found, nil
}

// Record applies one accepted launch: increments the counter, stamps the
// time and overwrites the last-used runtime, environments and params. Safe
// under concurrent calls; last writer by arrival order wins on the
// overwritten fields.
func (s *Store) Record(zooName, modelName, runtime string, envNames []string, params map[string]any) error {
	key := []byte(keyPrefix + Key(zooName, modelName))
	for {
		err := s.db.Update(func(txn *badger.Txn) error {
			entry := types.LaunchHistoryEntry{ZooName: zooName, ModelName: modelName}
			item, err := txn.Get(key)
			if err == nil {
				if verr := item.Value(func(val []byte) error {
					return json.Unmarshal(val, &entry)
				}); verr != nil {
					return verr
				}
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			entry.LaunchCount++
			entry.LastLaunch = time.Now()
			entry.LastRuntime = runtime
			entry.LastEnvironment = append([]string(nil), envNames...)
			entry.LastParams = params
			raw, err := json.Marshal(entry)
			if err != nil {
				return err
			}
			return txn.Set(key, raw)
		})
		if errors.Is(err, badger.ErrConflict) {
			// Another launch of the same model won the race; re-apply on
			// top of its result.
			continue
		}
		if err != nil {
			return fmt.Errorf("history record: %w", err)
		}
		s.log.Debug().Str("key", Key(zooName, modelName)).Msg("launch recorded")
		return nil
	}
}
