// Package store persists runtime state between sessions.
//
// Settings live in the JSON config file; this store holds the values the
// application itself writes while running: the current lifecycle state and
// the last calibrated baseline.
package store

import (
	"errors"
	"fmt"
	"strconv"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/soundsense/soundsense/state"
)

var (
	keyAppState = []byte("app-state")
	keyBaseline = []byte("baseline-volume")
)

// Store is a badger-backed key/value store.
type Store struct {
	db *badger.DB
}

// New opens (or creates) a store at the given directory.
func New(path string) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveAppState persists the lifecycle state. Implements state.Persister.
func (s *Store) SaveAppState(st state.State) error {
	return s.set(keyAppState, []byte(st))
}

// LoadAppState returns the persisted lifecycle state, or ok=false if none
// was stored.
func (s *Store) LoadAppState() (state.State, bool, error) {
	v, ok, err := s.get(keyAppState)
	if err != nil || !ok {
		return "", ok, err
	}
	return state.State(v), true, nil
}

// SaveBaseline persists the calibrated baseline volume.
func (s *Store) SaveBaseline(baseline float64) error {
	return s.set(keyBaseline, []byte(strconv.FormatFloat(baseline, 'g', -1, 64)))
}

// LoadBaseline returns the persisted baseline, or ok=false if none was
// stored.
func (s *Store) LoadBaseline() (float64, bool, error) {
	v, ok, err := s.get(keyBaseline)
	if err != nil || !ok {
		return 0, ok, err
	}
	baseline, err := strconv.ParseFloat(string(v), 64)
	if err != nil {
		return 0, false, fmt.Errorf("parse baseline: %w", err)
	}
	return baseline, true, nil
}

func (s *Store) set(key, value []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

func (s *Store) get(key []byte) ([]byte, bool, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
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
		return nil, false, err
	}
	return out, true, nil
}
