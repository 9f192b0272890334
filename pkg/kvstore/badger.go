package kvstore

import (
	"errors"

	badger "github.com/dgraph-io/badger/v4"
	pkgerrors "github.com/pkg/errors"
)

// BadgerStore is a small KV wrapper over Badger, optionally encrypted at rest.
// Encryption is provided by Badger options (value log + key registry), not by this wrapper.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens (or creates) a Badger database at path.
func OpenBadger(path string, encryptionKey []byte, readOnly bool) (*BadgerStore, error) {
	bopts := badger.DefaultOptions(path).
		WithLogger(nil).
		WithReadOnly(readOnly)
	if len(encryptionKey) > 0 {
		// Badger requires index cache for encrypted workloads
		bopts = bopts.
			WithEncryptionKey(encryptionKey).
			WithIndexCacheSize(16 << 20)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "kvstore: open badger")
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *BadgerStore) Get(key string) (string, bool, error) {
	if s == nil || s.db == nil {
		return "", false, ErrClosed
	}
	k, err := normalizeKey(key)
	if err != nil {
		return "", false, err
	}
	var (
		out   string
		found bool
	)
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(k))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			out = string(val)
			return nil
		})
	})
	if err != nil {
		return "", false, pkgerrors.Wrapf(err, "kvstore: badger get %s", k)
	}
	return out, found, nil
}

func (s *BadgerStore) Set(key, value string) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	k, err := normalizeKey(key)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(k), []byte(value))
	})
}

func (s *BadgerStore) Delete(key string) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	k, err := normalizeKey(key)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(k))
	})
}
