package kvstore

import (
	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"
)

// PebbleStore stores keys in a Pebble LSM, synced on every write.
type PebbleStore struct {
	db *pebble.DB
}

func OpenPebble(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrap(err, "kvstore: open pebble")
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PebbleStore) Get(key string) (string, bool, error) {
	if s == nil || s.db == nil {
		return "", false, ErrClosed
	}
	k, err := normalizeKey(key)
	if err != nil {
		return "", false, err
	}
	val, closer, err := s.db.Get([]byte(k))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return "", false, nil
		}
		return "", false, errors.Wrapf(err, "kvstore: pebble get %s", k)
	}
	defer closer.Close()
	// val is only valid until closer.Close()
	return string(val), true, nil
}

func (s *PebbleStore) Set(key, value string) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	k, err := normalizeKey(key)
	if err != nil {
		return err
	}
	return s.db.Set([]byte(k), []byte(value), pebble.Sync)
}

func (s *PebbleStore) Delete(key string) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	k, err := normalizeKey(key)
	if err != nil {
		return err
	}
	return s.db.Delete([]byte(k), pebble.Sync)
}
