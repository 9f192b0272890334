package kvstore

import (
	"database/sql"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps keys in a single `kv` table.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "kvstore: create sqlite dir")
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "kvstore: open sqlite")
	}
	// modernc sqlite: 单连接避免 "database is locked"
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS kv (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "kvstore: migrate sqlite")
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) Get(key string) (string, bool, error) {
	if s == nil || s.db == nil {
		return "", false, ErrClosed
	}
	k, err := normalizeKey(key)
	if err != nil {
		return "", false, err
	}
	var out string
	err = s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, k).Scan(&out)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "kvstore: sqlite get %s", k)
	}
	return out, true, nil
}

func (s *SQLiteStore) Set(key, value string) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	k, err := normalizeKey(key)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, k, value)
	return errors.Wrapf(err, "kvstore: sqlite set %s", k)
}

func (s *SQLiteStore) Delete(key string) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	k, err := normalizeKey(key)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`DELETE FROM kv WHERE key = ?`, k)
	return errors.Wrapf(err, "kvstore: sqlite delete %s", k)
}
