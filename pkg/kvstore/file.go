package kvstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/pkg/errors"
)

// FileStore 每个 key 一个 JSON 文件，写入使用 tmp + rename 保证原子性
type FileStore struct {
	baseDir string
	mu      sync.Mutex
}

type fileRecord struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

var keySanitizer = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

func NewFileStore(baseDir string) *FileStore {
	return &FileStore{baseDir: baseDir}
}

func (s *FileStore) filePath(key string) string {
	safe := keySanitizer.ReplaceAllString(key, "_")
	return filepath.Join(s.baseDir, safe+".json")
}

func (s *FileStore) Get(key string) (string, bool, error) {
	k, err := normalizeKey(key)
	if err != nil {
		return "", false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.filePath(k))
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, errors.Wrapf(err, "kvstore: read %s", k)
	}
	if len(b) == 0 {
		return "", false, nil
	}
	var rec fileRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return "", false, errors.Wrapf(err, "kvstore: decode %s", k)
	}
	return rec.Value, true, nil
}

func (s *FileStore) Set(key, value string) error {
	k, err := normalizeKey(key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.baseDir, 0o700); err != nil {
		return errors.Wrap(err, "kvstore: create dir")
	}
	b, err := json.Marshal(fileRecord{Key: k, Value: value})
	if err != nil {
		return err
	}
	path := s.filePath(k)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return errors.Wrapf(err, "kvstore: write %s", k)
	}
	return os.Rename(tmp, path)
}

func (s *FileStore) Delete(key string) error {
	k, err := normalizeKey(key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.filePath(k)); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "kvstore: delete %s", k)
	}
	return nil
}

func (s *FileStore) Close() error { return nil }
