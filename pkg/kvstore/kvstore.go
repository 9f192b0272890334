// Package kvstore 提供本地键值持久化（会话 token / 用户信息），支持多种后端。
package kvstore

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Store 键值存储。Get 在 key 不存在时返回 ("", false, nil)。
type Store interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(key string) error
	Close() error
}

// 支持的驱动
const (
	DriverBadger = "badger"
	DriverPebble = "pebble"
	DriverSQLite = "sqlite"
	DriverFile   = "file"
	DriverMemory = "memory"
)

var (
	// ErrKeyEmpty key 为空
	ErrKeyEmpty = errors.New("kvstore: key is empty")
	// ErrClosed 存储未打开或已关闭
	ErrClosed = errors.New("kvstore: not opened")
)

// Options 打开存储的参数
type Options struct {
	Driver        string
	Path          string
	EncryptionKey []byte // 仅 badger 支持；32 bytes
	ReadOnly      bool
}

// Open 按驱动打开存储
func Open(opts Options) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(opts.Driver))
	if driver == "" {
		driver = DriverBadger
	}
	if driver != DriverMemory && strings.TrimSpace(opts.Path) == "" {
		return nil, errors.Errorf("kvstore: path is required for driver %s", driver)
	}
	if len(opts.EncryptionKey) > 0 && driver != DriverBadger {
		return nil, errors.Errorf("kvstore: encryption is only supported by the %s driver", DriverBadger)
	}

	switch driver {
	case DriverBadger:
		return OpenBadger(opts.Path, opts.EncryptionKey, opts.ReadOnly)
	case DriverPebble:
		return OpenPebble(opts.Path)
	case DriverSQLite:
		return OpenSQLite(opts.Path)
	case DriverFile:
		return NewFileStore(opts.Path), nil
	case DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, errors.Errorf("kvstore: unsupported driver %q", opts.Driver)
	}
}

func normalizeKey(key string) (string, error) {
	k := strings.TrimSpace(key)
	if k == "" {
		return "", ErrKeyEmpty
	}
	return k, nil
}

// ParseKey expects 32 bytes (base64 or hex). Returns nil if input is empty.
func ParseKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	rawHex := strings.TrimPrefix(raw, "0x")
	if b, err := hex.DecodeString(rawHex); err == nil {
		if len(b) != 32 {
			return nil, fmt.Errorf("decoded key length must be 32, got %d", len(b))
		}
		return b, nil
	}
	if b, err := base64.StdEncoding.DecodeString(raw); err == nil {
		if len(b) != 32 {
			return nil, fmt.Errorf("decoded key length must be 32, got %d", len(b))
		}
		return b, nil
	}
	return nil, errors.New("key must be base64(32 bytes) or hex(32 bytes)")
}
