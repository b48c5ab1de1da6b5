// Package store provides the small key/value persistence used to resume a
// privacy payload and pending bridge orders across restarts.
package store

import (
	"errors"
	"fmt"
	"strings"
)

var ErrNotFound = errors.New("key not found")

const (
	DriverFile    = "file"
	DriverLevelDB = "leveldb"
)

// KV is a string-keyed byte store
type KV interface {
	Get(key string) ([]byte, error)
	Put(key string, value []byte) error
	Delete(key string) error
	Keys(prefix string) ([]string, error)
	Close() error
}

// Open opens the configured driver at path
func Open(driver, path string) (KV, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverFile:
		return NewFileKV(path)
	case DriverLevelDB:
		return NewLevelKV(path)
	default:
		return nil, fmt.Errorf("unknown store driver: %s", driver)
	}
}

// Scoped prefixes every key with a namespace
type Scoped struct {
	kv     KV
	prefix string
}

// NewScoped wraps kv so that keys live under scope
func NewScoped(kv KV, scope string) *Scoped {
	return &Scoped{kv: kv, prefix: strings.TrimSuffix(scope, "/") + "/"}
}

func (s *Scoped) Get(key string) ([]byte, error) {
	return s.kv.Get(s.prefix + key)
}

func (s *Scoped) Put(key string, value []byte) error {
	return s.kv.Put(s.prefix+key, value)
}

func (s *Scoped) Delete(key string) error {
	return s.kv.Delete(s.prefix + key)
}

func (s *Scoped) Keys(prefix string) ([]string, error) {
	keys, err := s.kv.Keys(s.prefix + prefix)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, strings.TrimPrefix(k, s.prefix))
	}
	return out, nil
}

// Close is a no-op; the parent store owns the handle
func (s *Scoped) Close() error {
	return nil
}
