package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const (
	DefaultFileName = ".tradeflow-state.json"
)

// FileKV keeps every entry in a single JSON document on disk
type FileKV struct {
	filePath string
	mu       sync.RWMutex
	entries  map[string]string
}

type fileDocument struct {
	Entries map[string]string `json:"entries"`
}

// NewFileKV opens the store at filePath, defaulting to the home directory.
// A corrupted file is treated as empty and overwritten on the next write.
func NewFileKV(filePath string) (*FileKV, error) {
	if filePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		filePath = filepath.Join(home, DefaultFileName)
	}

	s := &FileKV{
		filePath: filePath,
		entries:  make(map[string]string),
	}

	if err := s.load(); err != nil && !os.IsNotExist(err) {
		var syntaxErr *json.SyntaxError
		if !errors.As(err, &syntaxErr) {
			return nil, fmt.Errorf("failed to load state: %w", err)
		}
	}

	return s, nil
}

func (s *FileKV) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return err
	}

	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	if doc.Entries != nil {
		s.entries = doc.Entries
	}
	return nil
}

// saveLocked writes the document; callers hold the write lock
func (s *FileKV) saveLocked() error {
	data, err := json.MarshalIndent(fileDocument{Entries: s.entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// write to a temporary file first, then rename for an atomic swap
	tempFile := s.filePath + ".tmp"
	if err := os.WriteFile(tempFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := os.Rename(tempFile, s.filePath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

func (s *FileKV) Get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	return []byte(v), nil
}

func (s *FileKV) Put(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = string(value)
	return s.saveLocked()
}

func (s *FileKV) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[key]; !ok {
		return nil
	}
	delete(s.entries, key)
	return s.saveLocked()
}

func (s *FileKV) Keys(prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *FileKV) Close() error {
	return nil
}

// Path returns the backing file path
func (s *FileKV) Path() string {
	return s.filePath
}
