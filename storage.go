// storage.go: named JSON key-value documents persisted on disk
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package saukko

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	timecache "github.com/agilira/go-timecache"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// DefaultStoragePath is used when service.config.storage.path is not set.
const DefaultStoragePath = "./.storage"

// Storage is a JSON object stored in <dir>/<name>.json. Keys keep their
// insertion order. With AutoSave set, every change is written to disk.
type Storage struct {
	name     string
	path     string
	doc      string
	AutoSave bool
	deleted  bool
	logger   Logger
}

func openStorage(name, path string, logger Logger) (*Storage, error) {
	s := &Storage{name: name, path: path, doc: "{}", AutoSave: true, logger: logger}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := s.Save(); err != nil {
			return nil, err
		}
	}
	if err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Name returns the storage name.
func (s *Storage) Name() string { return s.name }

// Path returns the backing file.
func (s *Storage) Path() string { return s.path }

// Len returns the number of keys.
func (s *Storage) Len() int {
	n := 0
	gjson.Parse(s.doc).ForEach(func(_, _ gjson.Result) bool {
		n++
		return true
	})
	return n
}

// Keys returns the keys in insertion order.
func (s *Storage) Keys() []string {
	var keys []string
	gjson.Parse(s.doc).ForEach(func(key, _ gjson.Result) bool {
		keys = append(keys, key.String())
		return true
	})
	return keys
}

// Key returns the key at index, or false when out of range.
func (s *Storage) Key(index int) (string, bool) {
	keys := s.Keys()
	if index < 0 || index >= len(keys) {
		return "", false
	}
	return keys[index], true
}

// GetItem returns the value stored at key.
func (s *Storage) GetItem(key string) (any, bool) {
	result := gjson.Get(s.doc, ConfigKey(key))
	if !result.Exists() {
		return nil, false
	}
	return result.Value(), true
}

// GetInto decodes the value stored at key into v.
func (s *Storage) GetInto(key string, v any) error {
	result := gjson.Get(s.doc, ConfigKey(key))
	if !result.Exists() {
		return NewStorageNotFoundError(s.name + "." + key)
	}
	return json.Unmarshal([]byte(result.Raw), v)
}

// SetItem stores value at key.
func (s *Storage) SetItem(key string, value any) error {
	doc, err := sjson.Set(s.doc, ConfigKey(key), value)
	if err != nil {
		return NewStorageIOError(s.path, err)
	}
	s.doc = doc
	return s.autoSave()
}

// RemoveItem deletes key.
func (s *Storage) RemoveItem(key string) error {
	doc, err := sjson.Delete(s.doc, ConfigKey(key))
	if err != nil {
		return NewStorageIOError(s.path, err)
	}
	s.doc = doc
	return s.autoSave()
}

// Clear deletes every key.
func (s *Storage) Clear() error {
	s.doc = "{}"
	return s.autoSave()
}

func (s *Storage) autoSave() error {
	if !s.AutoSave {
		return nil
	}
	return s.Save()
}

// Save writes the document to disk. A deleted storage is not written.
func (s *Storage) Save() error {
	if s.deleted {
		return nil
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(s.doc), 0o600); err != nil {
		return NewStorageIOError(s.path, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return NewStorageIOError(s.path, err)
	}
	return nil
}

// Load replaces the content with the document on disk.
func (s *Storage) Load() error {
	// #nosec G304 -- path is built from the storage directory and name
	data, err := os.ReadFile(s.path)
	if err != nil {
		return NewStorageIOError(s.path, err)
	}
	if !gjson.ValidBytes(data) || !gjson.ParseBytes(data).IsObject() {
		return NewStorageIOError(s.path, fmt.Errorf("content is not a JSON object"))
	}
	s.doc = string(data)
	return nil
}

// StorageService manages the storages of a directory.
type StorageService struct {
	dir      string
	storages map[string]*Storage
	logger   Logger
}

// NewStorageService opens every <name>.json in dir, creating dir if
// needed. When dir exists but is not a directory a timestamped sibling
// directory is used instead.
func NewStorageService(dir string, logger Logger) (*StorageService, error) {
	log := NewLogger(logger).With("component", "storage")
	if dir == "" {
		dir = DefaultStoragePath
	}
	if info, err := os.Stat(dir); err == nil && !info.IsDir() {
		fallback := fmt.Sprintf("%s-%d", dir, timecache.CachedTimeNano())
		log.Error("Storage path is not a directory, using a fallback", "path", dir, "fallback", fallback)
		dir = fallback
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, NewStorageIOError(dir, err)
	}

	s := &StorageService{dir: dir, storages: make(map[string]*Storage), logger: log}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, NewStorageIOError(dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".json")
		storage, err := openStorage(name, filepath.Join(dir, entry.Name()), log)
		if err != nil {
			log.Error("Skipping unreadable storage", "storage", name, "error", err)
			continue
		}
		s.storages[name] = storage
		log.Info("Storage loaded", "storage", name)
	}
	return s, nil
}

// Dir returns the storage directory.
func (s *StorageService) Dir() string { return s.dir }

// Init returns the storage name, creating it with data if it does not exist.
func (s *StorageService) Init(name string, data map[string]any) (*Storage, error) {
	if existing, ok := s.storages[name]; ok {
		return existing, nil
	}
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return nil, NewStorageIOError(name, fmt.Errorf("invalid storage name"))
	}
	storage, err := openStorage(name, filepath.Join(s.dir, name+".json"), s.logger)
	if err != nil {
		return nil, err
	}

	storage.AutoSave = false
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := storage.SetItem(k, data[k]); err != nil {
			return nil, err
		}
	}
	storage.AutoSave = true
	if err := storage.Save(); err != nil {
		return nil, err
	}
	s.storages[name] = storage
	return storage, nil
}

// Get returns an existing storage.
func (s *StorageService) Get(name string) (*Storage, error) {
	storage, ok := s.storages[name]
	if !ok {
		err := NewStorageNotFoundError(name)
		s.logger.Error("Storage does not exist", "storage", name)
		return nil, err
	}
	return storage, nil
}

// Has reports whether name exists.
func (s *StorageService) Has(name string) bool {
	_, ok := s.storages[name]
	return ok
}

// Names returns the storage names, sorted.
func (s *StorageService) Names() []string {
	names := make([]string, 0, len(s.storages))
	for name := range s.storages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Delete removes a storage and its file.
func (s *StorageService) Delete(name string) error {
	storage, ok := s.storages[name]
	if !ok {
		s.logger.Error("Storage does not exist", "storage", name)
		return NewStorageNotFoundError(name)
	}
	storage.deleted = true
	delete(s.storages, name)
	if err := os.Remove(storage.path); err != nil && !os.IsNotExist(err) {
		return NewStorageIOError(storage.path, err)
	}
	s.logger.Info("Storage deleted", "storage", name)
	return nil
}
