package ghost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/saaga0h/room-release/pkg/redis"
)

// ErrStoreUnavailable means the strike store could not be loaded.
var ErrStoreUnavailable = errors.New("ghost store unavailable")

// Entry tracks strikes for one recurring series.
type Entry struct {
	Count     int         `json:"count"`
	Organizer string      `json:"organizer"`
	Strikes   []time.Time `json:"strikes"`
	Updated   time.Time   `json:"updated"`
	Subject   string      `json:"subject"`
}

// Store persists strike entries per device, keyed by series id.
type Store interface {
	Read(ctx context.Context, deviceID string) (map[string]Entry, error)
	Write(ctx context.Context, deviceID string, entries map[string]Entry) error
	Devices(ctx context.Context) ([]string, error)
}

// RedisStore keeps one hash per device with JSON encoded entries.
type RedisStore struct {
	client redis.Client
	logger *slog.Logger
}

func NewRedisStore(client redis.Client, logger *slog.Logger) *RedisStore {
	return &RedisStore{client: client, logger: logger}
}

func (s *RedisStore) Read(ctx context.Context, deviceID string) (map[string]Entry, error) {
	fields, err := s.client.HGetAll(ctx, redis.GhostKey(deviceID))
	if err != nil {
		return nil, fmt.Errorf("failed to read ghost entries for %s: %w", deviceID, err)
	}

	entries := make(map[string]Entry, len(fields))
	for seriesID, raw := range fields {
		var e Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			s.logger.Warn("Skipping corrupt ghost entry", "device", deviceID, "series", seriesID, "error", err)
			continue
		}
		entries[seriesID] = e
	}
	return entries, nil
}

func (s *RedisStore) Write(ctx context.Context, deviceID string, entries map[string]Entry) error {
	key := redis.GhostKey(deviceID)

	existing, err := s.client.HGetAll(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to read ghost entries for %s: %w", deviceID, err)
	}
	var stale []string
	for seriesID := range existing {
		if _, ok := entries[seriesID]; !ok {
			stale = append(stale, seriesID)
		}
	}
	if err := s.client.HDel(ctx, key, stale...); err != nil {
		return err
	}

	for seriesID, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal ghost entry: %w", err)
		}
		if err := s.client.HSet(ctx, key, seriesID, string(data)); err != nil {
			return err
		}
	}
	return nil
}

func (s *RedisStore) Devices(ctx context.Context) ([]string, error) {
	keys, err := s.client.Keys(ctx, redis.GhostKeyPattern())
	if err != nil {
		return nil, err
	}
	var devices []string
	for _, k := range keys {
		if id, ok := redis.DeviceFromGhostKey(k); ok {
			devices = append(devices, id)
		}
	}
	sort.Strings(devices)
	return devices, nil
}

// fileDocument is the on-disk layout.
type fileDocument struct {
	Devices map[string]map[string]Entry `json:"devices"`
}

// FileStore keeps all entries in a single JSON document.
type FileStore struct {
	path string

	mu  sync.Mutex
	doc fileDocument
}

// OpenFileStore loads path, creating an empty document if it does not
// exist. An unreadable or corrupt file yields ErrStoreUnavailable.
func OpenFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, doc: fileDocument{Devices: map[string]map[string]Entry{}}}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := s.flush(s.doc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if err := json.Unmarshal(data, &s.doc); err != nil {
		return nil, fmt.Errorf("%w: invalid %s: %v", ErrStoreUnavailable, path, err)
	}
	if s.doc.Devices == nil {
		s.doc.Devices = map[string]map[string]Entry{}
	}
	return s, nil
}

func (s *FileStore) Read(ctx context.Context, deviceID string) (map[string]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]Entry, len(s.doc.Devices[deviceID]))
	for k, v := range s.doc.Devices[deviceID] {
		out[k] = v
	}
	return out, nil
}

func (s *FileStore) Write(ctx context.Context, deviceID string, entries map[string]Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := make(map[string]Entry, len(entries))
	for k, v := range entries {
		copied[k] = v
	}
	next := fileDocument{Devices: make(map[string]map[string]Entry, len(s.doc.Devices)+1)}
	for id, e := range s.doc.Devices {
		next.Devices[id] = e
	}
	if len(copied) == 0 {
		delete(next.Devices, deviceID)
	} else {
		next.Devices[deviceID] = copied
	}

	if err := s.flush(next); err != nil {
		return err
	}
	s.doc = next
	return nil
}

func (s *FileStore) Devices(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	devices := make([]string, 0, len(s.doc.Devices))
	for id := range s.doc.Devices {
		devices = append(devices, id)
	}
	sort.Strings(devices)
	return devices, nil
}

// flush writes doc through a temp file and rename. Callers hold mu and
// adopt doc only when it is on disk.
func (s *FileStore) flush(doc fileDocument) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal ghost store: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(s.path), err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write ghost store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace ghost store: %w", err)
	}
	return nil
}
