package cachestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/mikey-austin/tunedeck/internal/core"
	"github.com/mikey-austin/tunedeck/internal/ports"
	"github.com/mikey-austin/tunedeck/pkg/deck"
)

const fileName = "songs_cache.json"

// Entry is the persisted flattened catalog.
type Entry struct {
	Version   string      `json:"version"`
	Timestamp int64       `json:"timestamp"`
	Songs     []deck.Song `json:"songs"`
}

// Store keeps a single versioned catalog entry on disk.
type Store struct {
	path    string
	version string
	clock   ports.Clock
	log     *zap.Logger
	mu      sync.Mutex
}

// New creates a store under dir. An empty dir uses the user cache directory.
func New(dir string, version string, clock ports.Clock, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(version) == "" {
		return nil, errors.New("cache version required")
	}
	if clock == nil {
		return nil, errors.New("clock required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(dir) == "" {
		dir = DefaultDir()
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &Store{
		path:    filepath.Join(dir, fileName),
		version: version,
		clock:   clock,
		log:     logger,
	}, nil
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Load returns the cached entry. Missing, unreadable or stale entries are
// reported as absent; stale and corrupt entries are removed.
func (s *Store) Load() (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.read()
	if err == nil {
		return entry, true
	}
	if errors.Is(err, os.ErrNotExist) {
		return Entry{}, false
	}
	if errors.Is(err, core.ErrCacheInvalid) {
		s.log.Info("discarding cache entry", zap.String("path", s.path), zap.Error(err))
		if rmErr := os.Remove(s.path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			s.log.Warn("remove cache entry", zap.Error(rmErr))
		}
		return Entry{}, false
	}
	s.log.Warn("read cache entry", zap.String("path", s.path), zap.Error(err))
	return Entry{}, false
}

// Save replaces the entry with songs stamped with the current version.
func (s *Store) Save(songs []deck.Song) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if songs == nil {
		songs = []deck.Song{}
	}
	entry := Entry{
		Version:   s.version,
		Timestamp: s.clock.NowMillis(),
		Songs:     songs,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace cache entry: %w", err)
	}
	return nil
}

// Clear removes the entry if present.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *Store) read() (Entry, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return Entry{}, err
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return Entry{}, fmt.Errorf("%w: %v", core.ErrCacheInvalid, err)
	}
	if entry.Version != s.version {
		return Entry{}, fmt.Errorf("%w: version %q, want %q", core.ErrCacheInvalid, entry.Version, s.version)
	}
	if entry.Songs == nil {
		return Entry{}, fmt.Errorf("%w: no songs", core.ErrCacheInvalid)
	}
	return entry, nil
}

// DefaultDir is the per-user cache directory for tunedeck.
func DefaultDir() string {
	dir, err := os.UserCacheDir()
	if err != nil || strings.TrimSpace(dir) == "" {
		return filepath.Join(os.TempDir(), "tunedeck")
	}
	return filepath.Join(dir, "tunedeck")
}
