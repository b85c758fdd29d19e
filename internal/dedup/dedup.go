// Package dedup decides whether a fetched story has been seen before.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// DefaultCeiling is the set size past which all fingerprints are dropped.
const DefaultCeiling = 10000

// Backend holds the set of recorded fingerprints. Implementations need not
// be safe for concurrent check-and-mark; Store serializes access.
type Backend interface {
	Add(ctx context.Context, fp string) (bool, error)
	Len(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
}

// Fingerprint derives a stable identity for a feed entry. The source name
// plus GUID is preferred; entries without a GUID fall back to normalized
// title and link.
func Fingerprint(source, guid, title, link string) string {
	var key string
	if guid = strings.TrimSpace(guid); guid != "" {
		key = source + "|" + guid
	} else {
		t := strings.Join(strings.Fields(strings.ToLower(title)), " ")
		key = t + "|" + strings.TrimSpace(link)
	}

	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:16])
}

// Stats is a point-in-time view of the store.
type Stats struct {
	Seen    int `json:"seen"`
	Ceiling int `json:"ceiling"`
	Resets  int `json:"resets"`
}

// Store records fingerprints and reports first sightings.
type Store struct {
	mu      sync.Mutex
	backend Backend
	ceiling int
	resets  int
	logger  *slog.Logger
}

func NewStore(backend Backend, ceiling int, logger *slog.Logger) *Store {
	if backend == nil {
		backend = NewMemoryBackend()
	}
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{backend: backend, ceiling: ceiling, logger: logger}
}

// IsNew atomically checks and records fp. It returns true exactly once per
// fingerprint until the set is cleared.
func (s *Store) IsNew(ctx context.Context, fp string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	added, err := s.backend.Add(ctx, fp)
	if err != nil {
		return false, fmt.Errorf("failed to record fingerprint: %w", err)
	}
	if !added {
		return false, nil
	}

	n, err := s.backend.Len(ctx)
	if err != nil {
		return true, fmt.Errorf("failed to size fingerprint set: %w", err)
	}
	if n > s.ceiling {
		if err := s.backend.Clear(ctx); err != nil {
			return true, fmt.Errorf("failed to clear fingerprint set: %w", err)
		}
		s.resets++
		s.logger.Info("fingerprint set cleared", "size", n, "ceiling", s.ceiling)

		if _, err := s.backend.Add(ctx, fp); err != nil {
			return true, fmt.Errorf("failed to record fingerprint: %w", err)
		}
	}
	return true, nil
}

// Reset drops every recorded fingerprint.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend.Clear(ctx)
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.backend.Len(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Seen: n, Ceiling: s.ceiling, Resets: s.resets}, nil
}

// MemoryBackend is an in-process fingerprint set.
type MemoryBackend struct {
	seen map[string]struct{}
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{seen: make(map[string]struct{})}
}

func (m *MemoryBackend) Add(_ context.Context, fp string) (bool, error) {
	if _, ok := m.seen[fp]; ok {
		return false, nil
	}
	m.seen[fp] = struct{}{}
	return true, nil
}

func (m *MemoryBackend) Len(context.Context) (int, error) {
	return len(m.seen), nil
}

func (m *MemoryBackend) Clear(context.Context) error {
	m.seen = make(map[string]struct{})
	return nil
}
