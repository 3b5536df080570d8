// Package guest persists the anonymous shopper's cart between runs.
//
// Load never fails: a broken or unreachable backend degrades to an
// in-memory fallback for the life of the process, and an unreadable or
// incompatible blob degrades to an empty cart.
package guest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/mod/semver"

	"storefront-cart/internal/model"
)

// SchemaVersion is written into every envelope. Blobs with another major
// version are discarded on load.
const SchemaVersion = "v1.0.0"

// DefaultKey is the storage key of the guest cart.
const DefaultKey = "cart"

// ErrNotFound is returned by a Backend when the key is absent.
var ErrNotFound = errors.New("guest: key not found")

// Backend is a string-keyed blob store.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// envelope wraps the snapshot with a schema version.
type envelope struct {
	Schema  string              `json:"schema"`
	SavedAt time.Time           `json:"savedAt"`
	Cart    *model.CartSnapshot `json:"cart"`
}

// Store is the guest cart persistence layer. Safe for concurrent use.
type Store struct {
	backend Backend
	key     string
	logger  *slog.Logger
	now     func() time.Time

	mu       sync.Mutex
	fallback *model.CartSnapshot
	degraded bool
}

// NewStore wraps backend. key defaults to DefaultKey.
func NewStore(backend Backend, key string, logger *slog.Logger) *Store {
	if key == "" {
		key = DefaultKey
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		backend:  backend,
		key:      key,
		logger:   logger,
		now:      time.Now,
		fallback: model.EmptyCart(),
	}
}

// Load returns the persisted guest cart.
func (s *Store) Load(ctx context.Context) *model.CartSnapshot {
	s.mu.Lock()
	if s.degraded {
		snap := s.fallback.Clone()
		s.mu.Unlock()
		return snap
	}
	s.mu.Unlock()

	raw, err := s.backend.Get(ctx, s.key)
	switch {
	case errors.Is(err, ErrNotFound):
		return model.EmptyCart()
	case err != nil:
		s.logger.Warn("guest cart read failed, using in-memory fallback",
			slog.String("error", err.Error()))
		return s.degrade(nil)
	}

	snap, err := decode(raw)
	if err != nil {
		s.logger.Warn("guest cart unreadable, using in-memory fallback",
			slog.String("error", err.Error()))
		return s.degrade(nil)
	}
	if snap == nil {
		s.logger.Info("guest cart schema incompatible, discarding")
		return model.EmptyCart()
	}
	if err := snap.Validate(); err != nil {
		s.logger.Warn("guest cart invalid, discarding",
			slog.String("error", err.Error()))
		return model.EmptyCart()
	}
	return snap
}

// Save persists snap. On failure snap becomes the in-memory fallback that
// Load serves until a later Save succeeds.
func (s *Store) Save(ctx context.Context, snap *model.CartSnapshot) error {
	copied := snap.Clone()

	raw, err := json.Marshal(envelope{Schema: SchemaVersion, SavedAt: s.now().UTC(), Cart: copied})
	if err == nil {
		err = s.backend.Put(ctx, s.key, raw)
	}
	if err != nil {
		s.logger.Warn("guest cart write failed, holding in memory",
			slog.String("error", err.Error()))
		s.degrade(copied)
		return fmt.Errorf("saving guest cart: %w", err)
	}

	s.mu.Lock()
	s.fallback = copied
	s.degraded = false
	s.mu.Unlock()
	return nil
}

// Clear removes the persisted cart and resets the fallback to empty.
func (s *Store) Clear(ctx context.Context) error {
	err := s.backend.Delete(ctx, s.key)

	s.mu.Lock()
	s.fallback = model.EmptyCart()
	// A blob we failed to delete must not be served again
	s.degraded = err != nil
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("guest cart delete failed", slog.String("error", err.Error()))
		return fmt.Errorf("clearing guest cart: %w", err)
	}
	return nil
}

// Degraded reports whether reads are served from the in-memory fallback.
func (s *Store) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// degrade switches to the fallback, replacing it when snap is non-nil,
// and returns a copy of the fallback.
func (s *Store) degrade(snap *model.CartSnapshot) *model.CartSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap != nil {
		s.fallback = snap
	}
	s.degraded = true
	return s.fallback.Clone()
}

// decode accepts the versioned envelope and the legacy bare snapshot.
// Returns nil, nil for an envelope with an incompatible major version.
func decode(raw []byte) (*model.CartSnapshot, error) {
	var probe struct {
		Schema *string `json:"schema"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("decoding guest cart: %w", err)
	}

	// Legacy blobs predate the envelope and count as v1
	if probe.Schema == nil {
		var snap model.CartSnapshot
		if err := json.Unmarshal(raw, &snap); err != nil {
			return nil, fmt.Errorf("decoding legacy guest cart: %w", err)
		}
		return &snap, nil
	}

	if !semver.IsValid(*probe.Schema) || semver.Major(*probe.Schema) != semver.Major(SchemaVersion) {
		return nil, nil
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decoding guest cart envelope: %w", err)
	}
	if env.Cart == nil {
		return model.EmptyCart(), nil
	}
	return env.Cart, nil
}
