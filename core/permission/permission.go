// Package permission is the gate's first checkpoint: a binary allow/deny
// lookup keyed by operation name, consulted once per pipeline run. Missing
// entries, expired grants, and store failures all deny.
package permission

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	ReasonNoPermission = "no permission defined for operation"
	ReasonExpired      = "permission expired"
	ReasonRevoked      = "Permission revoked"
)

// Entry is one stored grant or denial for an operation class.
type Entry struct {
	Operation string     `json:"operation"`
	Allowed   bool       `json:"allowed"`
	Reason    string     `json:"reason,omitempty"`
	GrantedBy string     `json:"granted_by,omitempty"`
	GrantedAt time.Time  `json:"granted_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Decision is the outcome of a permission check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

// Store is the narrow repository the gate reads grants through, so a
// production deployment can back it with something durable.
type Store interface {
	Get(operation string) (Entry, bool, error)
	Put(entry Entry) error
	Delete(operation string) error
	List() ([]Entry, error)
}

// MemoryStore is the default in-process store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: map[string]Entry{}}
}

func (s *MemoryStore) Get(operation string) (Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[operation]
	return entry, ok, nil
}

func (s *MemoryStore) Put(entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.Operation] = entry
	return nil
}

func (s *MemoryStore) Delete(operation string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, operation)
	return nil
}

func (s *MemoryStore) List() ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]Entry, 0, len(s.entries))
	for _, entry := range s.entries {
		entries = append(entries, entry)
	}
	return entries, nil
}

// Gate answers allow/deny for named operations.
type Gate struct {
	store Store
	now   func() time.Time
}

// Option adjusts gate construction.
type Option func(*Gate)

// WithStore swaps the backing store.
func WithStore(store Store) Option {
	return func(g *Gate) { g.store = store }
}

// WithClock overrides the time source, for expiry tests.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// NewGate builds a gate with the default grants seeded: read and analysis
// operations are allowed, anything touching core systems, the permission
// store itself, or external resources is denied pending an explicit grant.
func NewGate(opts ...Option) *Gate {
	gate := &Gate{
		store: NewMemoryStore(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(gate)
	}
	gate.seedDefaults()
	return gate
}

func (g *Gate) seedDefaults() {
	seededAt := g.now().UTC()
	seed := func(operation string, allowed bool, reason string) {
		_ = g.store.Put(Entry{
			Operation: operation,
			Allowed:   allowed,
			Reason:    reason,
			GrantedBy: "system",
			GrantedAt: seededAt,
		})
	}
	seed("read_own_code", true, "read access is always safe")
	seed("analyze_code", true, "static analysis has no side effects")
	seed("modify_non_core", true, "non-core changes pass through the full pipeline")
	seed("modify_core_system", false, "core-system changes need an explicit grant")
	seed("modify_permissions", false, "self-granting is never permitted")
	seed("access_external_resources", false, "external access needs an explicit grant")
}

// Check resolves the operation to a decision. The gate fails closed: an
// unknown operation, an expired grant, or a store failure all deny.
func (g *Gate) Check(operation string) Decision {
	operation = strings.TrimSpace(operation)
	if operation == "" {
		return Decision{Allowed: false, Reason: "operation name is required"}
	}
	entry, found, err := g.store.Get(operation)
	if err != nil {
		return Decision{Allowed: false, Reason: fmt.Sprintf("permission lookup failed: %v", err)}
	}
	if !found {
		return Decision{Allowed: false, Reason: ReasonNoPermission}
	}
	if entry.ExpiresAt != nil && entry.ExpiresAt.Before(g.now()) {
		return Decision{Allowed: false, Reason: ReasonExpired}
	}
	reason := entry.Reason
	if reason == "" {
		if entry.Allowed {
			reason = "permission granted"
		} else {
			reason = "permission denied"
		}
	}
	return Decision{Allowed: entry.Allowed, Reason: reason}
}

// Grant overwrites the entry for an operation with an allowance.
func (g *Gate) Grant(operation, grantedBy, reason string, expiresAt *time.Time) error {
	operation = strings.TrimSpace(operation)
	if operation == "" {
		return fmt.Errorf("operation name is required")
	}
	return g.store.Put(Entry{
		Operation: operation,
		Allowed:   true,
		Reason:    reason,
		GrantedBy: grantedBy,
		GrantedAt: g.now().UTC(),
		ExpiresAt: expiresAt,
	})
}

// Revoke overwrites the entry with a denial. An empty reason records the
// stock revocation message.
func (g *Gate) Revoke(operation, revokedBy, reason string) error {
	operation = strings.TrimSpace(operation)
	if operation == "" {
		return fmt.Errorf("operation name is required")
	}
	if strings.TrimSpace(reason) == "" {
		reason = ReasonRevoked
	}
	return g.store.Put(Entry{
		Operation: operation,
		Allowed:   false,
		Reason:    reason,
		GrantedBy: revokedBy,
		GrantedAt: g.now().UTC(),
	})
}

// List returns every stored entry, for operator inspection.
func (g *Gate) List() ([]Entry, error) {
	return g.store.List()
}
