// Package authorization keeps the local authorization list pushed by the
// central system and the cache filled from idTagInfo replies.
package authorization

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"
)

var ErrVersionMismatch = errors.New("local list version mismatch")

// Decision is the local verdict for an id tag.
type Decision string

const (
	Allowed Decision = "Allowed"
	Blocked Decision = "Blocked"
	Unknown Decision = "Unknown"
)

// Entry is one id tag with the idTagInfo the central system gave for it. An
// empty Status in a differential update removes the tag.
type Entry struct {
	IdTag       string     `json:"idTag"`
	Status      string     `json:"status,omitempty"`
	ParentIdTag string     `json:"parentIdTag,omitempty"`
	ExpiryDate  *time.Time `json:"expiryDate,omitempty"`
}

func (e Entry) decision(now time.Time) Decision {
	if e.ExpiryDate != nil && !now.Before(*e.ExpiryDate) {
		return Blocked
	}
	if types.AuthorizationStatus(e.Status) == types.AuthorizationStatusAccepted {
		return Allowed
	}
	return Blocked
}

type store struct {
	entries map[string]Entry
}

func newStore() store {
	return store{entries: map[string]Entry{}}
}

func (s store) sorted() []Entry {
	out := make([]Entry, 0, len(s.entries))
	for _, entry := range s.entries {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IdTag < out[j].IdTag })
	return out
}

// Service combines the local list and the cache. The list wins over the cache.
// It is safe for concurrent use.
type Service struct {
	mu      sync.RWMutex
	version int
	list    store
	cache   store
	now     func() time.Time
}

func NewService(now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{list: newStore(), cache: newStore(), now: now}
}

func (s *Service) Lookup(idTag string) Decision {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if entry, ok := s.list.entries[idTag]; ok {
		return entry.decision(s.now())
	}
	if entry, ok := s.cache.entries[idTag]; ok {
		return entry.decision(s.now())
	}
	return Unknown
}

func (s *Service) Cache(idTag string, entry Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.IdTag = idTag
	s.cache.entries[idTag] = entry
}

func (s *Service) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = newStore()
}

func (s *Service) ListVersion() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// UpdateList applies a SendLocalList update. A full update replaces the list;
// a differential one must carry a version newer than the current list.
func (s *Service) UpdateList(version int, full bool, entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if version <= 0 {
		return fmt.Errorf("invalid list version %d", version)
	}
	if full {
		s.list = newStore()
		for _, entry := range entries {
			if entry.Status == "" {
				continue
			}
			s.list.entries[entry.IdTag] = entry
		}
		s.version = version
		return nil
	}
	if version <= s.version {
		return fmt.Errorf("%w: have %d, got %d", ErrVersionMismatch, s.version, version)
	}
	for _, entry := range entries {
		if entry.Status == "" {
			delete(s.list.entries, entry.IdTag)
			continue
		}
		s.list.entries[entry.IdTag] = entry
	}
	s.version = version
	return nil
}

// List returns the local list ordered by id tag.
func (s *Service) List() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.list.sorted()
}

func (s *Service) CachedEntries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache.sorted()
}
