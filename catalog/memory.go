package catalog

import (
	"context"
	"sort"
	"sync"

	"github.com/Techinsane-official/scrapper/models"
)

// MemoryStore is an in-process catalog. Entries are copied on the way in and
// out so callers never share state with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	entries  map[string]*models.CatalogEntry
	listings map[models.ListingKey]string
	tokens   map[string]map[string]struct{}
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries:  make(map[string]*models.CatalogEntry),
		listings: make(map[models.ListingKey]string),
		tokens:   make(map[string]map[string]struct{}),
	}
}

func (s *MemoryStore) FindByListing(ctx context.Context, key models.ListingKey) (*models.CatalogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.listings[key]
	if !ok {
		return nil, ErrNotFound
	}
	return s.entries[id].Clone(), nil
}

func (s *MemoryStore) FindByTokens(ctx context.Context, tokens []string) ([]*models.CatalogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make(map[string]struct{})
	for _, tok := range tokens {
		for id := range s.tokens[tok] {
			ids[id] = struct{}{}
		}
	}
	return s.collect(ids), nil
}

func (s *MemoryStore) Upsert(ctx context.Context, entries ...*models.CatalogEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range entries {
		if e == nil {
			continue
		}
		s.removeIndexes(e.CatalogID)
		stored := e.Clone()
		s.entries[e.CatalogID] = stored
		for _, l := range stored.Listings {
			s.listings[l.Key()] = stored.CatalogID
		}
		for _, tok := range stored.TitleTokens {
			set, ok := s.tokens[tok]
			if !ok {
				set = make(map[string]struct{})
				s.tokens[tok] = set
			}
			set[stored.CatalogID] = struct{}{}
		}
	}
	return nil
}

// All returns every entry ordered by catalog id.
func (s *MemoryStore) All(ctx context.Context) ([]*models.CatalogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make(map[string]struct{}, len(s.entries))
	for id := range s.entries {
		ids[id] = struct{}{}
	}
	return s.collect(ids), nil
}

// Len reports the number of entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) removeIndexes(id string) {
	old, ok := s.entries[id]
	if !ok {
		return
	}
	for _, l := range old.Listings {
		if s.listings[l.Key()] == id {
			delete(s.listings, l.Key())
		}
	}
	for _, tok := range old.TitleTokens {
		delete(s.tokens[tok], id)
		if len(s.tokens[tok]) == 0 {
			delete(s.tokens, tok)
		}
	}
}

func (s *MemoryStore) collect(ids map[string]struct{}) []*models.CatalogEntry {
	out := make([]*models.CatalogEntry, 0, len(ids))
	for id := range ids {
		out = append(out, s.entries[id].Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CatalogID < out[j].CatalogID })
	return out
}
