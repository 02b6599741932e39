package storage

import (
	"sort"
	"sync"
	"time"
)

// MemStore keeps all records in process memory. It is the reference
// implementation of Store: volatile, single-process, guarded by one mutex
// so that at most one writer mutates the maps at a time.
type MemStore struct {
	mu         sync.Mutex
	categories map[int64]Category
	memories   map[int64]Memory
	nextCatID  int64
	nextMemID  int64

	now func() time.Time // overridable in tests
}

// NewMemStore returns an empty store pre-seeded with the canonical
// categories.
func NewMemStore() *MemStore {
	s := &MemStore{
		categories: make(map[int64]Category),
		memories:   make(map[int64]Memory),
		nextCatID:  1,
		nextMemID:  1,
		now:        time.Now,
	}
	for _, seed := range SeedCategories {
		c := Category{ID: s.nextCatID, Name: seed.Name, Icon: seed.Icon, Color: seed.Color}
		s.categories[c.ID] = c
		s.nextCatID++
	}
	return s
}

func (s *MemStore) ListCategories() ([]Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Category, 0, len(s.categories))
	for _, c := range s.categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemStore) GetCategory(id int64) (Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.categories[id]
	if !ok {
		return Category{}, ErrNotFound
	}
	return c, nil
}

func (s *MemStore) GetCategoryByName(name string) (Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.categories {
		if c.Name == name {
			return c, nil
		}
	}
	return Category{}, ErrNotFound
}

func (s *MemStore) CreateCategory(name, icon, color string) (Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := Category{ID: s.nextCatID, Name: name, Icon: icon, Color: color}
	s.categories[c.ID] = c
	s.nextCatID++
	return c, nil
}

// SetCategoryCount overwrites the aggregate. No-op for unknown ids.
func (s *MemStore) SetCategoryCount(id, count int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.categories[id]
	if !ok {
		return nil
	}
	c.Count = count
	s.categories[id] = c
	return nil
}

func (s *MemStore) ListMemories() ([]Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collect(func(Memory) bool { return true }), nil
}

func (s *MemStore) ListMemoriesByCategory(categoryID int64) ([]Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collect(func(m Memory) bool {
		return m.CategoryID != nil && *m.CategoryID == categoryID
	}), nil
}

func (s *MemStore) GetMemory(id int64) (Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.memories[id]
	if !ok {
		return Memory{}, ErrNotFound
	}
	return cloneMemory(m), nil
}

func (s *MemStore) CreateMemory(nm NewMemory) (Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	m := Memory{
		ID:             s.nextMemID,
		Content:        nm.Content,
		Title:          nm.Title,
		CategoryID:     nm.CategoryID,
		Tags:           nm.Tags,
		Keywords:       nm.Keywords,
		StructuredData: nm.StructuredData,
		AIScore:        clampScore(nm.AIScore),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if m.Tags == nil {
		m.Tags = []string{}
	}
	if m.Keywords == nil {
		m.Keywords = []string{}
	}
	if m.StructuredData == nil {
		m.StructuredData = map[string]any{}
	}
	s.memories[m.ID] = cloneMemory(m)
	s.nextMemID++

	if m.CategoryID != nil {
		s.recountCategory(*m.CategoryID)
	}
	return m, nil
}

func (s *MemStore) UpdateMemory(id int64, patch MemoryPatch) (Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.memories[id]
	if !ok {
		return Memory{}, ErrNotFound
	}

	oldCategory := m.CategoryID
	applyPatch(&m, patch)
	m.UpdatedAt = s.now()
	s.memories[id] = cloneMemory(m)

	// A category change invalidates two aggregates: the category the
	// memory left and the one it joined.
	if !sameCategory(oldCategory, m.CategoryID) {
		if oldCategory != nil {
			s.recountCategory(*oldCategory)
		}
		if m.CategoryID != nil {
			s.recountCategory(*m.CategoryID)
		}
	}
	return m, nil
}

func (s *MemStore) DeleteMemory(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.memories[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.memories, id)
	if m.CategoryID != nil {
		s.recountCategory(*m.CategoryID)
	}
	return nil
}

func (s *MemStore) SearchMemoriesLocal(query string) ([]Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collect(func(m Memory) bool { return m.MatchesQuery(query) }), nil
}

func (s *MemStore) Close() error { return nil }

// collect returns matching memories newest-first, ties broken by insertion
// order. Caller must hold the mutex.
func (s *MemStore) collect(keep func(Memory) bool) []Memory {
	out := make([]Memory, 0, len(s.memories))
	for _, m := range s.memories {
		if keep(m) {
			out = append(out, cloneMemory(m))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// recountCategory recomputes the aggregate from scratch. Caller must hold
// the mutex.
func (s *MemStore) recountCategory(id int64) {
	c, ok := s.categories[id]
	if !ok {
		return
	}
	var n int64
	for _, m := range s.memories {
		if m.CategoryID != nil && *m.CategoryID == id {
			n++
		}
	}
	c.Count = n
	s.categories[id] = c
}

func applyPatch(m *Memory, patch MemoryPatch) {
	if patch.Content != nil {
		m.Content = *patch.Content
	}
	if patch.Title != nil {
		m.Title = *patch.Title
	}
	switch {
	case patch.ClearCategory:
		m.CategoryID = nil
	case patch.CategoryID != nil:
		id := *patch.CategoryID
		m.CategoryID = &id
	}
	if patch.Tags != nil {
		m.Tags = *patch.Tags
	}
	if patch.Keywords != nil {
		m.Keywords = *patch.Keywords
	}
	if patch.StructuredData != nil {
		m.StructuredData = *patch.StructuredData
	}
	if patch.AIScore != nil {
		m.AIScore = clampScore(*patch.AIScore)
	}
}

func sameCategory(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func cloneMemory(m Memory) Memory {
	out := m
	if m.CategoryID != nil {
		id := *m.CategoryID
		out.CategoryID = &id
	}
	out.Tags = make([]string, len(m.Tags))
	copy(out.Tags, m.Tags)
	out.Keywords = make([]string, len(m.Keywords))
	copy(out.Keywords, m.Keywords)
	out.StructuredData = make(map[string]any, len(m.StructuredData))
	for k, v := range m.StructuredData {
		out.StructuredData[k] = v
	}
	return out
}
