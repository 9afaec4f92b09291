package index

import "sync"

type collection struct {
	entities []any
	indices  map[string]Extractor
	byValue  map[string]map[string][]int
}

func newCollection() *collection {
	return &collection{
		indices: make(map[string]Extractor),
		byValue: make(map[string]map[string][]int),
	}
}

// Memory is an in-process Engine: one collection per entity type, each
// guarded by its own slice of offsets plus a value -> offsets map per
// named index.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

// NewMemory creates an empty in-memory index engine.
func NewMemory() *Memory {
	return &Memory{collections: make(map[string]*collection)}
}

func (m *Memory) collectionFor(entityType string) *collection {
	c, ok := m.collections[entityType]
	if !ok {
		c = newCollection()
		m.collections[entityType] = c
	}
	return c
}

func (m *Memory) AddToCollection(entityType string, entity any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.collectionFor(entityType)
	offset := len(c.entities)
	c.entities = append(c.entities, entity)

	for name, extract := range c.indices {
		value, err := extract(entity)
		if err != nil {
			return err
		}
		byValue, ok := c.byValue[name]
		if !ok {
			byValue = make(map[string][]int)
			c.byValue[name] = byValue
		}
		byValue[value] = append(byValue[value], offset)
	}
	return nil
}

func (m *Memory) TryAddIndex(entityType, name string, extractor Extractor) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.collectionFor(entityType)
	if _, exists := c.indices[name]; exists {
		return ErrAlreadyPresent
	}
	c.indices[name] = extractor

	byValue := make(map[string][]int)
	for offset, entity := range c.entities {
		value, err := extractor(entity)
		if err != nil {
			return err
		}
		byValue[value] = append(byValue[value], offset)
	}
	c.byValue[name] = byValue
	return nil
}

// Lookup returns the entities indexed under value for the named index on
// entityType. Not part of the core Engine contract (spec.md §4.6 keeps
// query primitives out of scope), but useful for tests and for callers
// above this package that already know the concrete adapter.
func (m *Memory) Lookup(entityType, name, value string) []any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.collections[entityType]
	if !ok {
		return nil
	}
	offsets := c.byValue[name][value]
	out := make([]any, 0, len(offsets))
	for _, off := range offsets {
		out = append(out, c.entities[off])
	}
	return out
}
