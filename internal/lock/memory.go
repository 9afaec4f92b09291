package lock

import (
	"context"
	"sync"
	"time"
)

// namedMutex is a reference-counted mutex: entries are evicted once the
// last holder releases, so the table does not grow unboundedly with the
// set of distinct lock names ever seen.
type namedMutex struct {
	mu       sync.Mutex
	refCount int
}

// Memory is an in-process Provider backed by a table of named mutexes.
type Memory struct {
	tableMu sync.Mutex
	table   map[string]*namedMutex
}

// NewMemory creates an empty in-process lock provider.
func NewMemory() *Memory {
	return &Memory{table: make(map[string]*namedMutex)}
}

func (m *Memory) acquireOne(ctx context.Context, name string, timeout time.Duration) (*namedMutex, error) {
	m.tableMu.Lock()
	nm, ok := m.table[name]
	if !ok {
		nm = &namedMutex{}
		m.table[name] = nm
	}
	nm.refCount++
	m.tableMu.Unlock()

	done := make(chan struct{})
	go func() {
		nm.mu.Lock()
		close(done)
	}()

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case <-done:
		return nm, nil
	case <-ctx.Done():
		m.release(name, nm, false)
		go func() { <-done; nm.mu.Unlock() }()
		return nil, ctx.Err()
	case <-timer:
		m.release(name, nm, false)
		go func() { <-done; nm.mu.Unlock() }()
		return nil, ErrTimeout
	}
}

func (m *Memory) release(name string, nm *namedMutex, held bool) {
	m.tableMu.Lock()
	defer m.tableMu.Unlock()
	if held {
		nm.mu.Unlock()
	}
	nm.refCount--
	if nm.refCount == 0 {
		delete(m.table, name)
	}
}

type memoryGuard struct {
	m       *Memory
	names   []string
	mutexes []*namedMutex
}

func (g *memoryGuard) Release(ctx context.Context) error {
	// Release in reverse acquisition order, a conventional lock-ordering
	// discipline that avoids re-introducing the inversion the sorted
	// acquisition order was meant to prevent.
	for i := len(g.names) - 1; i >= 0; i-- {
		g.m.release(g.names[i], g.mutexes[i], true)
	}
	g.names, g.mutexes = nil, nil
	return nil
}

func (m *Memory) Acquire(ctx context.Context, names []string) (Guard, error) {
	return m.TryAcquire(ctx, names, 0)
}

func (m *Memory) TryAcquire(ctx context.Context, names []string, timeout time.Duration) (Guard, error) {
	sorted := SortedNames(names)
	held := make([]*namedMutex, 0, len(sorted))

	deadline := timeout
	for _, name := range sorted {
		nm, err := m.acquireOne(ctx, name, deadline)
		if err != nil {
			g := &memoryGuard{m: m, names: sorted[:len(held)], mutexes: held}
			_ = g.Release(ctx)
			return nil, err
		}
		held = append(held, nm)
	}
	return &memoryGuard{m: m, names: sorted, mutexes: held}, nil
}
