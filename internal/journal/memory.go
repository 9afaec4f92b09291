package journal

import (
	"context"
	"sort"
	"sync"

	"go-chronicle/internal/hlc"
	"go-chronicle/internal/layout"
)

// entry is the append-only log record: exactly one of command/event/intro
// is set, mirroring the three row kinds the Postgres adapter keeps in
// separate tables.
type entry struct {
	ts      hlc.Timestamp
	command *CommandRecord
	event   *EventRecord
	intro   *LayoutIntroduction
}

// Memory is an in-process Journal: an append-only slice guarded by a
// mutex. It gives the full Journal contract (including the
// unknown-fingerprint rejection rule) without a database, for unit tests
// and for embedding the repository without PostgreSQL.
type Memory struct {
	mu         sync.Mutex
	entries    []entry
	knownFps   map[layout.Fingerprint]bool
	highestTs  hlc.Timestamp
}

// NewMemory creates an empty in-memory journal.
func NewMemory() *Memory {
	return &Memory{knownFps: make(map[layout.Fingerprint]bool)}
}

func (m *Memory) Begin(ctx context.Context) (Tx, error) {
	return &memoryTx{j: m}, nil
}

func (m *Memory) KnownFingerprint(ctx context.Context, fp layout.Fingerprint) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.knownFps[fp], nil
}

func (m *Memory) HighestTimestamp(ctx context.Context) (hlc.Timestamp, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.highestTs, nil
}

func (m *Memory) InstalledEventTypes(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]bool{}
	for _, e := range m.entries {
		if e.event != nil {
			seen[e.event.Type] = true
		}
	}
	return sortedKeys(seen), nil
}

func (m *Memory) InstalledCommandTypes(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]bool{}
	for _, e := range m.entries {
		if e.command != nil {
			seen[e.command.Type] = true
		}
	}
	return sortedKeys(seen), nil
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (m *Memory) IterEvents(ctx context.Context, filter Filter) (EventIterator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	typeSet := map[string]bool(nil)
	if len(filter.Types) > 0 {
		typeSet = make(map[string]bool, len(filter.Types))
		for _, t := range filter.Types {
			typeSet[t] = true
		}
	}

	var out []EventRecord
	for _, e := range m.entries {
		if e.event == nil {
			continue
		}
		if filter.From != nil && !filter.From.Before(e.event.Meta.Timestamp) {
			continue
		}
		if typeSet != nil && !typeSet[e.event.Type] {
			continue
		}
		out = append(out, *e.event)
	}
	return &memoryIterator{records: out, pos: -1}, nil
}

func (m *Memory) Close(ctx context.Context) error { return nil }

// commit appends the Tx's buffered entries atomically and updates the
// fingerprint/timestamp indices under the journal's single mutex.
func (m *Memory) commit(buffered []entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range buffered {
		if e.intro != nil {
			m.knownFps[e.intro.Fingerprint] = true
		}
		m.entries = append(m.entries, e)
		if m.highestTs.Before(e.ts) {
			m.highestTs = e.ts
		}
	}
	return nil
}

func (m *Memory) isKnown(fp layout.Fingerprint, staged map[layout.Fingerprint]bool) bool {
	m.mu.Lock()
	known := m.knownFps[fp]
	m.mu.Unlock()
	return known || staged[fp]
}

type memoryTx struct {
	j          *Memory
	buffered   []entry
	stagedFps  map[layout.Fingerprint]bool
	done       bool
}

func (tx *memoryTx) AppendLayoutIntroduction(ctx context.Context, intro LayoutIntroduction) error {
	if tx.done {
		return ErrAborted
	}
	if tx.stagedFps == nil {
		tx.stagedFps = map[layout.Fingerprint]bool{}
	}
	tx.stagedFps[intro.Fingerprint] = true
	tx.buffered = append(tx.buffered, entry{intro: &intro})
	return nil
}

func (tx *memoryTx) AppendCommand(ctx context.Context, cmd CommandRecord) error {
	if tx.done {
		return ErrAborted
	}
	if !tx.j.isKnown(cmd.Meta.Fingerprint, tx.stagedFps) {
		return ErrUnknownFingerprint
	}
	tx.buffered = append(tx.buffered, entry{ts: cmd.Meta.Timestamp, command: &cmd})
	return nil
}

func (tx *memoryTx) AppendEvent(ctx context.Context, ev EventRecord) error {
	if tx.done {
		return ErrAborted
	}
	if !tx.j.isKnown(ev.Meta.Fingerprint, tx.stagedFps) {
		return ErrUnknownFingerprint
	}
	tx.buffered = append(tx.buffered, entry{ts: ev.Meta.Timestamp, event: &ev})
	return nil
}

func (tx *memoryTx) Commit(ctx context.Context) error {
	if tx.done {
		return ErrAborted
	}
	tx.done = true
	return tx.j.commit(tx.buffered)
}

func (tx *memoryTx) Abort(ctx context.Context) error {
	tx.done = true
	tx.buffered = nil
	return nil
}

type memoryIterator struct {
	records []EventRecord
	pos     int
}

func (it *memoryIterator) Next() bool {
	it.pos++
	return it.pos < len(it.records)
}

func (it *memoryIterator) Event() EventRecord { return it.records[it.pos] }
func (it *memoryIterator) Err() error         { return nil }
func (it *memoryIterator) Close() error       { return nil }
