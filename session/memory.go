package session

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

var _ Registry = (*MemoryStore)(nil)

// MemoryStore is an in-process [Registry].
//
// Records live in a map keyed by token id with two adjacency indexes
// (family -> token ids, subject -> families). An expiry min-heap lets
// SweepExpired stop at the first live record instead of scanning everything.
// Each record owns exactly one heap entry, removed together with the record.
type MemoryStore struct {
	mu       sync.RWMutex
	records  map[string]*Record
	families adjacency
	subjects adjacency
	owners   map[string]string
	expiry   expiryHeap
	entries  map[string]*expiryEntry
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory registry.
func NewMemoryStore(opts ...Option) *MemoryStore {
	o := NewOptions(opts...)
	return &MemoryStore{
		records:  make(map[string]*Record),
		families: make(adjacency),
		subjects: make(adjacency),
		owners:   make(map[string]string),
		entries:  make(map[string]*expiryEntry),
		now:      o.Now,
	}
}

// Register implements [Registry].
func (m *MemoryStore) Register(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return unavailable(err)
	}
	if err := rec.Validate(m.now()); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.records[rec.TokenID]; exists {
		return ErrDuplicateToken
	}
	m.insertLocked(rec)
	return nil
}

// Lookup implements [Registry].
func (m *MemoryStore) Lookup(ctx context.Context, tokenID string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable(err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[tokenID]
	if !ok || rec.Revoked {
		return nil, nil
	}
	if rec.Expired(m.now()) {
		m.deleteLocked(rec)
		return nil, nil
	}
	out := *rec
	return &out, nil
}

// Consume implements [Registry].
func (m *MemoryStore) Consume(ctx context.Context, tokenID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, unavailable(err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[tokenID]
	if !ok || rec.Revoked {
		return false, nil
	}
	if rec.Expired(m.now()) {
		m.deleteLocked(rec)
		return false, nil
	}
	m.deleteLocked(rec)
	return true, nil
}

// Rotate implements [Registry]. The successor is linked before the old record
// is unlinked, so the family never looks empty.
func (m *MemoryStore) Rotate(ctx context.Context, oldTokenID string, next Record) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, unavailable(err)
	}
	now := m.now()
	if err := next.Validate(now); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[oldTokenID]
	if !ok || rec.Revoked || rec.Family != next.Family || rec.Subject != next.Subject {
		return false, nil
	}
	if rec.Expired(now) {
		m.deleteLocked(rec)
		return false, nil
	}
	if _, exists := m.records[next.TokenID]; exists {
		return false, ErrDuplicateToken
	}

	m.insertLocked(next)
	m.deleteLocked(rec)
	return true, nil
}

// RevokeFamily implements [Registry].
func (m *MemoryStore) RevokeFamily(ctx context.Context, family string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, unavailable(err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	revoked := 0
	for _, id := range m.families.members(family) {
		rec, ok := m.records[id]
		if !ok || rec.Revoked {
			continue
		}
		rec.Revoked = true
		revoked++
	}
	return revoked, nil
}

// FamiliesForSubject implements [Registry].
func (m *MemoryStore) FamiliesForSubject(ctx context.Context, subject string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable(err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.subjects.members(subject), nil
}

// SweepExpired implements [Registry]. The lock is taken per popped entry so a
// large sweep never stalls concurrent rotations for long.
func (m *MemoryStore) SweepExpired(ctx context.Context) (int, error) {
	removed := 0
	for {
		if err := ctx.Err(); err != nil {
			return removed, unavailable(err)
		}
		done, deleted := m.sweepOne()
		if deleted {
			removed++
		}
		if done {
			return removed, nil
		}
	}
}

func (m *MemoryStore) sweepOne() (done bool, deleted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.expiry.Len() == 0 || !m.now().After(m.expiry[0].expiresAt) {
		return true, false
	}
	m.deleteLocked(m.records[m.expiry[0].tokenID])
	return false, true
}

// Stats implements [Registry].
func (m *MemoryStore) Stats(ctx context.Context) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, unavailable(err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.now()
	st := Stats{Total: len(m.records)}
	for _, rec := range m.records {
		if rec.Active(now) {
			st.Active++
		}
	}
	return st, nil
}

// Ping implements [Registry].
func (m *MemoryStore) Ping(ctx context.Context) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, unavailable(err)
	}
	return 0, nil
}

func (m *MemoryStore) insertLocked(rec Record) {
	stored := rec
	m.records[rec.TokenID] = &stored
	m.families.add(rec.Family, rec.TokenID)
	if _, ok := m.owners[rec.Family]; !ok {
		m.owners[rec.Family] = rec.Subject
	}
	m.subjects.add(m.owners[rec.Family], rec.Family)

	entry := &expiryEntry{tokenID: rec.TokenID, expiresAt: rec.ExpiresAt}
	heap.Push(&m.expiry, entry)
	m.entries[rec.TokenID] = entry
}

func (m *MemoryStore) deleteLocked(rec *Record) {
	delete(m.records, rec.TokenID)
	if entry, ok := m.entries[rec.TokenID]; ok {
		heap.Remove(&m.expiry, entry.index)
		delete(m.entries, rec.TokenID)
	}
	if m.families.remove(rec.Family, rec.TokenID) {
		if owner, ok := m.owners[rec.Family]; ok {
			m.subjects.remove(owner, rec.Family)
			delete(m.owners, rec.Family)
		}
	}
}

type expiryEntry struct {
	tokenID   string
	expiresAt time.Time
	index     int
}

type expiryHeap []*expiryEntry

func (h expiryHeap) Len() int           { return len(h) }
func (h expiryHeap) Less(i, j int) bool { return h[i].expiresAt.Before(h[j].expiresAt) }
func (h expiryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *expiryHeap) Push(x any) {
	entry := x.(*expiryEntry)
	entry.index = len(*h)
	*h = append(*h, entry)
}

func (h *expiryHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	entry.index = -1
	*h = old[:n-1]
	return entry
}
