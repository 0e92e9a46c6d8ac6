package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/cursorrunner/cursor-runner/internal/apierr"
)

// MemoryStore is the degrade-gracefully fallback used when Redis is
// unreachable (spec §4.D durability clause) or when none is configured at
// all (tests, local development). It never itself returns
// StoreUnavailable — by construction it cannot be "unavailable".
type MemoryStore struct {
	mu          sync.Mutex
	records     map[string]*Record
	locks       map[string]*sync.Mutex // per-identifier append serialization
	queueLatest map[string]string      // queueType -> most recent conversation id
	ttl         time.Duration
	expireAt    map[string]time.Time
}

// NewMemoryStore constructs an in-memory Store with the given TTL (records
// are not proactively swept; expiry is checked lazily on access, matching
// the "evicted by the store after TTL expiry with no activity" lifecycle).
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		records:     make(map[string]*Record),
		locks:       make(map[string]*sync.Mutex),
		queueLatest: make(map[string]string),
		expireAt:    make(map[string]time.Time),
		ttl:         ttl,
	}
}

func (m *MemoryStore) keyLock(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

// reapLocked drops id if its TTL has lapsed. Caller must hold m.mu.
func (m *MemoryStore) reapLocked(id string) {
	if exp, ok := m.expireAt[id]; ok && time.Now().After(exp) {
		delete(m.records, id)
		delete(m.expireAt, id)
	}
}

func (m *MemoryStore) touchLocked(id string) {
	m.expireAt[id] = time.Now().Add(m.ttl)
}

func (m *MemoryStore) Create(_ context.Context, agentID string, metadata map[string]any, queueType string) (Record, *apierr.Error) {
	id := NewConversationID()
	rec := newRecord(id, agentID, metadata)

	m.mu.Lock()
	m.records[id] = &rec
	m.touchLocked(id)
	if queueType != "" {
		m.queueLatest[queueType] = id
	}
	m.mu.Unlock()

	return rec, nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (Record, *apierr.Error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reapLocked(id)
	rec, ok := m.records[id]
	if !ok {
		return Record{}, apierr.New(apierr.NotFound, "", "conversation not found: "+id)
	}
	rec.LastAccessedAt = time.Now().UTC()
	m.touchLocked(id)
	return *rec, nil
}

func (m *MemoryStore) Append(_ context.Context, id string, msg Message) *apierr.Error {
	lock := m.keyLock(id)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	m.reapLocked(id)
	rec, ok := m.records[id]
	m.mu.Unlock()
	if !ok {
		return apierr.New(apierr.NotFound, "", "conversation not found: "+id)
	}
	if msg.ID == "" {
		msg.ID = NewMessageID()
	}

	m.mu.Lock()
	rec.Messages = append(rec.Messages, msg)
	rec.LastAccessedAt = time.Now().UTC()
	m.touchLocked(id)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) List(_ context.Context, filter ListFilter) (ListResult, *apierr.Error) {
	if err := validateListFilter(filter); err != nil {
		return ListResult{}, err
	}

	m.mu.Lock()
	all := make([]Record, 0, len(m.records))
	for id, rec := range m.records {
		m.reapLocked(id)
		if _, ok := m.records[id]; !ok {
			continue
		}
		if filter.QueueType != "" && m.queueLatest[filter.QueueType] != id {
			// queue-scoped listing is approximated here: the in-memory
			// fallback only tracks the latest id per queue, not a full
			// index, since it exists purely to keep requests alive during
			// a Redis outage.
			continue
		}
		all = append(all, *rec)
	}
	m.mu.Unlock()

	sortRecords(all, filter)
	total := len(all)
	return ListResult{Items: paginate(all, filter), Total: total}, nil
}

func (m *MemoryStore) UpdateLastAccessed(_ context.Context, id string) *apierr.Error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reapLocked(id)
	rec, ok := m.records[id]
	if !ok {
		return apierr.New(apierr.NotFound, "", "conversation not found: "+id)
	}
	rec.LastAccessedAt = time.Now().UTC()
	m.touchLocked(id)
	return nil
}

func (m *MemoryStore) LastConversationID(_ context.Context, queueType string) (string, *apierr.Error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queueLatest[queueType], nil
}
