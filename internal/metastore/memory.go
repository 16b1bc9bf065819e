package metastore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type subscription struct {
	filter   Filter
	onChange func([]Document)
	last     []changeKey
	closed   bool
}

// MemoryStore keeps documents in process memory and notifies subscribers
// synchronously after each change. Callbacks must not write to the store
// they are subscribed to.
type MemoryStore struct {
	clock clockwork.Clock

	mu        sync.Mutex
	docs      map[string]map[string]Document
	subs      map[int]*subscription
	nextID    int
	lastStamp time.Time

	// notifications are delivered one at a time, in commit order
	notifyMu sync.Mutex
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(clock clockwork.Clock) *MemoryStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryStore{
		clock: clock,
		docs:  make(map[string]map[string]Document),
		subs:  make(map[int]*subscription),
	}
}

func (m *MemoryStore) Write(ctx context.Context, collection, id string, doc Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	doc = doc.Clone()
	doc.Collection = collection
	doc.ID = id

	m.mu.Lock()
	doc.UpdatedAt = m.stampLocked()
	if m.docs[collection] == nil {
		m.docs[collection] = make(map[string]Document)
	}
	m.docs[collection][id] = doc
	m.mu.Unlock()

	m.notify()
	return nil
}

// stampLocked returns a strictly increasing update time so that every
// change is visible to subscribers even under a frozen clock.
func (m *MemoryStore) stampLocked() time.Time {
	now := m.clock.Now()
	if !now.After(m.lastStamp) {
		now = m.lastStamp.Add(time.Nanosecond)
	}
	m.lastStamp = now
	return now
}

func (m *MemoryStore) Query(ctx context.Context, filter Filter) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queryLocked(filter), nil
}

func (m *MemoryStore) queryLocked(filter Filter) []Document {
	var out []Document
	for collection, docs := range m.docs {
		if filter.Collection != "" && collection != filter.Collection {
			continue
		}
		for _, d := range docs {
			if filter.Matches(d) {
				out = append(out, d.Clone())
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *MemoryStore) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	doc, ok := m.docs[collection][id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	doc = doc.Clone()
	if doc.Data == nil {
		doc.Data = make(map[string]any)
	}
	for k, v := range normalize(fields) {
		doc.Data[k] = v
		if k == DeletedField {
			if b, ok := v.(bool); ok {
				doc.Deleted = b
			}
		}
	}
	doc.UpdatedAt = m.stampLocked()
	m.docs[collection][id] = doc
	m.mu.Unlock()

	m.notify()
	return nil
}

func (m *MemoryStore) Subscribe(filter Filter, onChange func([]Document)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	sub := &subscription{filter: filter, onChange: onChange}
	m.subs[id] = sub
	m.mu.Unlock()

	m.notifyOne(sub, true)

	return func() {
		m.mu.Lock()
		sub.closed = true
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

func (m *MemoryStore) notify() {
	m.mu.Lock()
	subs := make([]*subscription, 0, len(m.subs))
	for _, s := range m.subs {
		subs = append(subs, s)
	}
	m.mu.Unlock()

	for _, s := range subs {
		m.notifyOne(s, false)
	}
}

func (m *MemoryStore) notifyOne(sub *subscription, initial bool) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	if sub.closed {
		m.mu.Unlock()
		return
	}
	docs := m.queryLocked(sub.filter)
	sig := signature(docs)
	changed := initial || !sameSignature(sig, sub.last)
	sub.last = sig
	m.mu.Unlock()

	if changed {
		sub.onChange(docs)
	}
}
