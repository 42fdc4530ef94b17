package subscription

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"
)

type memTxKey struct{}

// MemoryStore is a Store kept in process memory. Transactions are
// serialized and roll back by restoring a snapshot. Values are deep-copied
// on the way in and out.
type MemoryStore struct {
	txMu sync.Mutex // held for the whole transaction
	mu   sync.RWMutex
	subs map[uuid.UUID]*Subscription
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{subs: make(map[uuid.UUID]*Subscription)}
}

func (m *MemoryStore) Tx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) == m {
		return fn(ctx)
	}

	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.RLock()
	snapshot := maps.Clone(m.subs)
	m.mu.RUnlock()

	if err := fn(context.WithValue(ctx, memTxKey{}, m)); err != nil {
		m.mu.Lock()
		m.subs = snapshot
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *MemoryStore) CreateSubscription(_ context.Context, s *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.subs[s.ID]; exists {
		return fmt.Errorf("%w: id %s", ErrDuplicateSubscription, s.ID)
	}
	if m.findByTag(s.Subscriber, s.Tag) != nil {
		return fmt.Errorf("%w: %s tag %q", ErrDuplicateSubscription, s.Subscriber, s.Tag)
	}
	m.subs[s.ID] = s.Clone()
	return nil
}

func (m *MemoryStore) SaveSubscription(_ context.Context, s *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.subs[s.ID]; !exists {
		return fmt.Errorf("%w: id %s", ErrSubscriptionNotFound, s.ID)
	}
	if other := m.findByTag(s.Subscriber, s.Tag); other != nil && other.ID != s.ID {
		return fmt.Errorf("%w: %s tag %q", ErrDuplicateSubscription, s.Subscriber, s.Tag)
	}
	seen := make(map[string]struct{}, len(s.Features))
	for _, f := range s.Features {
		if _, dup := seen[f.Tag]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateGrant, f.Tag)
		}
		seen[f.Tag] = struct{}{}
	}
	m.subs[s.ID] = s.Clone()
	return nil
}

func (m *MemoryStore) Subscription(_ context.Context, id uuid.UUID) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.subs[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %s", ErrSubscriptionNotFound, id)
	}
	return s.Clone(), nil
}

func (m *MemoryStore) SubscriptionByTag(_ context.Context, subscriber SubscriberRef, tag string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := m.findByTag(subscriber, tag)
	if s == nil {
		return nil, fmt.Errorf("%w: %s tag %q", ErrSubscriptionNotFound, subscriber, tag)
	}
	return s.Clone(), nil
}

func (m *MemoryStore) FindSubscriptions(_ context.Context, q Query) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Subscription
	for _, s := range m.subs {
		if q.Matches(s) {
			out = append(out, s.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *Subscription) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID.String(), b.ID.String()))
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Must be called with mu held.
func (m *MemoryStore) findByTag(subscriber SubscriberRef, tag string) *Subscription {
	for _, s := range m.subs {
		if s.Subscriber == subscriber && s.Tag == tag {
			return s
		}
	}
	return nil
}
