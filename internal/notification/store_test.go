package notification

import (
	"context"
	"sort"
	"sync"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// memStore is an in-memory Store ordered the same way as the MongoDB repository.
type memStore struct {
	mu      sync.Mutex
	entries []*Notification
	failOn  map[string]error
	// queued errors are returned once each, ahead of failOn.
	queued map[string][]error
	calls  map[string]int
}

func newMemStore() *memStore {
	return &memStore{failOn: map[string]error{}, queued: map[string][]error{}, calls: map[string]int{}}
}

func (m *memStore) failNext(op string, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queued[op] = append(m.queued[op], errs...)
}

func (m *memStore) callCount(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *memStore) fail(op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[op]++
	if queue := m.queued[op]; len(queue) > 0 {
		m.queued[op] = queue[1:]
		return queue[0]
	}
	return m.failOn[op]
}

func (m *memStore) sorted(recipient string) []*Notification {
	var out []*Notification
	for _, n := range m.entries {
		if n.RecipientEmail == recipient {
			out = append(out, n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.Hex() > out[j].ID.Hex()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (m *memStore) Insert(_ context.Context, n *Notification) error {
	if err := m.fail("insert"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *n
	m.entries = append(m.entries, &cp)
	return nil
}

func (m *memStore) TrimTo(_ context.Context, recipient string, keep int) (int64, error) {
	if err := m.fail("trim"); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ledger := m.sorted(recipient)
	if len(ledger) <= keep {
		return 0, nil
	}
	stale := map[primitive.ObjectID]bool{}
	for _, n := range ledger[keep:] {
		stale[n.ID] = true
	}
	kept := m.entries[:0]
	for _, n := range m.entries {
		if !stale[n.ID] {
			kept = append(kept, n)
		}
	}
	m.entries = kept
	return int64(len(stale)), nil
}

func (m *memStore) List(_ context.Context, recipient string, limit int) ([]*Notification, error) {
	if err := m.fail("list"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ledger := m.sorted(recipient)
	if len(ledger) > limit {
		ledger = ledger[:limit]
	}
	out := make([]*Notification, 0, len(ledger))
	for _, n := range ledger {
		cp := *n
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memStore) MarkRead(_ context.Context, recipient string, id primitive.ObjectID) (bool, error) {
	if err := m.fail("mark_read"); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.entries {
		if n.ID == id && n.RecipientEmail == recipient {
			n.Read = true
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) MarkAllRead(_ context.Context, recipient string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var changed int64
	for _, n := range m.entries {
		if n.RecipientEmail == recipient && !n.Read {
			n.Read = true
			changed++
		}
	}
	return changed, nil
}

func (m *memStore) DeleteAll(_ context.Context, recipient string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.entries[:0]
	var deleted int64
	for _, n := range m.entries {
		if n.RecipientEmail == recipient {
			deleted++
			continue
		}
		kept = append(kept, n)
	}
	m.entries = kept
	return deleted, nil
}

func (m *memStore) CountUnread(_ context.Context, recipient string) (int64, error) {
	if err := m.fail("count_unread"); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for _, n := range m.entries {
		if n.RecipientEmail == recipient && !n.Read {
			count++
		}
	}
	return count, nil
}

func (m *memStore) PendingEmail(_ context.Context, limit int) ([]*Notification, error) {
	if err := m.fail("pending"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Notification
	for _, n := range m.entries {
		if !n.Emailed && len(out) < limit {
			cp := *n
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) MarkEmailed(_ context.Context, id primitive.ObjectID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.entries {
		if n.ID == id {
			n.Emailed = true
		}
	}
	return nil
}
