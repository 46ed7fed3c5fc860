package opportunity

import (
	"context"
	"sort"
	"sync"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// memStore is an in-memory Store whose conditional writes mirror the MongoDB filters.
type memStore struct {
	mu   sync.Mutex
	docs map[primitive.ObjectID]*Opportunity
	errs map[string][]error
	// gate, when set, holds every RecordDecision call until it is closed.
	gate          chan struct{}
	decisionCalls int
	// stale holds one outdated copy per document, served by the next FindByID.
	stale map[primitive.ObjectID]*Opportunity
}

func newMemStore() *memStore {
	return &memStore{
		docs:  map[primitive.ObjectID]*Opportunity{},
		errs:  map[string][]error{},
		stale: map[primitive.ObjectID]*Opportunity{},
	}
}

// failNext queues errors returned by the next calls of op, one per call.
func (m *memStore) failNext(op string, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[op] = append(m.errs[op], errs...)
}

func (m *memStore) takeErr(op string) error {
	queue := m.errs[op]
	if len(queue) == 0 {
		return nil
	}
	m.errs[op] = queue[1:]
	return queue[0]
}

func (m *memStore) hold() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gate = make(chan struct{})
}

func (m *memStore) release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gate != nil {
		close(m.gate)
		m.gate = nil
	}
}

// edit changes a stored document behind the service's back.
func (m *memStore) edit(id primitive.ObjectID, fn func(o *Opportunity)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m.docs[id])
}

// serveStale makes the next read of id return o, as a lagging replica would.
func (m *memStore) serveStale(id primitive.ObjectID, o *Opportunity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stale[id] = clone(o)
}

func (m *memStore) stored(id primitive.ObjectID) *Opportunity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return clone(m.docs[id])
}

func clone(o *Opportunity) *Opportunity {
	if o == nil {
		return nil
	}
	cp := *o
	cp.Applied = append([]string{}, o.Applied...)
	cp.NotInterested = append([]string{}, o.NotInterested...)
	cp.Decisions = append([]DecisionRecord{}, o.Decisions...)
	cp.Roles = append([]string{}, o.Roles...)
	cp.Skills = append([]string{}, o.Skills...)
	return &cp
}

func (m *memStore) Create(_ context.Context, o *Opportunity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeErr("create"); err != nil {
		return err
	}
	m.docs[o.ID] = clone(o)
	return nil
}

func (m *memStore) FindByID(_ context.Context, id primitive.ObjectID) (*Opportunity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeErr("find"); err != nil {
		return nil, err
	}
	if o, ok := m.stale[id]; ok {
		delete(m.stale, id)
		return o, nil
	}
	return clone(m.docs[id]), nil
}

func (m *memStore) List(_ context.Context, f Filter) ([]*Opportunity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeErr("list"); err != nil {
		return nil, err
	}
	out := []*Opportunity{}
	for _, o := range m.docs {
		switch {
		case f.Domain != "" && o.Domain != f.Domain,
			f.Type != "" && o.Type != f.Type,
			f.Industry != "" && o.Industry != f.Industry,
			f.Status != "" && o.Status != f.Status,
			f.OwnerEmail != "" && o.OwnerEmail != f.OwnerEmail,
			f.Applicant != "" && !o.HasApplied(f.Applicant),
			f.NotInterested != "" && !o.IsNotInterested(f.NotInterested),
			f.Declined != "" && o.IsNotInterested(f.Declined):
			continue
		}
		out = append(out, clone(o))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Status != out[j].Status {
			return out[i].Status == StatusOpen
		}
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.Hex() > out[j].ID.Hex()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *memStore) UpdateDetails(_ context.Context, id primitive.ObjectID, owner string, d Details) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeErr("update_details"); err != nil {
		return false, err
	}
	o := m.docs[id]
	if o == nil || o.OwnerEmail != owner {
		return false, nil
	}
	o.Details = d
	return true, nil
}

func (m *memStore) openForVisitor(id primitive.ObjectID, email string) *Opportunity {
	o := m.docs[id]
	if o == nil || o.Status != StatusOpen || o.OwnerEmail == email || o.HasApplied(email) || o.IsNotInterested(email) {
		return nil
	}
	return o
}

func (m *memStore) AddApplicant(_ context.Context, id primitive.ObjectID, email string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeErr("add_applicant"); err != nil {
		return false, err
	}
	o := m.openForVisitor(id, email)
	if o == nil {
		return false, nil
	}
	o.Applied = append(o.Applied, email)
	return true, nil
}

func (m *memStore) AddNotInterested(_ context.Context, id primitive.ObjectID, email string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeErr("add_not_interested"); err != nil {
		return false, err
	}
	o := m.openForVisitor(id, email)
	if o == nil {
		return false, nil
	}
	o.NotInterested = append(o.NotInterested, email)
	return true, nil
}

func (m *memStore) RecordDecision(ctx context.Context, id primitive.ObjectID, rec DecisionRecord) (bool, error) {
	m.mu.Lock()
	gate := m.gate
	m.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisionCalls++
	if err := m.takeErr("record_decision"); err != nil {
		return false, err
	}
	o := m.docs[id]
	if o == nil || !o.HasApplied(rec.ApplicantEmail) {
		return false, nil
	}
	if _, decided := o.DecisionFor(rec.ApplicantEmail); decided {
		return false, nil
	}
	o.Decisions = append(o.Decisions, rec)
	return true, nil
}

func (m *memStore) SetStatus(_ context.Context, id primitive.ObjectID, owner string, from, to Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeErr("set_status"); err != nil {
		return false, err
	}
	o := m.docs[id]
	if o == nil || o.OwnerEmail != owner || o.Status != from {
		return false, nil
	}
	o.Status = to
	return true, nil
}
