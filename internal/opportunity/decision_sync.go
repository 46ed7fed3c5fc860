package opportunity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"OpportunityFinder/internal/config"
	"OpportunityFinder/internal/metrics"
	"OpportunityFinder/pkg/apperrors"
	"OpportunityFinder/pkg/backoff"
	"OpportunityFinder/pkg/logger"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type SyncState string

const (
	SyncPending  SyncState = "pending"
	SyncSynced   SyncState = "synced"
	SyncFailed   SyncState = "failed"
	SyncConflict SyncState = "conflict"
)

// recentLimit bounds how many finished syncs are remembered for status lookups.
const recentLimit = 200

var (
	ErrSyncNotFound  = apperrors.NotFound("decision_sync", "Decision sync not found")
	ErrSyncNotFailed = apperrors.New(apperrors.CodeInvalidStatus, "decision_sync", "Only failed decision syncs can be retried", http.StatusConflict)
	ErrSyncStopped   = apperrors.New(apperrors.CodeExternalServiceError, "decision_sync", "Decision sync is shutting down", http.StatusServiceUnavailable)

	errSyncConflict = errors.New("decision conflicts with stored state")
)

// DecisionSync tracks the remote write of one locally applied decision.
type DecisionSync struct {
	ID             string    `json:"id"`
	OpportunityID  string    `json:"opportunity_id"`
	ApplicantEmail string    `json:"applicant_email"`
	Decision       Decision  `json:"decision"`
	DecidedAt      time.Time `json:"decided_at"`
	State          SyncState `json:"state"`
	Attempts       int       `json:"attempts"`
	LastError      string    `json:"last_error,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`

	oppID primitive.ObjectID
}

func (d *DecisionSync) record() DecisionRecord {
	return DecisionRecord{ApplicantEmail: d.ApplicantEmail, Decision: d.Decision, DecidedAt: d.DecidedAt}
}

// DecisionSyncer writes decisions to the store in the background with bounded retries.
// Pending and failed entries form a local overlay that reads merge over stored records.
type DecisionSyncer struct {
	store  Store
	policy backoff.Policy
	sem    chan struct{}
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	now    func() time.Time

	mu       sync.Mutex
	closing  bool
	entries  map[string]map[string]*DecisionSync // opportunity id -> applicant email
	ids      map[string]*DecisionSync
	recent   []DecisionSync
	reserved map[string]bool // opportunity id + "/" + applicant email
}

func NewDecisionSyncer(store Store, cfg *config.Config) *DecisionSyncer {
	workers := cfg.DecisionSyncWorkers
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &DecisionSyncer{
		store:   store,
		policy:  backoff.Policy{MaxAttempts: cfg.DecisionSyncMaxAttempts, BaseDelay: cfg.RetryBaseDelay},
		sem:     make(chan struct{}, workers),
		ctx:     ctx,
		cancel:  cancel,
		now:     time.Now,
		entries:  map[string]map[string]*DecisionSync{},
		ids:      map[string]*DecisionSync{},
		reserved: map[string]bool{},
	}
}

// Reserve claims the decision slot of one applicant until release is called. It returns
// ErrAlreadyDecided when the slot is already reserved or the syncer knows a decision for it.
func (s *DecisionSyncer) Reserve(oppID primitive.ObjectID, applicant string) (release func(), err error) {
	key := oppID.Hex() + "/" + applicant
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return nil, ErrSyncStopped
	}
	if s.reserved[key] {
		return nil, ErrAlreadyDecided
	}
	if _, known := s.lookupLocked(oppID.Hex(), applicant); known {
		return nil, ErrAlreadyDecided
	}
	s.reserved[key] = true

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.reserved, key)
			s.mu.Unlock()
		})
	}, nil
}

// Submit records rec as pending and starts its remote write. A second submit for an applicant
// whose earlier decision is still pending or failed returns ErrAlreadyDecided. Callers hold the
// applicant's reservation from Reserve.
func (s *DecisionSyncer) Submit(oppID primitive.ObjectID, rec DecisionRecord) (DecisionSync, error) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return DecisionSync{}, ErrSyncStopped
	}
	byApplicant := s.entries[oppID.Hex()]
	if byApplicant == nil {
		byApplicant = map[string]*DecisionSync{}
		s.entries[oppID.Hex()] = byApplicant
	}
	if _, exists := byApplicant[rec.ApplicantEmail]; exists {
		s.mu.Unlock()
		return DecisionSync{}, ErrAlreadyDecided
	}

	entry := &DecisionSync{
		ID:             uuid.NewString(),
		OpportunityID:  oppID.Hex(),
		ApplicantEmail: rec.ApplicantEmail,
		Decision:       rec.Decision,
		DecidedAt:      rec.DecidedAt,
		State:          SyncPending,
		UpdatedAt:      s.now().UTC(),
		oppID:          oppID,
	}
	byApplicant[rec.ApplicantEmail] = entry
	s.ids[entry.ID] = entry
	snapshot := *entry
	s.wg.Add(1)
	s.mu.Unlock()

	go s.run(entry.ID, oppID, rec)
	return snapshot, nil
}

// Retry re-submits a failed entry.
func (s *DecisionSyncer) Retry(id string) (DecisionSync, error) {
	s.mu.Lock()
	entry, ok := s.ids[id]
	if !ok {
		s.mu.Unlock()
		return DecisionSync{}, ErrSyncNotFound
	}
	if entry.State != SyncFailed {
		s.mu.Unlock()
		return DecisionSync{}, ErrSyncNotFailed
	}
	if s.closing {
		s.mu.Unlock()
		return DecisionSync{}, ErrSyncStopped
	}
	entry.State = SyncPending
	entry.LastError = ""
	entry.UpdatedAt = s.now().UTC()
	snapshot := *entry
	rec := entry.record()
	s.wg.Add(1)
	s.mu.Unlock()

	logger.L().Info("Retrying decision sync", zap.String("syncID", id), zap.String("opportunityID", entry.OpportunityID))
	go s.run(id, snapshot.oppID, rec)
	return snapshot, nil
}

func (s *DecisionSyncer) run(id string, oppID primitive.ObjectID, rec DecisionRecord) {
	defer s.wg.Done()

	select {
	case s.sem <- struct{}{}:
	case <-s.ctx.Done():
		s.finish(id, SyncFailed, s.ctx.Err())
		return
	}
	defer func() { <-s.sem }()

	err := backoff.Retry(s.ctx, s.policy, func(ctx context.Context) error {
		s.countAttempt(id)
		landed, err := s.store.RecordDecision(ctx, oppID, rec)
		if err != nil {
			return err
		}
		if landed {
			return nil
		}
		return s.reconcile(ctx, oppID, rec)
	})

	switch {
	case err == nil:
		s.finish(id, SyncSynced, nil)
	case errors.Is(err, errSyncConflict):
		s.finish(id, SyncConflict, err)
	default:
		s.finish(id, SyncFailed, err)
	}
}

// reconcile explains a conditional write that matched nothing. A stored decision equal to rec
// means an earlier attempt landed.
func (s *DecisionSyncer) reconcile(ctx context.Context, oppID primitive.ObjectID, rec DecisionRecord) error {
	o, err := s.store.FindByID(ctx, oppID)
	if err != nil {
		return err
	}
	if o == nil {
		return fmt.Errorf("%w: opportunity no longer exists", errSyncConflict)
	}
	if stored, ok := o.DecisionFor(rec.ApplicantEmail); ok {
		if stored == rec.Decision {
			return nil
		}
		return fmt.Errorf("%w: applicant already %s", errSyncConflict, stored)
	}
	if !o.HasApplied(rec.ApplicantEmail) {
		return fmt.Errorf("%w: applicant is not in applied", errSyncConflict)
	}
	return backoff.Transient(errors.New("decision write matched no document"))
}

func (s *DecisionSyncer) countAttempt(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.ids[id]; ok {
		entry.Attempts++
	}
}

func (s *DecisionSyncer) finish(id string, state SyncState, err error) {
	s.mu.Lock()
	entry, ok := s.ids[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	entry.State = state
	entry.UpdatedAt = s.now().UTC()
	if err != nil {
		entry.LastError = err.Error()
	}
	// Synced and conflicting entries leave the overlay: the stored record is authoritative for both.
	if state == SyncSynced || state == SyncConflict {
		delete(s.ids, id)
		if byApplicant := s.entries[entry.OpportunityID]; byApplicant != nil {
			delete(byApplicant, entry.ApplicantEmail)
			if len(byApplicant) == 0 {
				delete(s.entries, entry.OpportunityID)
			}
		}
		s.recent = append(s.recent, *entry)
		if len(s.recent) > recentLimit {
			s.recent = s.recent[len(s.recent)-recentLimit:]
		}
	}
	snapshot := *entry
	s.mu.Unlock()

	metrics.ObserveSyncOutcome(string(state))
	fields := []zap.Field{
		zap.String("syncID", snapshot.ID),
		zap.String("opportunityID", snapshot.OpportunityID),
		zap.String("applicant", snapshot.ApplicantEmail),
		zap.String("decision", string(snapshot.Decision)),
		zap.Int("attempts", snapshot.Attempts),
	}
	switch state {
	case SyncSynced:
		logger.L().Debug("Decision synced", fields...)
	case SyncConflict:
		logger.L().Warn("Decision conflicts with stored state, stored state wins", append(fields, zap.Error(err))...)
	case SyncFailed:
		logger.L().Warn("Decision sync failed, keeping local decision", append(fields, zap.Error(err))...)
	}
}

// Overlay returns the pending and failed decisions for one opportunity, keyed by applicant.
func (s *DecisionSyncer) Overlay(oppID string) map[string]DecisionSync {
	s.mu.Lock()
	defer s.mu.Unlock()
	byApplicant := s.entries[oppID]
	if len(byApplicant) == 0 {
		return nil
	}
	out := make(map[string]DecisionSync, len(byApplicant))
	for email, entry := range byApplicant {
		out[email] = *entry
	}
	return out
}

// Lookup finds the local entry for an applicant, falling back to the most recent finished one.
func (s *DecisionSyncer) Lookup(oppID, applicant string) (DecisionSync, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookupLocked(oppID, applicant)
}

func (s *DecisionSyncer) lookupLocked(oppID, applicant string) (DecisionSync, bool) {
	if entry, ok := s.entries[oppID][applicant]; ok {
		return *entry, true
	}
	for i := len(s.recent) - 1; i >= 0; i-- {
		if s.recent[i].OpportunityID == oppID && s.recent[i].ApplicantEmail == applicant {
			return s.recent[i], true
		}
	}
	return DecisionSync{}, false
}

// List returns entries in state, or every known entry when state is empty. Oldest first.
func (s *DecisionSyncer) List(state SyncState) []DecisionSync {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []DecisionSync{}
	for _, entry := range s.ids {
		if state == "" || entry.State == state {
			out = append(out, *entry)
		}
	}
	for _, entry := range s.recent {
		if state == "" || entry.State == state {
			out = append(out, entry)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out
}

// Wait blocks until every in-flight sync has finished or ctx is done.
func (s *DecisionSyncer) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop refuses new work and waits for in-flight syncs. When ctx expires first the remaining
// writes are cancelled and end up failed.
func (s *DecisionSyncer) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	err := s.Wait(ctx)
	s.cancel()
	if err != nil {
		logger.L().Warn("Stopped before all decision syncs finished", zap.Error(err))
	}
	return err
}

func (s *DecisionSyncer) Start(lc fx.Lifecycle) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			logger.L().Info("Waiting for in-flight decision syncs")
			return s.Stop(ctx)
		},
	})
}
