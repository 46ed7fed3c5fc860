package opportunity

import (
	"context"
	"errors"
	"testing"
	"time"

	"OpportunityFinder/internal/config"
	"OpportunityFinder/internal/metrics"
	"OpportunityFinder/pkg/backoff"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/fx/fxtest"
)

// decided sets up Ada's opportunity with Bea as applicant and Bea accepted, returning the decide result.
func (f *fixture) decided(t *testing.T) (string, *DecisionResult) {
	t.Helper()
	id := f.create(t)
	f.apply(t, id, bea)
	f.notifier.On("NotifyApplicationAccepted", mock.Anything, "b@x.com", id, "Go Intern").Return(nil)
	res, err := f.svc.Decide(context.Background(), ada, id, DecideRequest{ApplicantEmail: "b@x.com", Decision: "accept"})
	require.NoError(t, err)
	return id, res
}

func TestPendingDecisionIsOverlaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.hold()
	id, res := f.decided(t)
	assert.Equal(t, SyncPending, res.Sync.State)
	assert.NotEmpty(t, res.Sync.ID)

	view, err := f.svc.Get(ctx, ada, id)
	require.NoError(t, err)
	assert.Equal(t, DecisionAccepted, view.ApplicationStatuses["b@x.com"])
	assert.Equal(t, LabelSyncPending, view.Sync["b@x.com"])
	assert.Empty(t, f.store.stored(oid(t, id)).Decisions)

	// Bea sees her own pending status too.
	view, err = f.svc.Get(ctx, bea, id)
	require.NoError(t, err)
	assert.Equal(t, LabelSyncPending, view.Sync["b@x.com"])

	// A pending decision already counts as decided.
	_, err = f.svc.Decide(ctx, ada, id, DecideRequest{ApplicantEmail: "b@x.com", Decision: "reject"})
	assert.ErrorIs(t, err, ErrAlreadyDecided)

	status, err := f.svc.SyncStatus(ctx, bea, id, "b@x.com")
	require.NoError(t, err)
	assert.Equal(t, SyncPending, status.State)

	f.store.release()
	f.waitSyncs(t)

	view, err = f.svc.Get(ctx, ada, id)
	require.NoError(t, err)
	assert.Equal(t, DecisionAccepted, view.ApplicationStatuses["b@x.com"])
	assert.Nil(t, view.Sync)

	status, err = f.svc.SyncStatus(ctx, ada, id, "b@x.com")
	require.NoError(t, err)
	assert.Equal(t, SyncSynced, status.State)
	assert.Equal(t, res.Sync.ID, status.ID)
}

func TestFailedSyncKeepsLocalDecision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	transient := backoff.Transient(errors.New("connection reset"))
	f.store.failNext("record_decision", transient, transient, transient)
	failedBefore := testutil.ToFloat64(metrics.DecisionSyncs.WithLabelValues(string(SyncFailed)))

	id, res := f.decided(t)
	f.waitSyncs(t)

	view, err := f.svc.Get(ctx, ada, id)
	require.NoError(t, err)
	assert.Equal(t, DecisionAccepted, view.ApplicationStatuses["b@x.com"])
	assert.Equal(t, LabelSyncFailed, view.Sync["b@x.com"])
	assert.Equal(t, failedBefore+1, testutil.ToFloat64(metrics.DecisionSyncs.WithLabelValues(string(SyncFailed))))

	failed, err := f.svc.ListSyncs("failed")
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, res.Sync.ID, failed[0].ID)
	assert.Equal(t, 3, failed[0].Attempts)
	assert.Contains(t, failed[0].LastError, "connection reset")

	_, err = f.svc.Decide(ctx, ada, id, DecideRequest{ApplicantEmail: "b@x.com", Decision: "reject"})
	assert.ErrorIs(t, err, ErrAlreadyDecided)

	retried, err := f.svc.RetrySync(res.Sync.ID)
	require.NoError(t, err)
	assert.Equal(t, SyncPending, retried.State)
	f.waitSyncs(t)

	view, err = f.svc.Get(ctx, ada, id)
	require.NoError(t, err)
	assert.Nil(t, view.Sync)
	require.Len(t, f.store.stored(oid(t, id)).Decisions, 1)

	failed, err = f.svc.ListSyncs("failed")
	require.NoError(t, err)
	assert.Empty(t, failed)
	synced, err := f.svc.ListSyncs("synced")
	require.NoError(t, err)
	require.Len(t, synced, 1)
	assert.Equal(t, 4, synced[0].Attempts)
}

func TestConflictingSyncLetsStoredStateWin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.hold()
	id, _ := f.decided(t)

	// Another writer already rejected Bea in the store.
	f.store.edit(oid(t, id), func(o *Opportunity) {
		o.Decisions = append(o.Decisions, DecisionRecord{ApplicantEmail: "b@x.com", Decision: DecisionRejected})
	})
	f.store.release()
	f.waitSyncs(t)

	view, err := f.svc.Get(ctx, ada, id)
	require.NoError(t, err)
	assert.Equal(t, DecisionRejected, view.ApplicationStatuses["b@x.com"])
	assert.Nil(t, view.Sync)

	status, err := f.svc.SyncStatus(ctx, bea, id, "b@x.com")
	require.NoError(t, err)
	assert.Equal(t, SyncConflict, status.State)
	assert.Contains(t, status.LastError, "already rejected")
	assert.Equal(t, DecisionRejected, status.Decision)
}

func TestSecondDecisionRejectedDespiteStaleRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.create(t)
	f.apply(t, id, bea)
	before := f.store.stored(oid(t, id))

	f.notifier.On("NotifyApplicationAccepted", mock.Anything, "b@x.com", id, "Go Intern").Return(nil)
	_, err := f.svc.Decide(ctx, ada, id, DecideRequest{ApplicantEmail: "b@x.com", Decision: "accept"})
	require.NoError(t, err)
	f.waitSyncs(t)

	// The read behind the second decision still shows Bea undecided.
	f.store.serveStale(oid(t, id), before)
	_, err = f.svc.Decide(ctx, ada, id, DecideRequest{ApplicantEmail: "b@x.com", Decision: "reject"})
	assert.ErrorIs(t, err, ErrAlreadyDecided)
	f.notifier.AssertNotCalled(t, "NotifyApplicationRejected", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	f.waitSyncs(t)
	assert.Equal(t, []DecisionRecord{{ApplicantEmail: "b@x.com", Decision: DecisionAccepted}},
		withoutTimes(f.store.stored(oid(t, id)).Decisions))

	status, err := f.svc.SyncStatus(ctx, bea, id, "b@x.com")
	require.NoError(t, err)
	assert.Equal(t, SyncSynced, status.State)
	assert.Equal(t, DecisionAccepted, status.Decision)
}

func TestReservedSlotBlocksConcurrentDecision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.create(t)
	f.apply(t, id, bea)

	release, err := f.syncer.Reserve(oid(t, id), "b@x.com")
	require.NoError(t, err)
	_, err = f.svc.Decide(ctx, ada, id, DecideRequest{ApplicantEmail: "b@x.com", Decision: "reject"})
	assert.ErrorIs(t, err, ErrAlreadyDecided)

	release()
	release()
	f.notifier.On("NotifyApplicationRejected", mock.Anything, "b@x.com", id, "Go Intern").Return(nil).Once()
	res, err := f.svc.Decide(ctx, ada, id, DecideRequest{ApplicantEmail: "b@x.com", Decision: "reject"})
	require.NoError(t, err)
	assert.Equal(t, DecisionRejected, res.Opportunity.ApplicationStatuses["b@x.com"])

	// A failed precondition gives the slot back.
	_, err = f.svc.Decide(ctx, ada, id, DecideRequest{ApplicantEmail: "c@x.com", Decision: "accept"})
	assert.ErrorIs(t, err, ErrNotApplicant)
	release, err = f.syncer.Reserve(oid(t, id), "c@x.com")
	require.NoError(t, err)
	release()
}

func withoutTimes(records []DecisionRecord) []DecisionRecord {
	out := make([]DecisionRecord, 0, len(records))
	for _, r := range records {
		r.DecidedAt = time.Time{}
		out = append(out, r)
	}
	return out
}

func TestSyncTreatsEarlierLandedWriteAsSynced(t *testing.T) {
	f := newFixture(t)
	f.store.hold()
	id, _ := f.decided(t)
	f.store.edit(oid(t, id), func(o *Opportunity) {
		o.Decisions = append(o.Decisions, DecisionRecord{ApplicantEmail: "b@x.com", Decision: DecisionAccepted})
	})
	f.store.release()
	f.waitSyncs(t)

	entry, ok := f.syncer.Lookup(id, "b@x.com")
	require.True(t, ok)
	assert.Equal(t, SyncSynced, entry.State)
}

func TestSyncStatusAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, _ := f.decided(t)
	f.waitSyncs(t)

	_, err := f.svc.SyncStatus(ctx, cal, id, "b@x.com")
	assert.ErrorIs(t, err, ErrNotOwner)

	_, err = f.svc.SyncStatus(ctx, ada, id, "c@x.com")
	assert.ErrorIs(t, err, ErrSyncNotFound)
}

func TestRetryOnlyFailedSyncs(t *testing.T) {
	f := newFixture(t)
	f.store.hold()
	_, res := f.decided(t)

	_, err := f.svc.RetrySync(res.Sync.ID)
	assert.ErrorIs(t, err, ErrSyncNotFailed)
	_, err = f.svc.RetrySync("missing")
	assert.ErrorIs(t, err, ErrSyncNotFound)
	_, err = f.svc.ListSyncs("lost")
	assert.Error(t, err)
}

func TestSyncerRespectsWorkerLimit(t *testing.T) {
	store := newMemStore()
	store.hold()
	syncer := NewDecisionSyncer(store, &config.Config{DecisionSyncWorkers: 1, DecisionSyncMaxAttempts: 1})
	ids := []primitive.ObjectID{primitive.NewObjectID(), primitive.NewObjectID()}
	for _, id := range ids {
		_, err := syncer.Submit(id, DecisionRecord{ApplicantEmail: "b@x.com", Decision: DecisionAccepted})
		require.NoError(t, err)
	}

	time.Sleep(20 * time.Millisecond)
	assert.Len(t, syncer.sem, 1)

	store.release()
	require.NoError(t, syncer.Wait(context.Background()))
	assert.Equal(t, 2, store.decisionCalls)
	// Neither opportunity exists, so both writes end in conflict.
	assert.Len(t, syncer.List(SyncConflict), 2)
}

func TestSyncerStopCancelsStuckWrites(t *testing.T) {
	store := newMemStore()
	store.hold()
	defer store.release()
	syncer := NewDecisionSyncer(store, &config.Config{DecisionSyncWorkers: 1, DecisionSyncMaxAttempts: 1})
	lc := fxtest.NewLifecycle(t)
	syncer.Start(lc)
	lc.RequireStart()

	id := primitive.NewObjectID()
	entry, err := syncer.Submit(id, DecisionRecord{ApplicantEmail: "b@x.com", Decision: DecisionAccepted})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, syncer.Stop(ctx), context.DeadlineExceeded)
	require.NoError(t, syncer.Wait(context.Background()))

	failed := syncer.List(SyncFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, entry.ID, failed[0].ID)

	_, err = syncer.Submit(id, DecisionRecord{ApplicantEmail: "c@x.com", Decision: DecisionAccepted})
	assert.ErrorIs(t, err, ErrSyncStopped)
	lc.RequireStop()
}
