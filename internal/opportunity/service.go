package opportunity

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"OpportunityFinder/internal/auth"
	"OpportunityFinder/internal/config"
	"OpportunityFinder/internal/metrics"
	"OpportunityFinder/pkg/apperrors"
	"OpportunityFinder/pkg/backoff"
	"OpportunityFinder/pkg/logger"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

const domain = "opportunity"

var (
	ErrNotFound             = apperrors.NotFound(domain, "Opportunity not found")
	ErrNotOwner             = apperrors.NewForbiddenError("Only the owner can manage this opportunity")
	ErrClosed               = apperrors.New(apperrors.CodeInvalidStatus, domain, "Opportunity is closed", http.StatusConflict)
	ErrOwnerCannotApply     = apperrors.New(apperrors.CodeInvalidOperation, domain, "You cannot apply to your own opportunity", http.StatusBadRequest)
	ErrOwnerNotInterested   = apperrors.New(apperrors.CodeInvalidOperation, domain, "You cannot mark your own opportunity as not interested", http.StatusBadRequest)
	ErrAlreadyNotInterested = apperrors.Conflict(domain, "You marked this opportunity as not interested")
	ErrAlreadyApplied       = apperrors.Conflict(domain, "You already applied to this opportunity")
	ErrNotApplicant         = apperrors.New(apperrors.CodeInvalidOperation, domain, "This user has not applied to the opportunity", http.StatusBadRequest)
	ErrAlreadyDecided       = apperrors.Conflict(domain, "A decision was already made for this applicant")
	ErrInvalidDecision      = apperrors.NewBadRequestError("Decision must be accept or reject")
	ErrConcurrentUpdate     = apperrors.Conflict(domain, "Opportunity changed concurrently, please retry")
)

// Notifier appends ledger entries for lifecycle events.
type Notifier interface {
	NotifyNewApplication(ctx context.Context, ownerEmail, applicantName, opportunityID, title string) error
	NotifyApplicationAccepted(ctx context.Context, applicantEmail, opportunityID, title string) error
	NotifyApplicationRejected(ctx context.Context, applicantEmail, opportunityID, title string) error
	NotifyOpportunityClosed(ctx context.Context, applicantEmail, opportunityID, title string) error
}

// EmployeeDirectory resolves emails to display names.
type EmployeeDirectory interface {
	DisplayNames(ctx context.Context, emails []string) (map[string]string, error)
}

type Service struct {
	store     Store
	syncer    *DecisionSyncer
	notifier  Notifier
	directory EmployeeDirectory
	retry     backoff.Policy
	now       func() time.Time
}

func NewService(store Store, syncer *DecisionSyncer, notifier Notifier, directory EmployeeDirectory, cfg *config.Config) *Service {
	return &Service{
		store:     store,
		syncer:    syncer,
		notifier:  notifier,
		directory: directory,
		retry:     backoff.Policy{MaxAttempts: 3, BaseDelay: cfg.RetryBaseDelay},
		now:       time.Now,
	}
}

func (s *Service) Create(ctx context.Context, owner auth.Identity, in Input) (*View, error) {
	d, err := in.details(midnightUTC(s.now()), time.Time{})
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	o := &Opportunity{
		ID:         primitive.NewObjectID(),
		OwnerEmail: owner.Email,
		Details:    d,
		Status:     StatusOpen,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.Create(ctx, o); err != nil {
		return nil, storeError(err)
	}
	logger.L().Info("Opportunity created", zap.String("opportunityID", o.ID.Hex()), zap.String("owner", owner.Email))
	return s.view(ctx, o, owner.Email), nil
}

func (s *Service) Get(ctx context.Context, viewer auth.Identity, id string) (*View, error) {
	o, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, o, viewer.Email), nil
}

// List browses opportunities. Ones the viewer declined are hidden unless ShowNotInterested is set
// or the status asks for the viewer's own responses.
func (s *Service) List(ctx context.Context, viewer auth.Identity, filter Filter) ([]*View, error) {
	filter.OwnerEmail, filter.Applicant, filter.NotInterested, filter.Declined = "", "", "", ""
	switch filter.Status {
	case "", StatusOpen, StatusClosed:
		if !filter.ShowNotInterested {
			filter.Declined = viewer.Email
		}
	case StatusApplied:
		filter.Status, filter.Applicant = "", viewer.Email
	case StatusNotInterested:
		filter.Status, filter.NotInterested = "", viewer.Email
	default:
		return nil, apperrors.ValidationError(map[string]string{"status": "Must be one of: open, closed, applied, not_interested"})
	}
	return s.list(ctx, viewer, filter)
}

func (s *Service) ListOwned(ctx context.Context, viewer auth.Identity) ([]*View, error) {
	return s.list(ctx, viewer, Filter{OwnerEmail: viewer.Email})
}

func (s *Service) ListApplied(ctx context.Context, viewer auth.Identity) ([]*View, error) {
	return s.list(ctx, viewer, Filter{Applicant: viewer.Email})
}

func (s *Service) list(ctx context.Context, viewer auth.Identity, filter Filter) ([]*View, error) {
	var list []*Opportunity
	err := backoff.Retry(ctx, s.retry, func(ctx context.Context) error {
		var err error
		list, err = s.store.List(ctx, filter)
		return err
	})
	if err != nil {
		return nil, storeError(err)
	}
	return s.views(ctx, list, viewer.Email), nil
}

// UpdateDetails replaces the descriptive fields. A start date that has since passed may be kept.
func (s *Service) UpdateDetails(ctx context.Context, owner auth.Identity, id string, in Input) (*View, error) {
	o, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !o.IsOwner(owner.Email) {
		return nil, ErrNotOwner
	}
	d, err := in.details(midnightUTC(s.now()), o.StartDate)
	if err != nil {
		return nil, err
	}

	_, err = s.mutate(ctx, o,
		func(o *Opportunity) (bool, error) {
			if !o.IsOwner(owner.Email) {
				return false, ErrNotOwner
			}
			return false, nil
		},
		func(ctx context.Context) (bool, error) {
			return s.store.UpdateDetails(ctx, o.ID, owner.Email, d)
		},
	)
	if err != nil {
		return nil, err
	}
	o.Details = d
	o.UpdatedAt = s.now().UTC()
	return s.view(ctx, o, owner.Email), nil
}

// Apply adds the caller to applied and tells the owner. Applying twice is a no-op reported
// with Applied false.
func (s *Service) Apply(ctx context.Context, applicant auth.Identity, id string) (*ApplyResult, error) {
	o, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	changed, err := s.mutate(ctx, o,
		func(o *Opportunity) (bool, error) {
			switch {
			case o.IsOwner(applicant.Email):
				return false, ErrOwnerCannotApply
			case o.Status == StatusClosed:
				return false, ErrClosed
			case o.IsNotInterested(applicant.Email):
				return false, ErrAlreadyNotInterested
			}
			return o.HasApplied(applicant.Email), nil
		},
		func(ctx context.Context) (bool, error) {
			return s.store.AddApplicant(ctx, o.ID, applicant.Email)
		},
	)
	if err != nil {
		return nil, err
	}
	if !changed {
		metrics.Applications.WithLabelValues("noop").Inc()
		return &ApplyResult{Applied: false, Opportunity: s.view(ctx, o, applicant.Email)}, nil
	}

	o.Applied = append(o.Applied, applicant.Email)
	o.UpdatedAt = s.now().UTC()
	metrics.Applications.WithLabelValues("applied").Inc()

	name := s.applicantName(ctx, applicant)
	if err := s.notifier.NotifyNewApplication(ctx, o.OwnerEmail, name, o.ID.Hex(), o.Title); err != nil {
		logNotifyFailure("new_application", o, o.OwnerEmail, err)
	}
	return &ApplyResult{Applied: true, Opportunity: s.view(ctx, o, applicant.Email)}, nil
}

// MarkNotInterested records that the caller declined. Repeating it is a no-op.
func (s *Service) MarkNotInterested(ctx context.Context, user auth.Identity, id string) (*View, error) {
	o, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	changed, err := s.mutate(ctx, o,
		func(o *Opportunity) (bool, error) {
			switch {
			case o.IsOwner(user.Email):
				return false, ErrOwnerNotInterested
			case o.Status == StatusClosed:
				return false, ErrClosed
			case o.HasApplied(user.Email):
				return false, ErrAlreadyApplied
			}
			return o.IsNotInterested(user.Email), nil
		},
		func(ctx context.Context) (bool, error) {
			return s.store.AddNotInterested(ctx, o.ID, user.Email)
		},
	)
	if err != nil {
		return nil, err
	}
	if changed {
		o.NotInterested = append(o.NotInterested, user.Email)
		o.UpdatedAt = s.now().UTC()
	}
	return s.view(ctx, o, user.Email), nil
}

// Decide applies the owner's decision locally and hands the store write to the DecisionSyncer.
func (s *Service) Decide(ctx context.Context, owner auth.Identity, id string, req DecideRequest) (*DecisionResult, error) {
	decision, ok := ParseDecision(req.Decision)
	if !ok {
		return nil, ErrInvalidDecision
	}
	applicantEmail := auth.NormalizeEmail(req.ApplicantEmail)
	oppID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}

	// The slot is reserved before the read so a sync finishing in between cannot admit a second decision.
	release, reserveErr := s.syncer.Reserve(oppID, applicantEmail)
	if reserveErr == nil {
		defer release()
	}

	o, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !o.IsOwner(owner.Email) {
		return nil, ErrNotOwner
	}
	if !o.HasApplied(applicantEmail) {
		return nil, ErrNotApplicant
	}
	if _, decided := o.DecisionFor(applicantEmail); decided {
		return nil, ErrAlreadyDecided
	}
	if reserveErr != nil {
		return nil, reserveErr
	}

	rec := DecisionRecord{ApplicantEmail: applicantEmail, Decision: decision, DecidedAt: s.now().UTC()}
	entry, err := s.syncer.Submit(o.ID, rec)
	if err != nil {
		return nil, err
	}
	// The sync may land before the view is built, so the local copy carries the decision itself.
	o.Decisions = append(o.Decisions, rec)
	metrics.Decisions.WithLabelValues(string(decision)).Inc()
	logger.L().Info("Decision recorded",
		zap.String("opportunityID", o.ID.Hex()),
		zap.String("applicant", applicantEmail),
		zap.String("decision", string(decision)),
		zap.String("syncID", entry.ID),
	)

	notify := s.notifier.NotifyApplicationRejected
	if decision == DecisionAccepted {
		notify = s.notifier.NotifyApplicationAccepted
	}
	if err := notify(ctx, applicantEmail, o.ID.Hex(), o.Title); err != nil {
		logNotifyFailure("application_"+string(decision), o, applicantEmail, err)
	}

	return &DecisionResult{Opportunity: s.view(ctx, o, owner.Email), Sync: entry}, nil
}

// Close flips an open opportunity to closed and tells every applicant.
func (s *Service) Close(ctx context.Context, owner auth.Identity, id string) (*View, error) {
	o, changed, err := s.setStatus(ctx, owner, id, StatusOpen, StatusClosed)
	if err != nil {
		return nil, err
	}
	if changed {
		for _, applicant := range o.Applied {
			if applicant == o.OwnerEmail {
				continue
			}
			if err := s.notifier.NotifyOpportunityClosed(ctx, applicant, o.ID.Hex(), o.Title); err != nil {
				logNotifyFailure("opportunity_closed", o, applicant, err)
			}
		}
	}
	return s.view(ctx, o, owner.Email), nil
}

func (s *Service) Reopen(ctx context.Context, owner auth.Identity, id string) (*View, error) {
	o, _, err := s.setStatus(ctx, owner, id, StatusClosed, StatusOpen)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, o, owner.Email), nil
}

func (s *Service) setStatus(ctx context.Context, owner auth.Identity, id string, from, to Status) (*Opportunity, bool, error) {
	o, err := s.load(ctx, id)
	if err != nil {
		return nil, false, err
	}
	changed, err := s.mutate(ctx, o,
		func(o *Opportunity) (bool, error) {
			if !o.IsOwner(owner.Email) {
				return false, ErrNotOwner
			}
			return o.Status == to, nil
		},
		func(ctx context.Context) (bool, error) {
			return s.store.SetStatus(ctx, o.ID, owner.Email, from, to)
		},
	)
	if err != nil {
		return nil, false, err
	}
	if changed {
		o.Status = to
		o.UpdatedAt = s.now().UTC()
		logger.L().Info("Opportunity status changed",
			zap.String("opportunityID", o.ID.Hex()),
			zap.String("status", string(to)),
		)
	}
	return o, changed, nil
}

// SyncStatus reports how a decision is progressing towards the store. Only the owner and the
// applicant may ask.
func (s *Service) SyncStatus(ctx context.Context, viewer auth.Identity, id, applicant string) (DecisionSync, error) {
	applicant = auth.NormalizeEmail(applicant)
	o, err := s.load(ctx, id)
	if err != nil {
		return DecisionSync{}, err
	}
	if !o.IsOwner(viewer.Email) && viewer.Email != applicant {
		return DecisionSync{}, ErrNotOwner
	}
	entry, known := s.syncer.Lookup(o.ID.Hex(), applicant)
	if known && entry.State != SyncConflict {
		return entry, nil
	}
	for _, d := range o.Decisions {
		if d.ApplicantEmail != applicant {
			continue
		}
		if known {
			// A conflicting local decision lost; report the stored one.
			entry.Decision = d.Decision
			entry.DecidedAt = d.DecidedAt
			return entry, nil
		}
		return DecisionSync{
			OpportunityID:  o.ID.Hex(),
			ApplicantEmail: applicant,
			Decision:       d.Decision,
			DecidedAt:      d.DecidedAt,
			State:          SyncSynced,
			UpdatedAt:      o.UpdatedAt,
		}, nil
	}
	if known {
		return entry, nil
	}
	return DecisionSync{}, ErrSyncNotFound
}

func (s *Service) ListSyncs(state string) ([]DecisionSync, error) {
	switch SyncState(state) {
	case "", SyncPending, SyncSynced, SyncFailed, SyncConflict:
		return s.syncer.List(SyncState(state)), nil
	}
	return nil, apperrors.ValidationError(map[string]string{"state": "Must be one of: pending, synced, failed, conflict"})
}

func (s *Service) RetrySync(id string) (DecisionSync, error) {
	return s.syncer.Retry(id)
}

// mutate runs a conditional write guarded by check. check reports done when the change is
// already in place. A write that matches nothing is explained by re-reading and checking again.
func (s *Service) mutate(ctx context.Context, o *Opportunity, check func(*Opportunity) (bool, error), write func(context.Context) (bool, error)) (bool, error) {
	if done, err := check(o); err != nil || done {
		return false, err
	}

	var landed bool
	err := backoff.Retry(ctx, s.retry, func(ctx context.Context) error {
		var err error
		landed, err = write(ctx)
		return err
	})
	if err != nil {
		return false, storeError(err)
	}
	if landed {
		return true, nil
	}

	fresh, err := s.find(ctx, o.ID)
	if err != nil {
		return false, err
	}
	if fresh == nil {
		return false, ErrNotFound
	}
	*o = *fresh
	if done, err := check(o); err != nil || done {
		return false, err
	}
	return false, ErrConcurrentUpdate
}

func (s *Service) load(ctx context.Context, id string) (*Opportunity, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}
	o, err := s.find(ctx, oid)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, ErrNotFound
	}
	return o, nil
}

func (s *Service) find(ctx context.Context, id primitive.ObjectID) (*Opportunity, error) {
	var o *Opportunity
	err := backoff.Retry(ctx, s.retry, func(ctx context.Context) error {
		var err error
		o, err = s.store.FindByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, storeError(err)
	}
	return o, nil
}

func (s *Service) applicantName(ctx context.Context, applicant auth.Identity) string {
	if name := strings.TrimSpace(applicant.DisplayName); name != "" {
		return name
	}
	names, err := s.directory.DisplayNames(ctx, []string{applicant.Email})
	if err == nil && names[applicant.Email] != "" {
		return names[applicant.Email]
	}
	return "Someone"
}

func logNotifyFailure(kind string, o *Opportunity, recipient string, err error) {
	logger.L().Warn("Failed to append notification",
		zap.String("type", kind),
		zap.String("opportunityID", o.ID.Hex()),
		zap.String("recipient", recipient),
		zap.Error(err),
	)
}

func storeError(err error) error {
	if errors.Is(err, backoff.ErrExhausted) || backoff.IsTransient(err) {
		return apperrors.Unavailable(domain, err)
	}
	return apperrors.Wrap(err, apperrors.CodeDatabaseError, domain, "Opportunity store error", http.StatusInternalServerError)
}
