package notification

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"OpportunityFinder/internal/config"
	"OpportunityFinder/internal/metrics"
	"OpportunityFinder/pkg/apperrors"
	"OpportunityFinder/pkg/backoff"
	"OpportunityFinder/pkg/logger"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

var (
	ErrNotFound         = apperrors.NotFound("notification", "Notification not found")
	ErrMissingRecipient = apperrors.NewBadRequestError("Notification recipient is required")
)

type Service struct {
	store     Store
	publisher Publisher
	retry     backoff.Policy
	now       func() time.Time
}

func NewService(store Store, publisher Publisher, cfg *config.Config) *Service {
	return &Service{
		store:     store,
		publisher: publisher,
		retry:     backoff.Policy{MaxAttempts: 3, BaseDelay: cfg.RetryBaseDelay},
		now:       time.Now,
	}
}

// Append adds n to the front of the recipient's ledger and evicts anything past MaxPerRecipient.
func (s *Service) Append(ctx context.Context, recipient string, n *Notification) (*Notification, error) {
	recipient = strings.ToLower(strings.TrimSpace(recipient))
	if recipient == "" {
		return nil, ErrMissingRecipient
	}

	n.ID = primitive.NewObjectID()
	n.RecipientEmail = recipient
	n.CreatedAt = s.now().UTC()
	n.Read = false
	n.Emailed = false

	err := backoff.Retry(ctx, s.retry, func(ctx context.Context) error {
		return s.store.Insert(ctx, n)
	})
	if err != nil {
		return nil, storeError(err)
	}
	var evicted int64
	err = backoff.Retry(ctx, s.retry, func(ctx context.Context) error {
		var err error
		evicted, err = s.store.TrimTo(ctx, recipient, MaxPerRecipient)
		return err
	})
	if err != nil {
		return nil, storeError(err)
	}
	if evicted > 0 {
		logger.L().Debug("Evicted old notifications", zap.String("recipient", recipient), zap.Int64("count", evicted))
	}
	metrics.NotificationsAppended.WithLabelValues(string(n.Type)).Inc()

	if err := s.publisher.Publish(ctx, eventFor(n)); err != nil {
		logger.L().Warn("Failed to publish notification event",
			zap.String("notificationID", n.ID.Hex()),
			zap.Error(err),
		)
	}
	return n, nil
}

// List returns the recipient's ledger, newest first.
func (s *Service) List(ctx context.Context, recipient string) ([]*Notification, error) {
	var notifications []*Notification
	err := backoff.Retry(ctx, s.retry, func(ctx context.Context) error {
		var err error
		notifications, err = s.store.List(ctx, recipient, MaxPerRecipient)
		return err
	})
	if err != nil {
		return nil, storeError(err)
	}
	return notifications, nil
}

func (s *Service) MarkRead(ctx context.Context, recipient, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return ErrNotFound
	}
	var found bool
	err = backoff.Retry(ctx, s.retry, func(ctx context.Context) error {
		var err error
		found, err = s.store.MarkRead(ctx, recipient, oid)
		return err
	})
	if err != nil {
		return storeError(err)
	}
	if !found {
		return ErrNotFound
	}
	return nil
}

func (s *Service) MarkAllRead(ctx context.Context, recipient string) (int64, error) {
	n, err := s.count(ctx, func(ctx context.Context) (int64, error) {
		return s.store.MarkAllRead(ctx, recipient)
	})
	if err != nil {
		return 0, storeError(err)
	}
	return n, nil
}

func (s *Service) Clear(ctx context.Context, recipient string) (int64, error) {
	n, err := s.count(ctx, func(ctx context.Context) (int64, error) {
		return s.store.DeleteAll(ctx, recipient)
	})
	if err != nil {
		return 0, storeError(err)
	}
	return n, nil
}

func (s *Service) UnreadCount(ctx context.Context, recipient string) (int64, error) {
	n, err := s.count(ctx, func(ctx context.Context) (int64, error) {
		return s.store.CountUnread(ctx, recipient)
	})
	if err != nil {
		return 0, storeError(err)
	}
	return n, nil
}

func (s *Service) NotifyNewApplication(ctx context.Context, ownerEmail, applicantName, opportunityID, title string) error {
	_, err := s.Append(ctx, ownerEmail, &Notification{
		Type:          TypeNewApplication,
		Title:         "New Application Received",
		Message:       fmt.Sprintf("%s applied to your opportunity \"%s\"", applicantName, title),
		Icon:          "👤",
		Action:        "View Applications",
		ActionURL:     "/dashboard?tab=posted&opportunityId=" + opportunityID,
		OpportunityID: opportunityID,
	})
	return err
}

func (s *Service) NotifyApplicationAccepted(ctx context.Context, applicantEmail, opportunityID, title string) error {
	_, err := s.Append(ctx, applicantEmail, &Notification{
		Type:          TypeApplicationAccepted,
		Title:         "Application Accepted!",
		Message:       fmt.Sprintf("Congratulations! Your application for \"%s\" has been accepted.", title),
		Icon:          "✅",
		Action:        "View Details",
		ActionURL:     "/dashboard?filter=accepted&tab=applied&opportunityId=" + opportunityID,
		OpportunityID: opportunityID,
	})
	return err
}

func (s *Service) NotifyApplicationRejected(ctx context.Context, applicantEmail, opportunityID, title string) error {
	_, err := s.Append(ctx, applicantEmail, &Notification{
		Type:          TypeApplicationRejected,
		Title:         "Application Update",
		Message:       fmt.Sprintf("Your application for \"%s\" was not selected this time.", title),
		Icon:          "❌",
		Action:        "View Status",
		ActionURL:     "/dashboard?tab=applied&opportunityId=" + opportunityID,
		OpportunityID: opportunityID,
	})
	return err
}

func (s *Service) NotifyOpportunityClosed(ctx context.Context, applicantEmail, opportunityID, title string) error {
	_, err := s.Append(ctx, applicantEmail, &Notification{
		Type:          TypeOpportunityClosed,
		Title:         "Opportunity Closed",
		Message:       fmt.Sprintf("The opportunity \"%s\" you applied for has been closed.", title),
		Icon:          "🔒",
		Action:        "View Status",
		ActionURL:     "/dashboard?tab=applied&opportunityId=" + opportunityID,
		OpportunityID: opportunityID,
	})
	return err
}

// count runs a ledger-wide operation with retries and returns the number of entries it touched.
func (s *Service) count(ctx context.Context, op func(context.Context) (int64, error)) (int64, error) {
	var n int64
	err := backoff.Retry(ctx, s.retry, func(ctx context.Context) error {
		var err error
		n, err = op(ctx)
		return err
	})
	return n, err
}

func storeError(err error) error {
	if errors.Is(err, backoff.ErrExhausted) || backoff.IsTransient(err) {
		return apperrors.Unavailable("notification", err)
	}
	return apperrors.Wrap(err, apperrors.CodeDatabaseError, "notification", "Notification store error", http.StatusInternalServerError)
}
