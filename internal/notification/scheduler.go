package notification

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"OpportunityFinder/internal/config"
	"OpportunityFinder/internal/metrics"
	"OpportunityFinder/pkg/logger"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

const dispatchBatchSize = 100

// Dispatcher periodically emails notifications that have not been emailed yet.
type Dispatcher struct {
	store    Store
	mailer   config.EmailSender
	interval time.Duration
	baseURL  string
}

func NewDispatcher(store Store, mailer config.EmailSender, cfg *config.Config) *Dispatcher {
	return &Dispatcher{
		store:    store,
		mailer:   mailer,
		interval: cfg.NotificationDispatchInterval,
		baseURL:  strings.TrimRight(cfg.PublicURL, "/"),
	}
}

// Start runs the dispatch loop between fx start and stop. A non-positive interval disables it.
func (d *Dispatcher) Start(lc fx.Lifecycle) {
	if d.interval <= 0 {
		logger.L().Info("Notification email dispatcher disabled")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			logger.L().Info("Starting notification email dispatcher", zap.Duration("interval", d.interval))
			go func() {
				defer close(done)
				ticker := time.NewTicker(d.interval)
				defer ticker.Stop()
				for {
					select {
					case <-ticker.C:
						d.DispatchPending(ctx)
					case <-ctx.Done():
						return
					}
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			logger.L().Info("Stopping notification email dispatcher")
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}

// DispatchPending emails one batch of pending notifications and returns how many were sent.
// Failed sends stay pending for the next tick.
func (d *Dispatcher) DispatchPending(ctx context.Context) int {
	pending, err := d.store.PendingEmail(ctx, dispatchBatchSize)
	if err != nil {
		logger.L().Error("Failed to fetch pending notification emails", zap.Error(err))
		return 0
	}

	sent := 0
	for _, n := range pending {
		if ctx.Err() != nil {
			break
		}
		if err := d.mailer.SendEmail(ctx, n.RecipientEmail, n.Title, d.render(n)); err != nil {
			metrics.ObserveEmail(false)
			logger.L().Warn("Failed to email notification",
				zap.String("notificationID", n.ID.Hex()),
				zap.String("recipient", n.RecipientEmail),
				zap.Error(err),
			)
			continue
		}
		metrics.ObserveEmail(true)
		if err := d.store.MarkEmailed(ctx, n.ID); err != nil {
			logger.L().Error("Failed to mark notification emailed", zap.String("notificationID", n.ID.Hex()), zap.Error(err))
			continue
		}
		sent++
	}
	if len(pending) > 0 {
		logger.L().Info("Notification emails dispatched", zap.Int("pending", len(pending)), zap.Int("sent", sent))
	}
	return sent
}

func (d *Dispatcher) render(n *Notification) string {
	return fmt.Sprintf(`<p>%s %s</p><p><a href="%s">%s</a></p>`,
		n.Icon,
		html.EscapeString(n.Message),
		html.EscapeString(d.baseURL+n.ActionURL),
		html.EscapeString(n.Action),
	)
}
