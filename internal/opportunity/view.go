package opportunity

import (
	"context"
	"time"

	"OpportunityFinder/pkg/logger"

	"go.uber.org/zap"
)

const unknownUser = "Unknown User"

// Labels reported in View.Sync for decisions that exist only locally.
const (
	LabelSyncPending = "sync_pending"
	LabelSyncFailed  = "sync_failed"
)

type Applicant struct {
	Email  string `json:"email"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// View is the JSON shape of an opportunity as seen by one viewer. Owners see every applicant;
// other viewers see only their own entries in the membership lists.
type View struct {
	ID                  string              `json:"id"`
	OwnerEmail          string              `json:"owner_email"`
	PostedBy            string              `json:"posted_by"`
	Title               string              `json:"title"`
	Description         string              `json:"description"`
	Domain              string              `json:"domain"`
	Type                string              `json:"type"`
	Industry            string              `json:"industry"`
	StartDate           string              `json:"start_date"`
	EndDate             string              `json:"end_date"`
	HoursPerWeek        int                 `json:"hours_per_week"`
	Roles               []string            `json:"roles"`
	Skills              []string            `json:"skills"`
	Status              Status              `json:"status"`
	Applied             []string            `json:"applied"`
	NotInterested       []string            `json:"not_interested"`
	ApplicationStatuses map[string]Decision `json:"application_statuses"`
	Sync                map[string]string   `json:"sync,omitempty"`
	Applicants          []Applicant         `json:"applicants,omitempty"`
	CreatedAt           time.Time           `json:"created_at"`
	UpdatedAt           time.Time           `json:"updated_at"`
}

type ApplyResult struct {
	Applied     bool  `json:"applied"`
	Opportunity *View `json:"opportunity"`
}

type DecisionResult struct {
	Opportunity *View        `json:"opportunity"`
	Sync        DecisionSync `json:"sync"`
}

func (s *Service) view(ctx context.Context, o *Opportunity, viewer string) *View {
	return s.views(ctx, []*Opportunity{o}, viewer)[0]
}

// views renders opportunities for viewer, overlaying decisions that have not reached the store yet.
func (s *Service) views(ctx context.Context, list []*Opportunity, viewer string) []*View {
	names := s.displayNames(ctx, list, viewer)
	out := make([]*View, 0, len(list))
	for _, o := range list {
		out = append(out, s.render(o, viewer, names))
	}
	return out
}

func (s *Service) render(o *Opportunity, viewer string, names map[string]string) *View {
	v := &View{
		ID:                  o.ID.Hex(),
		OwnerEmail:          o.OwnerEmail,
		PostedBy:            nameOr(names, o.OwnerEmail),
		Title:               o.Title,
		Description:         o.Description,
		Domain:              o.Domain,
		Type:                o.Type,
		Industry:            o.Industry,
		StartDate:           o.StartDate.Format(dateLayout),
		EndDate:             o.EndDate.Format(dateLayout),
		HoursPerWeek:        o.HoursPerWeek,
		Roles:               nonNil(o.Roles),
		Skills:              nonNil(o.Skills),
		Status:              o.Status,
		ApplicationStatuses: map[string]Decision{},
		CreatedAt:           o.CreatedAt,
		UpdatedAt:           o.UpdatedAt,
	}
	for _, d := range o.Decisions {
		v.ApplicationStatuses[d.ApplicantEmail] = d.Decision
	}
	for email, entry := range s.syncer.Overlay(o.ID.Hex()) {
		if _, stored := v.ApplicationStatuses[email]; stored {
			continue
		}
		v.ApplicationStatuses[email] = entry.Decision
		if v.Sync == nil {
			v.Sync = map[string]string{}
		}
		if entry.State == SyncFailed {
			v.Sync[email] = LabelSyncFailed
		} else {
			v.Sync[email] = LabelSyncPending
		}
	}

	if o.IsOwner(viewer) {
		v.Applied = nonNil(o.Applied)
		v.NotInterested = nonNil(o.NotInterested)
		v.Applicants = make([]Applicant, 0, len(o.Applied))
		for _, email := range o.Applied {
			status := "pending"
			if d, ok := v.ApplicationStatuses[email]; ok {
				status = string(d)
			}
			v.Applicants = append(v.Applicants, Applicant{Email: email, Name: nameOr(names, email), Status: status})
		}
		return v
	}

	v.Applied = onlyViewer(o.Applied, viewer)
	v.NotInterested = onlyViewer(o.NotInterested, viewer)
	for email := range v.ApplicationStatuses {
		if email != viewer {
			delete(v.ApplicationStatuses, email)
		}
	}
	for email := range v.Sync {
		if email != viewer {
			delete(v.Sync, email)
		}
	}
	if len(v.Sync) == 0 {
		v.Sync = nil
	}
	return v
}

// displayNames resolves owners, plus applicants of the viewer's own opportunities.
// Lookup failures degrade to the fallback name.
func (s *Service) displayNames(ctx context.Context, list []*Opportunity, viewer string) map[string]string {
	seen := map[string]bool{}
	emails := []string{}
	add := func(email string) {
		if !seen[email] {
			seen[email] = true
			emails = append(emails, email)
		}
	}
	for _, o := range list {
		add(o.OwnerEmail)
		if o.IsOwner(viewer) {
			for _, email := range o.Applied {
				add(email)
			}
		}
	}

	names, err := s.directory.DisplayNames(ctx, emails)
	if err != nil {
		logger.L().Warn("Failed to resolve display names", zap.Int("emails", len(emails)), zap.Error(err))
		return map[string]string{}
	}
	return names
}

func nameOr(names map[string]string, email string) string {
	if name := names[email]; name != "" {
		return name
	}
	return unknownUser
}

func onlyViewer(list []string, viewer string) []string {
	if contains(list, viewer) {
		return []string{viewer}
	}
	return []string{}
}

func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}
