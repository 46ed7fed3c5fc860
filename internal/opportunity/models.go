package opportunity

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"

	// Listing-only values that select by the viewer's own response.
	StatusApplied       Status = "applied"
	StatusNotInterested Status = "not_interested"
)

type Decision string

const (
	DecisionAccepted Decision = "accepted"
	DecisionRejected Decision = "rejected"
)

// DecisionRecord is one entry of the applicant to decision mapping.
// Emails contain dots, so the mapping is stored as an array rather than a document keyed by email.
type DecisionRecord struct {
	ApplicantEmail string    `bson:"applicant_email" json:"applicant_email"`
	Decision       Decision  `bson:"decision" json:"decision"`
	DecidedAt      time.Time `bson:"decided_at" json:"decided_at"`
}

// Details holds the owner-editable descriptive fields.
type Details struct {
	Title        string    `bson:"title"`
	Description  string    `bson:"description"`
	Domain       string    `bson:"domain"`
	Type         string    `bson:"type"`
	Industry     string    `bson:"industry"`
	StartDate    time.Time `bson:"start_date"`
	EndDate      time.Time `bson:"end_date"`
	HoursPerWeek int       `bson:"hours_per_week"`
	Roles        []string  `bson:"roles"`
	Skills       []string  `bson:"skills"`
}

type Opportunity struct {
	ID            primitive.ObjectID `bson:"_id,omitempty"`
	OwnerEmail    string             `bson:"owner_email"`
	Details       `bson:",inline"`
	Status        Status           `bson:"status"`
	Applied       []string         `bson:"applied"`
	NotInterested []string         `bson:"not_interested"`
	Decisions     []DecisionRecord `bson:"decisions"`
	CreatedAt     time.Time        `bson:"created_at"`
	UpdatedAt     time.Time        `bson:"updated_at"`
}

func (o *Opportunity) IsOwner(email string) bool {
	return o.OwnerEmail == email
}

func (o *Opportunity) HasApplied(email string) bool {
	return contains(o.Applied, email)
}

func (o *Opportunity) IsNotInterested(email string) bool {
	return contains(o.NotInterested, email)
}

// DecisionFor returns the recorded decision for an applicant. ok is false while pending.
func (o *Opportunity) DecisionFor(email string) (Decision, bool) {
	for _, d := range o.Decisions {
		if d.ApplicantEmail == email {
			return d.Decision, true
		}
	}
	return "", false
}

func contains(list []string, email string) bool {
	for _, e := range list {
		if e == email {
			return true
		}
	}
	return false
}

// Filter narrows List. Empty fields match everything.
type Filter struct {
	Domain            string `query:"domain"`
	Type              string `query:"type"`
	Industry          string `query:"industry"`
	Status            Status `query:"status"`
	ShowNotInterested bool   `query:"show_not_interested"`

	OwnerEmail    string `query:"-"`
	Applicant     string `query:"-"`
	NotInterested string `query:"-"`
	// Declined drops opportunities this email marked not interested.
	Declined string `query:"-"`
}

// Input is the create and update request body. Dates use the YYYY-MM-DD form.
// It is checked by Input.details rather than struct tags so every failing field is reported together.
type Input struct {
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Domain       string   `json:"domain"`
	Type         string   `json:"type"`
	Industry     string   `json:"industry"`
	StartDate    string   `json:"start_date"`
	EndDate      string   `json:"end_date"`
	HoursPerWeek int      `json:"hours_per_week"`
	Roles        []string `json:"roles"`
	Skills       []string `json:"skills"`
}

type DecideRequest struct {
	ApplicantEmail string `json:"applicant_email" validate:"required,email"`
	Decision       string `json:"decision" validate:"required,oneof=accept reject"`
}

// ParseDecision maps the request verb onto the stored decision.
func ParseDecision(verb string) (Decision, bool) {
	switch verb {
	case "accept", string(DecisionAccepted):
		return DecisionAccepted, true
	case "reject", string(DecisionRejected):
		return DecisionRejected, true
	}
	return "", false
}
