package notification

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MaxPerRecipient bounds each recipient's ledger. Older entries are evicted first.
const MaxPerRecipient = 50

type Type string

const (
	TypeNewApplication      Type = "new_application"
	TypeApplicationAccepted Type = "application_accepted"
	TypeApplicationRejected Type = "application_rejected"
	TypeOpportunityClosed   Type = "opportunity_closed"
)

// Notification is one entry of a recipient's ledger.
type Notification struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	RecipientEmail string             `bson:"recipient_email" json:"recipient_email"`
	Type           Type               `bson:"type" json:"type"`
	Title          string             `bson:"title" json:"title"`
	Message        string             `bson:"message" json:"message"`
	Icon           string             `bson:"icon" json:"icon"`
	Action         string             `bson:"action" json:"action"`
	ActionURL      string             `bson:"action_url" json:"action_url"`
	OpportunityID  string             `bson:"opportunity_id" json:"opportunity_id"`
	CreatedAt      time.Time          `bson:"created_at" json:"created_at"`
	Read           bool               `bson:"read" json:"read"`
	Emailed        bool               `bson:"emailed" json:"-"`
}

// Event is the payload published to the broker for every appended notification.
type Event struct {
	ID             string    `json:"id"`
	RecipientEmail string    `json:"recipient_email"`
	Type           Type      `json:"type"`
	Title          string    `json:"title"`
	Message        string    `json:"message"`
	ActionURL      string    `json:"action_url"`
	OpportunityID  string    `json:"opportunity_id"`
	CreatedAt      time.Time `json:"created_at"`
}

func eventFor(n *Notification) Event {
	return Event{
		ID:             n.ID.Hex(),
		RecipientEmail: n.RecipientEmail,
		Type:           n.Type,
		Title:          n.Title,
		Message:        n.Message,
		ActionURL:      n.ActionURL,
		OpportunityID:  n.OpportunityID,
		CreatedAt:      n.CreatedAt,
	}
}
