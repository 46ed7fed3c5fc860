package opportunity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"OpportunityFinder/internal/config"
	"OpportunityFinder/pkg/backoff"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Store persists opportunities. Every write is a single-document conditional update keyed by _id
// whose filter carries the preconditions; the bool result reports whether the write landed.
type Store interface {
	Create(ctx context.Context, o *Opportunity) error
	FindByID(ctx context.Context, id primitive.ObjectID) (*Opportunity, error)
	List(ctx context.Context, filter Filter) ([]*Opportunity, error)
	UpdateDetails(ctx context.Context, id primitive.ObjectID, owner string, d Details) (bool, error)
	AddApplicant(ctx context.Context, id primitive.ObjectID, email string) (bool, error)
	AddNotInterested(ctx context.Context, id primitive.ObjectID, email string) (bool, error)
	RecordDecision(ctx context.Context, id primitive.ObjectID, rec DecisionRecord) (bool, error)
	SetStatus(ctx context.Context, id primitive.ObjectID, owner string, from, to Status) (bool, error)
}

// listOrder puts "open" before "closed" (descending status), then newest first.
var listOrder = bson.D{{Key: "status", Value: -1}, {Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}

type Repository struct {
	collection *mongo.Collection
	now        func() time.Time
}

func NewRepository(db *mongo.Database) *Repository {
	return &Repository{collection: db.Collection(config.OpportunitiesCollection), now: time.Now}
}

func (r *Repository) Create(ctx context.Context, o *Opportunity) error {
	if o.ID.IsZero() {
		o.ID = primitive.NewObjectID()
	}
	// $push fails on a null field, so the sets are always stored as arrays.
	if o.Applied == nil {
		o.Applied = []string{}
	}
	if o.NotInterested == nil {
		o.NotInterested = []string{}
	}
	if o.Decisions == nil {
		o.Decisions = []DecisionRecord{}
	}
	if _, err := r.collection.InsertOne(ctx, o); err != nil {
		return classify("create opportunity", err)
	}
	return nil
}

// FindByID returns (nil, nil) when the opportunity does not exist.
func (r *Repository) FindByID(ctx context.Context, id primitive.ObjectID) (*Opportunity, error) {
	var o Opportunity
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&o)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, classify("find opportunity", err)
	}
	return &o, nil
}

// List returns matching opportunities in listOrder.
func (r *Repository) List(ctx context.Context, filter Filter) ([]*Opportunity, error) {
	query := bson.M{}
	if filter.Domain != "" {
		query["domain"] = filter.Domain
	}
	if filter.Type != "" {
		query["type"] = filter.Type
	}
	if filter.Industry != "" {
		query["industry"] = filter.Industry
	}
	if filter.Status != "" {
		query["status"] = filter.Status
	}
	if filter.OwnerEmail != "" {
		query["owner_email"] = filter.OwnerEmail
	}
	if filter.Applicant != "" {
		query["applied"] = filter.Applicant
	}
	switch {
	case filter.NotInterested != "":
		query["not_interested"] = filter.NotInterested
	case filter.Declined != "":
		query["not_interested"] = bson.M{"$ne": filter.Declined}
	}

	opts := options.Find().SetSort(listOrder)
	cursor, err := r.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, classify("list opportunities", err)
	}
	opportunities := []*Opportunity{}
	if err := cursor.All(ctx, &opportunities); err != nil {
		return nil, classify("decode opportunities", err)
	}
	return opportunities, nil
}

func (r *Repository) UpdateDetails(ctx context.Context, id primitive.ObjectID, owner string, d Details) (bool, error) {
	set := bson.M{
		"title":          d.Title,
		"description":    d.Description,
		"domain":         d.Domain,
		"type":           d.Type,
		"industry":       d.Industry,
		"start_date":     d.StartDate,
		"end_date":       d.EndDate,
		"hours_per_week": d.HoursPerWeek,
		"roles":          d.Roles,
		"skills":         d.Skills,
		"updated_at":     r.now().UTC(),
	}
	return r.updateOne(ctx, "update opportunity details",
		bson.M{"_id": id, "owner_email": owner},
		bson.M{"$set": set},
	)
}

// AddApplicant appends email to applied while the opportunity is open, email is not the owner,
// and email is in neither applied nor not_interested.
func (r *Repository) AddApplicant(ctx context.Context, id primitive.ObjectID, email string) (bool, error) {
	return r.updateOne(ctx, "add applicant",
		openForVisitor(id, email),
		bson.M{
			"$push": bson.M{"applied": email},
			"$set":  bson.M{"updated_at": r.now().UTC()},
		},
	)
}

// AddNotInterested has the same preconditions as AddApplicant.
func (r *Repository) AddNotInterested(ctx context.Context, id primitive.ObjectID, email string) (bool, error) {
	return r.updateOne(ctx, "add not interested",
		openForVisitor(id, email),
		bson.M{
			"$push": bson.M{"not_interested": email},
			"$set":  bson.M{"updated_at": r.now().UTC()},
		},
	)
}

func openForVisitor(id primitive.ObjectID, email string) bson.M {
	return bson.M{
		"_id":            id,
		"status":         StatusOpen,
		"owner_email":    bson.M{"$ne": email},
		"applied":        bson.M{"$ne": email},
		"not_interested": bson.M{"$ne": email},
	}
}

// RecordDecision appends rec only if the applicant has applied and has no decision yet.
func (r *Repository) RecordDecision(ctx context.Context, id primitive.ObjectID, rec DecisionRecord) (bool, error) {
	return r.updateOne(ctx, "record decision",
		bson.M{
			"_id":                       id,
			"applied":                   rec.ApplicantEmail,
			"decisions.applicant_email": bson.M{"$ne": rec.ApplicantEmail},
		},
		bson.M{
			"$push": bson.M{"decisions": rec},
			"$set":  bson.M{"updated_at": r.now().UTC()},
		},
	)
}

func (r *Repository) SetStatus(ctx context.Context, id primitive.ObjectID, owner string, from, to Status) (bool, error) {
	return r.updateOne(ctx, "set opportunity status",
		bson.M{"_id": id, "owner_email": owner, "status": from},
		bson.M{"$set": bson.M{"status": to, "updated_at": r.now().UTC()}},
	)
}

func (r *Repository) updateOne(ctx context.Context, op string, filter, update bson.M) (bool, error) {
	res, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, classify(op, err)
	}
	return res.MatchedCount > 0, nil
}

// classify wraps driver errors and marks connectivity failures as retryable.
func classify(op string, err error) error {
	wrapped := fmt.Errorf("%s: %w", op, err)
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return backoff.Transient(wrapped)
	}
	return wrapped
}
