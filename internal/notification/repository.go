package notification

import (
	"context"
	"fmt"

	"OpportunityFinder/internal/config"
	"OpportunityFinder/pkg/backoff"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Store persists ledgers. Every query is scoped to a recipient except the dispatcher's.
type Store interface {
	Insert(ctx context.Context, n *Notification) error
	TrimTo(ctx context.Context, recipient string, keep int) (int64, error)
	List(ctx context.Context, recipient string, limit int) ([]*Notification, error)
	MarkRead(ctx context.Context, recipient string, id primitive.ObjectID) (bool, error)
	MarkAllRead(ctx context.Context, recipient string) (int64, error)
	DeleteAll(ctx context.Context, recipient string) (int64, error)
	CountUnread(ctx context.Context, recipient string) (int64, error)
	PendingEmail(ctx context.Context, limit int) ([]*Notification, error)
	MarkEmailed(ctx context.Context, id primitive.ObjectID) error
}

// newestFirst orders a ledger; _id breaks ties between entries created in the same millisecond.
var newestFirst = bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}

type Repository struct {
	collection *mongo.Collection
}

func NewRepository(db *mongo.Database) *Repository {
	return &Repository{collection: db.Collection(config.NotificationsCollection)}
}

func (r *Repository) Insert(ctx context.Context, n *Notification) error {
	if n.ID.IsZero() {
		n.ID = primitive.NewObjectID()
	}
	if _, err := r.collection.InsertOne(ctx, n); err != nil {
		// Retries reuse n.ID, so a duplicate _id means an earlier attempt landed.
		if mongo.IsDuplicateKeyError(err) {
			return nil
		}
		return classify("insert notification", err)
	}
	return nil
}

// TrimTo deletes everything past the recipient's keep newest entries and returns how many were evicted.
func (r *Repository) TrimTo(ctx context.Context, recipient string, keep int) (int64, error) {
	opts := options.Find().
		SetSort(newestFirst).
		SetSkip(int64(keep)).
		SetProjection(bson.M{"_id": 1})
	cursor, err := r.collection.Find(ctx, bson.M{"recipient_email": recipient}, opts)
	if err != nil {
		return 0, classify("find evictable notifications", err)
	}
	var stale []struct {
		ID primitive.ObjectID `bson:"_id"`
	}
	if err := cursor.All(ctx, &stale); err != nil {
		return 0, classify("decode evictable notifications", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	ids := make([]primitive.ObjectID, 0, len(stale))
	for _, s := range stale {
		ids = append(ids, s.ID)
	}
	res, err := r.collection.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}, "recipient_email": recipient})
	if err != nil {
		return 0, classify("evict notifications", err)
	}
	return res.DeletedCount, nil
}

func (r *Repository) List(ctx context.Context, recipient string, limit int) ([]*Notification, error) {
	opts := options.Find().SetSort(newestFirst).SetLimit(int64(limit))
	cursor, err := r.collection.Find(ctx, bson.M{"recipient_email": recipient}, opts)
	if err != nil {
		return nil, classify("list notifications", err)
	}
	notifications := []*Notification{}
	if err := cursor.All(ctx, &notifications); err != nil {
		return nil, classify("decode notifications", err)
	}
	return notifications, nil
}

// MarkRead reports whether the recipient owns a notification with id.
func (r *Repository) MarkRead(ctx context.Context, recipient string, id primitive.ObjectID) (bool, error) {
	res, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id, "recipient_email": recipient},
		bson.M{"$set": bson.M{"read": true}},
	)
	if err != nil {
		return false, classify("mark notification read", err)
	}
	return res.MatchedCount > 0, nil
}

func (r *Repository) MarkAllRead(ctx context.Context, recipient string) (int64, error) {
	res, err := r.collection.UpdateMany(ctx,
		bson.M{"recipient_email": recipient, "read": false},
		bson.M{"$set": bson.M{"read": true}},
	)
	if err != nil {
		return 0, classify("mark all notifications read", err)
	}
	return res.ModifiedCount, nil
}

func (r *Repository) DeleteAll(ctx context.Context, recipient string) (int64, error) {
	res, err := r.collection.DeleteMany(ctx, bson.M{"recipient_email": recipient})
	if err != nil {
		return 0, classify("clear notifications", err)
	}
	return res.DeletedCount, nil
}

func (r *Repository) CountUnread(ctx context.Context, recipient string) (int64, error) {
	count, err := r.collection.CountDocuments(ctx, bson.M{"recipient_email": recipient, "read": false})
	if err != nil {
		return 0, classify("count unread notifications", err)
	}
	return count, nil
}

// PendingEmail returns the oldest notifications that have not been emailed yet.
func (r *Repository) PendingEmail(ctx context.Context, limit int) ([]*Notification, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}).SetLimit(int64(limit))
	cursor, err := r.collection.Find(ctx, bson.M{"emailed": false}, opts)
	if err != nil {
		return nil, classify("find pending emails", err)
	}
	var notifications []*Notification
	if err := cursor.All(ctx, &notifications); err != nil {
		return nil, classify("decode pending emails", err)
	}
	return notifications, nil
}

func (r *Repository) MarkEmailed(ctx context.Context, id primitive.ObjectID) error {
	// An entry evicted or cleared since it was loaded matches nothing, which is fine.
	if _, err := r.collection.UpdateByID(ctx, id, bson.M{"$set": bson.M{"emailed": true}}); err != nil {
		return classify("mark notification emailed", err)
	}
	return nil
}

func classify(op string, err error) error {
	wrapped := fmt.Errorf("%s: %w", op, err)
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return backoff.Transient(wrapped)
	}
	return wrapped
}
