package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"OpportunityFinder/internal/config"
	"OpportunityFinder/pkg/backoff"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrEmailTaken is returned by Create when the unique email index rejects the insert.
var ErrEmailTaken = errors.New("email already registered")

// EmployeeStore persists employee profiles.
type EmployeeStore interface {
	FindByEmail(ctx context.Context, email string) (*Employee, error)
	Create(ctx context.Context, employee *Employee) error
	UpdateProfile(ctx context.Context, email string, update ProfileUpdate) (*Employee, error)
	SetPassword(ctx context.Context, email, passwordHash string) error
	SetResetToken(ctx context.Context, email, token string) error
	List(ctx context.Context) ([]*Employee, error)
}

type EmployeeRepository struct {
	collection *mongo.Collection
}

func NewEmployeeRepository(db *mongo.Database) *EmployeeRepository {
	return &EmployeeRepository{collection: db.Collection(config.EmployeesCollection)}
}

// FindByEmail returns (nil, nil) when no employee has the address.
func (r *EmployeeRepository) FindByEmail(ctx context.Context, email string) (*Employee, error) {
	var employee Employee
	err := r.collection.FindOne(ctx, bson.M{"email": email}).Decode(&employee)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, classify("find employee", err)
	}
	return &employee, nil
}

func (r *EmployeeRepository) Create(ctx context.Context, employee *Employee) error {
	_, err := r.collection.InsertOne(ctx, employee)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrEmailTaken
		}
		return classify("create employee", err)
	}
	return nil
}

// UpdateProfile applies the non-nil fields and returns the updated document, or (nil, nil) when missing.
func (r *EmployeeRepository) UpdateProfile(ctx context.Context, email string, update ProfileUpdate) (*Employee, error) {
	set := bson.M{"updated_at": time.Now().UTC()}
	if update.Name != nil {
		set["name"] = *update.Name
	}
	if update.Role != nil {
		set["role"] = *update.Role
	}
	if update.Industry != nil {
		set["industry"] = *update.Industry
	}
	if update.Domain != nil {
		set["domain"] = *update.Domain
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var employee Employee
	err := r.collection.FindOneAndUpdate(ctx, bson.M{"email": email}, bson.M{"$set": set}, opts).Decode(&employee)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, classify("update employee", err)
	}
	return &employee, nil
}

// SetPassword stores a new hash and clears any pending reset token.
func (r *EmployeeRepository) SetPassword(ctx context.Context, email, passwordHash string) error {
	update := bson.M{
		"$set":   bson.M{"password_hash": passwordHash, "updated_at": time.Now().UTC()},
		"$unset": bson.M{"reset_token": ""},
	}
	res, err := r.collection.UpdateOne(ctx, bson.M{"email": email}, update)
	if err != nil {
		return classify("set password", err)
	}
	if res.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

func (r *EmployeeRepository) SetResetToken(ctx context.Context, email, token string) error {
	update := bson.M{"$set": bson.M{"reset_token": token, "updated_at": time.Now().UTC()}}
	res, err := r.collection.UpdateOne(ctx, bson.M{"email": email}, update)
	if err != nil {
		return classify("set reset token", err)
	}
	if res.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

func (r *EmployeeRepository) List(ctx context.Context) ([]*Employee, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "name", Value: 1}}).
		SetProjection(bson.M{"password_hash": 0, "reset_token": 0})
	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, classify("list employees", err)
	}
	employees := []*Employee{}
	if err := cursor.All(ctx, &employees); err != nil {
		return nil, classify("decode employees", err)
	}
	return employees, nil
}

// DisplayNames maps each known email to the employee's name. Unknown emails are absent from the result.
func (r *EmployeeRepository) DisplayNames(ctx context.Context, emails []string) (map[string]string, error) {
	names := make(map[string]string, len(emails))
	if len(emails) == 0 {
		return names, nil
	}
	opts := options.Find().SetProjection(bson.M{"email": 1, "name": 1})
	cursor, err := r.collection.Find(ctx, bson.M{"email": bson.M{"$in": emails}}, opts)
	if err != nil {
		return nil, classify("lookup display names", err)
	}
	var rows []struct {
		Email string `bson:"email"`
		Name  string `bson:"name"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, classify("decode display names", err)
	}
	for _, row := range rows {
		names[row.Email] = row.Name
	}
	return names, nil
}

// classify wraps driver errors and marks connectivity failures as retryable.
func classify(op string, err error) error {
	wrapped := fmt.Errorf("%s: %w", op, err)
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return backoff.Transient(wrapped)
	}
	return wrapped
}
