package config

import (
	"context"
	"time"

	"OpportunityFinder/pkg/logger"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	EmployeesCollection     = "employees"
	OpportunitiesCollection = "opportunities"
	NotificationsCollection = "notifications"
)

type MongoDBClient struct {
	Client   *mongo.Client
	Database *mongo.Database
}

// Connect dials MongoDB and verifies the connection with a ping.
func Connect(ctx context.Context, cfg *Config) (*MongoDBClient, error) {
	clientOptions := options.Client().ApplyURI(cfg.MongoURI)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to MongoDB")
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.Wrap(err, "failed to ping MongoDB")
	}

	logger.L().Info("Connected to MongoDB", zap.String("database", cfg.MongoDatabase))
	return &MongoDBClient{Client: client, Database: client.Database(cfg.MongoDatabase)}, nil
}

// NewMongoDBClient connects on construction and disconnects on fx stop.
func NewMongoDBClient(lc fx.Lifecycle, cfg *Config) (*MongoDBClient, *mongo.Database, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c, err := Connect(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(stopCtx context.Context) error {
			logger.L().Info("Closing MongoDB connection")
			return c.Client.Disconnect(stopCtx)
		},
	})
	return c, c.Database, nil
}

// Indexes lists every index the service relies on, keyed by collection.
func Indexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		EmployeesCollection: {
			{
				Keys:    bson.D{{Key: "email", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("email_unique"),
			},
			{
				Keys:    bson.D{{Key: "reset_token", Value: 1}},
				Options: options.Index().SetSparse(true).SetName("reset_token"),
			},
		},
		OpportunitiesCollection: {
			{
				Keys:    bson.D{{Key: "owner_email", Value: 1}, {Key: "created_at", Value: -1}},
				Options: options.Index().SetName("owner_created"),
			},
			{
				Keys:    bson.D{{Key: "applied", Value: 1}},
				Options: options.Index().SetName("applied"),
			},
			{
				Keys:    bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: -1}},
				Options: options.Index().SetName("status_created"),
			},
		},
		NotificationsCollection: {
			{
				Keys:    bson.D{{Key: "recipient_email", Value: 1}, {Key: "created_at", Value: -1}},
				Options: options.Index().SetName("recipient_created"),
			},
			{
				Keys:    bson.D{{Key: "emailed", Value: 1}, {Key: "created_at", Value: 1}},
				Options: options.Index().SetName("emailed_created"),
			},
		},
	}
}

// EnsureIndexes creates the indexes returned by Indexes. Creating an existing index is a no-op.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	for collection, models := range Indexes() {
		names, err := db.Collection(collection).Indexes().CreateMany(ctx, models)
		if err != nil {
			return errors.Wrapf(err, "failed to create indexes on %s", collection)
		}
		logger.L().Info("Indexes ensured", zap.String("collection", collection), zap.Strings("indexes", names))
	}
	return nil
}
