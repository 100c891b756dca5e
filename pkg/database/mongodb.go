// ==============================================
// pkg/database/mongodb.go
// ==============================================
package database

import (
	"context"
	"fmt"
	"time"

	"relaychat/internal/config"
	"relaychat/pkg/logger"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	MessagesCollection     = "messages"
	GroupMembersCollection = "group_members"
)

// DB bundles the connected client and the application database
type DB struct {
	Client   *mongo.Client
	Database *mongo.Database
}

// Connect establishes and verifies the MongoDB connection
func Connect(ctx context.Context, cfg config.MongoConfig) (*DB, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(cfg.URI).
		SetMaxPoolSize(cfg.MaxPoolSize).
		SetMinPoolSize(cfg.MinPoolSize).
		SetMaxConnIdleTime(cfg.MaxConnIdleTime).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetServerSelectionTimeout(cfg.ServerSelectionTimeout).
		SetRetryWrites(true).
		SetRetryReads(true)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	logger.WithField("database", cfg.Database).Info("Connected to MongoDB")

	return &DB{
		Client:   client,
		Database: client.Database(cfg.Database),
	}, nil
}

// Disconnect closes the MongoDB connection
func (db *DB) Disconnect(ctx context.Context) error {
	if db == nil || db.Client == nil {
		return nil
	}
	return db.Client.Disconnect(ctx)
}

// HealthCheck pings the primary
func (db *DB) HealthCheck(ctx context.Context) map[string]interface{} {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := db.Client.Ping(ctx, readpref.Primary()); err != nil {
		return map[string]interface{}{
			"status": "error",
			"error":  err.Error(),
		}
	}

	return map[string]interface{}{
		"status":   "connected",
		"database": db.Database.Name(),
	}
}

// EnsureIndexes creates the indexes the message store relies on. The unique
// (sender_id, conversation_id, temp_id) index is the idempotency backstop.
func (db *DB) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	indexes := []struct {
		collection string
		indexes    []mongo.IndexModel
	}{
		{
			collection: MessagesCollection,
			indexes: []mongo.IndexModel{
				{
					Keys: bson.D{
						{Key: "sender_id", Value: 1},
						{Key: "conversation_id", Value: 1},
						{Key: "temp_id", Value: 1},
					},
					Options: options.Index().SetUnique(true).SetName("ux_sender_conversation_temp"),
				},
				{
					Keys: bson.D{
						{Key: "conversation_id", Value: 1},
						{Key: "created_at", Value: -1},
					},
				},
			},
		},
		{
			collection: GroupMembersCollection,
			indexes: []mongo.IndexModel{
				{
					Keys: bson.D{
						{Key: "group_id", Value: 1},
						{Key: "user_id", Value: 1},
					},
					Options: options.Index().SetUnique(true),
				},
				{
					Keys: bson.D{{Key: "user_id", Value: 1}},
				},
			},
		},
	}

	for _, idx := range indexes {
		if _, err := db.Database.Collection(idx.collection).Indexes().CreateMany(ctx, idx.indexes); err != nil {
			return fmt.Errorf("failed to create indexes for %s: %w", idx.collection, err)
		}
	}

	return nil
}
