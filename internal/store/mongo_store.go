package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"relaychat/internal/models"
	"relaychat/pkg/database"
	"relaychat/pkg/logger"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoStore struct {
	db               *database.DB
	messages         *mongo.Collection
	members          *mongo.Collection
	operationTimeout time.Duration
}

func NewMongoStore(db *database.DB, operationTimeout time.Duration) *MongoStore {
	return &MongoStore{
		db:               db,
		messages:         db.Database.Collection(database.MessagesCollection),
		members:          db.Database.Collection(database.GroupMembersCollection),
		operationTimeout: operationTimeout,
	}
}

func (s *MongoStore) CreateMessage(ctx context.Context, msg *models.Message) (*models.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, s.operationTimeout)
	defer cancel()

	doc := *msg
	doc.ID = primitive.NewObjectID().Hex()
	doc.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)

	_, err := s.messages.InsertOne(ctx, &doc)
	if err == nil {
		return &doc, nil
	}

	if mongo.IsDuplicateKeyError(err) {
		// Lost a race with an earlier submission of the same tempId
		existing, findErr := s.findByTempID(ctx, msg.SenderID, msg.ConversationID, msg.TempID)
		if findErr != nil {
			return nil, findErr
		}
		logger.LogChatEvent("message_deduplicated", msg.ConversationID, msg.SenderID, map[string]interface{}{
			"temp_id":    msg.TempID,
			"message_id": existing.ID,
		})
		return existing, nil
	}

	return nil, classify(err, "failed to insert message")
}

func (s *MongoStore) findByTempID(ctx context.Context, senderID, conversationID, tempID string) (*models.Message, error) {
	var existing models.Message
	err := s.messages.FindOne(ctx, bson.M{
		"sender_id":       senderID,
		"conversation_id": conversationID,
		"temp_id":         tempID,
	}).Decode(&existing)
	if err != nil {
		return nil, classify(err, "failed to load deduplicated message")
	}
	return &existing, nil
}

func (s *MongoStore) IsGroupMember(ctx context.Context, userID, groupID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.operationTimeout)
	defer cancel()

	err := s.members.FindOne(ctx, bson.M{"group_id": groupID, "user_id": userID},
		options.FindOne().SetProjection(bson.M{"_id": 1})).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, classify(err, "failed to check group membership")
	}
	return true, nil
}

func (s *MongoStore) GroupMembers(ctx context.Context, groupID string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.operationTimeout)
	defer cancel()

	cursor, err := s.members.Find(ctx, bson.M{"group_id": groupID})
	if err != nil {
		return nil, classify(err, "failed to list group members")
	}
	defer cursor.Close(ctx)

	var rows []models.GroupMembership
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, classify(err, "failed to decode group members")
	}

	members := make([]string, 0, len(rows))
	for _, row := range rows {
		members = append(members, row.UserID)
	}
	return members, nil
}

// AddGroupMember upserts a membership row; used by seeding tools
func (s *MongoStore) AddGroupMember(ctx context.Context, groupID, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, s.operationTimeout)
	defer cancel()

	_, err := s.members.UpdateOne(ctx,
		bson.M{"group_id": groupID, "user_id": userID},
		bson.M{"$setOnInsert": models.GroupMembership{GroupID: groupID, UserID: userID, JoinedAt: time.Now().UTC()}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return classify(err, "failed to add group member")
	}
	return nil
}

func (s *MongoStore) HealthCheck(ctx context.Context) map[string]interface{} {
	health := s.db.HealthCheck(ctx)
	health["driver"] = "mongodb"
	return health
}

// classify wraps err, tagging network and timeout failures as transient
func classify(err error, msg string) error {
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %v", msg, ErrTransient, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
