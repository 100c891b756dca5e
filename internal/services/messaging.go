package services

import (
	"context"
	"strings"
	"time"

	"relaychat/internal/models"
	"relaychat/internal/store"
	"relaychat/internal/utils"
	"relaychat/pkg/logger"

	"github.com/cenkalti/backoff/v4"
)

// MessagePipeline is the persistence path shared by private and group
// messaging: idempotency lookup, per-key ordering and one retry on transient
// store failures.
type MessagePipeline struct {
	store      store.MessageStore
	cache      *IdempotencyCache
	locks      *utils.KeyedMutex
	retryDelay time.Duration
}

func NewMessagePipeline(messages store.MessageStore, cache *IdempotencyCache, retryDelay time.Duration) *MessagePipeline {
	return &MessagePipeline{
		store:      messages,
		cache:      cache,
		locks:      utils.NewKeyedMutex(),
		retryDelay: retryDelay,
	}
}

// Send persists msg at most once per (sender, conversation, tempId) and calls
// deliver with the stored copy while still holding the ordering lock for
// lockKey. Replays return the original message and skip delivery.
func (p *MessagePipeline) Send(ctx context.Context, lockKey string, msg *models.Message, deliver func(*models.Message)) (*models.Message, bool, error) {
	key := idempotencyKey(msg.SenderID, msg.ConversationID, msg.TempID)

	return p.cache.Do(key, func() (*models.Message, error) {
		unlock := p.locks.Lock(lockKey)
		defer unlock()

		saved, err := p.persist(ctx, msg)
		if err != nil {
			return nil, err
		}
		deliver(saved)
		return saved, nil
	})
}

func (p *MessagePipeline) persist(ctx context.Context, msg *models.Message) (*models.Message, error) {
	var saved *models.Message
	attempt := 0

	operation := func() error {
		attempt++
		m, err := p.store.CreateMessage(ctx, msg)
		if err != nil {
			if store.IsTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		saved = m
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(p.retryDelay), 1), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		logger.LogError(err, "Failed to persist message", map[string]interface{}{
			"sender_id":       msg.SenderID,
			"conversation_id": msg.ConversationID,
			"temp_id":         msg.TempID,
			"attempts":        attempt,
		})
		if store.IsTransient(err) || ctx.Err() != nil {
			return nil, models.NewTransientPersistenceError(err)
		}
		return nil, models.NewInternalError(err)
	}
	return saved, nil
}

func validateMessage(body, tempID string) error {
	if strings.TrimSpace(body) == "" {
		return models.NewValidationError("message is required")
	}
	if tempID == "" {
		return models.NewValidationError("tempId is required")
	}
	return nil
}
