// Package store holds the persistence collaborators of the realtime core: the
// message store and group membership lookups.
package store

import (
	"context"
	"errors"

	"relaychat/internal/models"
)

// ErrTransient marks failures worth one retry (network blips, timeouts)
var ErrTransient = errors.New("transient store failure")

// MessageStore persists messages. CreateMessage assigns ID and CreatedAt. A
// second call with the same (sender, conversation, tempId) returns the message
// stored by the first one.
type MessageStore interface {
	CreateMessage(ctx context.Context, msg *models.Message) (*models.Message, error)
}

// MembershipStore answers group membership questions
type MembershipStore interface {
	IsGroupMember(ctx context.Context, userID, groupID string) (bool, error)
	GroupMembers(ctx context.Context, groupID string) ([]string, error)
}

// Store is the full persistence surface used by the services
type Store interface {
	MessageStore
	MembershipStore
	HealthCheck(ctx context.Context) map[string]interface{}
}

// IsTransient reports whether err should be retried
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
