package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"relaychat/internal/models"

	"github.com/google/uuid"
)

// MemoryStore keeps messages and memberships in process memory. It backs the
// "memory" driver for local runs and the service tests.
type MemoryStore struct {
	mu       sync.RWMutex
	messages map[string]*models.Message // by id
	byTemp   map[string]string          // sender|conversation|tempId -> id
	groups   map[string]map[string]bool // groupId -> members

	failures []error
	creates  int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages: make(map[string]*models.Message),
		byTemp:   make(map[string]string),
		groups:   make(map[string]map[string]bool),
	}
}

// ParseGroupSeed reads "g1:u1,u2;g2:u3" into a group -> members map
func ParseGroupSeed(seed string) (map[string][]string, error) {
	out := make(map[string][]string)
	if strings.TrimSpace(seed) == "" {
		return out, nil
	}

	for _, group := range strings.Split(seed, ";") {
		group = strings.TrimSpace(group)
		if group == "" {
			continue
		}
		parts := strings.SplitN(group, ":", 2)
		if len(parts) != 2 || parts[0] == "" {
			return nil, fmt.Errorf("invalid group seed %q", group)
		}
		for _, member := range strings.Split(parts[1], ",") {
			if member = strings.TrimSpace(member); member != "" {
				out[parts[0]] = append(out[parts[0]], member)
			}
		}
	}
	return out, nil
}

// AddGroupMember registers userID as a member of groupID
func (s *MemoryStore) AddGroupMember(_ context.Context, groupID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.groups[groupID] == nil {
		s.groups[groupID] = make(map[string]bool)
	}
	s.groups[groupID][userID] = true
	return nil
}

// FailNext makes the next CreateMessage calls fail with errs, in order
func (s *MemoryStore) FailNext(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, errs...)
}

// CreateCalls reports how many times CreateMessage reached the store
func (s *MemoryStore) CreateCalls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creates
}

// MessageCount reports how many messages are persisted
func (s *MemoryStore) MessageCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

func (s *MemoryStore) CreateMessage(ctx context.Context, msg *models.Message) (*models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("create message: %w: %v", ErrTransient, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.creates++
	if len(s.failures) > 0 {
		err := s.failures[0]
		s.failures = s.failures[1:]
		return nil, err
	}

	key := msg.SenderID + "|" + msg.ConversationID + "|" + msg.TempID
	if id, ok := s.byTemp[key]; ok {
		existing := *s.messages[id]
		return &existing, nil
	}

	stored := *msg
	stored.ID = uuid.NewString()
	stored.CreatedAt = time.Now().UTC()

	s.messages[stored.ID] = &stored
	s.byTemp[key] = stored.ID

	out := stored
	return &out, nil
}

func (s *MemoryStore) IsGroupMember(_ context.Context, userID, groupID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.groups[groupID][userID], nil
}

func (s *MemoryStore) GroupMembers(_ context.Context, groupID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	members := make([]string, 0, len(s.groups[groupID]))
	for userID := range s.groups[groupID] {
		members = append(members, userID)
	}
	sort.Strings(members)
	return members, nil
}

func (s *MemoryStore) HealthCheck(context.Context) map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]interface{}{
		"status":   "connected",
		"driver":   "memory",
		"messages": len(s.messages),
		"groups":   len(s.groups),
	}
}
