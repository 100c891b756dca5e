package services

import (
	"sync"
	"time"
)

// TypingTracker owns the auto-expiry timers of typing indicators
type TypingTracker struct {
	timeout time.Duration

	mu     sync.Mutex
	timers map[string]*typingTimer
}

type typingTimer struct {
	timer *time.Timer
}

func NewTypingTracker(timeout time.Duration) *TypingTracker {
	return &TypingTracker{
		timeout: timeout,
		timers:  make(map[string]*typingTimer),
	}
}

// Touch (re)arms the timer for key. expire runs once if no Touch or Clear
// follows within the timeout.
func (t *TypingTracker) Touch(key string, expire func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.timers[key]; ok {
		existing.timer.Stop()
	}

	entry := &typingTimer{}
	entry.timer = time.AfterFunc(t.timeout, func() {
		t.mu.Lock()
		current, ok := t.timers[key]
		if !ok || current != entry {
			t.mu.Unlock()
			return
		}
		delete(t.timers, key)
		t.mu.Unlock()

		expire()
	})
	t.timers[key] = entry
}

// Clear stops the timer for key. It reports whether one was armed.
func (t *TypingTracker) Clear(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.timers[key]
	if !ok {
		return false
	}
	entry.timer.Stop()
	delete(t.timers, key)
	return true
}

// Active reports whether key has an armed timer
func (t *TypingTracker) Active(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.timers[key]
	return ok
}

// Stop cancels every timer
func (t *TypingTracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key, entry := range t.timers {
		entry.timer.Stop()
		delete(t.timers, key)
	}
}

func privateTypingKey(senderID, receiverID string) string {
	return "private:" + senderID + ">" + receiverID
}

func groupTypingKey(userID, groupID string) string {
	return "group:" + groupID + ":" + userID
}
