package hub

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opsdesk/presenced/internal/presence"
)

// UserPresence is the hub's recorded status for one user. The record's
// UpdatedAt is the tiebreaker clients use to order racing observations.
type UserPresence struct {
	UserID    string          `json:"userId"`
	Status    presence.Status `json:"status"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Chat is one support conversation attached to a user.
type Chat struct {
	ID         string     `json:"id"`
	UserID     string     `json:"userId"`
	Status     string     `json:"status"` // "active" or "closed"
	AssignedAt time.Time  `json:"assignedAt"`
	ClosedAt   *time.Time `json:"closedAt,omitempty"`
}

const (
	ChatActive = "active"
	ChatClosed = "closed"
)

// Store holds the hub's presence and chat state. All accessors return
// copies; callers never share memory with the store.
type Store struct {
	mu    sync.RWMutex
	users map[string]*UserPresence
	chats map[string]*Chat
}

func NewStore() *Store {
	return &Store{
		users: make(map[string]*UserPresence),
		chats: make(map[string]*Chat),
	}
}

// Status returns the recorded presence for userID.
func (s *Store) Status(userID string) (UserPresence, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.users[userID]
	if !ok {
		return UserPresence{}, false
	}
	return *rec, true
}

// SetStatus records a new status for userID, creating the record on
// first write, and returns the updated copy.
func (s *Store) SetStatus(userID string, st presence.Status) UserPresence {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.users[userID]
	if !ok {
		rec = &UserPresence{UserID: userID}
		s.users[userID] = rec
	}
	rec.Status = st
	rec.UpdatedAt = time.Now().UTC()
	return *rec
}

// AllStatuses returns every presence record, ordered by user ID so
// snapshots are deterministic.
func (s *Store) AllStatuses() []UserPresence {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]UserPresence, 0, len(s.users))
	for _, rec := range s.users {
		result = append(result, *rec)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UserID < result[j].UserID })
	return result
}

// AssignChat creates an active chat for userID and returns it.
func (s *Store) AssignChat(userID string) Chat {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat := &Chat{
		ID:         uuid.NewString(),
		UserID:     userID,
		Status:     ChatActive,
		AssignedAt: time.Now().UTC(),
	}
	s.chats[chat.ID] = chat
	return *chat
}

// CloseChat marks the chat closed. Returns false if the chat is unknown.
func (s *Store) CloseChat(id string) (Chat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[id]
	if !ok {
		return Chat{}, false
	}
	if chat.Status != ChatClosed {
		chat.Status = ChatClosed
		now := time.Now().UTC()
		chat.ClosedAt = &now
	}
	return *chat, true
}

// ChatsFor returns all chats attached to userID, newest first.
func (s *Store) ChatsFor(userID string) []Chat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []Chat
	for _, chat := range s.chats {
		if chat.UserID == userID {
			result = append(result, *chat)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].AssignedAt.After(result[j].AssignedAt) })
	return result
}

// ActiveChatCount returns the number of active chats for userID.
func (s *Store) ActiveChatCount(userID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, chat := range s.chats {
		if chat.UserID == userID && chat.Status == ChatActive {
			count++
		}
	}
	return count
}
