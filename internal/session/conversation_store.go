package session

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mihaisavezi/sider-gateway/internal/types"
)

const (
	fingerprintMessages = 3
	fingerprintPrefix   = 50
)

// Conversation is a locally fingerprinted dialogue.
type Conversation struct {
	ID            string
	LastMessageID string
	MessageCount  int
	CreatedAt     time.Time
	LastActivity  time.Time
}

type ConversationSummary struct {
	ID           string `json:"id"`
	MessageCount int    `json:"messageCount"`
	Age          int64  `json:"age"`
	LastActivity int64  `json:"lastActivity"`
}

type ConversationStats struct {
	TotalConversations int                   `json:"totalConversations"`
	Conversations      []ConversationSummary `json:"conversations"`
}

// ConversationStore correlates requests by hashing the opening messages. It is
// a fallback for when no backend conversation id is available.
type ConversationStore struct {
	mu            sync.Mutex
	conversations map[string]*Conversation
	now           func() time.Time
	logger        *slog.Logger
}

func NewConversationStore(opts ...Option) *ConversationStore {
	o := buildOptions(opts)
	return &ConversationStore{
		conversations: make(map[string]*Conversation),
		now:           o.now,
		logger:        o.logger,
	}
}

// Fingerprint derives the conversation key from the first messages.
func Fingerprint(messages []types.Message) string {
	n := min(len(messages), fingerprintMessages)
	parts := make([]string, 0, n)
	for _, m := range messages[:n] {
		parts = append(parts, m.Role+":"+truncateRunes(contentString(m.Content), fingerprintPrefix))
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return "conv_" + hex.EncodeToString(sum[:8])
}

func contentString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func messageID(conversationID string, index int) string {
	return fmt.Sprintf("%s_msg_%d", conversationID, index)
}

// GetOrCreate finds the conversation the messages belong to, creating it if
// needed, and records the current message count.
func (s *ConversationStore) GetOrCreate(messages []types.Message) Conversation {
	key := Fingerprint(messages)
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[key]
	if !ok {
		conv = &Conversation{ID: key, CreatedAt: now}
		s.conversations[key] = conv
		s.logger.Info("Creating new conversation", "id", key, "message_count", len(messages))
	} else {
		s.logger.Info("Continuing conversation", "id", key,
			"previous_count", conv.MessageCount, "current_count", len(messages))
	}

	conv.LastActivity = now
	conv.MessageCount = len(messages)
	conv.LastMessageID = messageID(key, conv.MessageCount)

	return *conv
}

// ParentID returns the id of the message preceding the current turn, or ""
// for a first turn.
func (s *ConversationStore) ParentID(conv Conversation, messages []types.Message) string {
	if len(messages) <= 1 {
		return ""
	}
	return messageID(conv.ID, len(messages)-1)
}

func (s *ConversationStore) CleanupExpired(maxAge time.Duration) int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, conv := range s.conversations {
		if now.Sub(conv.LastActivity) > maxAge {
			delete(s.conversations, key)
			removed++
		}
	}

	if removed > 0 {
		s.logger.Info("Cleaned up expired conversations", "count", removed)
	}
	return removed
}

func (s *ConversationStore) Stats() ConversationStats {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	stats := ConversationStats{
		TotalConversations: len(s.conversations),
		Conversations:      make([]ConversationSummary, 0, len(s.conversations)),
	}
	for _, conv := range s.conversations {
		stats.Conversations = append(stats.Conversations, ConversationSummary{
			ID:           conv.ID,
			MessageCount: conv.MessageCount,
			Age:          ageSeconds(now, conv.CreatedAt),
			LastActivity: ageSeconds(now, conv.LastActivity),
		})
	}
	sort.Slice(stats.Conversations, func(i, j int) bool {
		return stats.Conversations[i].ID < stats.Conversations[j].ID
	})
	return stats
}
