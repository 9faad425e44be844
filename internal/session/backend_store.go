package session

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// SiderSession is the last known message chain of one Sider conversation.
type SiderSession struct {
	ConversationID     string
	UserMessageID      string
	AssistantMessageID string
	Model              string
	MessageCount       int
	CreatedAt          time.Time
	LastActivity       time.Time
}

// SessionSummary is the observability view of a session.
type SessionSummary struct {
	ConversationID string `json:"cid"`
	Model          string `json:"model"`
	MessageCount   int    `json:"messageCount"`
	Age            int64  `json:"age"`
	LastActivity   int64  `json:"lastActivity"`
}

type SessionStats struct {
	TotalSessions int              `json:"totalSessions"`
	Sessions      []SessionSummary `json:"sessions"`
}

// BackendStore maps Sider conversation ids to their latest message ids.
type BackendStore struct {
	mu       sync.Mutex
	sessions map[string]*SiderSession
	now      func() time.Time
	logger   *slog.Logger
}

func NewBackendStore(opts ...Option) *BackendStore {
	o := buildOptions(opts)
	return &BackendStore{
		sessions: make(map[string]*SiderSession),
		now:      o.now,
		logger:   o.logger,
	}
}

// Save upserts the session for cid, bumping its message count and activity.
func (s *BackendStore) Save(cid, userMessageID, assistantMessageID, model string) SiderSession {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[cid]
	if !ok {
		sess = &SiderSession{
			ConversationID: cid,
			CreatedAt:      now,
		}
		s.sessions[cid] = sess
	}
	sess.UserMessageID = userMessageID
	sess.AssistantMessageID = assistantMessageID
	sess.Model = model
	sess.LastActivity = now
	sess.MessageCount++

	if ok {
		s.logger.Info("Updated Sider session", "cid", ShortID(cid), "message_count", sess.MessageCount, "model", model)
	} else {
		s.logger.Info("Created Sider session", "cid", ShortID(cid), "model", model)
	}

	return *sess
}

// Get returns a copy of the session for cid.
func (s *BackendStore) Get(cid string) (SiderSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[cid]
	if !ok {
		return SiderSession{}, false
	}
	return *sess, true
}

// NextParentID returns the assistant message id the next turn must link to,
// or "" when cid is unknown.
func (s *BackendStore) NextParentID(cid string) string {
	sess, ok := s.Get(cid)
	if !ok {
		s.logger.Debug("No Sider session for conversation", "cid", ShortID(cid))
		return ""
	}
	return sess.AssistantMessageID
}

// IsPlaceholder reports whether id is the inferred-continuity placeholder.
func (s *BackendStore) IsPlaceholder(id string) bool {
	return IsPlaceholder(id)
}

// GetOrCreatePlaceholder returns the placeholder session, creating an empty
// record on first use.
func (s *BackendStore) GetOrCreatePlaceholder() SiderSession {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[PlaceholderID]
	if !ok {
		sess = &SiderSession{
			ConversationID: PlaceholderID,
			Model:          placeholderModel,
			CreatedAt:      now,
			LastActivity:   now,
		}
		s.sessions[PlaceholderID] = sess
		s.logger.Info("Created continuous conversation session")
	}
	return *sess
}

// CleanupExpired deletes sessions idle for longer than maxAge and returns how
// many were removed.
func (s *BackendStore) CleanupExpired(maxAge time.Duration) int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for cid, sess := range s.sessions {
		if now.Sub(sess.LastActivity) > maxAge {
			delete(s.sessions, cid)
			removed++
		}
	}

	if removed > 0 {
		s.logger.Info("Cleaned up expired Sider sessions", "count", removed)
	}
	return removed
}

// Len returns the number of tracked sessions.
func (s *BackendStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Stats returns per-session summaries ordered by most recent activity.
func (s *BackendStore) Stats() SessionStats {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	stats := SessionStats{
		TotalSessions: len(s.sessions),
		Sessions:      make([]SessionSummary, 0, len(s.sessions)),
	}
	for cid, sess := range s.sessions {
		stats.Sessions = append(stats.Sessions, SessionSummary{
			ConversationID: ShortID(cid),
			Model:          sess.Model,
			MessageCount:   sess.MessageCount,
			Age:            ageSeconds(now, sess.CreatedAt),
			LastActivity:   ageSeconds(now, sess.LastActivity),
		})
	}
	sort.Slice(stats.Sessions, func(i, j int) bool {
		return stats.Sessions[i].LastActivity < stats.Sessions[j].LastActivity
	})
	return stats
}
