// Package session holds the in-memory conversation state that threads
// multi-turn dialogue through the Sider backend. Nothing here is persisted;
// a restart forgets every conversation.
package session

import (
	"log/slog"
	"time"
)

// PlaceholderID marks the inferred continuous conversation. It is local only
// and never sent upstream.
const PlaceholderID = "continuous-conversation"

const placeholderModel = "claude-3.7-sonnet-think"

// IsPlaceholder reports whether id is the inferred-continuity placeholder.
func IsPlaceholder(id string) bool {
	return id == PlaceholderID
}

// Option configures a store.
type Option func(*options)

type options struct {
	now    func() time.Time
	logger *slog.Logger
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now, logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ShortID truncates an identifier for logs and stats.
func ShortID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:12] + "..."
}

func ageSeconds(now, then time.Time) int64 {
	return int64(now.Sub(then).Round(time.Second) / time.Second)
}
