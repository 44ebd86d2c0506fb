// Package session implements short-term working memory for active
// conversations: per-session message history, a rolling summary, token-window
// compaction, and TTL-based expiry.
//
// A session moves through two states: Active, in which appends and reads
// re-arm its TTL, and Expired, which is terminal. Expiry is reached either
// through Manager.ExpireIdle or an explicit Manager.Close; there is no
// transition out of it.
package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/mnemohq/mnemo-go-sdk/core"
)

// Role identifies the author of a message. The set is closed.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
	RoleTool  Role = "tool"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAgent, RoleTool:
		return true
	}
	return false
}

// Message is one turn's content. Messages are immutable once stored; they
// leave the window only by being folded into the rolling summary.
type Message struct {
	ID        string
	Role      Role
	Content   string
	Timestamp time.Time
	Tokens    int
}

// NewMessage builds a message with a fresh identifier and token estimate.
// Content must already be redacted.
func NewMessage(role Role, content string, now time.Time) Message {
	return Message{
		ID:        uuid.New().String(),
		Role:      role,
		Content:   content,
		Timestamp: now,
		Tokens:    core.EstimateTokens(content),
	}
}

// Session is one active conversation: its retained raw messages, rolling
// summary, running token estimate, and expiry policy.
//
// Invariant: TokenCount, the sum of retained message tokens plus summary
// tokens, never exceeds the manager's configured budget after an append
// returns.
type Session struct {
	ID         string
	UserID     string
	Messages   []Message
	Summary    string
	TokenCount int
	CreatedAt  time.Time
	LastActive time.Time
	TTL        time.Duration
}

// ExpiresAt returns the instant the session's sliding TTL runs out.
func (s *Session) ExpiresAt() time.Time { return s.LastActive.Add(s.TTL) }

// Expired reports whether the TTL elapsed before now.
func (s *Session) Expired(now time.Time) bool { return now.After(s.ExpiresAt()) }

// Recount recalculates TokenCount from the retained messages and summary.
func (s *Session) Recount() {
	total := core.EstimateTokens(s.Summary)
	for _, m := range s.Messages {
		total += m.Tokens
	}
	s.TokenCount = total
}

// Clone returns a deep copy safe to hand to another goroutine.
func (s *Session) Clone() *Session {
	c := *s
	c.Messages = append([]Message(nil), s.Messages...)
	return &c
}

// Context is the read view handed to the context assembler: the rolling
// summary (empty until the first compaction) and the retained messages in
// chronological order.
type Context struct {
	SessionID string
	Summary   string
	Messages  []Message
}
