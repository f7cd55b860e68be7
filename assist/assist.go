// Package assist implements the autoresponder policy core: context
// assembly, response generation, the per-event decision policy, and the
// control command router.
package assist

import (
	"context"

	"github.com/gliderlab/awaybot/flags"
	"github.com/gliderlab/awaybot/telegram"
)

// Turn is one role-tagged message in assembled conversation context
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Event aliases the transport's event type; the policy core evaluates
// events as the transport delivers them.
type Event = telegram.Event

// Transport is the slice of the chat client the policy core needs
type Transport interface {
	// Me returns the account owner's user ID
	Me() int64
	// Authorized reports whether the account session is valid (online)
	Authorized(ctx context.Context) bool
	// RecentMessages returns up to limit messages for a chat, newest first
	RecentMessages(ctx context.Context, chatID int64, limit int) ([]telegram.Message, error)
	// Reply sends text as a reply to the triggering message
	Reply(ctx context.Context, to telegram.Event, text string) error
	// ReplyDocument sends content as a file attachment reply
	ReplyDocument(ctx context.Context, to telegram.Event, filename string, content []byte) error
}

// FlagStore is the shared assist-mode state
type FlagStore interface {
	AlwaysAssist() bool
	SetAlwaysAssist(v bool) error
	DontAssist() bool
	SetDontAssist(v bool) error
	IsApproved(userID int64) bool
	Approve(userID int64) error
	State() flags.Snapshot
}

// Generator produces a reply from assembled context. Implementations
// must recover failures into a fallback string, never return an error.
type Generator interface {
	Generate(ctx context.Context, turns []Turn) string
}
