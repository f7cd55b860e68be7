package assist

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
)

// Control command surface. Exact match against the full trimmed text of
// self-authored outgoing messages; inbound messages never trigger these.
const (
	cmdAlwaysAssist = ".alwaysassist"
	cmdDontAssist   = ".dontassist"
	cmdApprove      = ".approve"
	cmdStatus       = ".status"
	cmdCommands     = ".commands"
)

const helpText = `🤖 Commands:
.alwaysassist – Always auto-reply
.dontassist – Never auto-reply
.approve (reply) – Approve user to not get auto-replies
.status – Show current settings
.commands – Show this help`

// Router matches control commands and mutates flag state. Every command
// is a single idempotent mutation or a read-only status report.
type Router struct {
	transport Transport
	flags     FlagStore
}

func NewRouter(transport Transport, store FlagStore) *Router {
	return &Router{transport: transport, flags: store}
}

// HandleOutgoing routes one self-authored message. Unmatched texts are
// ignored; there is no partial matching or argument parsing.
func (r *Router) HandleOutgoing(ctx context.Context, ev Event) {
	switch strings.TrimSpace(ev.Text) {
	case cmdAlwaysAssist:
		r.setFlag(ctx, ev, r.flags.SetAlwaysAssist, "✅ Assistant will now always reply.")
	case cmdDontAssist:
		r.setFlag(ctx, ev, r.flags.SetDontAssist, "🚫 Assistant will now never reply.")
	case cmdApprove:
		r.approve(ctx, ev)
	case cmdStatus:
		r.status(ctx, ev)
	case cmdCommands:
		r.reply(ctx, ev, helpText)
	}
}

func (r *Router) setFlag(ctx context.Context, ev Event, set func(bool) error, confirmation string) {
	if err := set(true); err != nil {
		log.Printf("[Commands] action=set_flag error=%v", err)
		r.reply(ctx, ev, "❌ Failed to update settings.")
		return
	}
	r.reply(ctx, ev, confirmation)
}

// approve adds the replied-to message's sender to the approved set.
// Without a reply target there is nothing to approve and no mutation
// happens.
func (r *Router) approve(ctx context.Context, ev Event) {
	if ev.ReplyTo == nil {
		r.reply(ctx, ev, "❌ Reply to a user to approve them.")
		return
	}

	userID := ev.ReplyTo.SenderID
	if err := r.flags.Approve(userID); err != nil {
		log.Printf("[Commands] action=approve user_id=%d error=%v", userID, err)
		r.reply(ctx, ev, "❌ Failed to update settings.")
		return
	}
	r.reply(ctx, ev, fmt.Sprintf("✅ User %d approved. Won't auto-reply to them.", userID))
}

func (r *Router) status(ctx context.Context, ev Event) {
	snap := r.flags.State()
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		log.Printf("[Commands] action=status error=%v", err)
		return
	}
	r.reply(ctx, ev, "⚙️ Current Settings:\n```json\n"+string(data)+"\n```")
}

func (r *Router) reply(ctx context.Context, ev Event, text string) {
	if err := r.transport.Reply(ctx, ev, text); err != nil {
		log.Printf("[Commands] action=reply chat_id=%d error=%v", ev.ChatID, err)
	}
}
