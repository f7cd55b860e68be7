package assist

import (
	"context"
	"log"
	"strings"
)

// Decision is the outcome of evaluating one inbound event
type Decision string

const (
	DecisionIgnore Decision = "ignore"
	DecisionSecret Decision = "secret"
	DecisionReply  Decision = "reply"
)

// ServiceChatID is the reserved Telegram service notifications account
const ServiceChatID int64 = 777000

const (
	noMessageFound       = "No message found."
	secretAttachmentName = "retrieved_message.txt"
)

// PolicyConfig configures the decision policy
type PolicyConfig struct {
	// Secret is the shared secret triggering the retrieval flow.
	// Empty disables the flow.
	Secret string
	// ServiceChatID overrides the reserved service conversation (tests)
	ServiceChatID int64
	// HistoryLimit is how many recent messages feed the auto-reply
	HistoryLimit int
}

// rule is one named short-circuit check. matched=true stops evaluation
// with the given decision.
type rule struct {
	name  string
	check func(ctx context.Context, ev Event) (d Decision, matched bool)
}

// Policy decides, per inbound event, whether to ignore it, run the
// secret-retrieval flow, or auto-reply. The checks are an explicit
// ordered list so the short-circuit order is a first-class artifact.
type Policy struct {
	transport Transport
	flags     FlagStore
	assembler *Assembler
	generator Generator

	secret       string
	serviceChat  int64
	historyLimit int

	rules []rule
}

func NewPolicy(transport Transport, store FlagStore, assembler *Assembler, generator Generator, cfg PolicyConfig) *Policy {
	if cfg.ServiceChatID == 0 {
		cfg.ServiceChatID = ServiceChatID
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 10
	}

	p := &Policy{
		transport:    transport,
		flags:        store,
		assembler:    assembler,
		generator:    generator,
		secret:       cfg.Secret,
		serviceChat:  cfg.ServiceChatID,
		historyLimit: cfg.HistoryLimit,
	}

	// Order matters: approval beats every flag, dont-assist beats
	// always-assist.
	p.rules = []rule{
		{name: "self", check: p.checkSelf},
		{name: "approved", check: p.checkApproved},
		{name: "secret", check: p.checkSecret},
		{name: "dont_assist", check: p.checkDontAssist},
		{name: "trigger", check: p.checkTrigger},
	}
	return p
}

func (p *Policy) checkSelf(ctx context.Context, ev Event) (Decision, bool) {
	if ev.SenderID == p.transport.Me() {
		return DecisionIgnore, true
	}
	return "", false
}

func (p *Policy) checkApproved(ctx context.Context, ev Event) (Decision, bool) {
	if p.flags.IsApproved(ev.SenderID) {
		return DecisionIgnore, true
	}
	return "", false
}

func (p *Policy) checkSecret(ctx context.Context, ev Event) (Decision, bool) {
	if p.secret != "" && strings.TrimSpace(ev.Text) == p.secret {
		return DecisionSecret, true
	}
	return "", false
}

func (p *Policy) checkDontAssist(ctx context.Context, ev Event) (Decision, bool) {
	if p.flags.DontAssist() {
		return DecisionIgnore, true
	}
	return "", false
}

func (p *Policy) checkTrigger(ctx context.Context, ev Event) (Decision, bool) {
	offline := !p.transport.Authorized(ctx)
	if offline || p.flags.AlwaysAssist() {
		return DecisionReply, true
	}
	return "", false
}

// Decide runs the ordered checks and returns the decision plus the name
// of the rule that produced it.
func (p *Policy) Decide(ctx context.Context, ev Event) (Decision, string) {
	for _, r := range p.rules {
		if d, matched := r.check(ctx, ev); matched {
			return d, r.name
		}
	}
	return DecisionIgnore, "default"
}

// HandleIncoming evaluates one inbound message event and executes the
// resulting action. All failures are recovered locally; nothing
// propagates to the transport loop.
func (p *Policy) HandleIncoming(ctx context.Context, ev Event) {
	decision, ruleName := p.Decide(ctx, ev)
	switch decision {
	case DecisionSecret:
		p.runSecretFlow(ctx, ev)
	case DecisionReply:
		p.autoReply(ctx, ev)
	default:
		log.Printf("[Policy] action=ignore rule=%s chat_id=%d sender_id=%d", ruleName, ev.ChatID, ev.SenderID)
	}
}

// autoReply assembles context, generates a response, and replies.
// Generator failures already degrade to the fallback string; an empty
// context still produces a reply from the system instruction alone.
func (p *Policy) autoReply(ctx context.Context, ev Event) {
	turns, err := p.assembler.Assemble(ctx, ev.ChatID, p.historyLimit)
	if err != nil {
		log.Printf("[Policy] action=assemble chat_id=%d error=%v", ev.ChatID, err)
		return
	}

	text := p.generator.Generate(ctx, turns)
	if err := p.transport.Reply(ctx, ev, text); err != nil {
		log.Printf("[Policy] action=reply chat_id=%d error=%v", ev.ChatID, err)
		return
	}
	log.Printf("[Policy] action=reply chat_id=%d turns=%d", ev.ChatID, len(turns))
}

// runSecretFlow fetches the most recent service-chat message and
// returns it to the requester as a file attachment, not inline text.
// Retrieval failure degrades to a fixed string, never an error.
func (p *Policy) runSecretFlow(ctx context.Context, ev Event) {
	text := noMessageFound
	msgs, err := p.transport.RecentMessages(ctx, p.serviceChat, 1)
	if err != nil {
		log.Printf("[Policy] action=secret_fetch chat_id=%d error=%v", p.serviceChat, err)
	} else if len(msgs) > 0 && msgs[0].Text != "" {
		text = msgs[0].Text
	}

	if err := p.transport.ReplyDocument(ctx, ev, secretAttachmentName, []byte(text)); err != nil {
		log.Printf("[Policy] action=secret_reply chat_id=%d error=%v", ev.ChatID, err)
		return
	}
	log.Printf("[Policy] action=secret_reply chat_id=%d sender_id=%d", ev.ChatID, ev.SenderID)
}
