package assist

import (
	"context"
	"fmt"
	"testing"

	"github.com/gliderlab/awaybot/telegram"
)

const (
	ownerID     = int64(777)
	strangerID  = int64(12345)
	chatID      = int64(100)
	testSecret  = "secret123"
	serviceChat = int64(777000)
)

func newTestPolicy(t *testing.T) (*Policy, *fakeTransport, *fakeFlags, *fakeGenerator) {
	t.Helper()
	transport := newFakeTransport(ownerID)
	store := newFakeFlags()
	gen := &fakeGenerator{out: "generated reply"}
	p := NewPolicy(transport, store, NewAssembler(transport, 0), gen, PolicyConfig{
		Secret:        testSecret,
		ServiceChatID: serviceChat,
		HistoryLimit:  10,
	})
	return p, transport, store, gen
}

func TestSelfMessageIgnored(t *testing.T) {
	p, transport, store, gen := newTestPolicy(t)
	transport.authorized = false // would otherwise trigger a reply

	p.HandleIncoming(context.Background(), event(1, chatID, ownerID, "note to self"))

	if len(transport.replies) != 0 || len(transport.docs) != 0 {
		t.Error("Self message must produce no reply")
	}
	if gen.calls != 0 {
		t.Error("Self message must not invoke the generator")
	}
	if store.mutations != 0 {
		t.Error("Self message must not mutate flags")
	}
}

func TestApprovedSenderIgnoredUnconditionally(t *testing.T) {
	p, transport, store, gen := newTestPolicy(t)
	store.approved[strangerID] = true
	store.always = true
	transport.authorized = false

	p.HandleIncoming(context.Background(), event(1, chatID, strangerID, "Are you free?"))

	if len(transport.replies) != 0 {
		t.Error("Approved sender must never get an auto-reply")
	}
	if gen.calls != 0 {
		t.Error("Approved sender must not invoke the generator")
	}
}

func TestApprovalPrecedesSecretFlow(t *testing.T) {
	p, transport, store, gen := newTestPolicy(t)
	store.approved[strangerID] = true
	transport.history[serviceChat] = []telegram.Message{
		{ID: 1, ChatID: serviceChat, SenderID: 42, Text: "Login code: 9999"},
	}

	p.HandleIncoming(context.Background(), event(1, chatID, strangerID, testSecret))

	if len(transport.docs) != 0 {
		t.Error("Approved sender must not trigger the secret flow")
	}
	if gen.calls != 0 {
		t.Error("Approved sender must not invoke the generator")
	}
}

func TestDontAssistBeatsAlwaysAssist(t *testing.T) {
	p, transport, store, gen := newTestPolicy(t)
	store.dont = true
	store.always = true
	transport.authorized = false

	p.HandleIncoming(context.Background(), event(1, chatID, strangerID, "hello"))

	if len(transport.replies) != 0 {
		t.Error("dontAssist must suppress replies even with alwaysAssist set")
	}
	if gen.calls != 0 {
		t.Error("dontAssist must suppress the generator")
	}
}

func TestOnlineWithoutAlwaysAssistIgnores(t *testing.T) {
	p, transport, _, gen := newTestPolicy(t)
	transport.authorized = true

	p.HandleIncoming(context.Background(), event(1, chatID, strangerID, "hello"))

	if len(transport.replies) != 0 || gen.calls != 0 {
		t.Error("Online account without alwaysAssist must not reply")
	}
}

func TestAlwaysAssistRepliesWhileOnline(t *testing.T) {
	p, transport, store, _ := newTestPolicy(t)
	transport.authorized = true
	store.always = true

	p.HandleIncoming(context.Background(), event(1, chatID, strangerID, "hello"))

	if len(transport.replies) != 1 {
		t.Fatalf("Expected 1 reply, got %d", len(transport.replies))
	}
	if transport.replies[0].text != "generated reply" {
		t.Errorf("Expected generator output, got %q", transport.replies[0].text)
	}
}

func TestOfflineReplies(t *testing.T) {
	p, transport, _, _ := newTestPolicy(t)
	transport.authorized = false

	p.HandleIncoming(context.Background(), event(1, chatID, strangerID, "hello"))

	if len(transport.replies) != 1 {
		t.Fatalf("Expected 1 reply, got %d", len(transport.replies))
	}
}

func TestEmptyContextStillReplies(t *testing.T) {
	p, transport, _, gen := newTestPolicy(t)
	transport.authorized = false
	// no history at all for the chat

	p.HandleIncoming(context.Background(), event(1, chatID, strangerID, "hello"))

	if gen.calls != 1 {
		t.Fatalf("Expected generator call, got %d", gen.calls)
	}
	if len(gen.turns) != 0 {
		t.Errorf("Expected empty context, got %d turns", len(gen.turns))
	}
	if len(transport.replies) != 1 {
		t.Error("Empty context must still produce a reply")
	}
}

func TestHistoryFetchFailureAbortsEvent(t *testing.T) {
	p, transport, _, gen := newTestPolicy(t)
	transport.authorized = false
	transport.historyErr = fmt.Errorf("flood wait")

	p.HandleIncoming(context.Background(), event(1, chatID, strangerID, "hello"))

	if gen.calls != 0 {
		t.Error("Fetch failure must abort before the generator")
	}
	if len(transport.replies) != 0 {
		t.Error("Fetch failure must abort without replying")
	}
}

func TestDecideOrder(t *testing.T) {
	p, transport, store, _ := newTestPolicy(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		setup    func()
		ev       telegram.Event
		decision Decision
		rule     string
	}{
		{
			name:     "self first",
			setup:    func() { store.approved[ownerID] = true },
			ev:       event(1, chatID, ownerID, testSecret),
			decision: DecisionIgnore,
			rule:     "self",
		},
		{
			name:     "approved before secret",
			setup:    func() { store.approved[strangerID] = true },
			ev:       event(1, chatID, strangerID, testSecret),
			decision: DecisionIgnore,
			rule:     "approved",
		},
		{
			name:     "secret before dont_assist",
			setup:    func() { store.approved = map[int64]bool{}; store.dont = true },
			ev:       event(1, chatID, strangerID, "  "+testSecret+"  "),
			decision: DecisionSecret,
			rule:     "secret",
		},
		{
			name:     "dont_assist before trigger",
			setup:    func() { store.dont = true; store.always = true; transport.authorized = false },
			ev:       event(1, chatID, strangerID, "hi"),
			decision: DecisionIgnore,
			rule:     "dont_assist",
		},
		{
			name:     "trigger replies offline",
			setup:    func() { store.dont = false; store.always = false; transport.authorized = false },
			ev:       event(1, chatID, strangerID, "hi"),
			decision: DecisionReply,
			rule:     "trigger",
		},
		{
			name:     "default ignore online",
			setup:    func() { transport.authorized = true },
			ev:       event(1, chatID, strangerID, "hi"),
			decision: DecisionIgnore,
			rule:     "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.setup()
			d, rule := p.Decide(ctx, tt.ev)
			if d != tt.decision || rule != tt.rule {
				t.Errorf("Expected (%s, %s), got (%s, %s)", tt.decision, tt.rule, d, rule)
			}
		})
	}
}

func TestSecretNeedsExactMatch(t *testing.T) {
	p, transport, _, _ := newTestPolicy(t)
	transport.authorized = true

	p.HandleIncoming(context.Background(), event(1, chatID, strangerID, testSecret+" please"))

	if len(transport.docs) != 0 {
		t.Error("Partial secret match must not trigger the retrieval flow")
	}
}

// End-to-end scenario 1: exact secret from a non-approved, non-owner
// sender delivers the newest service-chat message as an attachment and
// never touches the generator.
func TestScenarioSecretRetrieval(t *testing.T) {
	p, transport, _, gen := newTestPolicy(t)
	transport.history[serviceChat] = []telegram.Message{
		{ID: 2, ChatID: serviceChat, SenderID: 42, Text: "Your login code is 81734"},
		{ID: 1, ChatID: serviceChat, SenderID: 42, Text: "older notice"},
	}

	ev := event(5, chatID, strangerID, testSecret)
	p.HandleIncoming(context.Background(), ev)

	if gen.calls != 0 {
		t.Error("Secret flow must not invoke the generator")
	}
	if len(transport.replies) != 0 {
		t.Error("Secret flow must not reply with inline text")
	}
	if len(transport.docs) != 1 {
		t.Fatalf("Expected 1 document reply, got %d", len(transport.docs))
	}
	doc := transport.docs[0]
	if doc.content != "Your login code is 81734" {
		t.Errorf("Expected newest service message, got %q", doc.content)
	}
	if doc.filename != "retrieved_message.txt" {
		t.Errorf("Unexpected attachment name %q", doc.filename)
	}
	if doc.to.ID != 5 {
		t.Errorf("Attachment should reply to the triggering message, got %d", doc.to.ID)
	}
}

func TestSecretRetrievalFailureDegrades(t *testing.T) {
	p, transport, _, _ := newTestPolicy(t)
	transport.historyErr = fmt.Errorf("service unreachable")

	p.HandleIncoming(context.Background(), event(5, chatID, strangerID, testSecret))

	if len(transport.docs) != 1 {
		t.Fatalf("Expected 1 document reply, got %d", len(transport.docs))
	}
	if transport.docs[0].content != "No message found." {
		t.Errorf("Expected fixed fallback, got %q", transport.docs[0].content)
	}
}

func TestSecretRetrievalEmptyServiceChat(t *testing.T) {
	p, transport, _, _ := newTestPolicy(t)
	// service chat has no messages

	p.HandleIncoming(context.Background(), event(5, chatID, strangerID, testSecret))

	if len(transport.docs) != 1 || transport.docs[0].content != "No message found." {
		t.Errorf("Empty service chat should degrade to the fixed string, got %+v", transport.docs)
	}
}

// End-to-end scenario 2: offline account, unapproved sender, two prior
// turns of history; the generator sees those turns and the reply equals
// its output.
func TestScenarioOfflineAutoReply(t *testing.T) {
	p, transport, _, gen := newTestPolicy(t)
	transport.authorized = false
	transport.history[chatID] = []telegram.Message{
		// newest first, as the transport yields them
		{ID: 2, ChatID: chatID, SenderID: ownerID, Text: "I'll check tomorrow"},
		{ID: 1, ChatID: chatID, SenderID: strangerID, Text: "Did you see my email?"},
	}
	gen.out = "He's away right now, he'll get back to you."

	ev := event(3, chatID, strangerID, "Are you free?")
	p.HandleIncoming(context.Background(), ev)

	if gen.calls != 1 {
		t.Fatalf("Expected generator invoked once, got %d", gen.calls)
	}
	wantTurns := []Turn{
		{Role: RoleUser, Content: "Did you see my email?"},
		{Role: RoleAssistant, Content: "I'll check tomorrow"},
	}
	if len(gen.turns) != len(wantTurns) {
		t.Fatalf("Expected %d turns, got %d", len(wantTurns), len(gen.turns))
	}
	for i := range wantTurns {
		if gen.turns[i] != wantTurns[i] {
			t.Errorf("Turn %d: expected %+v, got %+v", i, wantTurns[i], gen.turns[i])
		}
	}
	if len(transport.replies) != 1 {
		t.Fatalf("Expected 1 reply, got %d", len(transport.replies))
	}
	if transport.replies[0].text != gen.out {
		t.Errorf("Reply should equal generator output, got %q", transport.replies[0].text)
	}
	if transport.replies[0].to.ID != 3 {
		t.Errorf("Reply should target the triggering message, got %d", transport.replies[0].to.ID)
	}
}

// End-to-end scenario 3: .approve as a reply to a stranger makes them
// approved; their next message produces no reply.
func TestScenarioApproveThenSilence(t *testing.T) {
	p, transport, store, gen := newTestPolicy(t)
	router := NewRouter(transport, store)
	transport.authorized = false

	approveEv := telegram.Event{
		Message:  telegram.Message{ID: 10, ChatID: chatID, SenderID: ownerID, Text: ".approve"},
		Outgoing: true,
		ReplyTo:  &telegram.Message{ID: 9, ChatID: chatID, SenderID: strangerID, Text: "hey"},
	}
	router.HandleOutgoing(context.Background(), approveEv)

	if !store.IsApproved(strangerID) {
		t.Fatal("Expected sender approved after .approve")
	}

	transport.replies = nil
	p.HandleIncoming(context.Background(), event(11, chatID, strangerID, "hello again"))

	if len(transport.replies) != 0 {
		t.Error("Approved sender must not receive auto-replies")
	}
	if gen.calls != 0 {
		t.Error("Approved sender must not invoke the generator")
	}
}
