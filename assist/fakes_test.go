package assist

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/gliderlab/awaybot/flags"
	"github.com/gliderlab/awaybot/telegram"
)

// fakeTransport records everything the core sends
type fakeTransport struct {
	mu         sync.Mutex
	me         int64
	authorized bool
	history    map[int64][]telegram.Message // newest first, per chat
	historyErr error
	replyErr   error

	replies []sentReply
	docs    []sentDoc
}

type sentReply struct {
	to   telegram.Event
	text string
}

type sentDoc struct {
	to       telegram.Event
	filename string
	content  string
}

func newFakeTransport(me int64) *fakeTransport {
	return &fakeTransport{
		me:         me,
		authorized: true,
		history:    make(map[int64][]telegram.Message),
	}
}

func (f *fakeTransport) Me() int64 { return f.me }

func (f *fakeTransport) Authorized(ctx context.Context) bool { return f.authorized }

func (f *fakeTransport) RecentMessages(ctx context.Context, chatID int64, limit int) ([]telegram.Message, error) {
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	msgs := f.history[chatID]
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

func (f *fakeTransport) Reply(ctx context.Context, to telegram.Event, text string) error {
	if f.replyErr != nil {
		return f.replyErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, sentReply{to: to, text: text})
	return nil
}

func (f *fakeTransport) ReplyDocument(ctx context.Context, to telegram.Event, filename string, content []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs = append(f.docs, sentDoc{to: to, filename: filename, content: string(content)})
	return nil
}

// fakeFlags is an in-memory FlagStore that counts mutations
type fakeFlags struct {
	always    bool
	dont      bool
	approved  map[int64]bool
	mutations int
}

func newFakeFlags() *fakeFlags {
	return &fakeFlags{approved: make(map[int64]bool)}
}

func (f *fakeFlags) AlwaysAssist() bool { return f.always }

func (f *fakeFlags) SetAlwaysAssist(v bool) error {
	f.always = v
	f.mutations++
	return nil
}

func (f *fakeFlags) DontAssist() bool { return f.dont }

func (f *fakeFlags) SetDontAssist(v bool) error {
	f.dont = v
	f.mutations++
	return nil
}

func (f *fakeFlags) IsApproved(userID int64) bool { return f.approved[userID] }

func (f *fakeFlags) Approve(userID int64) error {
	f.approved[userID] = true
	f.mutations++
	return nil
}

func (f *fakeFlags) State() flags.Snapshot {
	ids := make([]string, 0)
	for id := range f.approved {
		ids = append(ids, strconv.FormatInt(id, 10))
	}
	sort.Strings(ids)
	return flags.Snapshot{
		AlwaysAssist:  f.always,
		DontAssist:    f.dont,
		ApprovedUsers: ids,
	}
}

// fakeGenerator returns a fixed reply and records what it saw
type fakeGenerator struct {
	out   string
	calls int
	turns []Turn
}

func (f *fakeGenerator) Generate(ctx context.Context, turns []Turn) string {
	f.calls++
	f.turns = turns
	return f.out
}

// event builds an inbound message event
func event(id, chatID, senderID int64, text string) telegram.Event {
	return telegram.Event{
		Message: telegram.Message{ID: id, ChatID: chatID, SenderID: senderID, Text: text},
	}
}
