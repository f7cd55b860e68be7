// Package telegram provides the chat transport over the Telegram Bot API
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gliderlab/awaybot/storage"
)

// Message is a single chat message as the policy core sees it
type Message struct {
	ID       int64
	ChatID   int64
	SenderID int64
	Text     string
}

// Event is one inbound or outbound message delivered by the transport.
// Outgoing means authored by the account owner.
type Event struct {
	Message
	Outgoing bool
	ReplyTo  *Message
}

// Client implements the transport over the Bot API with long polling.
// The Bot API exposes no history call, so every observed message is
// recorded into the message log and history is served from there.
type Client struct {
	token   string
	baseURL string
	client  *http.Client
	ownerID int64
	store   *storage.Storage
	handler func(Event)

	// mu guards running/stopped. stopCh is set once in NewClient and
	// closed at most once; the poll loop reads the field unguarded.
	mu      sync.Mutex
	running bool
	stopped bool
	stopCh  chan struct{}

	// Skip recording messages matching this predicate (secret trigger)
	skipRecord func(text string) bool

	offset       int
	muOffset     sync.Mutex
	pollInterval time.Duration

	// Worker pool for bounded concurrency
	evCh      chan Event
	workerCnt int
	wg        sync.WaitGroup
}

// NewClient creates a transport client. ownerID is the account owner's
// user ID; messages from that ID are delivered as outgoing events.
func NewClient(token string, ownerID int64, store *storage.Storage) *Client {
	return &Client{
		token:        token,
		baseURL:      fmt.Sprintf("https://api.telegram.org/bot%s", token),
		client:       &http.Client{Timeout: 35 * time.Second},
		ownerID:      ownerID,
		store:        store,
		stopCh:       make(chan struct{}),
		pollInterval: 1 * time.Second,
		evCh:         make(chan Event, 100), // Bounded queue
		workerCnt:    8,                     // Max concurrent workers
	}
}

// OnEvent registers the event handler. Must be called before Start.
func (c *Client) OnEvent(fn func(Event)) { c.handler = fn }

// SetRecordFilter excludes matching texts from the message log
func (c *Client) SetRecordFilter(skip func(text string) bool) { c.skipRecord = skip }

// Me returns the account owner's user ID
func (c *Client) Me() int64 { return c.ownerID }

func (c *Client) Start() error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	if c.stopped {
		c.mu.Unlock()
		return fmt.Errorf("transport already stopped")
	}
	if c.handler == nil {
		c.mu.Unlock()
		return fmt.Errorf("no event handler registered")
	}
	c.running = true
	c.mu.Unlock()

	log.Printf("[START] Starting Telegram transport (owner: %d)...", c.ownerID)

	// Delete webhook first to enable getUpdates
	c.deleteWebhook()

	go c.startLongPolling()
	return nil
}

// Stop signals the poll loop to exit and drain its workers. The client
// is single-use: build a new one to start again.
func (c *Client) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	c.running = false
	c.mu.Unlock()

	close(c.stopCh)
	log.Printf("[Telegram] transport stopped")
	return nil
}

// Authorized reports whether the account session is valid. Errors count
// as unauthorized: the account is treated as offline and assisted.
func (c *Client) Authorized(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/getMe", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		log.Printf("[Telegram] action=getMe error=%v", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return false
	}
	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false
	}
	return result.OK
}

// RecentMessages returns up to limit messages for a chat, newest first
func (c *Client) RecentMessages(ctx context.Context, chatID int64, limit int) ([]Message, error) {
	rows, err := c.store.Recent(chatID, limit)
	if err != nil {
		return nil, err
	}
	msgs := make([]Message, 0, len(rows))
	for _, r := range rows {
		msgs = append(msgs, Message{
			ID:       r.ID,
			ChatID:   r.ChatID,
			SenderID: r.SenderID,
			Text:     r.Text,
		})
	}
	return msgs, nil
}

// SendMessage sends plain text to a chat
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	return c.send(ctx, chatID, text, 0)
}

// Reply sends text as a reply to the triggering message
func (c *Client) Reply(ctx context.Context, to Event, text string) error {
	return c.send(ctx, to.ChatID, text, to.ID)
}

func (c *Client) send(ctx context.Context, chatID int64, text string, replyTo int64) error {
	// Telegram caps message text at 4096 characters. Cut on a rune
	// boundary so a multi-byte character is never split.
	if len(text) > 4096 && utf8.RuneCountInString(text) > 4096 {
		text = string([]rune(text)[:4096])
	}

	apiReq := map[string]interface{}{
		"chat_id": chatID,
		"text":    text,
	}
	if replyTo != 0 {
		apiReq["reply_to_message_id"] = replyTo
	}

	payload, _ := json.Marshal(apiReq)
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/sendMessage", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var sendResp struct {
		OK          bool   `json:"ok"`
		Description string `json:"description,omitempty"`
	}
	json.NewDecoder(resp.Body).Decode(&sendResp)
	if !sendResp.OK {
		return fmt.Errorf("sendMessage failed: %s", sendResp.Description)
	}

	c.record(chatID, c.ownerID, text)
	return nil
}

// ReplyDocument sends content as a file attachment replying to the
// triggering message. The attachment is built in memory; nothing is
// written to disk.
func (c *Client) ReplyDocument(ctx context.Context, to Event, filename string, content []byte) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	w.WriteField("chat_id", fmt.Sprintf("%d", to.ChatID))
	w.WriteField("reply_to_message_id", fmt.Sprintf("%d", to.ID))
	part, err := w.CreateFormFile("document", filename)
	if err != nil {
		return err
	}
	if _, err := part.Write(content); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/sendDocument", &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var sendResp struct {
		OK          bool   `json:"ok"`
		Description string `json:"description,omitempty"`
	}
	json.NewDecoder(resp.Body).Decode(&sendResp)
	if !sendResp.OK {
		return fmt.Errorf("sendDocument failed: %s", sendResp.Description)
	}
	return nil
}

func (c *Client) record(chatID, senderID int64, text string) {
	if c.store == nil || text == "" {
		return
	}
	if c.skipRecord != nil && c.skipRecord(text) {
		return
	}
	if err := c.store.AddMessage(chatID, senderID, text); err != nil {
		log.Printf("[Telegram] action=record chat_id=%d error=%v", chatID, err)
	}
}

// Telegram wire types

type telegramUpdate struct {
	UpdateID int             `json:"update_id"`
	Message  telegramMessage `json:"message"`
}

type telegramMessage struct {
	MessageID int64            `json:"message_id"`
	From      telegramUser     `json:"from"`
	Chat      telegramChat     `json:"chat"`
	Date      int              `json:"date"`
	Text      string           `json:"text"`
	ReplyTo   *telegramMessage `json:"reply_to_message,omitempty"`
}

type telegramUser struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	Username  string `json:"username"`
}

type telegramChat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// Long Polling implementation

// deleteWebhook removes any existing webhook to enable getUpdates
func (c *Client) deleteWebhook() {
	resp, err := c.client.Post(c.baseURL+"/deleteWebhook", "application/json", nil)
	if err != nil {
		log.Printf("[Telegram] action=deleteWebhook error=%v", err)
		return
	}
	defer resp.Body.Close()

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	json.NewDecoder(resp.Body).Decode(&result)

	if result.OK {
		log.Printf("[Telegram] action=deleteWebhook status=success")
	} else {
		log.Printf("[Telegram] action=deleteWebhook status=failed reason=%s", result.Description)
	}
}

// startLongPolling starts the Long Polling loop with worker pool
func (c *Client) startLongPolling() {
	log.Printf("[Telegram] Starting Long Polling loop with %d workers...", c.workerCnt)

	c.wg.Add(c.workerCnt)
	for i := 0; i < c.workerCnt; i++ {
		go c.eventWorker()
	}

	for {
		select {
		case <-c.stopCh:
			log.Printf("[Telegram] Long Polling stopping, waiting for workers...")
			close(c.evCh)
			c.wg.Wait()
			log.Printf("[OK] All workers stopped")
			return
		default:
			c.pollUpdates()
			time.Sleep(c.pollInterval)
		}
	}
}

// eventWorker processes events from the bounded queue
func (c *Client) eventWorker() {
	defer c.wg.Done()
	for ev := range c.evCh {
		c.handler(ev)
	}
}

// pollUpdates fetches new updates from Telegram
func (c *Client) pollUpdates() {
	c.muOffset.Lock()
	offset := c.offset
	c.muOffset.Unlock()

	url := fmt.Sprintf("%s/getUpdates?timeout=30&offset=%d", c.baseURL, offset)
	resp, err := c.client.Get(url)
	if err != nil {
		log.Printf("[Telegram] action=pollUpdates error=%v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		log.Printf("[Telegram] action=pollUpdates http_status=%d", resp.StatusCode)
		return
	}

	var result struct {
		OK     bool             `json:"ok"`
		Result []telegramUpdate `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		log.Printf("[Telegram] action=pollUpdates error=decode_failed details=%v", err)
		return
	}

	if !result.OK || len(result.Result) == 0 {
		return
	}

	for _, update := range result.Result {
		c.muOffset.Lock()
		if update.UpdateID >= c.offset {
			c.offset = update.UpdateID + 1
		}
		c.muOffset.Unlock()

		text := strings.TrimSpace(update.Message.Text)
		if text == "" {
			continue
		}

		ev := c.toEvent(update.Message)
		c.record(ev.ChatID, ev.SenderID, ev.Text)

		select {
		case c.evCh <- ev:
			// Sent to worker pool
		default:
			// Queue full - log and drop (backpressure)
			log.Printf("[Telegram] action=pollUpdates status=dropped update_id=%d reason=queue_full", update.UpdateID)
		}
	}
}

func (c *Client) toEvent(msg telegramMessage) Event {
	ev := Event{
		Message: Message{
			ID:       msg.MessageID,
			ChatID:   msg.Chat.ID,
			SenderID: msg.From.ID,
			Text:     msg.Text,
		},
		Outgoing: msg.From.ID == c.ownerID,
	}
	if msg.ReplyTo != nil {
		ev.ReplyTo = &Message{
			ID:       msg.ReplyTo.MessageID,
			ChatID:   msg.ReplyTo.Chat.ID,
			SenderID: msg.ReplyTo.From.ID,
			Text:     msg.ReplyTo.Text,
		}
	}
	return ev
}
