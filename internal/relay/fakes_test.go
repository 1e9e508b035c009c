package relay

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/icore-platform/icore/internal/model"
)

// --- fakeIdentity ---

type fakeIdentity struct {
	mu       sync.Mutex
	accounts map[string]*model.Account
	failWith error
}

func newFakeIdentity(accounts ...*model.Account) *fakeIdentity {
	f := &fakeIdentity{accounts: make(map[string]*model.Account)}
	for _, a := range accounts {
		f.accounts[a.ID] = a
	}
	return f
}

func (f *fakeIdentity) FindAccount(_ context.Context, accountID string) (*model.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	a, ok := f.accounts[accountID]
	if !ok {
		return nil, model.NewAccountNotFoundError(accountID)
	}
	return a, nil
}

func (f *fakeIdentity) ResolveByExternalChatID(_ context.Context, chatID int64) (*model.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	for _, a := range f.accounts {
		if a.ExternalChatID != nil && *a.ExternalChatID == chatID {
			return a, nil
		}
	}
	return nil, model.NewAccountNotFoundError(fmt.Sprint(chatID))
}

func (f *fakeIdentity) ResolveByExternalUsername(_ context.Context, username string) (*model.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := strings.ToLower(strings.TrimPrefix(username, "@"))
	for _, a := range f.accounts {
		if a.ExternalUsername != "" && strings.ToLower(a.ExternalUsername) == name {
			return a, nil
		}
	}
	return nil, model.NewAccountNotFoundError(name)
}

func (f *fakeIdentity) RefreshUsername(_ context.Context, account *model.Account, username string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if username != "" {
		account.ExternalUsername = username
	}
	return nil
}

// bind はリンク成功時の紐付けを模倣する。
func (f *fakeIdentity) bind(accountID string, chatID int64, username string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.accounts[accountID]
	a.ExternalChatID = &chatID
	a.ExternalUsername = username
}

// --- fakeLinks ---

type fakeLinks struct {
	consumeFn func(ctx context.Context, token string, chatID int64, username string) (*model.Account, error)
}

func (f *fakeLinks) Consume(ctx context.Context, token string, chatID int64, username string) (*model.Account, error) {
	return f.consumeFn(ctx, token, chatID, username)
}

// --- fakeConversations ---

type fakeConversations struct {
	mu     sync.Mutex
	active map[string]*model.Conversation
	n      int
}

func newFakeConversations() *fakeConversations {
	return &fakeConversations{active: make(map[string]*model.Conversation)}
}

func (f *fakeConversations) ResolveActive(_ context.Context, accountID string) (*model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.active[accountID]; ok {
		return c, nil
	}
	f.n++
	c := &model.Conversation{ID: fmt.Sprintf("conv-%d", f.n), AccountID: accountID, Active: true}
	f.active[accountID] = c
	return c, nil
}

func (f *fakeConversations) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.active)
}

// --- fakeMessages ---

type fakeMessages struct {
	mu       sync.Mutex
	messages []*model.Message
	failWith error
}

func (f *fakeMessages) Append(_ context.Context, msg model.NewMessage) (*model.Message, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, false, f.failWith
	}
	if msg.ExternalMessageID != "" {
		for _, m := range f.messages {
			if m.ExternalMessageID != nil && *m.ExternalMessageID == msg.ExternalMessageID {
				return m, false, nil
			}
		}
	}
	stored := &model.Message{
		ID:             fmt.Sprintf("msg-%d", len(f.messages)+1),
		Seq:            int64(len(f.messages) + 1),
		ConversationID: msg.ConversationID,
		AccountID:      msg.AccountID,
		Direction:      msg.Direction,
		AuthorRole:     msg.AuthorRole,
		Body:           msg.Body,
		CreatedAt:      time.Now(),
	}
	if msg.ExternalMessageID != "" {
		ext := msg.ExternalMessageID
		stored.ExternalMessageID = &ext
	}
	f.messages = append(f.messages, stored)
	return stored, true, nil
}

func (f *fakeMessages) all() []*model.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*model.Message(nil), f.messages...)
}

// --- fakePending ---

type fakePending struct {
	mu       sync.Mutex
	messages []*model.PendingExternalMessage
}

func (f *fakePending) Enqueue(_ context.Context, msg *model.PendingExternalMessage) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		if m.ExternalMessageID == msg.ExternalMessageID {
			return false, nil
		}
	}
	f.messages = append(f.messages, msg)
	return true, nil
}

func (f *fakePending) ListUnprocessedByChatID(_ context.Context, chatID int64) ([]*model.PendingExternalMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.PendingExternalMessage
	for _, m := range f.messages {
		if m.ExternalChatID == chatID && m.ProcessedAt == nil {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	return out, nil
}

func (f *fakePending) MarkProcessed(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		if m.ID == id {
			now := time.Now()
			m.ProcessedAt = &now
			return nil
		}
	}
	return errors.New("not found")
}

func (f *fakePending) all() []*model.PendingExternalMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*model.PendingExternalMessage(nil), f.messages...)
}

// --- fakeDispatcher ---

type sentText struct {
	ChatID int64
	Text   string
}

type fakeDispatcher struct {
	mu       sync.Mutex
	sent     []sentText
	failWith error
	nextID   int
}

func (f *fakeDispatcher) Send(_ context.Context, chatID int64, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return "", f.failWith
	}
	f.nextID++
	f.sent = append(f.sent, sentText{ChatID: chatID, Text: text})
	return fmt.Sprintf("%d:%d", chatID, 1000+f.nextID), nil
}

func (f *fakeDispatcher) sentTexts() []sentText {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentText(nil), f.sent...)
}

// --- fakeMetrics ---

type fakeMetrics struct {
	mu       sync.Mutex
	updates  []string
	dropped  []string
	dispatch []string
	links    []string
	enqueued int
}

func (f *fakeMetrics) RecordWebhookUpdate(kind string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, kind)
}

func (f *fakeMetrics) RecordWebhookDropped(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropped = append(f.dropped, reason)
}

func (f *fakeMetrics) RecordDispatch(result string, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dispatch = append(f.dispatch, result)
}

func (f *fakeMetrics) RecordLinkAttempt(result string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.links = append(f.links, result)
}

func (f *fakeMetrics) RecordPendingEnqueued() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued++
}

func (f *fakeMetrics) RecordCleanupDeleted(string, int64) {}
