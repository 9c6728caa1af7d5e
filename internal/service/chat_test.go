package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/estatechat/internal/apperr"
	"github.com/estatechat/internal/model"
	"github.com/estatechat/internal/repository"
)

type fakeConvStore struct {
	mu    sync.Mutex
	byKey map[string]*model.Conversation
	byID  map[string]*model.Conversation
}

func newFakeConvStore() *fakeConvStore {
	return &fakeConvStore{
		byKey: make(map[string]*model.Conversation),
		byID:  make(map[string]*model.Conversation),
	}
}

func (f *fakeConvStore) GetOrCreate(ctx context.Context, c *model.Conversation) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.byKey[c.ParticipantKey]; ok {
		*c = *existing
		return false, nil
	}
	stored := *c
	f.byKey[c.ParticipantKey] = &stored
	f.byID[c.ID] = &stored
	return true, nil
}

func (f *fakeConvStore) GetByID(ctx context.Context, id string) (*model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := *c
	return &out, nil
}

func (f *fakeConvStore) ListForUser(ctx context.Context, userID string) ([]model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Conversation
	for _, c := range f.byID {
		if c.HasParticipant(userID) {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeConvStore) IDsForUser(ctx context.Context, userID string) ([]string, error) {
	convs, _ := f.ListForUser(ctx, userID)
	ids := make([]string, 0, len(convs))
	for i := range convs {
		ids = append(ids, convs[i].ID)
	}
	return ids, nil
}

func (f *fakeConvStore) Touch(ctx context.Context, id, preview string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	c.LastMessage = preview
	c.LastMessageAt = at
	return nil
}

type fakeMsgStore struct {
	mu     sync.Mutex
	byConv map[string][]model.Message
	seq    int64
}

func newFakeMsgStore() *fakeMsgStore {
	return &fakeMsgStore{byConv: make(map[string][]model.Message)}
}

func (f *fakeMsgStore) Create(ctx context.Context, m *model.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	m.Seq = f.seq
	f.byConv[m.ConversationID] = append(f.byConv[m.ConversationID], *m)
	return nil
}

// Page mirrors the store contract: newest first, limit/offset.
func (f *fakeMsgStore) Page(ctx context.Context, conversationID string, limit, offset int) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := f.byConv[conversationID]
	var out []model.Message
	for i := len(all) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (f *fakeMsgStore) MarkRead(ctx context.Context, conversationID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.byConv[conversationID]
	for i := range msgs {
		if msgs[i].SenderID == userID {
			continue
		}
		already := false
		for _, r := range msgs[i].ReadBy {
			if r == userID {
				already = true
				break
			}
		}
		if !already {
			msgs[i].ReadBy = append(msgs[i].ReadBy, userID)
		}
	}
	return nil
}

type fakeDirectory struct {
	users map[string]model.User
}

func (f *fakeDirectory) GetByIDs(ctx context.Context, ids []string) ([]model.User, error) {
	var out []model.User
	for _, id := range ids {
		if u, ok := f.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

type fakeChannel struct {
	mu       sync.Mutex
	messages []model.Message
	created  []model.Conversation
}

func (f *fakeChannel) MessageCreated(ctx context.Context, m *model.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, *m)
}

func (f *fakeChannel) ConversationCreated(ctx context.Context, c *model.Conversation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, *c)
}

func newTestService(userIDs ...string) (*ChatService, *fakeConvStore, *fakeMsgStore, *fakeChannel) {
	dir := &fakeDirectory{users: make(map[string]model.User)}
	for _, id := range userIDs {
		dir.users[id] = model.User{ID: id, Name: "user " + id, AvatarURL: "https://cdn/" + id + ".png"}
	}
	convs := newFakeConvStore()
	msgs := newFakeMsgStore()
	ch := &fakeChannel{}
	return NewChatService(convs, msgs, dir, ch, nil), convs, msgs, ch
}

func TestOpenConversationIdempotentUnderOrder(t *testing.T) {
	svc, _, _, ch := newTestService("alice", "bob")
	ctx := context.Background()

	c1, created, err := svc.OpenConversation(ctx, "alice", []string{"bob"})
	require.NoError(t, err)
	assert.True(t, created)

	c2, created, err := svc.OpenConversation(ctx, "bob", []string{"alice"})
	require.NoError(t, err)
	assert.False(t, created)

	assert.Equal(t, c1.ID, c2.ID)
	assert.Equal(t, []string{"alice", "bob"}, c2.ParticipantIDs)
	assert.Len(t, ch.created, 1)
}

func TestOpenConversationValidation(t *testing.T) {
	svc, _, _, _ := newTestService("alice", "bob")
	ctx := context.Background()

	_, _, err := svc.OpenConversation(ctx, "alice", []string{"alice", " "})
	assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))

	_, _, err = svc.OpenConversation(ctx, "alice", nil)
	assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))

	_, _, err = svc.OpenConversation(ctx, "alice", []string{"ghost"})
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
}

func TestOpenConversationConcurrentFirstContact(t *testing.T) {
	svc, _, _, ch := newTestService("alice", "bob")
	ctx := context.Background()

	const n = 32
	ids := make([]string, n)
	createdCount := make([]bool, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			caller, other := "alice", "bob"
			if i%2 == 1 {
				caller, other = other, caller
			}
			c, created, err := svc.OpenConversation(ctx, caller, []string{other})
			if !assert.NoError(t, err) {
				return
			}
			ids[i] = c.ID
			createdCount[i] = created
		}(i)
	}
	wg.Wait()

	wins := 0
	for i := 1; i < n; i++ {
		assert.Equal(t, ids[0], ids[i])
	}
	for _, c := range createdCount {
		if c {
			wins++
		}
	}
	assert.Equal(t, 1, wins)
	assert.Len(t, ch.created, 1)
}

func TestSendMessageValidation(t *testing.T) {
	svc, convs, msgs, ch := newTestService("alice", "bob")
	ctx := context.Background()
	conv, _, err := svc.OpenConversation(ctx, "alice", []string{"bob"})
	require.NoError(t, err)

	_, err = svc.SendMessage(ctx, "alice", conv.ID, "   ", nil)
	assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))

	_, err = svc.SendMessage(ctx, "alice", conv.ID, "hi", []model.Attachment{{URL: "https://cdn/a.jpg"}})
	assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))

	// Rejected sends leave no trace: no stored message, no preview bump,
	// no broadcast.
	stored, _ := msgs.Page(ctx, conv.ID, 10, 0)
	assert.Empty(t, stored)
	got, err := convs.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.Empty(t, got.LastMessage)
	assert.Empty(t, ch.messages)
}

func TestSendMessageAuthorization(t *testing.T) {
	svc, _, _, _ := newTestService("alice", "bob", "mallory")
	ctx := context.Background()
	conv, _, err := svc.OpenConversation(ctx, "alice", []string{"bob"})
	require.NoError(t, err)

	_, err = svc.SendMessage(ctx, "mallory", conv.ID, "let me in", nil)
	assert.Equal(t, apperr.CodeForbidden, apperr.CodeOf(err))

	_, err = svc.SendMessage(ctx, "alice", "no-such-conversation", "hello", nil)
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
}

func TestSendMessagePersistsThenBroadcasts(t *testing.T) {
	svc, convs, _, ch := newTestService("alice", "bob")
	ctx := context.Background()
	conv, _, err := svc.OpenConversation(ctx, "alice", []string{"bob"})
	require.NoError(t, err)

	m, err := svc.SendMessage(ctx, "alice", conv.ID, "  offer accepted  ", nil)
	require.NoError(t, err)
	assert.Equal(t, "offer accepted", m.Body)
	assert.NotEmpty(t, m.ID)
	assert.Equal(t, int64(1), m.Seq)

	got, err := convs.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "offer accepted", got.LastMessage)
	assert.Equal(t, m.CreatedAt, got.LastMessageAt)

	require.Len(t, ch.messages, 1)
	assert.Equal(t, m.ID, ch.messages[0].ID)
}

func TestSendMessageAttachmentOnly(t *testing.T) {
	svc, convs, _, _ := newTestService("alice", "bob")
	ctx := context.Background()
	conv, _, err := svc.OpenConversation(ctx, "alice", []string{"bob"})
	require.NoError(t, err)

	m, err := svc.SendMessage(ctx, "bob", conv.ID, "", []model.Attachment{
		{URL: "https://cdn/floorplan.pdf", Type: model.AttachmentTypeDocument},
	})
	require.NoError(t, err)
	assert.Empty(t, m.Body)

	got, err := convs.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "[document]", got.LastMessage)
}

func TestHistoryPagingAscendingAndClamped(t *testing.T) {
	svc, _, _, _ := newTestService("alice", "bob")
	ctx := context.Background()
	conv, _, err := svc.OpenConversation(ctx, "alice", []string{"bob"})
	require.NoError(t, err)

	const total = 60
	for i := 0; i < total; i++ {
		_, err := svc.SendMessage(ctx, "alice", conv.ID, fmt.Sprintf("msg-%02d", i), nil)
		require.NoError(t, err)
	}

	// Oversized limit clamps to MaxPageSize; page 1 holds the newest
	// MaxPageSize messages in ascending order.
	page1, err := svc.History(ctx, "alice", conv.ID, 0, 100)
	require.NoError(t, err)
	require.Len(t, page1, MaxPageSize)
	assert.Equal(t, "msg-10", page1[0].Body)
	assert.Equal(t, "msg-59", page1[len(page1)-1].Body)
	for i := 1; i < len(page1); i++ {
		assert.Less(t, page1[i-1].Seq, page1[i].Seq)
	}

	page2, err := svc.History(ctx, "alice", conv.ID, 2, 100)
	require.NoError(t, err)
	require.Len(t, page2, total-MaxPageSize)
	assert.Equal(t, "msg-00", page2[0].Body)
	assert.Equal(t, "msg-09", page2[len(page2)-1].Body)

	// Repeating a fetch returns the same page.
	again, err := svc.History(ctx, "alice", conv.ID, 2, 100)
	require.NoError(t, err)
	assert.Equal(t, page2, again)

	_, err = svc.History(ctx, "mallory", conv.ID, 1, 10)
	assert.Equal(t, apperr.CodeForbidden, apperr.CodeOf(err))
}

func TestMarkRead(t *testing.T) {
	svc, _, msgs, _ := newTestService("alice", "bob")
	ctx := context.Background()
	conv, _, err := svc.OpenConversation(ctx, "alice", []string{"bob"})
	require.NoError(t, err)

	_, err = svc.SendMessage(ctx, "alice", conv.ID, "ping", nil)
	require.NoError(t, err)
	_, err = svc.SendMessage(ctx, "bob", conv.ID, "pong", nil)
	require.NoError(t, err)

	require.NoError(t, svc.MarkRead(ctx, "bob", conv.ID))

	stored, _ := msgs.Page(ctx, conv.ID, 10, 0)
	for _, m := range stored {
		if m.SenderID == "alice" {
			assert.Equal(t, []string{"bob"}, m.ReadBy)
		} else {
			assert.Empty(t, m.ReadBy)
		}
	}

	err = svc.MarkRead(ctx, "bob", "")
	assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))
}

func TestListConversationsCounterpartDisplay(t *testing.T) {
	svc, _, _, _ := newTestService("alice", "bob")
	ctx := context.Background()
	_, _, err := svc.OpenConversation(ctx, "alice", []string{"bob"})
	require.NoError(t, err)

	views, err := svc.ListConversations(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "user bob", views[0].Title)
	assert.Equal(t, "https://cdn/bob.png", views[0].AvatarURL)
	require.Len(t, views[0].Participants, 2)
}
