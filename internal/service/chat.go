// Package service holds the conversation and messaging core: conversation
// identity (canonical participant key), the append-only message log with
// pagination, and the persist-then-broadcast send path shared by the REST and
// WebSocket surfaces.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/estatechat/internal/apperr"
	"github.com/estatechat/internal/logger"
	"github.com/estatechat/internal/model"
	"github.com/estatechat/internal/repository"
	"github.com/google/uuid"
)

// MaxPageSize bounds message history pages regardless of what the caller asks for.
const MaxPageSize = 50

// ConversationStore is the persistence surface for conversation identity.
// GetOrCreate must be atomic per canonical key: concurrent first-contact
// callers converge on one record.
type ConversationStore interface {
	GetOrCreate(ctx context.Context, c *model.Conversation) (created bool, err error)
	GetByID(ctx context.Context, id string) (*model.Conversation, error)
	ListForUser(ctx context.Context, userID string) ([]model.Conversation, error)
	IDsForUser(ctx context.Context, userID string) ([]string, error)
	Touch(ctx context.Context, id, preview string, at time.Time) error
}

// MessageStore is the durable, ordered per-conversation message log.
type MessageStore interface {
	Create(ctx context.Context, m *model.Message) error
	Page(ctx context.Context, conversationID string, limit, offset int) ([]model.Message, error)
	MarkRead(ctx context.Context, conversationID, userID string) error
}

// UserDirectory resolves participant ids to display records.
type UserDirectory interface {
	GetByIDs(ctx context.Context, ids []string) ([]model.User, error)
}

// DeliveryChannel is the live fan-out handle, injected at process start.
// Delivery is best-effort; persistence is the durability boundary.
type DeliveryChannel interface {
	MessageCreated(ctx context.Context, m *model.Message)
	ConversationCreated(ctx context.Context, c *model.Conversation)
}

// Notifier sends out-of-band notifications to offline participants.
type Notifier interface {
	Notify(ctx context.Context, userID, title, body string, data map[string]string)
}

type ChatService struct {
	convs    ConversationStore
	msgs     MessageStore
	users    UserDirectory
	channel  DeliveryChannel
	notifier Notifier
}

// NewChatService wires the core. notifier may be nil (push disabled).
func NewChatService(convs ConversationStore, msgs MessageStore, users UserDirectory, channel DeliveryChannel, notifier Notifier) *ChatService {
	return &ChatService{convs: convs, msgs: msgs, users: users, channel: channel, notifier: notifier}
}

// OpenConversation resolves or lazily creates the conversation for the given
// participant set. The requesting user is always included. Idempotent under
// argument order and race-safe under concurrent first contact: both go
// through the canonical key and the store's atomic upsert.
func (s *ChatService) OpenConversation(ctx context.Context, userID string, participantIDs []string) (*model.Conversation, bool, error) {
	defer logger.DeferLogDuration("chat.OpenConversation", time.Now())()
	ids := make([]string, 0, len(participantIDs)+1)
	ids = append(ids, userID)
	ids = append(ids, participantIDs...)

	key, canonical, err := model.ConversationKey(ids)
	if err != nil {
		if errors.Is(err, model.ErrTooFewParticipants) {
			return nil, false, apperr.Validation("at least two distinct participants required")
		}
		return nil, false, fmt.Errorf("chat.OpenConversation key: %w", err)
	}

	known, err := s.users.GetByIDs(ctx, canonical)
	if err != nil {
		return nil, false, fmt.Errorf("chat.OpenConversation lookup participants: %w", err)
	}
	if len(known) != len(canonical) {
		return nil, false, apperr.NotFound("participant not found")
	}

	now := time.Now().UTC()
	c := &model.Conversation{
		ID:             uuid.New().String(),
		ParticipantKey: key,
		ParticipantIDs: canonical,
		CreatedBy:      userID,
		CreatedAt:      now,
		LastMessageAt:  now,
	}
	created, err := s.convs.GetOrCreate(ctx, c)
	if err != nil {
		return nil, false, fmt.Errorf("chat.OpenConversation: %w", err)
	}
	if created {
		s.channel.ConversationCreated(ctx, c)
	}
	return c, created, nil
}

// ListConversations returns the user's conversations, most recent activity
// first, each annotated with a display derived from the other participant(s).
func (s *ChatService) ListConversations(ctx context.Context, userID string) ([]model.ConversationView, error) {
	defer logger.DeferLogDuration("chat.ListConversations", time.Now())()
	convs, err := s.convs.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("chat.ListConversations: %w", err)
	}

	idSet := make(map[string]struct{})
	for i := range convs {
		for _, id := range convs[i].ParticipantIDs {
			idSet[id] = struct{}{}
		}
	}
	ids := make([]string, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}
	users, err := s.users.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("chat.ListConversations users: %w", err)
	}
	byID := make(map[string]model.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}

	views := make([]model.ConversationView, 0, len(convs))
	for i := range convs {
		views = append(views, s.buildView(&convs[i], userID, byID))
	}
	return views, nil
}

// GetConversation returns a single conversation view. Participants only.
func (s *ChatService) GetConversation(ctx context.Context, userID, conversationID string) (*model.ConversationView, error) {
	defer logger.DeferLogDuration("chat.GetConversation", time.Now())()
	conv, err := s.getParticipantConversation(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	users, err := s.users.GetByIDs(ctx, conv.ParticipantIDs)
	if err != nil {
		return nil, fmt.Errorf("chat.GetConversation users: %w", err)
	}
	byID := make(map[string]model.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}
	view := s.buildView(conv, userID, byID)
	return &view, nil
}

// ConversationIDsForUser lists the conversation ids the user participates in;
// the delivery channel uses it to join rooms at connect time.
func (s *ChatService) ConversationIDsForUser(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.convs.IDsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("chat.ConversationIDsForUser: %w", err)
	}
	return ids, nil
}

// CanAccess reports whether the user may attach to the conversation's room.
func (s *ChatService) CanAccess(ctx context.Context, userID, conversationID string) error {
	_, err := s.getParticipantConversation(ctx, userID, conversationID)
	return err
}

// SendMessage appends a message to the conversation log and then broadcasts
// it. Persist comes first: a message that made it into the store is visible
// on the next history fetch even when broadcast delivery is lost. Touch is
// applied only after a successful append.
func (s *ChatService) SendMessage(ctx context.Context, senderID, conversationID, body string, attachments []model.Attachment) (*model.Message, error) {
	defer logger.DeferLogDuration("chat.SendMessage", time.Now())()
	conv, err := s.convs.GetByID(ctx, conversationID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("conversation not found")
	}
	if err != nil {
		return nil, fmt.Errorf("chat.SendMessage get conversation: %w", err)
	}
	if !conv.HasParticipant(senderID) {
		return nil, apperr.Forbidden("sender is not a participant")
	}

	body = strings.TrimSpace(body)
	if body == "" && len(attachments) == 0 {
		return nil, apperr.Validation("message requires text or attachments")
	}
	for _, a := range attachments {
		if strings.TrimSpace(a.URL) == "" || strings.TrimSpace(a.Type) == "" {
			return nil, apperr.Validation("attachment requires url and type")
		}
	}
	if attachments == nil {
		attachments = []model.Attachment{}
	}

	m := &model.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Body:           body,
		Attachments:    attachments,
		ReadBy:         []string{},
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.msgs.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("chat.SendMessage append: %w", err)
	}

	preview := m.Preview()
	if err := s.convs.Touch(ctx, conversationID, preview, m.CreatedAt); err != nil {
		// The message is durable; a stale preview is recoverable.
		logger.Errorf("chat touch conversation=%s: %v", conversationID, err)
	}

	s.channel.MessageCreated(ctx, m)
	s.notifyOthers(conv, senderID, preview, m.ID)
	return m, nil
}

// History returns one ascending-chronological page of the conversation's
// messages. page is clamped to ≥1 and pageSize to 1..MaxPageSize.
func (s *ChatService) History(ctx context.Context, userID, conversationID string, page, pageSize int) ([]model.Message, error) {
	defer logger.DeferLogDuration("chat.History", time.Now())()
	if _, err := s.getParticipantConversation(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	msgs, err := s.msgs.Page(ctx, conversationID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, fmt.Errorf("chat.History: %w", err)
	}
	// Store order is newest-first; callers always get oldest-first.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// MarkRead appends the user to the reader set of the conversation's messages.
func (s *ChatService) MarkRead(ctx context.Context, userID, conversationID string) error {
	defer logger.DeferLogDuration("chat.MarkRead", time.Now())()
	if _, err := s.getParticipantConversation(ctx, userID, conversationID); err != nil {
		return err
	}
	if err := s.msgs.MarkRead(ctx, conversationID, userID); err != nil {
		return fmt.Errorf("chat.MarkRead: %w", err)
	}
	return nil
}

func (s *ChatService) getParticipantConversation(ctx context.Context, userID, conversationID string) (*model.Conversation, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, apperr.Validation("conversation id required")
	}
	conv, err := s.convs.GetByID(ctx, conversationID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("conversation not found")
	}
	if err != nil {
		return nil, fmt.Errorf("chat get conversation: %w", err)
	}
	if !conv.HasParticipant(userID) {
		return nil, apperr.Forbidden("not a participant")
	}
	return conv, nil
}

func (s *ChatService) buildView(c *model.Conversation, userID string, byID map[string]model.User) model.ConversationView {
	others := c.Others(userID)
	names := make([]string, 0, len(others))
	avatar := ""
	for _, id := range others {
		if u, ok := byID[id]; ok {
			names = append(names, u.Name)
			if avatar == "" {
				avatar = u.AvatarURL
			}
		} else {
			names = append(names, id)
		}
	}
	participants := make([]model.UserPublic, 0, len(c.ParticipantIDs))
	for _, id := range c.ParticipantIDs {
		if u, ok := byID[id]; ok {
			participants = append(participants, u.ToPublic())
		}
	}
	return model.ConversationView{
		Conversation: *c,
		Title:        strings.Join(names, ", "),
		AvatarURL:    avatar,
		Participants: participants,
	}
}

func (s *ChatService) notifyOthers(conv *model.Conversation, senderID, preview, messageID string) {
	if s.notifier == nil {
		return
	}
	senderName := "New message"
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	if users, err := s.users.GetByIDs(ctx, []string{senderID}); err == nil && len(users) == 1 {
		senderName = users[0].Name
	}
	cancel()
	data := map[string]string{"conversation_id": conv.ID, "message_id": messageID}
	for _, uid := range conv.Others(senderID) {
		uid := uid
		go s.notifier.Notify(context.Background(), uid, senderName, preview, data)
	}
}
