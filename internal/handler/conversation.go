package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/estatechat/internal/apperr"
	"github.com/estatechat/internal/logger"
	"github.com/estatechat/internal/middleware"
	"github.com/estatechat/internal/model"
)

// ChatService is the surface of the messaging core the HTTP layer consumes.
type ChatService interface {
	OpenConversation(ctx context.Context, userID string, participantIDs []string) (*model.Conversation, bool, error)
	ListConversations(ctx context.Context, userID string) ([]model.ConversationView, error)
	GetConversation(ctx context.Context, userID, conversationID string) (*model.ConversationView, error)
	SendMessage(ctx context.Context, senderID, conversationID, body string, attachments []model.Attachment) (*model.Message, error)
	History(ctx context.Context, userID, conversationID string, page, pageSize int) ([]model.Message, error)
	MarkRead(ctx context.Context, userID, conversationID string) error
}

type ConversationHandler struct {
	chat ChatService
}

func NewConversationHandler(chat ChatService) *ConversationHandler {
	return &ConversationHandler{chat: chat}
}

type createConversationRequest struct {
	ParticipantIDs []string `json:"participant_ids"`
}

// Create opens the conversation with the given participants, creating it if
// it does not exist yet. 201 on first creation, 200 when it already existed.
func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	defer logger.DeferLogDuration("handler.Conversation.Create", time.Now())()
	userID := middleware.GetUserID(r.Context())

	var req createConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Validation("invalid request body"))
		return
	}

	conv, created, err := h.chat.OpenConversation(r.Context(), userID, req.ParticipantIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, conv)
}

func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	defer logger.DeferLogDuration("handler.Conversation.List", time.Now())()
	userID := middleware.GetUserID(r.Context())

	views, err := h.chat.ListConversations(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	defer logger.DeferLogDuration("handler.Conversation.Get", time.Now())()
	userID := middleware.GetUserID(r.Context())
	convID := chi.URLParam(r, "conversationID")

	view, err := h.chat.GetConversation(r.Context(), userID, convID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}
