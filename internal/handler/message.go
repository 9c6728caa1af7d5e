package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/estatechat/internal/apperr"
	"github.com/estatechat/internal/logger"
	"github.com/estatechat/internal/middleware"
	"github.com/estatechat/internal/model"
	"github.com/estatechat/internal/service"
)

type MessageHandler struct {
	chat ChatService
}

func NewMessageHandler(chat ChatService) *MessageHandler {
	return &MessageHandler{chat: chat}
}

type sendMessageRequest struct {
	Body        string             `json:"body"`
	Attachments []model.Attachment `json:"attachments,omitempty"`
}

func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	defer logger.DeferLogDuration("handler.Message.Send", time.Now())()
	userID := middleware.GetUserID(r.Context())
	convID := chi.URLParam(r, "conversationID")

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Validation("invalid request body"))
		return
	}

	msg, err := h.chat.SendMessage(r.Context(), userID, convID, req.Body, req.Attachments)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// History returns one page of the conversation log, oldest first within the
// page. page starts at 1, limit is capped server-side.
func (h *MessageHandler) History(w http.ResponseWriter, r *http.Request) {
	defer logger.DeferLogDuration("handler.Message.History", time.Now())()
	userID := middleware.GetUserID(r.Context())
	convID := chi.URLParam(r, "conversationID")

	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", service.MaxPageSize)

	msgs, err := h.chat.History(r.Context(), userID, convID, page, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	defer logger.DeferLogDuration("handler.Message.MarkRead", time.Now())()
	userID := middleware.GetUserID(r.Context())
	convID := chi.URLParam(r, "conversationID")

	if err := h.chat.MarkRead(r.Context(), userID, convID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
