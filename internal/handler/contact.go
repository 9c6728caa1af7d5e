package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/estatechat/internal/apperr"
	"github.com/estatechat/internal/logger"
	"github.com/estatechat/internal/middleware"
	"github.com/estatechat/internal/model"
	"github.com/estatechat/internal/repository"
)

// FriendStore is the relationship graph surface the contact endpoints consume.
type FriendStore interface {
	Request(ctx context.Context, userID, friendID string) error
	Accept(ctx context.Context, userID, friendID string) error
	AcceptedIDs(ctx context.Context, userID string) ([]string, error)
}

// UserStore resolves user ids for contact display and existence checks.
type UserStore interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByIDs(ctx context.Context, ids []string) ([]model.User, error)
}

// ContactHandler serves the relationship-gated contact list: who the current
// user may open a conversation with.
type ContactHandler struct {
	friends FriendStore
	users   UserStore
}

func NewContactHandler(friends FriendStore, users UserStore) *ContactHandler {
	return &ContactHandler{friends: friends, users: users}
}

func (h *ContactHandler) List(w http.ResponseWriter, r *http.Request) {
	defer logger.DeferLogDuration("handler.Contact.List", time.Now())()
	userID := middleware.GetUserID(r.Context())

	ids, err := h.friends.AcceptedIDs(r.Context(), userID)
	if err != nil {
		writeError(w, apperr.Internal(err))
		return
	}
	users, err := h.users.GetByIDs(r.Context(), ids)
	if err != nil {
		writeError(w, apperr.Internal(err))
		return
	}
	contacts := make([]model.UserPublic, 0, len(users))
	for i := range users {
		contacts = append(contacts, users[i].ToPublic())
	}
	writeJSON(w, http.StatusOK, contacts)
}

type contactRequest struct {
	UserID string `json:"user_id"`
}

func (h *ContactHandler) Request(w http.ResponseWriter, r *http.Request) {
	defer logger.DeferLogDuration("handler.Contact.Request", time.Now())()
	userID := middleware.GetUserID(r.Context())

	var req contactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Validation("invalid request body"))
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" || req.UserID == userID {
		writeError(w, apperr.Validation("user_id must name another user"))
		return
	}
	if _, err := h.users.GetByID(r.Context(), req.UserID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, apperr.NotFound("user not found"))
			return
		}
		writeError(w, apperr.Internal(err))
		return
	}
	if err := h.friends.Request(r.Context(), userID, req.UserID); err != nil {
		writeError(w, apperr.Internal(err))
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": model.FriendStatusPending})
}

func (h *ContactHandler) Accept(w http.ResponseWriter, r *http.Request) {
	defer logger.DeferLogDuration("handler.Contact.Accept", time.Now())()
	userID := middleware.GetUserID(r.Context())

	var req contactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Validation("invalid request body"))
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		writeError(w, apperr.Validation("user_id required"))
		return
	}
	// Only the recipient may accept: the pending row was written by
	// Request(req.UserID -> userID).
	if err := h.friends.Accept(r.Context(), userID, req.UserID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, apperr.NotFound("no pending request"))
			return
		}
		writeError(w, apperr.Internal(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": model.FriendStatusAccepted})
}
