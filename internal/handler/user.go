package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/estatechat/internal/apperr"
	"github.com/estatechat/internal/logger"
	"github.com/estatechat/internal/middleware"
	"github.com/estatechat/internal/model"
	"github.com/estatechat/internal/repository"
)

type UserHandler struct {
	users *repository.UserRepository
}

func NewUserHandler(users *repository.UserRepository) *UserHandler {
	return &UserHandler{users: users}
}

func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	defer logger.DeferLogDuration("handler.User.Me", time.Now())()
	userID := middleware.GetUserID(r.Context())

	u, err := h.users.GetByID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, apperr.NotFound("user not found"))
			return
		}
		writeError(w, apperr.Internal(err))
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *UserHandler) Search(w http.ResponseWriter, r *http.Request) {
	defer logger.DeferLogDuration("handler.User.Search", time.Now())()

	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, apperr.Validation("q required"))
		return
	}
	limit := queryInt(r, "limit", 20)
	if limit < 1 || limit > 50 {
		limit = 20
	}
	users, err := h.users.Search(r.Context(), q, limit)
	if err != nil {
		writeError(w, apperr.Internal(err))
		return
	}
	out := make([]model.UserPublic, 0, len(users))
	for i := range users {
		out = append(out, users[i].ToPublic())
	}
	writeJSON(w, http.StatusOK, out)
}

type createUserRequest struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	defer logger.DeferLogDuration("handler.User.Create", time.Now())()

	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Validation("invalid request body"))
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Name == "" || req.Email == "" {
		writeError(w, apperr.Validation("name and email required"))
		return
	}
	u := &model.User{
		ID:        uuid.NewString(),
		Name:      req.Name,
		Email:     req.Email,
		AvatarURL: req.AvatarURL,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.users.Create(r.Context(), u); err != nil {
		writeError(w, apperr.Internal(err))
		return
	}
	writeJSON(w, http.StatusCreated, u)
}
