package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/estatechat/internal/apperr"
	"github.com/estatechat/internal/logger"
	"github.com/estatechat/internal/middleware"
	"github.com/estatechat/internal/push"
)

type PushHandler struct {
	svc *push.Service
}

func NewPushHandler(svc *push.Service) *PushHandler {
	return &PushHandler{svc: svc}
}

func (h *PushHandler) PublicKey(w http.ResponseWriter, r *http.Request) {
	key := h.svc.PublicKey()
	if key == "" {
		writeError(w, apperr.NotFound("push disabled"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"public_key": key})
}

func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	defer logger.DeferLogDuration("handler.Push.Subscribe", time.Now())()
	if h.svc == nil {
		writeError(w, apperr.NotFound("push disabled"))
		return
	}
	userID := middleware.GetUserID(r.Context())

	var sub push.Subscription
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil || sub.Endpoint == "" {
		writeError(w, apperr.Validation("invalid subscription"))
		return
	}
	if err := h.svc.Subscribe(r.Context(), userID, sub); err != nil {
		writeError(w, apperr.Internal(err))
		return
	}
	writeJSON(w, http.StatusCreated, map[string]bool{"ok": true})
}

func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	defer logger.DeferLogDuration("handler.Push.Unsubscribe", time.Now())()
	if h.svc == nil {
		writeError(w, apperr.NotFound("push disabled"))
		return
	}
	userID := middleware.GetUserID(r.Context())

	var req struct {
		Endpoint string `json:"endpoint"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Endpoint == "" {
		writeError(w, apperr.Validation("endpoint required"))
		return
	}
	if err := h.svc.Unsubscribe(r.Context(), userID, req.Endpoint); err != nil {
		writeError(w, apperr.Internal(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
