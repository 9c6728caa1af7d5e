package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/estatechat/internal/apperr"
	"github.com/estatechat/internal/logger"
)

type errorResponse struct {
	Code  apperr.Code `json:"code"`
	Error string      `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("writeJSON encode: %v", err)
	}
}

// writeError maps a service error onto an HTTP status and a stable error code.
// Internal errors are logged server-side and never leak their cause.
func writeError(w http.ResponseWriter, err error) {
	code := apperr.CodeOf(err)
	if code == apperr.CodeInternal {
		logger.Errorf("request failed: %v", err)
	}
	writeJSON(w, apperr.HTTPStatus(code), errorResponse{Code: code, Error: apperr.MessageOf(err)})
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}
