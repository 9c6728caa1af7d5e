package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/estatechat/internal/apperr"
	"github.com/estatechat/internal/middleware"
	"github.com/estatechat/internal/model"
)

type fakeChat struct {
	conv    *model.Conversation
	created bool
	err     error

	history []model.Message
	sent    *model.Message

	gotParticipants []string
	gotPage         int
	gotLimit        int
	gotBody         string
	readConv        string
}

func (f *fakeChat) OpenConversation(ctx context.Context, userID string, participantIDs []string) (*model.Conversation, bool, error) {
	f.gotParticipants = participantIDs
	return f.conv, f.created, f.err
}

func (f *fakeChat) ListConversations(ctx context.Context, userID string) ([]model.ConversationView, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []model.ConversationView{}, nil
}

func (f *fakeChat) GetConversation(ctx context.Context, userID, conversationID string) (*model.ConversationView, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &model.ConversationView{Conversation: *f.conv}, nil
}

func (f *fakeChat) SendMessage(ctx context.Context, senderID, conversationID, body string, attachments []model.Attachment) (*model.Message, error) {
	f.gotBody = body
	if f.err != nil {
		return nil, f.err
	}
	return f.sent, nil
}

func (f *fakeChat) History(ctx context.Context, userID, conversationID string, page, pageSize int) ([]model.Message, error) {
	f.gotPage, f.gotLimit = page, pageSize
	if f.err != nil {
		return nil, f.err
	}
	return f.history, nil
}

func (f *fakeChat) MarkRead(ctx context.Context, userID, conversationID string) error {
	f.readConv = conversationID
	return f.err
}

func newTestRouter(chat ChatService) *chi.Mux {
	convH := NewConversationHandler(chat)
	msgH := NewMessageHandler(chat)
	r := chi.NewRouter()
	// Identity is injected directly; the JWT middleware has its own tests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(middleware.WithUserID(req.Context(), "alice")))
		})
	})
	r.Post("/api/conversations", convH.Create)
	r.Get("/api/conversations", convH.List)
	r.Get("/api/conversations/{conversationID}", convH.Get)
	r.Get("/api/conversations/{conversationID}/messages", msgH.History)
	r.Post("/api/conversations/{conversationID}/messages", msgH.Send)
	r.Post("/api/conversations/{conversationID}/read", msgH.MarkRead)
	return r
}

func TestCreateConversationStatusReflectsCreation(t *testing.T) {
	conv := &model.Conversation{ID: "c1", ParticipantIDs: []string{"alice", "bob"}, CreatedAt: time.Now()}

	fresh := &fakeChat{conv: conv, created: true}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/conversations", strings.NewReader(`{"participant_ids":["bob"]}`))
	newTestRouter(fresh).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, []string{"bob"}, fresh.gotParticipants)

	existing := &fakeChat{conv: conv, created: false}
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/conversations", strings.NewReader(`{"participant_ids":["bob"]}`))
	newTestRouter(existing).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateConversationBadBody(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/conversations", strings.NewReader("{not json"))
	newTestRouter(&fakeChat{}).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, apperr.CodeValidation, body.Code)
}

func TestErrorCodeMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   apperr.Code
	}{
		{apperr.Validation("bad input"), http.StatusBadRequest, apperr.CodeValidation},
		{apperr.Forbidden("not a participant"), http.StatusForbidden, apperr.CodeForbidden},
		{apperr.NotFound("conversation not found"), http.StatusNotFound, apperr.CodeNotFound},
		{apperr.Internal(assert.AnError), http.StatusInternalServerError, apperr.CodeInternal},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/conversations/c1", nil)
		newTestRouter(&fakeChat{err: tc.err}).ServeHTTP(rec, req)

		assert.Equal(t, tc.status, rec.Code, "err=%v", tc.err)
		var body errorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, tc.code, body.Code)
	}
}

func TestHistoryPassesPagingParams(t *testing.T) {
	chat := &fakeChat{history: []model.Message{{ID: "m1"}, {ID: "m2"}}}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/conversations/c1/messages?page=3&limit=20", nil)
	newTestRouter(chat).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, chat.gotPage)
	assert.Equal(t, 20, chat.gotLimit)

	var msgs []model.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msgs))
	assert.Len(t, msgs, 2)
}

func TestSendMessage(t *testing.T) {
	chat := &fakeChat{sent: &model.Message{ID: "m1", Body: "hello"}}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/conversations/c1/messages", strings.NewReader(`{"body":"hello"}`))
	newTestRouter(chat).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "hello", chat.gotBody)
}

func TestMarkRead(t *testing.T) {
	chat := &fakeChat{}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/conversations/c1/read", nil)
	newTestRouter(chat).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "c1", chat.readConv)
}
