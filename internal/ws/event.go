package ws

import (
	"encoding/json"

	"github.com/estatechat/internal/apperr"
	"github.com/estatechat/internal/model"
)

type EventType string

const (
	// Client → server.
	EventSend EventType = "send"
	EventJoin EventType = "join"
	EventRead EventType = "read"

	// Server → client.
	EventMessage      EventType = "message"
	EventConversation EventType = "conversation"
	EventJoined       EventType = "joined"
	EventError        EventType = "error"
)

// Room names. One room per conversation plus a personal room per user for
// notifications outside any conversation.
func ConversationRoom(conversationID string) string { return "conv:" + conversationID }
func UserRoom(userID string) string                 { return "user:" + userID }

// ClientEvent is the tagged union a client may send. It is validated at the
// boundary before dispatch.
type ClientEvent struct {
	Type           EventType          `json:"type"`
	ConversationID string             `json:"conversation_id,omitempty"`
	Body           string             `json:"body,omitempty"`
	Attachments    []model.Attachment `json:"attachments,omitempty"`
}

// ServerEvent is what the server pushes to clients.
type ServerEvent struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// ErrorPayload carries the error taxonomy to the originating session only.
type ErrorPayload struct {
	Code           apperr.Code `json:"code"`
	Message        string      `json:"message"`
	ConversationID string      `json:"conversation_id,omitempty"`
}

// JoinedPayload acknowledges an explicit room join.
type JoinedPayload struct {
	ConversationID string `json:"conversation_id"`
}

func encodeEvent(ev ServerEvent) ([]byte, error) {
	return json.Marshal(ev)
}
