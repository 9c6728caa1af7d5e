package model

import (
	"strings"
	"time"
	"unicode/utf8"
)

// AttachmentType values accepted on message attachments.
const (
	AttachmentTypeImage    = "image"
	AttachmentTypeDocument = "document"
	AttachmentTypeVideo    = "video"
)

type Attachment struct {
	URL  string `json:"url"`
	Type string `json:"type"`
}

type Message struct {
	ID             string       `json:"id"`
	Seq            int64        `json:"seq"`
	ConversationID string       `json:"conversation_id"`
	SenderID       string       `json:"sender_id"`
	Body           string       `json:"body"`
	Attachments    []Attachment `json:"attachments"`
	ReadBy         []string     `json:"read_by"`
	CreatedAt      time.Time    `json:"created_at"`
}

const previewMaxRunes = 80

// Preview derives the conversation list preview: the body truncated to
// previewMaxRunes, or a placeholder built from the first attachment's type
// when the body is empty.
func (m *Message) Preview() string {
	body := strings.TrimSpace(m.Body)
	if body == "" {
		if len(m.Attachments) > 0 {
			return "[" + m.Attachments[0].Type + "]"
		}
		return ""
	}
	if utf8.RuneCountInString(body) <= previewMaxRunes {
		return body
	}
	runes := []rune(body)
	return string(runes[:previewMaxRunes-1]) + "…"
}
