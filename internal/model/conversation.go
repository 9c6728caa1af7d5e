package model

import (
	"errors"
	"sort"
	"strings"
	"time"
)

// KeySeparator joins sorted participant ids into the canonical conversation key.
const KeySeparator = ":"

// ErrTooFewParticipants is returned by ConversationKey when fewer than two
// distinct participants remain after trimming and deduplication.
var ErrTooFewParticipants = errors.New("conversation requires at least two distinct participants")

// ConversationKey builds the canonical key for a participant set: ids are
// trimmed, deduplicated, sorted lexicographically and joined with KeySeparator.
// The same set in any order always yields the same key. Every code path that
// can create a conversation must go through this function.
func ConversationKey(ids []string) (string, []string, error) {
	canonical := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		canonical = append(canonical, id)
	}
	if len(canonical) < 2 {
		return "", nil, ErrTooFewParticipants
	}
	sort.Strings(canonical)
	return strings.Join(canonical, KeySeparator), canonical, nil
}

type Conversation struct {
	ID             string    `json:"id"`
	ParticipantKey string    `json:"-"`
	ParticipantIDs []string  `json:"participant_ids"`
	CreatedBy      string    `json:"created_by"`
	LastMessage    string    `json:"last_message"`
	LastMessageAt  time.Time `json:"last_message_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// Others returns the participant ids excluding userID, preserving canonical order.
func (c *Conversation) Others(userID string) []string {
	out := make([]string, 0, len(c.ParticipantIDs))
	for _, id := range c.ParticipantIDs {
		if id != userID {
			out = append(out, id)
		}
	}
	return out
}

// HasParticipant reports whether userID belongs to the conversation.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, id := range c.ParticipantIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// ConversationView is a conversation annotated for the requesting user: the
// title and avatar are derived from the other participant(s).
type ConversationView struct {
	Conversation
	Title        string       `json:"title"`
	AvatarURL    string       `json:"avatar_url"`
	Participants []UserPublic `json:"participants"`
}
