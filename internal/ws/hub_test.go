package ws

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/estatechat/internal/apperr"
	"github.com/estatechat/internal/model"
)

type fakeChat struct {
	convIDs   map[string][]string
	accessErr map[string]error
	sendErr   error
	sent      []ClientEvent
	readConvs []string
}

func (f *fakeChat) SendMessage(ctx context.Context, senderID, conversationID, body string, attachments []model.Attachment) (*model.Message, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, ClientEvent{Type: EventSend, ConversationID: conversationID, Body: body, Attachments: attachments})
	return &model.Message{ID: "m1", ConversationID: conversationID, SenderID: senderID, Body: body}, nil
}

func (f *fakeChat) ConversationIDsForUser(ctx context.Context, userID string) ([]string, error) {
	return f.convIDs[userID], nil
}

func (f *fakeChat) CanAccess(ctx context.Context, userID, conversationID string) error {
	return f.accessErr[userID+"/"+conversationID]
}

func (f *fakeChat) MarkRead(ctx context.Context, userID, conversationID string) error {
	f.readConvs = append(f.readConvs, conversationID)
	return nil
}

func recvEvent(t *testing.T, c *Client) ServerEvent {
	t.Helper()
	select {
	case data := <-c.send:
		var ev struct {
			Type    EventType       `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		require.NoError(t, json.Unmarshal(data, &ev))
		return ServerEvent{Type: ev.Type, Payload: ev.Payload}
	default:
		t.Fatal("no event queued")
		return ServerEvent{}
	}
}

func errorPayload(t *testing.T, ev ServerEvent) ErrorPayload {
	t.Helper()
	require.Equal(t, EventError, ev.Type)
	var p ErrorPayload
	require.NoError(t, json.Unmarshal(ev.Payload.(json.RawMessage), &p))
	return p
}

func TestAddClientJoinsPersonalAndConversationRooms(t *testing.T) {
	chat := &fakeChat{convIDs: map[string][]string{"alice": {"c1", "c2"}}}
	hub := NewHub(chat, 10, Tuning{})
	alice := NewClient(hub, nil, "alice")
	hub.addClient(alice)

	assert.True(t, hub.inRoom(alice, UserRoom("alice")))
	assert.True(t, hub.inRoom(alice, ConversationRoom("c1")))
	assert.True(t, hub.inRoom(alice, ConversationRoom("c2")))
	assert.False(t, hub.inRoom(alice, ConversationRoom("c3")))
}

func TestDeliverLocalReachesRoomMembersOnly(t *testing.T) {
	chat := &fakeChat{convIDs: map[string][]string{"alice": {"c1"}, "bob": {"c1"}, "carol": nil}}
	hub := NewHub(chat, 10, Tuning{})
	alice := NewClient(hub, nil, "alice")
	bob := NewClient(hub, nil, "bob")
	carol := NewClient(hub, nil, "carol")
	hub.addClient(alice)
	hub.addClient(bob)
	hub.addClient(carol)

	hub.DeliverLocal(ConversationRoom("c1"), []byte(`{"type":"message"}`))

	assert.Len(t, alice.send, 1)
	assert.Len(t, bob.send, 1)
	assert.Len(t, carol.send, 0)
}

func TestHandleSendRequiresJoinedRoom(t *testing.T) {
	chat := &fakeChat{convIDs: map[string][]string{"alice": nil}}
	hub := NewHub(chat, 10, Tuning{})
	alice := NewClient(hub, nil, "alice")
	hub.addClient(alice)

	hub.HandleEvent(context.Background(), alice, ClientEvent{Type: EventSend, ConversationID: "c1", Body: "hi"})

	p := errorPayload(t, recvEvent(t, alice))
	assert.Equal(t, apperr.CodeForbidden, p.Code)
	assert.Equal(t, "c1", p.ConversationID)
	assert.Empty(t, chat.sent)
}

func TestHandleSendDeliversErrorToOriginOnly(t *testing.T) {
	chat := &fakeChat{
		convIDs: map[string][]string{"alice": {"c1"}, "bob": {"c1"}},
		sendErr: apperr.Validation("message requires text or attachments"),
	}
	hub := NewHub(chat, 10, Tuning{})
	alice := NewClient(hub, nil, "alice")
	bob := NewClient(hub, nil, "bob")
	hub.addClient(alice)
	hub.addClient(bob)

	hub.HandleEvent(context.Background(), alice, ClientEvent{Type: EventSend, ConversationID: "c1"})

	p := errorPayload(t, recvEvent(t, alice))
	assert.Equal(t, apperr.CodeValidation, p.Code)
	assert.Len(t, bob.send, 0)
}

func TestHandleSendDelegatesToChat(t *testing.T) {
	chat := &fakeChat{convIDs: map[string][]string{"alice": {"c1"}}}
	hub := NewHub(chat, 10, Tuning{})
	alice := NewClient(hub, nil, "alice")
	hub.addClient(alice)

	hub.HandleEvent(context.Background(), alice, ClientEvent{Type: EventSend, ConversationID: "c1", Body: "hello"})

	require.Len(t, chat.sent, 1)
	assert.Equal(t, "c1", chat.sent[0].ConversationID)
	assert.Equal(t, "hello", chat.sent[0].Body)
	// Broadcast rides the broker subscription, not a direct write.
	assert.Len(t, alice.send, 0)
}

func TestHandleJoin(t *testing.T) {
	chat := &fakeChat{
		convIDs:   map[string][]string{"alice": nil},
		accessErr: map[string]error{"alice/c9": apperr.Forbidden("not a participant")},
	}
	hub := NewHub(chat, 10, Tuning{})
	alice := NewClient(hub, nil, "alice")
	hub.addClient(alice)

	hub.HandleEvent(context.Background(), alice, ClientEvent{Type: EventJoin, ConversationID: "c5"})
	ev := recvEvent(t, alice)
	assert.Equal(t, EventJoined, ev.Type)
	assert.True(t, hub.inRoom(alice, ConversationRoom("c5")))

	hub.HandleEvent(context.Background(), alice, ClientEvent{Type: EventJoin, ConversationID: "c9"})
	p := errorPayload(t, recvEvent(t, alice))
	assert.Equal(t, apperr.CodeForbidden, p.Code)
	assert.False(t, hub.inRoom(alice, ConversationRoom("c9")))
}

func TestHandleUnknownEventType(t *testing.T) {
	chat := &fakeChat{convIDs: map[string][]string{"alice": nil}}
	hub := NewHub(chat, 10, Tuning{})
	alice := NewClient(hub, nil, "alice")
	hub.addClient(alice)

	hub.HandleEvent(context.Background(), alice, ClientEvent{Type: "dance"})
	p := errorPayload(t, recvEvent(t, alice))
	assert.Equal(t, apperr.CodeValidation, p.Code)
}

func TestRemoveClientLeavesAllRooms(t *testing.T) {
	chat := &fakeChat{convIDs: map[string][]string{"alice": {"c1"}, "bob": {"c1"}}}
	hub := NewHub(chat, 10, Tuning{})
	alice := NewClient(hub, nil, "alice")
	bob := NewClient(hub, nil, "bob")
	hub.addClient(alice)
	hub.addClient(bob)

	hub.removeClient(alice)

	hub.DeliverLocal(ConversationRoom("c1"), []byte(`{}`))
	assert.Len(t, alice.send, 0)
	assert.Len(t, bob.send, 1)
	assert.Equal(t, 1, hub.total)
}

func TestConnectionLimit(t *testing.T) {
	chat := &fakeChat{convIDs: map[string][]string{}}
	hub := NewHub(chat, 1, Tuning{})
	first := NewClient(hub, nil, "alice")
	second := NewClient(hub, nil, "bob")
	hub.addClient(first)
	hub.addClient(second)

	assert.Equal(t, 1, hub.total)
	assert.False(t, hub.inRoom(second, UserRoom("bob")))
	select {
	case <-second.done:
	default:
		t.Fatal("rejected client not closed")
	}
}

func TestSlowClientClosed(t *testing.T) {
	chat := &fakeChat{convIDs: map[string][]string{"alice": {"c1"}}}
	hub := NewHub(chat, 10, Tuning{})
	alice := NewClient(hub, nil, "alice")
	hub.addClient(alice)

	payload := []byte(`{}`)
	for i := 0; i < cap(alice.send); i++ {
		hub.sendToClient(alice, payload)
	}
	hub.sendToClient(alice, payload)

	select {
	case <-alice.done:
	default:
		t.Fatal("slow client not closed")
	}
}

func TestTuningFromConfig(t *testing.T) {
	chat := &fakeChat{convIDs: map[string][]string{}}
	hub := NewHub(chat, 10, Tuning{SendBufferSize: 4, PongTimeout: 20 * time.Second})
	c := NewClient(hub, nil, "alice")

	assert.Equal(t, 4, cap(c.send))
	assert.Equal(t, 18*time.Second, hub.tuning.pingPeriod())
	// Unset knobs fall back to defaults.
	assert.Equal(t, defaultWriteTimeout, hub.tuning.WriteTimeout)
	assert.Equal(t, int64(defaultMaxMessageSize), hub.tuning.MaxMessageSize)

	zeroed := NewHub(chat, 10, Tuning{})
	assert.Equal(t, defaultSendBufferSize, zeroed.tuning.SendBufferSize)
	assert.Equal(t, defaultPongTimeout, zeroed.tuning.PongTimeout)
}

// A connection that drops immediately after the handshake can have its
// Unregister drained before its Register; admitting the dead client would
// leak a slot toward the connection limit.
func TestAddClientSkipsClosedClient(t *testing.T) {
	chat := &fakeChat{convIDs: map[string][]string{"alice": {"c1"}}}
	hub := NewHub(chat, 10, Tuning{})
	alice := NewClient(hub, nil, "alice")
	alice.Close()

	hub.addClient(alice)

	assert.Equal(t, 0, hub.total)
	assert.False(t, hub.inRoom(alice, UserRoom("alice")))
	assert.False(t, hub.inRoom(alice, ConversationRoom("c1")))
}
