package ws

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/estatechat/internal/apperr"
	"github.com/estatechat/internal/logger"
	"github.com/estatechat/internal/model"
)

// ChatService is the slice of the messaging core the hub consumes.
type ChatService interface {
	SendMessage(ctx context.Context, senderID, conversationID, body string, attachments []model.Attachment) (*model.Message, error)
	ConversationIDsForUser(ctx context.Context, userID string) ([]string, error)
	CanAccess(ctx context.Context, userID, conversationID string) error
	MarkRead(ctx context.Context, userID, conversationID string) error
}

// Hub owns this process's room registry: which sessions are joined to which
// conversation and personal rooms. Membership is per-process; cross-process
// delivery goes through the broker, whose events arrive via DeliverLocal.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}
	// joined mirrors rooms per client for O(rooms-of-client) cleanup.
	joined map[*Client]map[string]struct{}
	total  int

	maxConns   int
	tuning     Tuning
	chat       ChatService
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(chat ChatService, maxConns int, tuning Tuning) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Hub{
		rooms:      make(map[string]map[*Client]struct{}),
		joined:     make(map[*Client]map[string]struct{}),
		maxConns:   maxConns,
		tuning:     tuning.withDefaults(),
		chat:       chat,
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	allClients := make([]*Client, 0, h.total)
	for c := range h.joined {
		allClients = append(allClients, c)
	}
	h.rooms = make(map[string]map[*Client]struct{})
	h.joined = make(map[*Client]map[string]struct{})
	h.total = 0
	h.mu.Unlock()

	// Close connections outside the lock (network I/O).
	for _, c := range allClients {
		c.Close()
	}
	for _, c := range allClients {
		c.Wait()
	}
}

// addClient admits the session and joins it to its personal room plus one
// room per conversation it currently participates in. Membership is queried
// once at connect time; conversations created mid-session need an explicit
// join event.
func (h *Hub) addClient(c *Client) {
	// The client may already be gone: a connection that dropped right after
	// the handshake can have its Unregister drained before this Register.
	// Admitting it would leak a slot, since nothing will remove it again.
	select {
	case <-c.done:
		return
	default:
	}

	h.mu.Lock()
	if h.total >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.maxConns, c.userID)
		c.Close()
		return
	}
	h.joined[c] = make(map[string]struct{})
	h.total++
	h.joinRoomLocked(c, UserRoom(c.userID))
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	convIDs, err := h.chat.ConversationIDsForUser(ctx, c.userID)
	if err != nil {
		logger.Errorf("ws load conversations user=%s: %v", c.userID, err)
		return
	}
	h.mu.Lock()
	if _, ok := h.joined[c]; ok {
		for _, id := range convIDs {
			h.joinRoomLocked(c, ConversationRoom(id))
		}
	}
	h.mu.Unlock()
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	rooms, ok := h.joined[c]
	if !ok {
		h.mu.Unlock()
		return
	}
	for room := range rooms {
		h.leaveRoomLocked(c, room)
	}
	delete(h.joined, c)
	h.total--
	h.mu.Unlock()

	// Network I/O outside the lock.
	c.Close()
}

func (h *Hub) joinRoomLocked(c *Client, room string) {
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	if set, ok := h.joined[c]; ok {
		set[room] = struct{}{}
	}
}

func (h *Hub) leaveRoomLocked(c *Client, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

func (h *Hub) inRoom(c *Client, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	set, ok := h.joined[c]
	if !ok {
		return false
	}
	_, ok = set[room]
	return ok
}

// HandleEvent dispatches a validated client event. Recoverable failures are
// reported to the originating session only; the connection stays open.
func (h *Hub) HandleEvent(ctx context.Context, c *Client, ev ClientEvent) {
	switch ev.Type {
	case EventSend:
		h.handleSend(ctx, c, ev)
	case EventJoin:
		h.handleJoin(ctx, c, ev)
	case EventRead:
		h.handleRead(ctx, c, ev)
	default:
		h.sendError(c, "", apperr.Validation("unknown event type"))
	}
}

func (h *Hub) handleSend(ctx context.Context, c *Client, ev ClientEvent) {
	defer logger.DeferLogDuration("ws.handleSend", time.Now())()
	if strings.TrimSpace(ev.ConversationID) == "" {
		h.sendError(c, "", apperr.Validation("conversation_id required"))
		return
	}
	// Channel-layer authorization mirrors the store's participant check:
	// the session must have joined the conversation's room.
	if !h.inRoom(c, ConversationRoom(ev.ConversationID)) {
		h.sendError(c, ev.ConversationID, apperr.Forbidden("conversation room not joined"))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := h.chat.SendMessage(ctx, c.userID, ev.ConversationID, ev.Body, ev.Attachments); err != nil {
		h.sendError(c, ev.ConversationID, err)
		return
	}
	// Broadcast to the room arrives through the broker subscription; nothing
	// more to do here.
}

func (h *Hub) handleJoin(ctx context.Context, c *Client, ev ClientEvent) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := h.chat.CanAccess(ctx, c.userID, ev.ConversationID); err != nil {
		h.sendError(c, ev.ConversationID, err)
		return
	}
	h.mu.Lock()
	if _, ok := h.joined[c]; ok {
		h.joinRoomLocked(c, ConversationRoom(ev.ConversationID))
	}
	h.mu.Unlock()
	h.sendEvent(c, ServerEvent{Type: EventJoined, Payload: JoinedPayload{ConversationID: ev.ConversationID}})
}

func (h *Hub) handleRead(ctx context.Context, c *Client, ev ClientEvent) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := h.chat.MarkRead(ctx, c.userID, ev.ConversationID); err != nil {
		h.sendError(c, ev.ConversationID, err)
	}
}

// DeliverLocal hands a broker event to every session joined to the room in
// this process. At-most-once per connected session; there is no replay.
func (h *Hub) DeliverLocal(room string, payload []byte) {
	h.mu.RLock()
	members, ok := h.rooms[room]
	if !ok {
		h.mu.RUnlock()
		return
	}
	targets := make([]*Client, 0, len(members))
	for c := range members {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, payload)
	}
}

func (h *Hub) sendEvent(c *Client, ev ServerEvent) {
	data, err := encodeEvent(ev)
	if err != nil {
		logger.Errorf("ws encode event user=%s: %v", c.userID, err)
		return
	}
	h.sendToClient(c, data)
}

func (h *Hub) sendError(c *Client, conversationID string, err error) {
	code := apperr.CodeOf(err)
	if code == apperr.CodeInternal {
		logger.Errorf("ws user=%s: %v", c.userID, err)
	}
	h.sendEvent(c, ServerEvent{Type: EventError, Payload: ErrorPayload{
		Code:           code,
		Message:        apperr.MessageOf(err),
		ConversationID: conversationID,
	}})
}

func (h *Hub) sendToClient(c *Client, data []byte) {
	select {
	case c.send <- data:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close slow client.
		logger.Errorf("ws send buffer full, closing slow client user=%s", c.userID)
		c.Close()
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
