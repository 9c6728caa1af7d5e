package ws

import (
	"context"

	"github.com/estatechat/internal/broker"
	"github.com/estatechat/internal/logger"
	"github.com/estatechat/internal/model"
)

// Fanout is the delivery-channel handle given to the messaging core. It
// encodes server events once and publishes them on the pub/sub backbone;
// every process's hub then delivers to its local room members. Constructed at
// process start and threaded through explicitly; there is no package-level
// channel state.
type Fanout struct {
	broker broker.Broker
}

func NewFanout(b broker.Broker) *Fanout {
	return &Fanout{broker: b}
}

// MessageCreated broadcasts a persisted message to its conversation room.
// Best-effort: the message is already durable, so a lost broadcast only means
// clients catch up via history.
func (f *Fanout) MessageCreated(ctx context.Context, m *model.Message) {
	data, err := encodeEvent(ServerEvent{Type: EventMessage, Payload: m})
	if err != nil {
		logger.Errorf("fanout encode message %s: %v", m.ID, err)
		return
	}
	if err := f.broker.Publish(ctx, ConversationRoom(m.ConversationID), data); err != nil {
		logger.Errorf("fanout publish message %s: %v", m.ID, err)
	}
}

// ConversationCreated notifies each participant's personal room so connected
// sessions learn about the new conversation and can join its room.
func (f *Fanout) ConversationCreated(ctx context.Context, c *model.Conversation) {
	data, err := encodeEvent(ServerEvent{Type: EventConversation, Payload: c})
	if err != nil {
		logger.Errorf("fanout encode conversation %s: %v", c.ID, err)
		return
	}
	for _, uid := range c.ParticipantIDs {
		if err := f.broker.Publish(ctx, UserRoom(uid), data); err != nil {
			logger.Errorf("fanout publish conversation %s user=%s: %v", c.ID, uid, err)
		}
	}
}
