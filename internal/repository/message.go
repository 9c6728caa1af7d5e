package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/estatechat/internal/logger"
	"github.com/estatechat/internal/model"
	"github.com/jackc/pgx/v5/pgxpool"
)

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

// Create persists a message and fills in its generated seq. seq comes from a
// sequence, so same-timestamp messages still have a total order.
func (r *MessageRepository) Create(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("msg.Create", time.Now())()
	atts, err := json.Marshal(m.Attachments)
	if err != nil {
		return fmt.Errorf("msgRepo.Create marshal attachments: %w", err)
	}
	err = r.pool.QueryRow(ctx,
		`INSERT INTO messages (id, conversation_id, sender_id, body, attachments, read_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING seq`,
		m.ID, m.ConversationID, m.SenderID, m.Body, atts, m.ReadBy, m.CreatedAt,
	).Scan(&m.Seq)
	if err != nil {
		return fmt.Errorf("msgRepo.Create: %w", err)
	}
	return nil
}

// Page returns one page of a conversation's messages in reverse chronological
// order; (created_at, seq) is the total order, so repeated identical requests
// always return the same page.
func (r *MessageRepository) Page(ctx context.Context, conversationID string, limit, offset int) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.Page", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT id, seq, conversation_id, sender_id, body, attachments, read_by, created_at
		 FROM messages
		 WHERE conversation_id = $1
		 ORDER BY created_at DESC, seq DESC
		 LIMIT $2 OFFSET $3`, conversationID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.Page query: %w", err)
	}
	defer rows.Close()

	messages := make([]model.Message, 0, limit)
	for rows.Next() {
		var m model.Message
		var atts []byte
		if err := rows.Scan(&m.ID, &m.Seq, &m.ConversationID, &m.SenderID, &m.Body, &atts, &m.ReadBy, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("msgRepo.Page scan: %w", err)
		}
		if err := json.Unmarshal(atts, &m.Attachments); err != nil {
			return nil, fmt.Errorf("msgRepo.Page unmarshal attachments: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.Page rows: %w", err)
	}
	return messages, nil
}

// MarkRead adds userID to the reader set of every message in the conversation
// it has not read yet. The reader set is append-only.
func (r *MessageRepository) MarkRead(ctx context.Context, conversationID, userID string) error {
	defer logger.DeferLogDuration("msg.MarkRead", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE messages SET read_by = array_append(read_by, $2)
		 WHERE conversation_id = $1 AND sender_id != $2 AND NOT ($2 = ANY(read_by))`,
		conversationID, userID,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.MarkRead: %w", err)
	}
	return nil
}
