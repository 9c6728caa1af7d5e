package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/estatechat/internal/logger"
	"github.com/estatechat/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("not found")

type ConversationRepository struct {
	pool *pgxpool.Pool
}

func NewConversationRepository(pool *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{pool: pool}
}

// GetOrCreate inserts a conversation keyed on its canonical participant key,
// or returns the existing row for that key. The whole operation is a single
// atomic statement: concurrent first-contact callers for the same participant
// set converge on exactly one row. A separate find-then-insert would race.
// The no-op DO UPDATE makes RETURNING yield the row on conflict as well;
// xmax = 0 distinguishes a fresh insert from an existing row.
func (r *ConversationRepository) GetOrCreate(ctx context.Context, c *model.Conversation) (created bool, err error) {
	defer logger.DeferLogDuration("conv.GetOrCreate", time.Now())()
	err = r.pool.QueryRow(ctx,
		`INSERT INTO conversations (id, participant_key, participant_ids, created_by, last_message, last_message_at, created_at)
		 VALUES ($1, $2, $3, $4, '', $5, $5)
		 ON CONFLICT (participant_key) DO UPDATE SET participant_key = EXCLUDED.participant_key
		 RETURNING id, participant_key, participant_ids, created_by, last_message, last_message_at, created_at, (xmax = 0)`,
		c.ID, c.ParticipantKey, c.ParticipantIDs, c.CreatedBy, c.CreatedAt,
	).Scan(&c.ID, &c.ParticipantKey, &c.ParticipantIDs, &c.CreatedBy, &c.LastMessage, &c.LastMessageAt, &c.CreatedAt, &created)
	if err != nil {
		return false, fmt.Errorf("convRepo.GetOrCreate: %w", err)
	}
	return created, nil
}

func (r *ConversationRepository) GetByID(ctx context.Context, id string) (*model.Conversation, error) {
	defer logger.DeferLogDuration("conv.GetByID", time.Now())()
	c := &model.Conversation{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, participant_key, participant_ids, created_by, last_message, last_message_at, created_at
		 FROM conversations WHERE id = $1`, id,
	).Scan(&c.ID, &c.ParticipantKey, &c.ParticipantIDs, &c.CreatedBy, &c.LastMessage, &c.LastMessageAt, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("convRepo.GetByID: %w", err)
	}
	return c, nil
}

// ListForUser returns the user's conversations ordered by last activity,
// most recent first.
func (r *ConversationRepository) ListForUser(ctx context.Context, userID string) ([]model.Conversation, error) {
	defer logger.DeferLogDuration("conv.ListForUser", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT id, participant_key, participant_ids, created_by, last_message, last_message_at, created_at
		 FROM conversations
		 WHERE $1 = ANY(participant_ids)
		 ORDER BY last_message_at DESC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("convRepo.ListForUser query: %w", err)
	}
	defer rows.Close()

	convs := make([]model.Conversation, 0, 16)
	for rows.Next() {
		var c model.Conversation
		if err := rows.Scan(&c.ID, &c.ParticipantKey, &c.ParticipantIDs, &c.CreatedBy, &c.LastMessage, &c.LastMessageAt, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("convRepo.ListForUser scan: %w", err)
		}
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("convRepo.ListForUser rows: %w", err)
	}
	return convs, nil
}

// IDsForUser returns the ids of every conversation the user participates in.
// Used by the delivery channel to join rooms at connect time.
func (r *ConversationRepository) IDsForUser(ctx context.Context, userID string) ([]string, error) {
	defer logger.DeferLogDuration("conv.IDsForUser", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM conversations WHERE $1 = ANY(participant_ids)`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("convRepo.IDsForUser query: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, 16)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("convRepo.IDsForUser scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("convRepo.IDsForUser rows: %w", err)
	}
	return ids, nil
}

// Touch updates the preview and bumps last activity. Called only after a
// message was durably persisted.
func (r *ConversationRepository) Touch(ctx context.Context, id, preview string, at time.Time) error {
	defer logger.DeferLogDuration("conv.Touch", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE conversations SET last_message = $1, last_message_at = $2 WHERE id = $3`,
		preview, at, id,
	)
	if err != nil {
		return fmt.Errorf("convRepo.Touch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
