package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/estatechat/internal/logger"
	"github.com/estatechat/internal/model"
	"github.com/jackc/pgx/v5/pgxpool"
)

// FriendRepository stores the relationship graph consumed by the contacts
// endpoint and listing policy. The messaging core treats it as a collaborator:
// conversation creation itself is not gated on friendship.
type FriendRepository struct {
	pool *pgxpool.Pool
}

func NewFriendRepository(pool *pgxpool.Pool) *FriendRepository {
	return &FriendRepository{pool: pool}
}

// Request records a pending friendship from userID to friendID. Re-requesting
// an existing pair is a no-op.
func (r *FriendRepository) Request(ctx context.Context, userID, friendID string) error {
	defer logger.DeferLogDuration("friend.Request", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO friendships (user_id, friend_id, status, created_at)
		 VALUES ($1, $2, $3, $4) ON CONFLICT DO NOTHING`,
		userID, friendID, model.FriendStatusPending, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("friendRepo.Request: %w", err)
	}
	return nil
}

// Accept marks the request from friendID to userID as accepted.
func (r *FriendRepository) Accept(ctx context.Context, userID, friendID string) error {
	defer logger.DeferLogDuration("friend.Accept", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE friendships SET status = $3 WHERE user_id = $1 AND friend_id = $2`,
		friendID, userID, model.FriendStatusAccepted,
	)
	if err != nil {
		return fmt.Errorf("friendRepo.Accept: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AcceptedIDs returns the ids of everyone in an accepted relationship with
// userID, regardless of who initiated it.
func (r *FriendRepository) AcceptedIDs(ctx context.Context, userID string) ([]string, error) {
	defer logger.DeferLogDuration("friend.AcceptedIDs", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT friend_id FROM friendships WHERE user_id = $1 AND status = $2
		 UNION
		 SELECT user_id FROM friendships WHERE friend_id = $1 AND status = $2`,
		userID, model.FriendStatusAccepted,
	)
	if err != nil {
		return nil, fmt.Errorf("friendRepo.AcceptedIDs query: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, 16)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("friendRepo.AcceptedIDs scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("friendRepo.AcceptedIDs rows: %w", err)
	}
	return ids, nil
}
