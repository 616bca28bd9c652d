package store

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/dukerupert/replypilot/internal/model"
)

type ReplyStore struct {
	db *sql.DB
}

func NewReplyStore(db *sql.DB) *ReplyStore {
	return &ReplyStore{db: db}
}

func scanReply(scanner interface{ Scan(...any) error }) (*model.Reply, error) {
	var r model.Reply
	err := scanner.Scan(
		&r.ID, &r.PublicID, &r.UserID, &r.Subject, &r.Original,
		&r.Reply, &r.Language, &r.Tone, &r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

const replyCols = `id, public_id, user_id, subject, original, reply, language, tone, created_at`

func (s *ReplyStore) Create(userID, subject, original, reply, language, tone string) (*model.Reply, error) {
	publicID := uuid.NewString()
	result, err := s.db.Exec(
		`INSERT INTO replies (public_id, user_id, subject, original, reply, language, tone)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		publicID, userID, subject, original, reply, language, tone,
	)
	if err != nil {
		return nil, fmt.Errorf("insert reply: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *ReplyStore) GetByID(id int64) (*model.Reply, error) {
	row := s.db.QueryRow(`SELECT `+replyCols+` FROM replies WHERE id = ?`, id)
	r, err := scanReply(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get reply: %w", err)
	}
	return r, nil
}

// ListByUser returns the user's replies, newest first.
func (s *ReplyStore) ListByUser(userID string, limit int) ([]model.Reply, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT `+replyCols+` FROM replies WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list replies: %w", err)
	}
	defer rows.Close()

	var replies []model.Reply
	for rows.Next() {
		r, err := scanReply(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reply: %w", err)
		}
		replies = append(replies, *r)
	}
	return replies, rows.Err()
}

// Delete removes one reply, scoped to its owner. Returns false when no row
// matched, so callers can answer 404 without a prior read.
func (s *ReplyStore) Delete(id int64, userID string) (bool, error) {
	result, err := s.db.Exec(`DELETE FROM replies WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return false, fmt.Errorf("delete reply: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// DeleteAllByUser clears the user's history and returns the number removed.
func (s *ReplyStore) DeleteAllByUser(userID string) (int64, error) {
	result, err := s.db.Exec(`DELETE FROM replies WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete replies: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}
