package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ignite/email-verifier/internal/domain"
)

// HistoryRepo implements verification.HistoryRepository against PostgreSQL.
type HistoryRepo struct{ db *sql.DB }

// NewHistoryRepo creates a Postgres-backed history repository.
func NewHistoryRepo(db *sql.DB) *HistoryRepo { return &HistoryRepo{db: db} }

func (r *HistoryRepo) Insert(ctx context.Context, e *domain.HistoryEntry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO email_verification_history (email, domain, status, score, reason, checked_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, e.Email, e.Domain, e.Status, e.Score, e.Reason, e.CheckedAt)
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}

func (r *HistoryRepo) Recent(ctx context.Context, email string, limit int) ([]domain.HistoryEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, email, domain, status, score, reason, checked_at
		FROM email_verification_history
		WHERE email = $1
		ORDER BY checked_at DESC
		LIMIT $2
	`, email, limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var out []domain.HistoryEntry
	for rows.Next() {
		var e domain.HistoryEntry
		if err := rows.Scan(&e.ID, &e.Email, &e.Domain, &e.Status, &e.Score, &e.Reason, &e.CheckedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
