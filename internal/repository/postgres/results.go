package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ignite/email-verifier/internal/domain"
	"github.com/ignite/email-verifier/internal/service/verification"
)

// ResultRepo implements verification.ResultRepository against PostgreSQL.
// Signal bags are stored as jsonb columns so the row stays queryable by
// status and score while keeping the full evidence.
type ResultRepo struct{ db *sql.DB }

// NewResultRepo creates a Postgres-backed result repository.
func NewResultRepo(db *sql.DB) *ResultRepo { return &ResultRepo{db: db} }

func (r *ResultRepo) Insert(ctx context.Context, v *domain.Verification) error {
	classification, err := json.Marshal(v.Classification)
	if err != nil {
		return fmt.Errorf("marshal classification: %w", err)
	}
	dns, err := marshalNullable(v.DNS)
	if err != nil {
		return fmt.Errorf("marshal dns signal: %w", err)
	}
	smtp, err := marshalNullable(v.SMTP)
	if err != nil {
		return fmt.Errorf("marshal smtp signal: %w", err)
	}
	infra, err := marshalNullable(v.Infra)
	if err != nil {
		return fmt.Errorf("marshal infra signal: %w", err)
	}
	reputation, err := marshalNullable(v.Reputation)
	if err != nil {
		return fmt.Errorf("marshal reputation snapshot: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO email_verifications
			(job_id, email, domain, status, score, reason, quality, action,
			 syntax_ok, classification, dns, smtp, infra, reputation,
			 duration_ms, checked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (job_id, email) DO NOTHING
	`, v.JobID, v.Email, v.Domain, v.Status, v.Score, v.Reason, v.Quality, v.Action,
		v.SyntaxOK, classification, dns, smtp, infra, reputation,
		v.DurationMS, v.CheckedAt)
	if err != nil {
		return fmt.Errorf("insert verification: %w", err)
	}
	return nil
}

func (r *ResultRepo) Exists(ctx context.Context, jobID, email string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM email_verifications WHERE job_id = $1 AND email = $2)
	`, jobID, email).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check verification exists: %w", err)
	}
	return exists, nil
}

func (r *ResultRepo) ListByJob(ctx context.Context, jobID string, limit, offset int) ([]domain.Verification, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, selectColumns+`
		FROM email_verifications
		WHERE job_id = $1
		ORDER BY id
		LIMIT $2 OFFSET $3
	`, jobID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list verifications: %w", err)
	}
	defer rows.Close()

	var out []domain.Verification
	for rows.Next() {
		v, err := scanVerification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

func (r *ResultRepo) Latest(ctx context.Context, email string) (*domain.Verification, error) {
	row := r.db.QueryRowContext(ctx, selectColumns+`
		FROM email_verifications
		WHERE email = $1
		ORDER BY checked_at DESC
		LIMIT 1
	`, email)

	v, err := scanVerification(row)
	if err == sql.ErrNoRows {
		return nil, verification.ErrResultNotFound
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

const selectColumns = `
		SELECT id, job_id, email, domain, status, score, reason, quality, action,
		       syntax_ok, classification, dns, smtp, infra, reputation,
		       duration_ms, checked_at`

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanVerification(s scanner) (*domain.Verification, error) {
	v := &domain.Verification{}
	var classification []byte
	var dns, smtp, infra, reputation sql.NullString

	err := s.Scan(
		&v.ID, &v.JobID, &v.Email, &v.Domain, &v.Status, &v.Score, &v.Reason,
		&v.Quality, &v.Action, &v.SyntaxOK, &classification,
		&dns, &smtp, &infra, &reputation,
		&v.DurationMS, &v.CheckedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan verification: %w", err)
	}

	if len(classification) > 0 {
		if err := json.Unmarshal(classification, &v.Classification); err != nil {
			return nil, fmt.Errorf("decode classification: %w", err)
		}
	}
	if err := unmarshalNullable(dns, &v.DNS); err != nil {
		return nil, fmt.Errorf("decode dns signal: %w", err)
	}
	if err := unmarshalNullable(smtp, &v.SMTP); err != nil {
		return nil, fmt.Errorf("decode smtp signal: %w", err)
	}
	if err := unmarshalNullable(infra, &v.Infra); err != nil {
		return nil, fmt.Errorf("decode infra signal: %w", err)
	}
	if err := unmarshalNullable(reputation, &v.Reputation); err != nil {
		return nil, fmt.Errorf("decode reputation snapshot: %w", err)
	}
	return v, nil
}

// marshalNullable returns nil for a nil pointer so the column stays NULL.
func marshalNullable[T any](p *T) ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	return json.Marshal(p)
}

func unmarshalNullable[T any](col sql.NullString, dst **T) error {
	if !col.Valid || col.String == "" {
		return nil
	}
	out := new(T)
	if err := json.Unmarshal([]byte(col.String), out); err != nil {
		return err
	}
	*dst = out
	return nil
}
