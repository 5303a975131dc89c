package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ignite/email-verifier/internal/reputation"
)

// ReputationRepo persists periodic snapshots of the Redis-held reputation
// counters. It implements reputation.Persister.
type ReputationRepo struct{ db *sql.DB }

// NewReputationRepo creates a Postgres-backed reputation repository.
func NewReputationRepo(db *sql.DB) *ReputationRepo { return &ReputationRepo{db: db} }

func (r *ReputationRepo) Upsert(ctx context.Context, rep reputation.Reputation) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO domain_reputation
			(domain, deliverable, undeliverable, risky, unknown, total, score, trust, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (domain) DO UPDATE SET
			deliverable = EXCLUDED.deliverable,
			undeliverable = EXCLUDED.undeliverable,
			risky = EXCLUDED.risky,
			unknown = EXCLUDED.unknown,
			total = EXCLUDED.total,
			score = EXCLUDED.score,
			trust = EXCLUDED.trust,
			updated_at = NOW()
	`, rep.Domain, rep.Deliverable, rep.Undeliverable, rep.Risky, rep.Unknown,
		rep.Total, rep.Score, rep.Trust)
	if err != nil {
		return fmt.Errorf("upsert domain reputation: %w", err)
	}
	return nil
}

// Get reads the last persisted snapshot for a domain. Live state sits in
// Redis; this is the durable view exposed when Redis has expired the entry.
func (r *ReputationRepo) Get(ctx context.Context, dom string) (*reputation.Reputation, error) {
	rep := &reputation.Reputation{}
	err := r.db.QueryRowContext(ctx, `
		SELECT domain, deliverable, undeliverable, risky, unknown, total, score, trust, updated_at
		FROM domain_reputation
		WHERE domain = $1
	`, dom).Scan(
		&rep.Domain, &rep.Deliverable, &rep.Undeliverable, &rep.Risky, &rep.Unknown,
		&rep.Total, &rep.Score, &rep.Trust, &rep.LastSeen,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get domain reputation: %w", err)
	}
	return rep, nil
}
