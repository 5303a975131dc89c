package domain

import (
	"time"
)

// Trust bands a domain reputation score for quick filtering.
type Trust string

const (
	TrustHigh    Trust = "high"
	TrustMedium  Trust = "medium"
	TrustLow     Trust = "low"
	TrustUnknown Trust = "unknown"
)

// TrustFor maps a reputation score to its trust band.
func TrustFor(score int) Trust {
	switch {
	case score >= 30:
		return TrustHigh
	case score >= 10:
		return TrustMedium
	case score > 0:
		return TrustLow
	default:
		return TrustUnknown
	}
}

// DomainReputation is the rolling verification outcome tally for one domain.
// Counters accumulate in Redis and are periodically snapshotted to Postgres.
type DomainReputation struct {
	Domain        string    `json:"domain" db:"domain"`
	Deliverable   int64     `json:"deliverable" db:"deliverable"`
	Undeliverable int64     `json:"undeliverable" db:"undeliverable"`
	Risky         int64     `json:"risky" db:"risky"`
	Unknown       int64     `json:"unknown" db:"unknown"`
	Total         int64     `json:"total" db:"total"`
	Score         int       `json:"score" db:"score"`
	Trust         Trust     `json:"trust" db:"trust"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// Snapshot reduces the reputation to the compact form stored alongside each
// verification row.
func (r *DomainReputation) Snapshot() *ReputationSnapshot {
	if r == nil {
		return nil
	}
	return &ReputationSnapshot{Score: r.Score, Trust: r.Trust, Total: r.Total}
}
