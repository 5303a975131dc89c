package domain

import (
	"time"
)

// Category is the final deliverability verdict for an address.
type Category string

const (
	CategoryDeliverable   Category = "deliverable"
	CategoryUndeliverable Category = "undeliverable"
	CategoryRisky         Category = "risky"
	CategoryUnknown       Category = "unknown"
)

// Quality bands a confidence score into a coarse grade for list-cleaning UIs.
type Quality string

const (
	QualityHigh   Quality = "high"
	QualityMedium Quality = "medium"
	QualityLow    Quality = "low"
	QualityBad    Quality = "bad"
)

// QualityFor maps a 0-100 confidence score to its quality band.
func QualityFor(score int) Quality {
	switch {
	case score >= 90:
		return QualityHigh
	case score >= 70:
		return QualityMedium
	case score >= 40:
		return QualityLow
	default:
		return QualityBad
	}
}

// Action is the recommended handling for an address given its quality band.
type Action string

const (
	ActionAccept Action = "accept"
	ActionReview Action = "review"
	ActionReject Action = "reject"
)

// ActionFor maps a quality band to the recommended action.
func ActionFor(q Quality) Action {
	switch q {
	case QualityHigh:
		return ActionAccept
	case QualityMedium, QualityLow:
		return ActionReview
	default:
		return ActionReject
	}
}

// Classification captures the syntax-level facts about an address: how the
// local part reads and what kind of domain it points at.
type Classification struct {
	Local          string `json:"local"`
	Provider       string `json:"provider"`
	DomainType     string `json:"domain_type"`
	LocalClass     string `json:"local_class"`
	Strength       string `json:"strength"`
	IsRole         bool   `json:"is_role"`
	HasAlias       bool   `json:"has_alias"`
	SMTPVerifiable bool   `json:"smtp_verifiable"`
	Disposable     bool   `json:"disposable"`
	FreeProvider   bool   `json:"free_provider"`
	PrivateRelay   bool   `json:"private_relay"`
}

// MXHost is a single MX record, already sorted by preference.
type MXHost struct {
	Host string `json:"host"`
	Pref uint16 `json:"pref"`
}

// DNSSignal is the outcome of the MX lookup stage.
type DNSSignal struct {
	Records   []MXHost `json:"records"`
	Timeout   bool     `json:"timeout"`
	Parked    bool     `json:"parked"`
	FallbackA bool     `json:"fallback_a"`
}

// HasMX reports whether the domain resolved at least one mail host.
func (d *DNSSignal) HasMX() bool {
	return d != nil && len(d.Records) > 0
}

// SMTPSignal is the outcome of the live mailbox probe. Status is the
// probe's own classification: deliverable, invalid, or unknown.
type SMTPSignal struct {
	Checked    bool   `json:"checked"`
	Status     string `json:"status"`
	CatchAll   bool   `json:"catch_all"`
	Greylisted bool   `json:"greylisted"`
	AntiSpam   bool   `json:"anti_spam"`
	TimedOut   bool   `json:"timed_out"`
	Tarpit     bool   `json:"tarpit"`
	Host       string `json:"host,omitempty"`
	Port       int    `json:"port,omitempty"`
	Code       int    `json:"code,omitempty"`
	Message    string `json:"message,omitempty"`
	ElapsedMS  int64  `json:"elapsed_ms,omitempty"`
}

// Deliverable reports a definitive mailbox-exists answer. Catch-all
// acceptance does not count: the server says yes to everything.
func (s *SMTPSignal) Deliverable() bool {
	return s != nil && s.Checked && s.Status == "deliverable" && !s.CatchAll
}

// Invalid reports a definitive mailbox-does-not-exist answer.
func (s *SMTPSignal) Invalid() bool {
	return s != nil && s.Checked && s.Status == "invalid"
}

// WebSignal is the website fingerprint used to judge commercial domains
// whose mail servers refuse to answer probes.
type WebSignal struct {
	HasWebsite      bool   `json:"has_website"`
	HTTPStatus      int    `json:"http_status,omitempty"`
	HTTPS           bool   `json:"https"`
	Title           string `json:"title,omitempty"`
	MetaDescription string `json:"meta_description,omitempty"`
	HasFavicon      bool   `json:"has_favicon"`
	IsEmpty         bool   `json:"is_empty"`
	LooksLegit      bool   `json:"looks_legit"`
}

// InfraSignal bundles the domain infrastructure probe: DNS hygiene records,
// web presence, domain age, and the derived 0-100 infrastructure score.
// WebStatus is one of "active", "parking", "none".
type InfraSignal struct {
	Score     int        `json:"score"`
	Reasons   []string   `json:"reasons"`
	AgeDays   *int       `json:"domain_age_days,omitempty"`
	SPF       bool       `json:"has_spf"`
	DMARC     bool       `json:"has_dmarc"`
	WebStatus string     `json:"web_status"`
	HTTPS     bool       `json:"https"`
	Web       *WebSignal `json:"web,omitempty"`
}

// ReputationSnapshot is the rolling reputation for the address's domain as
// it stood when the verification ran.
type ReputationSnapshot struct {
	Score int   `json:"score"`
	Trust Trust `json:"trust"`
	Total int64 `json:"total"`
}

// Verification is one verified address: the verdict plus every signal that
// produced it. Signal pointers are nil when that stage did not run.
type Verification struct {
	ID             int64               `json:"id" db:"id"`
	JobID          string              `json:"job_id" db:"job_id"`
	Email          string              `json:"email" db:"email"`
	Domain         string              `json:"domain" db:"domain"`
	Status         Category            `json:"status" db:"status"`
	Score          int                 `json:"score" db:"score"`
	Reason         string              `json:"reason" db:"reason"`
	Quality        Quality             `json:"quality" db:"quality"`
	Action         Action              `json:"action" db:"action"`
	SyntaxOK       bool                `json:"syntax_ok" db:"syntax_ok"`
	Classification Classification      `json:"classification" db:"classification"`
	DNS            *DNSSignal          `json:"dns,omitempty" db:"dns"`
	SMTP           *SMTPSignal         `json:"smtp,omitempty" db:"smtp"`
	Infra          *InfraSignal        `json:"infra,omitempty" db:"infra"`
	Reputation     *ReputationSnapshot `json:"reputation,omitempty" db:"reputation"`
	CheckedAt      time.Time           `json:"checked_at" db:"checked_at"`
	DurationMS     int64               `json:"duration_ms" db:"duration_ms"`
}

// HistoryEntry is a compact record of a past verification for an address,
// kept across jobs so repeat lookups can show drift over time.
type HistoryEntry struct {
	ID        int64     `json:"id" db:"id"`
	Email     string    `json:"email" db:"email"`
	Domain    string    `json:"domain" db:"domain"`
	Status    Category  `json:"status" db:"status"`
	Score     int       `json:"score" db:"score"`
	Reason    string    `json:"reason" db:"reason"`
	CheckedAt time.Time `json:"checked_at" db:"checked_at"`
}
