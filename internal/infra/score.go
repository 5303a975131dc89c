package infra

// WebStatus classifies a domain's web presence.
type WebStatus string

const (
	WebActive  WebStatus = "active"
	WebParking WebStatus = "parking"
	WebNone    WebStatus = "none"
)

// Signals holds the raw infrastructure observations for one domain.
// AgeDays is nil when no registration data was available.
type Signals struct {
	Domain    string    `json:"domain"`
	AgeDays   *int      `json:"domain_age_days"`
	SPF       bool      `json:"has_spf"`
	DMARC     bool      `json:"has_dmarc"`
	WebStatus WebStatus `json:"web_status"`
	HTTPS     bool      `json:"https"`
}

const baseScore = 50

// Signal weights. Tuned so that a parked, hygiene-free domain lands near
// zero and an established domain with SPF/DMARC and a live site lands high.
const (
	weightAgeOld     = 15
	weightAgeMid     = 8
	weightAgeNew     = -15
	weightSPF        = 10
	weightNoSPF      = -20
	weightDMARC      = 10
	weightNoDMARC    = -10
	weightWebActive  = 15
	weightWebNone    = -15
	weightWebParking = -30
	weightHTTPS      = 5
	weightNoHTTPS    = -5
)

// Score converts infrastructure signals into a 0-100 score plus the reasons
// that moved it. The score never decides a verdict on its own; it is stored
// as a supporting signal for catch-all and unknown outcomes. Unknown domain
// age adjusts nothing.
func Score(s Signals) (int, []string) {
	score := baseScore
	var reasons []string

	if s.AgeDays != nil {
		switch age := *s.AgeDays; {
		case age >= 730:
			score += weightAgeOld
			reasons = append(reasons, "Old domain")
		case age >= 180:
			score += weightAgeMid
			reasons = append(reasons, "Mid-age domain")
		default:
			score += weightAgeNew
			reasons = append(reasons, "New domain")
		}
	}

	if s.SPF {
		score += weightSPF
		reasons = append(reasons, "SPF configured")
	} else {
		score += weightNoSPF
		reasons = append(reasons, "No SPF")
	}

	if s.DMARC {
		score += weightDMARC
		reasons = append(reasons, "DMARC configured")
	} else {
		score += weightNoDMARC
		reasons = append(reasons, "No DMARC")
	}

	switch s.WebStatus {
	case WebActive:
		score += weightWebActive
		reasons = append(reasons, "Active website")
	case WebParking:
		score += weightWebParking
		reasons = append(reasons, "Parking domain")
	default:
		score += weightWebNone
		reasons = append(reasons, "No website")
	}

	if s.HTTPS {
		score += weightHTTPS
		reasons = append(reasons, "HTTPS enabled")
	} else {
		score += weightNoHTTPS
		reasons = append(reasons, "No HTTPS")
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score, reasons
}
