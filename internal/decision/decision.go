// Package decision turns the collected verification signals into a final
// verdict. The ladder is ordered and first-match-wins: conclusive SMTP
// evidence outranks every heuristic, heuristics outrank infrastructure
// confidence, and infrastructure confidence outranks giving up.
package decision

import (
	"github.com/ignite/email-verifier/internal/domain"
	"github.com/ignite/email-verifier/internal/verify"
)

// Confidence weights for the commercial promotion rule. A timed-out or
// mute SMTP server on a domain with a real website is usually a business
// behind a filtering gateway, not a dead mailbox.
const (
	confWebsite   = 30
	confHTTPS     = 10
	confTitle     = 10
	confMeta      = 10
	confFavicon   = 10
	confEmptyPage = -30

	promoteAt   = 20
	promoteBase = 70
	promoteCeil = 90
)

// Input is the signal bag the ladder evaluates. Nil pointers mean the stage
// never ran.
type Input struct {
	SyntaxValid    bool
	Classification domain.Classification
	DNS            *domain.DNSSignal
	SMTP           *domain.SMTPSignal
	Infra          *domain.InfraSignal
}

// Verdict is the terminal result for one address.
type Verdict struct {
	Status  domain.Category
	Score   int
	Reason  string
	Quality domain.Quality
	Action  domain.Action
}

func verdict(status domain.Category, score int, reason string) Verdict {
	q := domain.QualityFor(score)
	return Verdict{
		Status:  status,
		Score:   score,
		Reason:  reason,
		Quality: q,
		Action:  domain.ActionFor(q),
	}
}

// Decide runs the ladder. Deterministic: the same input always yields the
// same verdict, and exactly one rung fires.
func Decide(in Input) Verdict {
	if !in.SyntaxValid {
		return verdict(domain.CategoryUndeliverable, 0, "Invalid syntax")
	}

	if in.Classification.Disposable {
		return verdict(domain.CategoryRisky, 40, "Disposable domain")
	}

	// Resolution outcomes preempt mailbox evidence: with no mail host there
	// is nothing to probe and nothing to trust.
	if in.DNS != nil {
		if in.DNS.Timeout {
			return verdict(domain.CategoryUnknown, 25, "MX lookup timeout")
		}
		if in.DNS.Parked || !in.DNS.HasMX() {
			return verdict(domain.CategoryRisky, 20, "Domain has no MX records")
		}
	}

	if in.SMTP.Invalid() {
		return verdict(domain.CategoryUndeliverable, 10, "Mailbox does not exist")
	}
	if in.SMTP.Deliverable() {
		return verdict(domain.CategoryDeliverable, 95, "SMTP mailbox exists")
	}
	if in.SMTP != nil && in.SMTP.CatchAll {
		return verdict(domain.CategoryRisky, 60, "Catch-all domain")
	}

	if in.Classification.IsRole {
		return verdict(domain.CategoryRisky, 50, "Role-based email")
	}

	if in.Classification.FreeProvider {
		switch verify.UsernameStrength(in.Classification.Strength) {
		case verify.StrengthWeak:
			return verdict(domain.CategoryRisky, 55, "Low confidence username on free provider")
		case verify.StrengthStrong:
			return verdict(domain.CategoryDeliverable, 95, "Free provider heuristic deliverable")
		default:
			return verdict(domain.CategoryDeliverable, 85, "Free provider heuristic deliverable")
		}
	}

	web := webSignal(in.Infra)

	// A timeout with no web presence is a dead end. A timeout with a live
	// website falls through to the promotion rule below.
	if in.SMTP != nil && in.SMTP.TimedOut && (web == nil || !web.HasWebsite) {
		return verdict(domain.CategoryUnknown, 30, "SMTP connection timeout")
	}

	if web != nil && web.HasWebsite {
		confidence := confWebsite
		if web.HTTPS {
			confidence += confHTTPS
		}
		if web.Title != "" {
			confidence += confTitle
		}
		if web.MetaDescription != "" {
			confidence += confMeta
		}
		if web.HasFavicon {
			confidence += confFavicon
		}
		if web.IsEmpty {
			confidence += confEmptyPage
		}

		if confidence >= promoteAt {
			score := promoteBase + confidence
			if score > promoteCeil {
				score = promoteCeil
			}
			return verdict(domain.CategoryDeliverable, score, "High probability of delivery")
		}
		return verdict(domain.CategoryRisky, 20, "Low domain trust")
	}

	return verdict(domain.CategoryUnknown, 25, "Insufficient data")
}

func webSignal(infra *domain.InfraSignal) *domain.WebSignal {
	if infra == nil {
		return nil
	}
	return infra.Web
}
