// Package smtpprobe verifies mailboxes over live SMTP sessions: connect,
// greet, MAIL FROM, RCPT TO each target, then RCPT TO a random address to
// expose catch-all servers. It never sends DATA.
package smtpprobe

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"os"
	"strings"
	"time"

	"github.com/ignite/email-verifier/internal/smtppool"
	"github.com/ignite/email-verifier/internal/verify"
)

// Status is the probe's own classification of the target mailbox.
type Status string

const (
	StatusDeliverable Status = "deliverable"
	StatusInvalid     Status = "invalid"
	StatusUnknown     Status = "unknown"
)

const (
	defaultHeloDomain      = "verifier.local"
	defaultMailFrom        = "verify@checker.com"
	defaultTarpitThreshold = 8 * time.Second
)

var defaultPorts = []int{25, 587, 465}

// Gateways that answer RCPT for everything and sort it out later. Probing
// through them yields noise, so the probe stops at the banner.
var antiSpamMarkers = []string{
	"Proofpoint",
	"Barracuda",
	"Google Frontend",
	"Spamhaus",
}

// Result is the outcome of probing one address against one MX host.
type Result struct {
	Email      string `json:"email"`
	Status     Status `json:"status"`
	Code       int    `json:"code"`
	Message    string `json:"message"`
	MXHost     string `json:"mx_host"`
	Port       int    `json:"port,omitempty"`
	CatchAll   bool   `json:"catch_all"`
	AntiSpam   bool   `json:"anti_spam"`
	Greylisted bool   `json:"greylisted"`
	TimedOut   bool   `json:"timed_out"`
	Tarpit     bool   `json:"tarpit"`
	Skipped    bool   `json:"skipped"`
	DurationMS int64  `json:"duration_ms"`
	Banner     string `json:"server_banner,omitempty"`
}

// Config configures the prober.
type Config struct {
	HeloDomain      string
	MailFrom        string
	Ports           []int
	TarpitThreshold time.Duration
}

func (c *Config) withDefaults() {
	if c.HeloDomain == "" {
		c.HeloDomain = defaultHeloDomain
	}
	if c.MailFrom == "" {
		c.MailFrom = defaultMailFrom
	}
	if len(c.Ports) == 0 {
		c.Ports = defaultPorts
	}
	if c.TarpitThreshold <= 0 {
		c.TarpitThreshold = defaultTarpitThreshold
	}
}

// Prober runs mailbox probes over a shared connection pool.
type Prober struct {
	pool *smtppool.Pool
	cfg  Config
}

// New creates a Prober.
func New(pool *smtppool.Pool, cfg Config) *Prober {
	cfg.withDefaults()
	return &Prober{pool: pool, cfg: cfg}
}

// Probe verifies a single address against mxHost.
func (p *Prober) Probe(ctx context.Context, email, mxHost string) Result {
	return p.ProbeBatch(ctx, []string{email}, mxHost)[0]
}

// ProbeBatch verifies a batch of same-domain addresses in one SMTP session:
// one MAIL FROM, one RCPT per target in order, one random RCPT at the end
// for the catch-all test. Ports 25, 587 and 465 are walked until a session
// completes. Privacy-protected domains short-circuit to unknown with zero
// network traffic. The returned slice matches the input order.
func (p *Prober) ProbeBatch(ctx context.Context, emails []string, mxHost string) []Result {
	start := time.Now()

	if len(emails) == 0 {
		return nil
	}
	_, dom, ok := strings.Cut(emails[0], "@")
	if !ok {
		return resultsWith(emails, mxHost, func(r *Result) {
			r.Status = StatusInvalid
			r.Message = "Malformed address."
			r.DurationMS = sinceMS(start)
		})
	}

	if verify.PrivacyProtected(dom) {
		return resultsWith(emails, mxHost, func(r *Result) {
			r.Skipped = true
			r.Message = "Domain does not support SMTP verification (privacy protected)."
			r.DurationMS = sinceMS(start)
		})
	}

	if mxHost == "" {
		return resultsWith(emails, mxHost, func(r *Result) {
			r.Status = StatusInvalid
			r.Message = "No MX records available."
			r.DurationMS = sinceMS(start)
		})
	}

	var lastErr error
	timedOut := false
	for _, port := range p.cfg.Ports {
		if err := ctx.Err(); err != nil {
			lastErr = err
			timedOut = true
			break
		}
		results, err := p.attempt(emails, dom, mxHost, port)
		if err != nil {
			lastErr = err
			if isTimeout(err) {
				timedOut = true
			}
			continue
		}
		for i := range results {
			results[i].DurationMS = sinceMS(start)
		}
		return results
	}

	wasTimeout := timedOut
	return resultsWith(emails, mxHost, func(r *Result) {
		r.TimedOut = wasTimeout
		if lastErr != nil {
			r.Message = lastErr.Error()
		}
		r.DurationMS = sinceMS(start)
	})
}

// attempt runs one full session on one port. A nil error means the session
// reached a protocol conclusion, even an unfavourable one; errors mean the
// transport failed and the next port should be tried.
func (p *Prober) attempt(emails []string, dom, mxHost string, port int) ([]Result, error) {
	conn, err := p.pool.Acquire(mxHost, port, port == 465)
	if err != nil {
		return nil, err
	}

	var maxRTT time.Duration
	cmd := func(format string, args ...interface{}) (int, string, error) {
		t0 := time.Now()
		code, msg, err := conn.Cmd(format, args...)
		if rtt := time.Since(t0); rtt > maxRTT {
			maxRTT = rtt
		}
		return code, msg, err
	}

	if conn.Fresh() {
		if err := p.greet(conn, cmd, port, mxHost); err != nil {
			p.pool.Discard(conn)
			return nil, err
		}
	} else {
		if code, msg, err := cmd("RSET"); err != nil || code >= 400 {
			p.pool.Discard(conn)
			if err == nil {
				err = fmt.Errorf("RSET rejected: %d %s", code, msg)
			}
			return nil, err
		}
	}

	if marker := antiSpamMarker(conn.Banner); marker != "" {
		results := resultsWith(emails, mxHost, func(r *Result) {
			r.Port = port
			r.Banner = conn.Banner
			r.AntiSpam = true
			r.Message = fmt.Sprintf("Anti-spam gateway detected (%s).", marker)
			r.Tarpit = maxRTT > p.cfg.TarpitThreshold
		})
		p.pool.Release(conn)
		return results, nil
	}

	code, msg, err := cmd("MAIL FROM:<%s>", p.cfg.MailFrom)
	if err != nil {
		p.pool.Discard(conn)
		return nil, fmt.Errorf("MAIL FROM: %w", err)
	}
	if code >= 400 {
		results := resultsWith(emails, mxHost, func(r *Result) {
			r.Port = port
			r.Banner = conn.Banner
			r.Code = code
			r.AntiSpam = true
			r.Message = "Server rejected MAIL FROM (anti-spam)."
			r.Tarpit = maxRTT > p.cfg.TarpitThreshold
		})
		p.pool.Release(conn)
		return results, nil
	}

	results := make([]Result, len(emails))
	for i, email := range emails {
		code, msg, err = cmd("RCPT TO:<%s>", email)
		if err != nil {
			p.pool.Discard(conn)
			return nil, fmt.Errorf("RCPT TO: %w", err)
		}
		results[i] = Result{
			Email:      email,
			MXHost:     mxHost,
			Port:       port,
			Banner:     conn.Banner,
			Code:       code,
			Message:    msg,
			Status:     classifyRCPT(code),
			Greylisted: code == 450 || code == 451,
		}
	}

	// Catch-all test in the same session: a server that accepts a random
	// address accepts anything.
	fakeCode, _, err := cmd("RCPT TO:<%s>", randomAddress(dom))
	if err != nil {
		p.pool.Discard(conn)
		return nil, fmt.Errorf("catch-all RCPT TO: %w", err)
	}
	catchAll := fakeCode >= 200 && fakeCode < 300
	tarpit := maxRTT > p.cfg.TarpitThreshold
	for i := range results {
		results[i].CatchAll = catchAll
		results[i].Tarpit = tarpit
	}

	p.pool.Release(conn)
	return results, nil
}

func classifyRCPT(code int) Status {
	switch {
	case code >= 200 && code < 300:
		return StatusDeliverable
	case code == 550 || code == 551 || code == 553:
		return StatusInvalid
	default:
		return StatusUnknown
	}
}

// greet reads the banner and introduces the session: EHLO with HELO
// fallback, and on port 587 a STARTTLS upgrade plus re-EHLO when the server
// offers it.
func (p *Prober) greet(conn *smtppool.Conn, cmd func(string, ...interface{}) (int, string, error), port int, mxHost string) error {
	code, banner, err := conn.ReadResponse()
	if err != nil {
		return fmt.Errorf("banner: %w", err)
	}
	if code >= 500 {
		return fmt.Errorf("server rejected connection: %d %s", code, banner)
	}
	conn.Banner = banner

	code, ehlo, err := cmd("EHLO %s", p.cfg.HeloDomain)
	if err != nil {
		return fmt.Errorf("EHLO: %w", err)
	}
	if code >= 400 {
		code, ehlo, err = cmd("HELO %s", p.cfg.HeloDomain)
		if err != nil {
			return fmt.Errorf("HELO: %w", err)
		}
		if code >= 400 {
			return fmt.Errorf("greeting rejected: %d %s", code, ehlo)
		}
		conn.Banner = banner + " | " + ehlo
		return nil
	}
	conn.Banner = banner + " | " + ehlo

	if port == 587 && strings.Contains(strings.ToUpper(ehlo), "STARTTLS") {
		code, _, err := cmd("STARTTLS")
		if err != nil {
			return fmt.Errorf("STARTTLS: %w", err)
		}
		if code == 220 {
			if err := conn.UpgradeTLS(mxHost); err != nil {
				return err
			}
			code, _, err := cmd("EHLO %s", p.cfg.HeloDomain)
			if err != nil {
				return fmt.Errorf("EHLO after STARTTLS: %w", err)
			}
			if code >= 400 {
				return fmt.Errorf("EHLO after STARTTLS rejected: %d", code)
			}
		}
	}
	return nil
}

func resultsWith(emails []string, mxHost string, fill func(*Result)) []Result {
	results := make([]Result, len(emails))
	for i, email := range emails {
		results[i] = Result{Email: email, Status: StatusUnknown, MXHost: mxHost}
		fill(&results[i])
	}
	return results
}

func antiSpamMarker(banner string) string {
	lower := strings.ToLower(banner)
	for _, marker := range antiSpamMarkers {
		if strings.Contains(lower, strings.ToLower(marker)) {
			return marker
		}
	}
	return ""
}

const probeLetters = "abcdefghijklmnopqrstuvwxyz"

func randomAddress(dom string) string {
	b := make([]byte, 12)
	for i := range b {
		b[i] = probeLetters[rand.Intn(len(probeLetters))]
	}
	return string(b) + "@" + dom
}

func isTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded)
}

func sinceMS(t time.Time) int64 {
	return time.Since(t).Milliseconds()
}
