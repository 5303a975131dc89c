// Package infra probes a domain's mail infrastructure: SPF and DMARC
// records, web presence, TLS on the web host, and registration age. None of
// it touches individual mailboxes; the signals separate real commercial
// domains from invented or parked ones without relying on SMTP RCPT.
package infra

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ignite/email-verifier/internal/pkg/httpretry"
)

const (
	defaultWebTimeout = 4 * time.Second
	defaultTLSTimeout = 3 * time.Second
	defaultDNSTimeout = 4 * time.Second

	maxBodyBytes = 1 << 20
)

// Markers that identify a parked-for-sale page during the web presence
// check. Matched against the lowercased response body.
var parkingMarkers = []string{
	"buy this domain",
	"domain for sale",
	"parking",
	"sedo",
	"afternic",
	"godaddy cashparking",
}

type lookupTXTFunc func(ctx context.Context, name string) ([]string, error)

type dialTLSFunc func(ctx context.Context, host string) error

// Prober collects infrastructure signals for a domain. All network pieces
// are injectable for tests.
type Prober struct {
	web         httpretry.HTTPDoer
	rdap        httpretry.HTTPDoer
	rdapBase    string
	lookupTXT   lookupTXTFunc
	dialTLS     dialTLSFunc
	webTimeout  time.Duration
	tlsTimeout  time.Duration
	dnsTimeout  time.Duration
	rdapTimeout time.Duration
}

// Option configures a Prober.
type Option func(*Prober)

// WithWebClient replaces the HTTP client used for the web presence check.
func WithWebClient(c httpretry.HTTPDoer) Option {
	return func(p *Prober) { p.web = c }
}

// WithRDAPClient replaces the HTTP client used for RDAP age lookups.
func WithRDAPClient(c httpretry.HTTPDoer) Option {
	return func(p *Prober) { p.rdap = c }
}

// WithLookupTXT replaces the TXT resolver used for SPF/DMARC checks.
func WithLookupTXT(fn func(ctx context.Context, name string) ([]string, error)) Option {
	return func(p *Prober) { p.lookupTXT = fn }
}

// WithTLSDialer replaces the TLS connect check.
func WithTLSDialer(fn func(ctx context.Context, host string) error) Option {
	return func(p *Prober) { p.dialTLS = fn }
}

// WithWebTimeout sets the per-scheme timeout for the web presence check.
func WithWebTimeout(d time.Duration) Option {
	return func(p *Prober) {
		if d > 0 {
			p.webTimeout = d
		}
	}
}

// WithTLSTimeout sets the timeout for the TLS connect check.
func WithTLSTimeout(d time.Duration) Option {
	return func(p *Prober) {
		if d > 0 {
			p.tlsTimeout = d
		}
	}
}

// NewProber returns a Prober with production defaults: a redirect-following
// HTTP client, the system resolver for TXT records, a real TLS dial, and a
// retrying RDAP client.
func NewProber(opts ...Option) *Prober {
	p := &Prober{
		web:         &http.Client{},
		rdap:        httpretry.NewRetryClient(&http.Client{}, 2),
		rdapBase:    defaultRDAPBase,
		lookupTXT:   net.DefaultResolver.LookupTXT,
		dialTLS:     defaultDialTLS,
		webTimeout:  defaultWebTimeout,
		tlsTimeout:  defaultTLSTimeout,
		dnsTimeout:  defaultDNSTimeout,
		rdapTimeout: defaultRDAPTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Probe gathers all infrastructure signals for the domain. Individual check
// failures degrade to their zero signal; Probe itself never fails.
func (p *Prober) Probe(ctx context.Context, host string) Signals {
	s := Signals{Domain: host}
	s.AgeDays = p.domainAge(ctx, host)
	s.SPF = p.hasSPF(ctx, host)
	s.DMARC = p.hasDMARC(ctx, host)
	s.WebStatus = p.webPresence(ctx, host)
	s.HTTPS = p.validTLS(ctx, host)
	return s
}

func (p *Prober) hasSPF(ctx context.Context, host string) bool {
	return p.txtHasPrefix(ctx, host, "v=spf1")
}

func (p *Prober) hasDMARC(ctx context.Context, host string) bool {
	return p.txtHasPrefix(ctx, "_dmarc."+host, "v=dmarc1")
}

func (p *Prober) txtHasPrefix(ctx context.Context, name, prefix string) bool {
	ctx, cancel := context.WithTimeout(ctx, p.dnsTimeout)
	defer cancel()

	records, err := p.lookupTXT(ctx, name)
	if err != nil {
		return false
	}
	for _, txt := range records {
		if strings.HasPrefix(strings.ToLower(txt), prefix) {
			return true
		}
	}
	return false
}

// webPresence fetches the domain root over https then http. A parking page
// wins immediately; an OK status with a non-trivial body counts as active.
// Server errors skip to the next scheme.
func (p *Prober) webPresence(ctx context.Context, host string) WebStatus {
	for _, scheme := range []string{"https", "http"} {
		status, body, err := p.fetch(ctx, scheme+"://"+host)
		if err != nil {
			continue
		}
		if status >= 500 {
			continue
		}
		lower := strings.ToLower(body)
		if containsAny(lower, parkingMarkers) {
			return WebParking
		}
		switch status {
		case http.StatusOK, http.StatusMovedPermanently, http.StatusFound:
			if len(strings.TrimSpace(lower)) > 200 {
				return WebActive
			}
		}
	}
	return WebNone
}

func (p *Prober) fetch(ctx context.Context, url string) (int, string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.webTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, "", err
	}
	resp, err := p.web.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	return resp.StatusCode, string(body), nil
}

func (p *Prober) validTLS(ctx context.Context, host string) bool {
	ctx, cancel := context.WithTimeout(ctx, p.tlsTimeout)
	defer cancel()
	return p.dialTLS(ctx, host) == nil
}

func defaultDialTLS(ctx context.Context, host string) error {
	d := tls.Dialer{NetDialer: &net.Dialer{}}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, "443"))
	if err != nil {
		return err
	}
	return conn.Close()
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
