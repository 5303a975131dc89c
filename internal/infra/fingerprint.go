package infra

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/ignite/email-verifier/internal/domain"
	"github.com/ignite/email-verifier/internal/pkg/httpretry"
)

const (
	defaultFingerprintTimeout = 6 * time.Second
	fingerprintUserAgent      = "Mozilla/5.0 (EmailVerifierBot/1.0)"
)

// Markers that flag a fingerprinted page as parked. Broader than the web
// presence set: a fingerprint only runs when the verdict hinges on it, so
// "coming soon" shells count too.
var fingerprintParkingMarkers = []string{
	"domain for sale",
	"buy this domain",
	"coming soon",
	"under construction",
	"parked",
	"sedo",
	"godaddy",
	"namecheap",
	"hostgator",
}

// Fingerprinter captures what a domain's website looks like. The decision
// engine uses the fingerprint to promote commercial domains whose mail
// servers refuse mailbox probes.
type Fingerprinter struct {
	client  httpretry.HTTPDoer
	timeout time.Duration
}

// FingerprintOption configures a Fingerprinter.
type FingerprintOption func(*Fingerprinter)

// WithFingerprintClient replaces the HTTP client.
func WithFingerprintClient(c httpretry.HTTPDoer) FingerprintOption {
	return func(f *Fingerprinter) { f.client = c }
}

// WithFingerprintTimeout sets the per-scheme fetch timeout.
func WithFingerprintTimeout(d time.Duration) FingerprintOption {
	return func(f *Fingerprinter) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// NewFingerprinter returns a Fingerprinter backed by a redirect-following
// HTTP client.
func NewFingerprinter(opts ...FingerprintOption) *Fingerprinter {
	f := &Fingerprinter{
		client:  &http.Client{},
		timeout: defaultFingerprintTimeout,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fingerprint fetches the domain's site over https then http. Statuses of
// 400 and above fall through to the next scheme (the status is still
// recorded). When no scheme answers, the zero fingerprint comes back:
// no website, IsEmpty true, LooksLegit false.
func (f *Fingerprinter) Fingerprint(ctx context.Context, host string) *domain.WebSignal {
	sig := &domain.WebSignal{IsEmpty: true}

	for _, scheme := range []string{"https", "http"} {
		status, finalHTTPS, body, err := f.fetch(ctx, scheme+"://"+host)
		if err != nil {
			continue
		}
		sig.HTTPStatus = status
		if status >= 400 {
			continue
		}

		sig.HasWebsite = true
		sig.HTTPS = finalHTTPS
		f.inspect(sig, body)
		break
	}
	return sig
}

func (f *Fingerprinter) fetch(ctx context.Context, url string) (status int, https bool, body string, err error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, false, "", err
	}
	req.Header.Set("User-Agent", fingerprintUserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, false, "", err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))

	// Redirects are followed, so the scheme that matters is the final one.
	if resp.Request != nil && resp.Request.URL != nil {
		https = resp.Request.URL.Scheme == "https"
	}
	return resp.StatusCode, https, string(raw), nil
}

func (f *Fingerprinter) inspect(sig *domain.WebSignal, body string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return
	}

	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		sig.Title = title
	}
	if desc, ok := doc.Find(`meta[name="description"]`).First().Attr("content"); ok {
		sig.MetaDescription = strings.TrimSpace(desc)
	}
	doc.Find("link[rel]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		rel, _ := s.Attr("rel")
		if strings.Contains(strings.ToLower(rel), "icon") {
			sig.HasFavicon = true
			return false
		}
		return true
	})

	text := strings.ToLower(doc.Text())
	if containsAny(text, fingerprintParkingMarkers) {
		sig.IsEmpty = true
		sig.LooksLegit = false
	} else {
		sig.IsEmpty = false
		sig.LooksLegit = true
	}
}
