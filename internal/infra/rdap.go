package infra

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"
)

// rdap.org redirects to the registry's own RDAP server, so a single base
// URL covers every TLD that publishes registration data.
const (
	defaultRDAPBase    = "https://rdap.org/domain/"
	defaultRDAPTimeout = 5 * time.Second
)

type rdapEvent struct {
	Action string    `json:"eventAction"`
	Date   time.Time `json:"eventDate"`
}

type rdapDomain struct {
	Events []rdapEvent `json:"events"`
}

// domainAge returns the days since the domain's registration event, or nil
// when RDAP has no answer. Age is an optional signal; every failure path
// degrades to unknown.
func (p *Prober) domainAge(ctx context.Context, host string) *int {
	ctx, cancel := context.WithTimeout(ctx, p.rdapTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.rdapBase+host, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("Accept", "application/rdap+json")

	resp, err := p.rdap.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil
	}

	var doc rdapDomain
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&doc); err != nil {
		return nil
	}
	for _, ev := range doc.Events {
		if ev.Action != "registration" || ev.Date.IsZero() {
			continue
		}
		days := int(time.Since(ev.Date).Hours() / 24)
		if days < 0 {
			return nil
		}
		return &days
	}
	return nil
}
