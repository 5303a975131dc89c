// Package dnsx resolves MX record sets with a bounded lifetime, an A-record
// fallback for MX-less domains, a parking-host sniff, and a per-domain cache
// with singleflight deduplication.
package dnsx

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"
)

// DefaultTimeout bounds a full MX resolution including the fallback query.
const DefaultTimeout = 4 * time.Second

// Substrings that mark an MX host as parked or junk. A match poisons the
// whole record set and fails the lookup.
var parkingKeywords = []string{
	"example.com",
	"invalid",
	"parking",
	"localhost",
}

// MXRecord is one mail exchanger entry.
type MXRecord struct {
	Host string `json:"host"`
	Pref uint16 `json:"pref"`
}

// MXLookupError describes a failed MX resolution. Timeout and Parked let
// callers distinguish the transient case from the poisoned one.
type MXLookupError struct {
	Domain  string
	Timeout bool
	Parked  bool
	Err     error
}

func (e *MXLookupError) Error() string {
	switch {
	case e.Parked:
		return fmt.Sprintf("mx lookup %s: parked or junk MX host", e.Domain)
	case e.Timeout:
		return fmt.Sprintf("mx lookup %s: timeout", e.Domain)
	default:
		return fmt.Sprintf("mx lookup %s: %v", e.Domain, e.Err)
	}
}

func (e *MXLookupError) Unwrap() error { return e.Err }

// lookupFuncs are injectable for tests.
type lookupMXFunc func(ctx context.Context, domain string) ([]*net.MX, error)
type lookupHostFunc func(ctx context.Context, host string) ([]string, error)

// Resolver performs cached MX lookups. Safe for concurrent use.
type Resolver struct {
	timeout    time.Duration
	lookupMX   lookupMXFunc
	lookupHost lookupHostFunc
	cache      *lruCache
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithTimeout overrides the total lookup lifetime.
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) { r.timeout = d }
}

// WithCacheSize overrides the cache capacity.
func WithCacheSize(n int) Option {
	return func(r *Resolver) { r.cache = newLRUCache(n) }
}

// WithLookupFuncs replaces the DNS lookup functions (for tests).
func WithLookupFuncs(mx lookupMXFunc, host lookupHostFunc) Option {
	return func(r *Resolver) {
		r.lookupMX = mx
		r.lookupHost = host
	}
}

// NewResolver creates a Resolver with a 2048-entry cache and the default
// 4 second lifetime.
func NewResolver(opts ...Option) *Resolver {
	res := &net.Resolver{}
	r := &Resolver{
		timeout:    DefaultTimeout,
		lookupMX:   res.LookupMX,
		lookupHost: res.LookupHost,
		cache:      newLRUCache(2048),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// LookupMX returns the MX set for a domain in ascending preference order.
// An empty set with a nil error means the domain exists but has no mail
// exchangers and no A record. Results, including failures, are cached for
// the process lifetime under an LRU bound; concurrent lookups for the same
// domain share one query.
func (r *Resolver) LookupMX(ctx context.Context, domain string) ([]MXRecord, error) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" || !strings.Contains(domain, ".") {
		return nil, &MXLookupError{Domain: domain, Err: errors.New("invalid domain")}
	}

	records, err, leader := r.cache.getOrClaim(domain)
	if !leader {
		return records, err
	}

	records, err = r.resolve(ctx, domain)
	r.cache.fill(domain, records, err)
	return records, err
}

func (r *Resolver) resolve(ctx context.Context, domain string) ([]MXRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	mxs, err := r.lookupMX(ctx, domain)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) {
			if dnsErr.IsTimeout {
				return nil, &MXLookupError{Domain: domain, Timeout: true, Err: err}
			}
			if dnsErr.IsNotFound {
				return r.fallbackToA(ctx, domain)
			}
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &MXLookupError{Domain: domain, Timeout: true, Err: err}
		}
		return nil, &MXLookupError{Domain: domain, Err: err}
	}

	records := make([]MXRecord, 0, len(mxs))
	for _, mx := range mxs {
		host := strings.TrimSuffix(strings.ToLower(mx.Host), ".")
		if host == "" {
			continue
		}
		records = append(records, MXRecord{Host: host, Pref: mx.Pref})
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].Pref != records[j].Pref {
			return records[i].Pref < records[j].Pref
		}
		return records[i].Host < records[j].Host
	})

	for _, rec := range records {
		for _, kw := range parkingKeywords {
			if strings.Contains(rec.Host, kw) {
				return nil, &MXLookupError{Domain: domain, Parked: true}
			}
		}
	}

	if len(records) == 0 {
		return r.fallbackToA(ctx, domain)
	}
	return records, nil
}

// fallbackToA synthesizes a preference-0 record pointing at the domain
// itself when it resolves to an address. Failure keeps the set empty; no MX
// and no A is a caller decision, not a lookup error.
func (r *Resolver) fallbackToA(ctx context.Context, domain string) ([]MXRecord, error) {
	addrs, err := r.lookupHost(ctx, domain)
	if err != nil || len(addrs) == 0 {
		return []MXRecord{}, nil
	}
	return []MXRecord{{Host: domain, Pref: 0}}, nil
}
