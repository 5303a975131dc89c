package verify

import "strings"

// DomainType categorises the domain of an address.
type DomainType string

const (
	DomainFreePersonal  DomainType = "unverifiable_personal"
	DomainInstitutional DomainType = "institutional"
	DomainBusiness      DomainType = "business"
	DomainDisposable    DomainType = "disposable"
	DomainPrivateRelay  DomainType = "private_relay"
)

var freeProviders = map[string]struct{}{
	"gmail.com": {}, "googlemail.com": {},
	"outlook.com": {}, "hotmail.com": {},
	"yahoo.com": {}, "icloud.com": {},
	"protonmail.com": {}, "gmx.com": {}, "yandex.com": {},
}

var institutionalSuffixes = []string{".edu", ".gov", ".mil"}

var disposableDomains = []string{
	"mailinator.com",
	"tempmail.com",
	"guerrillamail.com",
	"10minutemail.com",
	"trashmail.com",
	"yopmail.com",
}

var privateRelays = map[string]string{
	"privaterelay.appleid.com": "apple",
	"duck.com":                 "duckduckgo",
	"simplelogin.co":           "simplelogin",
	"relay.firefox.com":        "firefox",
	"pm.me":                    "protonmail",
}

// Large consumer providers that accept any RCPT; probing them yields nothing.
var nonVerifiableDomains = map[string]struct{}{
	"gmail.com": {}, "googlemail.com": {},
	"outlook.com": {}, "hotmail.com": {}, "live.com": {},
	"yahoo.com":  {},
	"icloud.com": {}, "me.com": {}, "mac.com": {},
	"office365.com": {}, "microsoft.com": {},
}

// DomainInfo is the classification of an address domain.
type DomainInfo struct {
	Provider       string     `json:"provider"`
	Type           DomainType `json:"type"`
	SMTPVerifiable bool       `json:"smtp_verifiable"`
	IsFreeProvider bool       `json:"is_free_provider"`
	IsDisposable   bool       `json:"is_disposable"`
	IsPrivateRelay bool       `json:"is_private_relay"`
}

// ClassifyDomain buckets a domain by provider tables and TLD. Disposable and
// private-relay tables match on domain suffix so subdomains are caught.
// Only business domains are worth an RCPT probe.
func ClassifyDomain(domain string) DomainInfo {
	domain = strings.ToLower(strings.TrimSpace(domain))

	for _, d := range disposableDomains {
		if domain == d || strings.HasSuffix(domain, "."+d) {
			return DomainInfo{Provider: d, Type: DomainDisposable, IsDisposable: true}
		}
	}
	for d, provider := range privateRelays {
		if domain == d || strings.HasSuffix(domain, "."+d) {
			return DomainInfo{Provider: provider, Type: DomainPrivateRelay, IsPrivateRelay: true}
		}
	}
	if _, ok := freeProviders[domain]; ok {
		return DomainInfo{Provider: domain, Type: DomainFreePersonal, IsFreeProvider: true}
	}
	for _, suffix := range institutionalSuffixes {
		if strings.HasSuffix(domain, suffix) {
			return DomainInfo{Provider: domain, Type: DomainInstitutional}
		}
	}
	return DomainInfo{Provider: domain, Type: DomainBusiness, SMTPVerifiable: true}
}

// PrivacyProtected reports whether the domain belongs to a provider that
// does not expose RCPT verification. These are short-circuited before any
// SMTP traffic.
func PrivacyProtected(domain string) bool {
	_, ok := nonVerifiableDomains[strings.ToLower(strings.TrimSpace(domain))]
	return ok
}
