package verify

import "strings"

const (
	maxEmailLen  = 254
	maxLocalLen  = 64
	maxDomainLen = 255
	maxLabelLen  = 63
)

// Punctuation allowed in the local part besides letters and digits.
const localSpecials = ".!#$%&'*+/=?^_`{|}~-"

// Syntax holds the parsed form of an address after the syntax check.
// Local and Domain are empty unless Valid is true.
type Syntax struct {
	Email  string `json:"email"`
	Local  string `json:"local,omitempty"`
	Domain string `json:"domain,omitempty"`
	Valid  bool   `json:"valid"`
}

// CheckSyntax validates the shape of an address and splits it into local part
// and domain. Input is trimmed and lowercased. The rules are the pragmatic
// RFC subset: exactly one @, a 1-64 char local part without leading, trailing
// or doubled dots, a dotted domain of 1-63 char labels without edge hyphens,
// and a 254 char total cap.
func CheckSyntax(email string) Syntax {
	s := Syntax{Email: strings.ToLower(strings.TrimSpace(email))}
	if len(s.Email) > maxEmailLen || strings.Count(s.Email, "@") != 1 {
		return s
	}
	at := strings.Index(s.Email, "@")
	local, domain := s.Email[:at], s.Email[at+1:]
	if !validLocal(local) || !validDomain(domain) {
		return s
	}
	s.Local = local
	s.Domain = domain
	s.Valid = true
	return s
}

func validLocal(local string) bool {
	if len(local) == 0 || len(local) > maxLocalLen {
		return false
	}
	if local[0] == '.' || local[len(local)-1] == '.' || strings.Contains(local, "..") {
		return false
	}
	for _, r := range local {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case strings.ContainsRune(localSpecials, r):
		default:
			return false
		}
	}
	return true
}

func validDomain(domain string) bool {
	if len(domain) == 0 || len(domain) > maxDomainLen || !strings.Contains(domain, ".") {
		return false
	}
	for _, label := range strings.Split(domain, ".") {
		if label == "" || len(label) > maxLabelLen {
			return false
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for _, r := range label {
			switch {
			case r >= 'a' && r <= 'z':
			case r >= '0' && r <= '9':
			case r == '-':
			default:
				return false
			}
		}
	}
	return true
}
