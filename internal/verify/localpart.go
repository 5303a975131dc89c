package verify

import (
	"regexp"
	"strings"
)

// LocalPartClass buckets a local part by what it most likely names.
type LocalPartClass string

const (
	LocalRole    LocalPartClass = "role"
	LocalGeneric LocalPartClass = "generic"
	LocalHuman   LocalPartClass = "human"
	LocalRandom  LocalPartClass = "random"
)

// UsernameStrength drives the free-provider decision rule.
type UsernameStrength string

const (
	StrengthWeak   UsernameStrength = "weak"
	StrengthNormal UsernameStrength = "normal"
	StrengthStrong UsernameStrength = "strong"
)

var roleLocals = map[string]struct{}{
	"admin": {}, "support": {}, "info": {}, "sales": {}, "contact": {},
	"help": {}, "abuse": {}, "security": {}, "billing": {}, "noreply": {},
	"postmaster": {}, "webmaster": {}, "hello": {}, "mail": {}, "team": {},
	"office": {}, "marketing": {}, "staff": {}, "newsletter": {},
}

var genericTestLocals = map[string]struct{}{
	"test": {}, "user": {}, "demo": {}, "example": {},
}

var humanNames = map[string]struct{}{
	"carlos": {}, "juan": {}, "maria": {}, "pedro": {}, "jose": {},
	"andres": {}, "luis": {}, "ana": {}, "laura": {}, "david": {},
	"miguel": {}, "sofia": {}, "paula": {}, "daniel": {},
}

var (
	reFirstLast  = regexp.MustCompile(`^[a-z]{3,}\.[a-z]{3,}$`)
	rePlainWord  = regexp.MustCompile(`^[a-z]{4,}$`)
	reDigitRun   = regexp.MustCompile(`\d{2,}`)
	reMixedDigit = regexp.MustCompile(`[a-z]\d+[a-z]`)
)

// LocalPart is the classification of a local part.
type LocalPart struct {
	Class    LocalPartClass   `json:"class"`
	Strength UsernameStrength `json:"strength"`
	IsRole   bool             `json:"is_role"`
	HasAlias bool             `json:"has_alias"`
}

// ClassifyLocalPart buckets a local part as role, generic, human or random
// and derives the username strength consumed by the free-provider rule.
// A plus tag is stripped before matching and reported as HasAlias.
//
// Precedence: role set, generic test set, known human names, first.last
// pattern, plain lowercase word, digit runs, digit-between-letters mixing,
// then generic. Strength maps random to weak and clearly personal locals
// (name set or first.last) to strong; plain words stay normal so that
// addresses like nobody@ are not over-promoted.
func ClassifyLocalPart(local string) LocalPart {
	local = strings.ToLower(strings.TrimSpace(local))
	lp := LocalPart{}
	if i := strings.IndexByte(local, '+'); i >= 0 {
		lp.HasAlias = true
		local = local[:i]
	}
	lp.Class = classifyLocal(local)
	lp.IsRole = lp.Class == LocalRole
	lp.Strength = localStrength(local, lp.Class)
	return lp
}

func classifyLocal(local string) LocalPartClass {
	if _, ok := roleLocals[local]; ok {
		return LocalRole
	}
	if _, ok := genericTestLocals[local]; ok {
		return LocalGeneric
	}
	if _, ok := humanNames[local]; ok {
		return LocalHuman
	}
	if reFirstLast.MatchString(local) {
		return LocalHuman
	}
	if rePlainWord.MatchString(local) {
		return LocalHuman
	}
	if reDigitRun.MatchString(local) {
		return LocalRandom
	}
	if reMixedDigit.MatchString(local) {
		return LocalRandom
	}
	return LocalGeneric
}

func localStrength(local string, class LocalPartClass) UsernameStrength {
	if class == LocalRandom {
		return StrengthWeak
	}
	if _, ok := humanNames[local]; ok {
		return StrengthStrong
	}
	if reFirstLast.MatchString(local) {
		return StrengthStrong
	}
	return StrengthNormal
}
