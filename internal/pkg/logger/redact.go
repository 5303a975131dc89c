package logger

import "strings"

// RedactEmail masks an address for logging: "john.doe@example.com" becomes
// "jo***@example.com". Local parts of two characters or fewer are masked
// entirely. The domain stays visible; it is what operators grep for.
func RedactEmail(email string) string {
	local, dom, ok := strings.Cut(email, "@")
	if !ok || strings.Contains(dom, "@") {
		return "***@***"
	}
	if len(local) > 2 {
		return local[:2] + "***@" + dom
	}
	return "***@" + dom
}
