// Package roles holds the fixed set of recognized role names.
//
// The whitelist is never the primary authorization source. The gatekeeper only
// consults it when the policy decision point denies or cannot be reached.
package roles

import "strings"

const (
	Administrator = "administrator"
	Candidate     = "candidate"
	Recruiter     = "recruiter"
	Issuer        = "issuer"
)

var whitelist = map[string]struct{}{
	Administrator: {},
	Candidate:     {},
	Recruiter:     {},
	Issuer:        {},
}

// Normalize lower-cases and trims a role name.
func Normalize(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}

// IsRecognized reports whether the normalized role is in the whitelist. The empty
// role is never recognized.
func IsRecognized(role string) bool {
	_, ok := whitelist[Normalize(role)]
	return ok
}

// Whitelist returns a copy of the recognized role names.
func Whitelist() []string {
	out := make([]string, 0, len(whitelist))
	for r := range whitelist {
		out = append(out, r)
	}
	return out
}
