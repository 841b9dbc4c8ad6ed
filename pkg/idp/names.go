package idp

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	fallbackFirstName = "User"
	fallbackLastName  = "Account"
)

// DefaultNamesFromEmail derives first and last names from the local part of
// an email: "jane_doe@x" becomes ("Jane", "Doe"), "ops@x" becomes
// ("Ops", "Account").
func DefaultNamesFromEmail(email string) (string, string) {
	local, _, _ := strings.Cut(email, "@")
	parts := strings.FieldsFunc(local, func(r rune) bool {
		return r == '_' || r == '-' || unicode.IsSpace(r)
	})

	first, last := fallbackFirstName, fallbackLastName
	if len(parts) > 0 {
		first = capitalize(parts[0])
	}
	if len(parts) > 1 {
		last = capitalize(parts[1])
	}
	return first, last
}

// SplitFullName splits a display name on its first space. A single word
// yields an empty last name.
func SplitFullName(fullName string) (string, string) {
	first, last, _ := strings.Cut(strings.TrimSpace(fullName), " ")
	return first, strings.TrimSpace(last)
}

func joinName(first, last string) string {
	return strings.TrimSpace(first + " " + last)
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}
