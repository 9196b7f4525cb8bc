// Package identity holds the recipient identity value used across the
// dispatcher. Every component that needs to answer "is this the same person"
// goes through Key() instead of comparing raw contact fields.
package identity

import "strings"

// DefaultCountryCode is the home country calling code used when the
// config does not override it.
const DefaultCountryCode = "972"

// minSendableDigits is the shortest phone number we will hand to the gateway.
const minSendableDigits = 9

// Identity describes a person the system may contact, by whichever of
// {user ref, email, name, phone} happen to be known. Build a fresh value per
// request and treat it as immutable afterwards.
type Identity struct {
	DisplayName     string
	UserRef         string
	Email           string
	Phone           string
	PhoneNormalized string
}

// New builds an Identity and pre-normalizes the phone with the given
// country calling code.
func New(displayName, userRef, email, phone, countryCode string) Identity {
	return Identity{
		DisplayName:     strings.TrimSpace(displayName),
		UserRef:         strings.TrimSpace(userRef),
		Email:           strings.TrimSpace(email),
		Phone:           strings.TrimSpace(phone),
		PhoneNormalized: NormalizePhone(phone, countryCode),
	}
}

// Key computes the identity equality key with precedence
// user ref > normalized email > normalized name. Two identities are the same
// recipient iff their keys match. Empty when nothing usable is known.
func (id Identity) Key() string {
	if id.UserRef != "" {
		return "uid:" + id.UserRef
	}
	if e := NormalizeEmail(id.Email); e != "" {
		return "email:" + e
	}
	if n := NormalizeName(id.DisplayName); n != "" {
		return "name:" + n
	}
	return ""
}

// Same reports whether two identities resolve to the same recipient.
func (id Identity) Same(other Identity) bool {
	k := id.Key()
	return k != "" && k == other.Key()
}

// NormalizeEmail lowercases and trims an email for comparison purposes.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizeName collapses inner whitespace and lowercases a display name.
func NormalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// NormalizePhone strips all non-digit characters, then:
//   - if the digits already start with the country calling code, keep as-is
//   - if they start with a leading trunk "0", replace it with the country code
//   - otherwise return the digits unchanged
//
// Callers must check Sendable() before attempting a send; too-short results
// are a normal outcome for malformed records, not an error.
func NormalizePhone(raw, countryCode string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		return ""
	}
	if countryCode == "" {
		countryCode = DefaultCountryCode
	}
	if strings.HasPrefix(digits, countryCode) {
		return digits
	}
	if strings.HasPrefix(digits, "0") {
		return countryCode + digits[1:]
	}
	return digits
}

// Sendable reports whether a normalized phone is long enough to hand to the
// gateway.
func Sendable(phone string) bool {
	return len(phone) >= minSendableDigits
}
