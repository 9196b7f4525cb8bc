// Package directory resolves loosely-typed contact records to usable
// destination addresses via the stored profile collection.
package directory

import (
	"context"
	"errors"

	"opsdispatch/internal/identity"
	"opsdispatch/internal/store"
	logx "opsdispatch/pkg/logx"
)

// ProfilesCollection holds one document per known person:
// profiles/<uid> with fields name, email, phone, audience.
const ProfilesCollection = "profiles"

type Resolver struct {
	st          store.Store
	countryCode string
	log         logx.Logger
}

func NewResolver(st store.Store, countryCode string, log logx.Logger) *Resolver {
	if countryCode == "" {
		countryCode = identity.DefaultCountryCode
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Resolver{st: st, countryCode: countryCode, log: log}
}

// CountryCode returns the configured home calling code.
func (r *Resolver) CountryCode() string { return r.countryCode }

// Phone resolves a destination phone for the identity, trying in order:
// the phone already on the record, a stored profile by user ref, a stored
// profile by normalized email. It returns a normalized phone or "" - absence
// of a phone is a normal outcome, never an error. Callers must still check
// identity.Sendable before dispatching.
func (r *Resolver) Phone(ctx context.Context, id identity.Identity) string {
	if p := identity.NormalizePhone(id.Phone, r.countryCode); identity.Sendable(p) {
		return p
	}
	if id.PhoneNormalized != "" && identity.Sendable(id.PhoneNormalized) {
		return id.PhoneNormalized
	}

	if id.UserRef != "" {
		doc, err := r.st.Get(ctx, store.Join(ProfilesCollection, id.UserRef))
		if err == nil {
			if p := identity.NormalizePhone(doc.String("phone"), r.countryCode); identity.Sendable(p) {
				return p
			}
		} else if !errors.Is(err, store.ErrNotFound) {
			r.log.Debug("profile lookup by ref failed", logx.String("ref", id.UserRef), logx.Err(err))
		}
	}

	if email := identity.NormalizeEmail(id.Email); email != "" {
		docs, err := r.st.Query(ctx, store.Query{
			Collection: ProfilesCollection,
			Field:      "email",
			Equals:     email,
			Limit:      1,
		})
		if err != nil {
			r.log.Debug("profile lookup by email failed", logx.Err(err))
			return ""
		}
		if len(docs) > 0 {
			if p := identity.NormalizePhone(docs[0].String("phone"), r.countryCode); identity.Sendable(p) {
				return p
			}
		}
	}
	return ""
}
