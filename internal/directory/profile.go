package directory

import (
	"context"

	"opsdispatch/internal/identity"
	"opsdispatch/internal/store"
)

// Profile is the stored contact record for a known person.
type Profile struct {
	Ref      string
	Name     string
	Email    string
	Phone    string
	Audience string // tag used by scheduled broadcasts ("volunteers", "staff", ...)
}

// PutProfile writes a profile. Emails are normalized at write time so the
// equality lookup in Phone() works; the raw phone is kept as entered.
func PutProfile(ctx context.Context, st store.Store, p Profile) error {
	return st.Set(ctx, store.Join(ProfilesCollection, p.Ref), map[string]any{
		"name":     p.Name,
		"email":    identity.NormalizeEmail(p.Email),
		"phone":    p.Phone,
		"audience": p.Audience,
	})
}

// ProfilesByAudience lists profiles carrying the given audience tag.
func ProfilesByAudience(ctx context.Context, st store.Store, audience string) ([]Profile, error) {
	docs, err := st.Query(ctx, store.Query{
		Collection: ProfilesCollection,
		Field:      "audience",
		Equals:     audience,
	})
	if err != nil {
		return nil, err
	}
	out := make([]Profile, 0, len(docs))
	for _, d := range docs {
		_, ref, ok := splitProfilePath(d.Path)
		if !ok {
			continue
		}
		out = append(out, Profile{
			Ref:      ref,
			Name:     d.String("name"),
			Email:    d.String("email"),
			Phone:    d.String("phone"),
			Audience: d.String("audience"),
		})
	}
	return out, nil
}

func splitProfilePath(path string) (collection, ref string, ok bool) {
	collection, _, err := store.SplitPath(path)
	if err != nil || collection != ProfilesCollection {
		return "", "", false
	}
	return collection, path[len(ProfilesCollection)+1:], true
}
