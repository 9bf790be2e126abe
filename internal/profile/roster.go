package profile

import (
	"errors"
	"fmt"
)

var (
	ErrMissingID   = errors.New("profile: missing id")
	ErrDuplicateID = errors.New("profile: duplicate id")
)

// Roster is an immutable, ordered set of profiles keyed by id.
type Roster struct {
	ids  []string
	byID map[string]Profile
}

// NewRoster normalizes profiles and indexes them in input order. Profiles
// without an id, or repeating an id already seen, are skipped and reported
// in the returned error slice.
func NewRoster(profiles []Profile) (*Roster, []error) {
	r := &Roster{
		ids:  make([]string, 0, len(profiles)),
		byID: make(map[string]Profile, len(profiles)),
	}
	var skipped []error
	for i, raw := range profiles {
		p := raw.normalized()
		if p.ID == "" {
			skipped = append(skipped, fmt.Errorf("%w: entry %d", ErrMissingID, i))
			continue
		}
		if _, dup := r.byID[p.ID]; dup {
			skipped = append(skipped, fmt.Errorf("%w: %q at entry %d", ErrDuplicateID, p.ID, i))
			continue
		}
		r.ids = append(r.ids, p.ID)
		r.byID[p.ID] = p
	}
	return r, skipped
}

// IDs returns the profile ids in roster order. The slice is a copy.
func (r *Roster) IDs() []string {
	out := make([]string, len(r.ids))
	copy(out, r.ids)
	return out
}

func (r *Roster) Len() int { return len(r.ids) }

// Get looks up a profile by id.
func (r *Roster) Get(id string) (Profile, bool) {
	p, ok := r.byID[id]
	return p, ok
}

// Card returns the display card for id, falling back to a bare card carrying
// only the id when the profile is unknown.
func (r *Roster) Card(id string) Card {
	if p, ok := r.byID[id]; ok {
		return p.Card()
	}
	return Card{ID: id, Name: id, Genres: []string{}, Artists: []string{}}
}

// Profiles returns every profile in roster order.
func (r *Roster) Profiles() []Profile {
	out := make([]Profile, 0, len(r.ids))
	for _, id := range r.ids {
		out = append(out, r.byID[id])
	}
	return out
}
