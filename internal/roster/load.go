package roster

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/tunematch/arena/internal/profile"
)

// ErrEmpty is returned when neither the database nor the built-in list yields
// a usable profile.
var ErrEmpty = errors.New("roster: no profiles")

// Lister is anything that can enumerate stored profiles; *Store implements it.
type Lister interface {
	List(ctx context.Context) ([]profile.Profile, error)
}

// Origin says where a loaded roster came from.
type Origin string

const (
	OriginDatabase Origin = "database"
	OriginBuiltin  Origin = "builtin"
)

// Load builds a roster from src, falling back to the built-in profiles when
// src is nil, fails, or holds no usable rows.
func Load(ctx context.Context, src Lister, log *zap.Logger) (*profile.Roster, Origin, error) {
	if log == nil {
		log = zap.NewNop()
	}

	if src != nil {
		profiles, err := src.List(ctx)
		switch {
		case err != nil:
			log.Warn("loading profiles from database failed, using built-in roster", zap.Error(err))
		case len(profiles) == 0:
			log.Info("users table is empty, using built-in roster")
		default:
			r := build(profiles, log)
			if r.Len() > 0 {
				return r, OriginDatabase, nil
			}
			log.Warn("no usable rows in users table, using built-in roster")
		}
	}

	profiles, err := Builtin()
	if err != nil {
		return nil, "", err
	}
	r := build(profiles, log)
	if r.Len() == 0 {
		return nil, "", ErrEmpty
	}
	return r, OriginBuiltin, nil
}

func build(profiles []profile.Profile, log *zap.Logger) *profile.Roster {
	r, skipped := profile.NewRoster(profiles)
	for _, err := range skipped {
		log.Warn("skipping profile", zap.Error(err))
	}
	return r
}
