// Package roster loads the profiles players compare, from PostgreSQL when a
// database is configured and from a built-in list otherwise.
package roster

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/tunematch/arena/internal/profile"
)

// Fallbacks for rows with missing display fields.
const (
	defaultGenres  = "Pop;Rock;Electronic"
	defaultArtists = "Artist 1;Artist 2;Artist 3;Artist 4;Artist 5"
	avatarURL      = "https://i.pravatar.cc/300?img=%d"
)

// Store reads and writes profiles in the users table.
type Store struct {
	db *sql.DB
}

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("roster: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("roster: ping: %w", err)
	}
	return db, nil
}

// NewStore creates a store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// List returns every profile in insertion order. Rows with empty display
// fields are filled with placeholders so every card renders.
func (s *Store) List(ctx context.Context) ([]profile.Profile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, profile_image_url, top_genres, top_artists
		 FROM users
		 ORDER BY created_at, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("roster: list: %w", err)
	}
	defer rows.Close()

	var out []profile.Profile
	for i := 0; rows.Next(); i++ {
		var id string
		var name, image, genres, artists sql.NullString
		if err := rows.Scan(&id, &name, &image, &genres, &artists); err != nil {
			return nil, fmt.Errorf("roster: scan: %w", err)
		}
		out = append(out, fromRow(i, id, name.String, image.String, genres.String, artists.String))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("roster: list: %w", err)
	}
	return out, nil
}

// Upsert inserts profiles, replacing rows that share an id.
func (s *Store) Upsert(ctx context.Context, profiles []profile.Profile) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("roster: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO users (id, name, profile_image_url, top_genres, top_artists)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET
		   name = EXCLUDED.name,
		   profile_image_url = EXCLUDED.profile_image_url,
		   top_genres = EXCLUDED.top_genres,
		   top_artists = EXCLUDED.top_artists`,
	)
	if err != nil {
		return fmt.Errorf("roster: prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, p := range profiles {
		_, err := stmt.ExecContext(ctx, p.ID, p.Name, p.ImageURL,
			profile.JoinList(p.Genres), profile.JoinList(p.Artists))
		if err != nil {
			return fmt.Errorf("roster: upsert %q: %w", p.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("roster: commit: %w", err)
	}
	return nil
}

// fromRow converts a users row at position i into a profile.
func fromRow(i int, id, name, image, genres, artists string) profile.Profile {
	if profile.Normalize(name) == "" {
		name = fmt.Sprintf("User %d", i)
	}
	if profile.Normalize(image) == "" {
		image = fmt.Sprintf(avatarURL, i+1)
	}
	g := profile.SplitList(genres)
	if len(g) == 0 {
		g = profile.SplitList(defaultGenres)
	}
	a := profile.SplitList(artists)
	if len(a) == 0 {
		a = profile.SplitList(defaultArtists)
	}
	return profile.Profile{
		ID:       id,
		Name:     name,
		ImageURL: image,
		Genres:   g,
		Artists:  a,
	}
}
