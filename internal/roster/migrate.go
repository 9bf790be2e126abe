package roster

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Direction selects which way Migrate moves the schema.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// Migrate applies (Up) or rolls back (Down) every embedded migration against
// the database at dsn. Running with nothing to do is not an error.
func Migrate(dsn string, dir Direction) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("roster: migrations source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return fmt.Errorf("roster: migrate init: %w", err)
	}
	defer m.Close()

	switch dir {
	case Up:
		err = m.Up()
	case Down:
		err = m.Down()
	default:
		return fmt.Errorf("roster: unknown migration direction %q", dir)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("roster: migrate %s: %w", dir, err)
	}
	return nil
}
