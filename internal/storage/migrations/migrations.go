// Package migrations applies the embedded SQL schema with golang-migrate.
package migrations

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed sqlite/*.sql postgres/*.sql
var fs embed.FS

const (
	DirectionUp   = "up"
	DirectionDown = "down"
)

// ErrNoChange is returned when the schema is already at the requested version.
var ErrNoChange = migrate.ErrNoChange

// SQLite migrates the sqlite database file at path.
func SQLite(path, direction string) error {
	return run("sqlite", "sqlite3://"+path, direction)
}

// Postgres migrates the database behind a postgres:// or postgresql:// DSN.
func Postgres(dsn, direction string) error {
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if rest, ok := strings.CutPrefix(dsn, scheme); ok {
			return run("postgres", "pgx5://"+rest, direction)
		}
	}
	return fmt.Errorf("migrations.Postgres: unsupported dsn scheme")
}

func run(dir, databaseURL, direction string) error {
	const op = "migrations.run"

	if direction != DirectionUp && direction != DirectionDown {
		return fmt.Errorf("%s: direction must be %q or %q, got %q", op, DirectionUp, DirectionDown, direction)
	}

	src, err := iofs.New(fs, dir)
	if err != nil {
		return fmt.Errorf("%s: source: %w", op, err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _, _ = m.Close() }()

	if direction == DirectionUp {
		err = m.Up()
	} else {
		err = m.Down()
	}
	if err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return ErrNoChange
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}
