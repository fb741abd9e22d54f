package main

import (
	"path/filepath"
	"testing"

	"filevault/internal/app"
	"filevault/internal/config"
	"filevault/internal/storage/migrations"
	"filevault/internal/storage/sqlite"

	"github.com/stretchr/testify/require"
)

func TestRun_SQLiteUpIsRepeatable(t *testing.T) {
	cfg := config.Storage{
		Driver: app.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "filevault.db"),
	}

	require.NoError(t, run(cfg, migrations.DirectionUp))
	require.NoError(t, run(cfg, migrations.DirectionUp))

	s, err := sqlite.New(cfg.Path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	_, err = s.Users(t.Context())
	require.NoError(t, err)
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name      string
		cfg       config.Storage
		direction string
	}{
		{
			name:      "Unknown driver",
			cfg:       config.Storage{Driver: "cassandra"},
			direction: migrations.DirectionUp,
		},
		{
			name:      "Bad direction",
			cfg:       config.Storage{Driver: app.DriverSQLite, Path: filepath.Join(t.TempDir(), "x.db")},
			direction: "sideways",
		},
		{
			name:      "Mongo down",
			cfg:       config.Storage{Driver: app.DriverMongoDB},
			direction: migrations.DirectionDown,
		},
		{
			name:      "Postgres dsn scheme",
			cfg:       config.Storage{Driver: app.DriverPostgres, DSN: "mysql://localhost/db"},
			direction: migrations.DirectionUp,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Error(t, run(tt.cfg, tt.direction))
		})
	}
}

func TestRun_MemoryIsNoop(t *testing.T) {
	require.NoError(t, run(config.Storage{Driver: app.DriverMemory}, migrations.DirectionUp))
}
