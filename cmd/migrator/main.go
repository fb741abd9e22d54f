package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"filevault/internal/app"
	"filevault/internal/config"
	"filevault/internal/storage/migrations"
	"filevault/internal/storage/mongodb"
)

func main() {
	var configPath, direction string
	flag.StringVar(&configPath, "config", "", "path to config file (or use CONFIG_PATH env)")
	flag.StringVar(&direction, "direction", migrations.DirectionUp, "migration direction: up or down")
	flag.Parse()

	if configPath == "" {
		configPath = os.Getenv("CONFIG_PATH")
	}

	cfg := config.MustLoadPath(configPath)

	if err := run(cfg.Storage, direction); err != nil {
		log.Fatal(err)
	}
}

// run migrates the backend named by cfg.Driver.
func run(cfg config.Storage, direction string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch cfg.Driver {
	case app.DriverSQLite:
		return report(migrations.SQLite(cfg.Path, direction))
	case app.DriverPostgres:
		return report(migrations.Postgres(cfg.DSN, direction))
	case app.DriverMongoDB:
		if direction != migrations.DirectionUp {
			return fmt.Errorf("mongodb backend only supports direction %q", migrations.DirectionUp)
		}

		log.Println("Connecting to MongoDB...")

		storage, err := mongodb.New(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			return fmt.Errorf("failed to connect to mongodb: %w", err)
		}
		defer storage.Close(ctx)

		if err := storage.EnsureIndexes(ctx); err != nil {
			return fmt.Errorf("failed to create indexes: %w", err)
		}

		log.Println("MongoDB connected, indexes created successfully")
		return nil
	case app.DriverMemory:
		log.Println("memory backend has no schema, nothing to migrate")
		return nil
	default:
		return fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func report(err error) error {
	switch {
	case err == nil:
		fmt.Println("migrations applied")
		return nil
	case errors.Is(err, migrations.ErrNoChange):
		fmt.Println("no migrations to apply")
		return nil
	default:
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
}
