package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/elskow/bms/internal/audit"
	"github.com/elskow/bms/internal/auth"
	"github.com/elskow/bms/internal/config"
	"github.com/elskow/bms/internal/database"
	"github.com/elskow/bms/internal/migration"
	"github.com/elskow/bms/internal/ratelimit"
	"github.com/elskow/bms/internal/server"
)

func main() {
	command := flag.String("command", "up", "migration command (up/down/status/version/reset/seed)")
	flag.Parse()

	if os.Getenv("APP_ENV") == "" {
		os.Setenv("APP_ENV", server.EnvDevelopment)
	}

	// Load config
	cfg, err := server.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if *command == "seed" {
		if err := seed(cfg); err != nil {
			log.Fatalf("Failed to seed accounts: %v", err)
		}
		return
	}

	// Create migrator
	migrator, err := migration.NewMigrator(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to create migrator: %v", err)
	}
	defer migrator.Close()

	// Run migration command
	switch *command {
	case "up":
		if err := migrator.Up(); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
		log.Println("Successfully ran migrations")

	case "down":
		if err := migrator.Down(); err != nil {
			log.Fatalf("Failed to rollback migrations: %v", err)
		}
		log.Println("Successfully rolled back migrations")

	case "status":
		if err := migrator.Status(); err != nil {
			log.Fatalf("Failed to get migration status: %v", err)
		}

	case "version":
		version, err := migrator.Version()
		if err != nil {
			log.Fatalf("Failed to get migration version: %v", err)
		}
		log.Printf("Current migration version: %d", version)

	case "reset":
		if err := migrator.Reset(); err != nil {
			log.Fatalf("Failed to reset migrations: %v", err)
		}
		log.Println("Successfully reset migrations")

	default:
		log.Fatalf("Unknown command: %s", *command)
	}
}

// seed creates the configured system accounts against an already migrated
// database.
func seed(cfg *config.AppConfig) error {
	if len(cfg.Auth.SeedAccounts) == 0 {
		log.Println("No seed accounts configured")
		return nil
	}

	logger, err := server.NewLogger(cfg.Environment)
	if err != nil {
		return err
	}
	defer logger.Sync()

	manager, err := database.NewManager(&cfg.Database, logger)
	if err != nil {
		return err
	}
	defer manager.Close()

	recorder := audit.NewAsyncRecorder(audit.NewStore(manager.DB()), logger, 0)
	recorder.Start()

	svc := auth.NewService(
		&cfg.Auth,
		logger,
		auth.NewRepository(manager.DB()),
		ratelimit.NewLimiters(cfg, nil),
		recorder,
		nil,
	)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	created, seedErr := svc.Seed(ctx, cfg.Auth.SeedAccounts)
	if err := recorder.Stop(ctx); err != nil {
		logger.Warn("audit recorder did not drain", zap.Error(err))
	}
	if seedErr != nil {
		return seedErr
	}

	log.Printf("Seeded %d of %d system accounts", created, len(cfg.Auth.SeedAccounts))
	return nil
}
