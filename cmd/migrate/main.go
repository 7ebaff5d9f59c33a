package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"

	"github.com/PhuccNguyen/hhsvhbvn/internal/domain"
	"github.com/PhuccNguyen/hhsvhbvn/internal/repository"
	"github.com/PhuccNguyen/hhsvhbvn/pkg/credentials"
	"github.com/PhuccNguyen/hhsvhbvn/pkg/database"
	"github.com/PhuccNguyen/hhsvhbvn/pkg/logger"
	"github.com/PhuccNguyen/hhsvhbvn/pkg/retry"
)

const usage = "Usage: go run ./cmd/migrate [up|drop|reset|prime [round...]]"

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found")
	}

	// Get database URL
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL environment variable is not set")
	}

	// Get command
	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	command := os.Args[1]

	// Connect to database
	ctx := context.Background()
	conn, err := pgx.Connect(ctx, dbURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer conn.Close(ctx)

	switch command {
	case "up":
		if err := database.EnsureSchema(ctx, conn); err != nil {
			log.Fatalf("Failed to create tables: %v", err)
		}
		fmt.Println("✅ Duplicate index tables created successfully")

	case "drop":
		if err := database.DropSchema(ctx, conn); err != nil {
			log.Fatalf("Failed to drop tables: %v", err)
		}
		fmt.Println("✅ Duplicate index tables dropped successfully")

	case "reset":
		if err := database.DropSchema(ctx, conn); err != nil {
			log.Fatalf("Failed to drop tables: %v", err)
		}
		if err := database.EnsureSchema(ctx, conn); err != nil {
			log.Fatalf("Failed to create tables: %v", err)
		}
		fmt.Println("✅ Duplicate index tables recreated successfully")

	case "prime":
		if err := primeIndex(ctx, conn, os.Args[2:]); err != nil {
			log.Fatalf("Failed to prime duplicate index: %v", err)
		}

	default:
		fmt.Printf("Unknown command: %s\n", command)
		fmt.Println(usage)
		os.Exit(1)
	}
}

// primeIndex loads every requested round (all rounds by default) from the
// spreadsheet into the Postgres duplicate index
func primeIndex(ctx context.Context, conn *pgx.Conn, rounds []string) error {
	if err := database.EnsureSchema(ctx, conn); err != nil {
		return err
	}

	catalog, err := domain.LoadCatalog(os.Getenv("EVENTS_FILE"))
	if err != nil {
		return err
	}
	if len(rounds) == 0 {
		for _, e := range catalog.All() {
			rounds = append(rounds, string(e.ID))
		}
	}

	store := repository.NewSheetsStore(repository.SheetsStoreConfig{
		Credentials: credentials.NewEnvProvider(),
		Catalog:     catalog,
		Index:       repository.NewPostgresIndex(conn, repository.DefaultIndexWarmTTL),
		Retry:       retry.DefaultPolicy(),
		Logger:      logger.NewNop(),
		Endpoint:    os.Getenv("SHEETS_ENDPOINT"),
	})

	for _, round := range rounds {
		n, err := store.RebuildIndex(ctx, round)
		if err != nil {
			return fmt.Errorf("%s: %w", round, err)
		}
		fmt.Printf("✅ %s: indexed %d submissions\n", round, n)
	}
	return nil
}
