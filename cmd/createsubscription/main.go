package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/makkenzo/device-licensing-api/internal/domain/subscription"
	"github.com/makkenzo/device-licensing-api/internal/storage/postgres"
	"github.com/makkenzo/device-licensing-api/internal/util"
	"go.uber.org/zap"
)

func main() {
	company := flag.String("company", "", "Company name")
	system := flag.String("system", "", "System name")
	plan := flag.String("plan", "standard", "Plan name")
	database := flag.String("database", "", "Tenant database name returned to clients")
	maxActivations := flag.Int("max-activations", 1, "Maximum number of active devices")
	months := flag.Int("months", 12, "Subscription length in months")
	flag.Parse()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}
	if *company == "" || *system == "" || *database == "" {
		log.Fatal("-company, -system and -database are required")
	}
	if *maxActivations < 1 {
		log.Fatal("-max-activations must be at least 1")
	}

	fullKey, prefix, keyHash, err := util.GenerateAPIKey()
	if err != nil {
		log.Fatalf("Failed to generate API key: %v", err)
	}

	fmt.Printf("Generated API Key (SAVE THIS securely!):\n%s\n\n", fullKey)
	fmt.Printf("Prefix: %s\n", prefix)
	fmt.Printf("Key Hash: %s\n", keyHash)

	logger, _ := zap.NewDevelopment()
	pool, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v\n", err)
	}
	defer pool.Close()

	store := postgres.NewStore(pool, logger)

	now := time.Now().UTC()
	sub := &subscription.Subscription{
		CompanyName:    *company,
		SystemName:     *system,
		PlanName:       *plan,
		DatabaseName:   *database,
		APIKeyHash:     keyHash,
		APIKeyPrefix:   prefix,
		Status:         subscription.StatusActive,
		MaxActivations: *maxActivations,
		StartDate:      now,
		EndDate:        now.AddDate(0, *months, 0),
	}

	id, err := store.Subscriptions().Create(context.Background(), sub)
	if err != nil {
		log.Fatalf("Failed to save subscription to database: %v", err)
	}

	fmt.Printf("\nSubscription saved to database with ID: %s\n", id)
}
