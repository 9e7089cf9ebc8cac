package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"authz-gateway/internal/config"
	"authz-gateway/internal/repository/postgres"
	"authz-gateway/internal/roles"
	"authz-gateway/pkg/password"
	"authz-gateway/pkg/validator"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

const setupTimeout = 30 * time.Second

func main() {
	envFile := pflag.String("env-file", ".env", "dotenv file loaded before reading the environment")
	adminEmail := pflag.String("admin-email", "", "seed an administrator with this email")
	adminPassword := pflag.String("admin-password", "", "password for the seeded administrator")
	adminName := pflag.String("admin-name", "Administrator", "display name for the seeded administrator")
	pflag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		log.Printf("Warning: Error loading %s file: %v\n", *envFile, err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), setupTimeout)
	defer cancel()

	fmt.Println("=== Setting Up Database ===")
	fmt.Println()

	db, err := postgres.New(ctx, &cfg.Database)
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer db.Close()

	fmt.Println("✅ Connected to database")
	fmt.Println()

	fmt.Println("Executing schema...")
	if err := db.Migrate(ctx); err != nil {
		log.Fatalf("❌ Failed to execute schema: %v", err)
	}

	fmt.Println("✅ Schema executed successfully")
	fmt.Println()

	fmt.Println("=== Verifying Tables ===")
	for _, table := range []string{"users", "audit_events"} {
		exists, err := db.TableExists(ctx, table)
		if err != nil {
			fmt.Printf("❌ Error checking table '%s': %v\n", table, err)
			continue
		}

		if exists {
			fmt.Printf("✅ Table '%s' created\n", table)
		} else {
			fmt.Printf("❌ Table '%s' NOT created\n", table)
		}
	}

	if *adminEmail != "" {
		fmt.Println()
		fmt.Println("=== Seeding Administrator ===")

		if err := validator.Email(*adminEmail); err != nil {
			log.Fatalf("❌ Invalid --admin-email: %v", err)
		}
		if err := validator.Password(*adminPassword); err != nil {
			log.Fatalf("❌ Invalid --admin-password: %v", err)
		}

		hash, err := password.Hash(*adminPassword)
		if err != nil {
			log.Fatalf("❌ Failed to hash password: %v", err)
		}

		user, err := postgres.NewUserRepository(db).Create(ctx, postgres.CreateUserInput{
			Email:        *adminEmail,
			Name:         *adminName,
			Role:         roles.Administrator,
			PasswordHash: hash,
		})
		if err != nil {
			log.Fatalf("❌ Failed to create administrator: %v", err)
		}

		fmt.Printf("✅ Administrator '%s' created with id %s\n", user.Email, user.ID)
	}

	fmt.Println()
	fmt.Println("=== Database Setup Complete ===")
	fmt.Println()
	fmt.Println("Next: Run 'go run .' to start the gateway")
}
