package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/paulinevos/joindin-api/internal/security"
)

const (
	webClientID   = "web2-dev"
	adminPassword = "admin123pw"
	demoPassword  = "demo123pw"
)

func main() {
	env := getEnv("JOINDIN_ENV", "dev")
	if env != "dev" && env != "test" {
		log.Fatalf("refusing to seed: JOINDIN_ENV must be 'dev' or 'test' (got '%s')", env)
	}

	host := getEnv("POSTGRES_HOST", "localhost")
	port := getEnv("POSTGRES_PORT", "5432")
	db := getEnv("POSTGRES_DB", "joindin")
	user := getEnv("POSTGRES_USER", "joindin")
	password := getEnv("POSTGRES_PASSWORD", "joindin")
	sslmode := getEnv("POSTGRES_SSLMODE", "disable")

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		user, password, host, port, db, sslmode)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		log.Fatalf("connect db: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("ping db: %v", err)
	}

	fmt.Println("Seeding database...")

	clientSecret, err := seedClient(ctx, pool)
	if err != nil {
		log.Fatalf("seed client: %v", err)
	}
	fmt.Println("✓ OAuth client seeded")

	if err := seedUsers(ctx, pool); err != nil {
		log.Fatalf("seed users: %v", err)
	}
	fmt.Println("✓ Users seeded")

	fmt.Println("\n=== Seed Complete ===")
	fmt.Println("\nDemo Credentials:")
	fmt.Println("  Username: admin")
	fmt.Println("  Password: " + adminPassword)
	fmt.Println("  Username: demo")
	fmt.Println("  Password: " + demoPassword)

	if env == "dev" {
		fmt.Println("\nOAuth Client (DEV ONLY):")
		fmt.Printf("  client_id: %s\n", webClientID)
		fmt.Printf("  client_secret: %s\n", clientSecret)
	}
}

func seedClient(ctx context.Context, pool *pgxpool.Pool) (string, error) {
	secret := uuid.NewString()
	_, err := pool.Exec(ctx, `
		INSERT INTO oauth_clients (id, secret, name, enabled_password_grant)
		VALUES ($1, $2, 'Development web client', true)
		ON CONFLICT (id) DO UPDATE SET secret = EXCLUDED.secret
	`, webClientID, secret)
	if err != nil {
		return "", err
	}
	return secret, nil
}

func seedUsers(ctx context.Context, pool *pgxpool.Pool) error {
	users := []struct {
		username string
		fullName string
		email    string
		password string
		admin    bool
	}{
		{"admin", "Site Admin", "admin@example.com", adminPassword, true},
		{"demo", "Demo User", "demo@example.com", demoPassword, false},
	}

	for _, u := range users {
		hash, err := security.HashPassword(u.password, 10)
		if err != nil {
			return fmt.Errorf("hash password for %s: %w", u.username, err)
		}
		_, err = pool.Exec(ctx, `
			INSERT INTO users (username, full_name, email, password_hash, verified, trusted, admin)
			VALUES ($1, $2, $3, $4, true, $5, $5)
			ON CONFLICT (username) DO NOTHING
		`, u.username, u.fullName, u.email, hash, u.admin)
		if err != nil {
			return fmt.Errorf("insert %s: %w", u.username, err)
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
