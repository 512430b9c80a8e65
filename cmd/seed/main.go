// seed inserts development sample data for local testing.
// Idempotent: skips inserts if the dev backend (dev-users) already exists.
package main

import (
	"context"
	"errors"
	"log"
	"os"

	"radius-auth-proxy/internal/backend/domain"
	"radius-auth-proxy/internal/backend/repository"
	"radius-auth-proxy/internal/config"
	"radius-auth-proxy/internal/db"
	"radius-auth-proxy/internal/mfa"
	mfarepo "radius-auth-proxy/internal/mfa/repository"
)

const (
	devBackendName = "dev-users"
	devUserFile    = "dev-users.txt"
	devIdentity    = "dev"
	devPassword    = "password123"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	ctx := context.Background()
	backends := repository.NewSQLRepository(conn)

	existing, err := backends.List(ctx, false)
	if err != nil {
		log.Fatalf("seed check: %v", err)
	}
	for _, cfg := range existing {
		if cfg.Name == devBackendName {
			log.Printf("Seed already applied (%s exists). Skipping.", devBackendName)
			os.Exit(0)
		}
	}

	// password123 appears in plain form because this backend exists only for
	// local development; real deployments use digested schemes.
	line := devIdentity + " " + devPassword + " Reply-Message=dev access granted\n"
	if err := os.WriteFile(devUserFile, []byte(line), 0o600); err != nil {
		log.Fatalf("write dev user file: %v", err)
	}

	err = backends.Create(ctx, &domain.Config{
		Type:     domain.TypeFile,
		Name:     devBackendName,
		Enabled:  true,
		Priority: 10,
		Settings: map[string]string{"path": devUserFile, "digestScheme": "plain"},
	})
	if err != nil {
		log.Fatalf("create dev backend: %v", err)
	}
	log.Printf("Created file backend %q reading %s", devBackendName, devUserFile)

	enrollments := mfa.NewService(mfarepo.NewSQLRepository(conn), "radius-auth-proxy")
	if _, err := enrollments.Status(ctx, devIdentity); err == nil {
		log.Printf("MFA enrollment for %q already exists. Done.", devIdentity)
		return
	} else if !errors.Is(err, mfarepo.ErrNotFound) {
		log.Fatalf("enrollment check: %v", err)
	}

	enrollment, err := enrollments.Enroll(ctx, devIdentity)
	if err != nil {
		log.Fatalf("enroll: %v", err)
	}
	log.Printf("Enrolled %q in TOTP MFA", devIdentity)
	log.Printf("  provisioning URI: %s", enrollment.ProvisioningURI)
	log.Printf("  backup codes: %v", enrollment.BackupCodes)
	log.Printf("Authenticate as %s / %s<code> once the authenticator is registered.", devIdentity, devPassword)
}
