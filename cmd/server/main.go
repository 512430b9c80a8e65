package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"radius-auth-proxy/internal/authcache"
	"radius-auth-proxy/internal/backend/repository"
	"radius-auth-proxy/internal/config"
	"radius-auth-proxy/internal/db"
	"radius-auth-proxy/internal/gateway"
	"radius-auth-proxy/internal/mfa"
	mfarepo "radius-auth-proxy/internal/mfa/repository"
	"radius-auth-proxy/internal/router"
	"radius-auth-proxy/internal/telemetry/otel"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.RadiusSecret == "" {
		log.Fatal("RADIUS_SECRET is not set; create a .env from .env.example or set RADIUS_SECRET")
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	ctx := context.Background()

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	providers, err := otel.NewProviders(ctx, cfg.OTLPEndpoint, "radius-auth-proxy", cfg.OTLPInsecure)
	if err != nil {
		log.Fatalf("telemetry: %v", err)
	}
	providers.SetGlobal()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = providers.Shutdown(shutdownCtx)
	}()

	ttl, _ := cfg.CacheTTLDuration()
	timeout, _ := cfg.AdapterTimeoutDuration()

	cache := authcache.New(ttl, cfg.CacheSize)
	gate := mfa.NewGate(mfarepo.NewSQLRepository(conn), uint(cfg.TOTPSkew))
	rt := router.New(repository.NewSQLRepository(conn), cache, gate, timeout)
	if err := rt.Reload(ctx); err != nil {
		log.Fatalf("router: %v", err)
	}

	srv, err := gateway.New(cfg.RadiusAddr, cfg.RadiusSecret, rt, providers.TracerProvider, providers.MeterProvider)
	if err != nil {
		log.Fatalf("gateway: %v", err)
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil {
			log.Fatalf("serve: %v", err)
		}
	}()

	// SIGHUP re-reads backend configuration without dropping the listener.
	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)
	go func() {
		for range reload {
			if err := rt.Reload(ctx); err != nil {
				log.Printf("reload: %v", err)
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("shutting down RADIUS gateway...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
	log.Println("RADIUS gateway stopped")
}
