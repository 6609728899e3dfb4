// Package main provides the decode-api server for VIN decoding.
//
// This is a standalone REST API server exposing the offline decoder plus,
// when PostgreSQL is configured, the fleet decode history.
//
// Usage:
//
//	decode-api -catalog catalog.db [options]
//
// Options:
//
//	-catalog FILE       Catalog file, .db or .db.gz (env: CORGI_CATALOG)
//	-overlay FILES      Comma-separated community overlay files (env: CORGI_OVERLAY)
//	-pg                 Enable the PostgreSQL history store
//	-pg-host HOST       PostgreSQL host (default: localhost, env: POSTGRES_HOST)
//	-pg-port PORT       PostgreSQL port (default: 5432, env: POSTGRES_PORT)
//	-pg-database DB     PostgreSQL database (default: corgi_fleet, env: POSTGRES_DATABASE)
//	-pg-user USER       PostgreSQL user (default: corgi, env: POSTGRES_USER)
//	-pg-password PASS   PostgreSQL password (default: corgi, env: POSTGRES_PASSWORD)
//	-port N             HTTP port (default: 8081)
//	-auth               Enable API key authentication
//	-api-keys KEYS      Comma-separated list of valid API keys
//
// API Endpoints:
//
//	GET /api/v1/health
//	    Health check endpoint.
//
//	GET /api/v1/decode/{vin}?patterns=true&raw=true&model_year=N
//	    Decode a VIN. Always returns 200 with the result envelope.
//
//	POST /api/v1/decode/batch
//	    Batch decode. Body: {"vins": ["..."], "options": {...}}
//
//	GET /api/v1/history/{vin}
//	    Stored fleet decode for a VIN (requires -pg).
//
// Authentication:
//
//	When -auth is enabled, requests must include an API key via:
//	  - X-API-Key header
//	  - Authorization: Bearer <key> header
//	  - ?api_key=<key> query parameter
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/cardog-ai/corgi/internal/api"
	"github.com/cardog-ai/corgi/internal/decode"
	"github.com/cardog-ai/corgi/internal/storage"
)

func main() {
	// Catalog flags.
	catalogPath := flag.String("catalog", envOrDefault("CORGI_CATALOG", ""), "Catalog file (.db or .db.gz)")
	overlay := flag.String("overlay", envOrDefault("CORGI_OVERLAY", ""), "Community overlay file(s), comma-separated")

	// PostgreSQL connection flags.
	pgEnabled := flag.Bool("pg", false, "Enable the PostgreSQL history store")
	pgHost := flag.String("pg-host", envOrDefault("POSTGRES_HOST", "localhost"), "PostgreSQL host")
	pgPort := flag.Int("pg-port", envOrDefaultInt("POSTGRES_PORT", 5432), "PostgreSQL port")
	pgUser := flag.String("pg-user", envOrDefault("POSTGRES_USER", "corgi"), "PostgreSQL user")
	pgPassword := flag.String("pg-password", envOrDefault("POSTGRES_PASSWORD", "corgi"), "PostgreSQL password")
	pgDB := flag.String("pg-database", envOrDefault("POSTGRES_DATABASE", "corgi_fleet"), "PostgreSQL database")

	// API server flags.
	port := flag.Int("port", 8081, "HTTP port for API server")
	authEnabled := flag.Bool("auth", false, "Enable API key authentication")
	apiKeys := flag.String("api-keys", "", "Comma-separated list of valid API keys (when auth enabled)")

	flag.Parse()

	if *catalogPath == "" {
		fmt.Fprintln(os.Stderr, "No catalog: pass -catalog or set CORGI_CATALOG")
		os.Exit(2)
	}

	cfg := decode.Config{}
	if *overlay != "" {
		cfg.OverlayPaths = strings.Split(*overlay, ",")
	}
	decoder, err := decode.New(*catalogPath, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening catalog: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = decoder.Close() }()

	ctx := context.Background()

	var pg *storage.PostgresDB
	if *pgEnabled {
		pg, err = storage.OpenPostgres(ctx, storage.PostgresConfig{
			Host:     *pgHost,
			Port:     *pgPort,
			Database: *pgDB,
			User:     *pgUser,
			Password: *pgPassword,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening PostgreSQL: %v\n", err)
			os.Exit(1)
		}
		defer pg.Close()

		if err := pg.CreateSchema(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error creating schema: %v\n", err)
			os.Exit(1)
		}
	}

	// Parse API keys.
	var keys []string
	if *apiKeys != "" {
		keys = strings.Split(*apiKeys, ",")
		for i := range keys {
			keys[i] = strings.TrimSpace(keys[i])
		}
	}

	server := api.NewDecodeServer(decoder, pg, api.Config{
		Port:        *port,
		AuthEnabled: *authEnabled,
		APIKeys:     keys,
	})

	if err := server.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}
