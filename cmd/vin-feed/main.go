// Package main provides the vin-feed consumer: it subscribes to a NATS
// subject carrying VINs, decodes each one against the local catalog, writes
// the outcome to the configured history sinks, and optionally publishes the
// result JSON to a reply subject.
//
// Usage:
//
//	vin-feed -catalog catalog.db [options]
//
// Options:
//
//	-catalog FILE       Catalog file, .db or .db.gz (env: CORGI_CATALOG)
//	-overlay FILES      Comma-separated community overlay files (env: CORGI_OVERLAY)
//	-nats URL           NATS server URL (default: nats://localhost:4222, env: NATS_URL)
//	-subject SUBJ       Subject to consume (default: vins.decode)
//	-queue GROUP        Queue group name (default: corgi-decoders)
//	-results SUBJ       Subject to publish results to (empty: reply-to only)
//	-db FILE            Optional SQLite history database
//	-pg                 Enable the PostgreSQL history store
//	-ch                 Enable the ClickHouse analytics sink
//
// Messages are JSON: {"vin": "...", "model_year": 2024} or a bare string
// VIN. Malformed messages are counted and skipped.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/cardog-ai/corgi/internal/decode"
	"github.com/cardog-ai/corgi/internal/storage"
)

// feedMessage is one inbound decode request.
type feedMessage struct {
	VIN       string `json:"vin"`
	ModelYear int    `json:"model_year,omitempty"`
}

type feedStats struct {
	Received int
	Decoded  int
	Invalid  int
	Skipped  int
	Stored   int
}

func main() {
	catalogPath := flag.String("catalog", envOrDefault("CORGI_CATALOG", ""), "Catalog file (.db or .db.gz)")
	overlay := flag.String("overlay", envOrDefault("CORGI_OVERLAY", ""), "Community overlay file(s), comma-separated")
	natsURL := flag.String("nats", envOrDefault("NATS_URL", nats.DefaultURL), "NATS server URL")
	subject := flag.String("subject", "vins.decode", "Subject to consume")
	queue := flag.String("queue", "corgi-decoders", "Queue group name")
	results := flag.String("results", "", "Subject to publish results to")
	dbPath := flag.String("db", "", "Optional SQLite history database")
	pgEnabled := flag.Bool("pg", false, "Enable the PostgreSQL history store")
	chEnabled := flag.Bool("ch", false, "Enable the ClickHouse analytics sink")

	pgHost := flag.String("pg-host", envOrDefault("POSTGRES_HOST", "localhost"), "PostgreSQL host")
	pgPort := flag.Int("pg-port", envOrDefaultInt("POSTGRES_PORT", 5432), "PostgreSQL port")
	pgUser := flag.String("pg-user", envOrDefault("POSTGRES_USER", "corgi"), "PostgreSQL user")
	pgPassword := flag.String("pg-password", envOrDefault("POSTGRES_PASSWORD", "corgi"), "PostgreSQL password")
	pgDB := flag.String("pg-database", envOrDefault("POSTGRES_DATABASE", "corgi_fleet"), "PostgreSQL database")

	chHost := flag.String("ch-host", envOrDefault("CLICKHOUSE_HOST", "localhost"), "ClickHouse host")
	chPort := flag.Int("ch-port", envOrDefaultInt("CLICKHOUSE_PORT", 9000), "ClickHouse port")
	chUser := flag.String("ch-user", envOrDefault("CLICKHOUSE_USER", "default"), "ClickHouse user")
	chPassword := flag.String("ch-password", envOrDefault("CLICKHOUSE_PASSWORD", ""), "ClickHouse password")
	chDB := flag.String("ch-database", envOrDefault("CLICKHOUSE_DATABASE", "corgi"), "ClickHouse database")

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

	var history *storage.DB
	if *dbPath != "" {
		history, err = storage.Open(*dbPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "History database error: %v\n", err)
			os.Exit(1)
		}
		defer func() { _ = history.Close() }()
	}

	var pg *storage.PostgresDB
	if *pgEnabled {
		pg, err = storage.OpenPostgres(ctx, storage.PostgresConfig{
			Host: *pgHost, Port: *pgPort, Database: *pgDB, User: *pgUser, Password: *pgPassword,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening PostgreSQL: %v\n", err)
			os.Exit(1)
		}
		defer pg.Close()
		if err := pg.CreateSchema(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error creating postgres schema: %v\n", err)
			os.Exit(1)
		}
	}

	var ch *storage.ClickHouseDB
	if *chEnabled {
		ch, err = storage.OpenClickHouse(ctx, storage.ClickHouseConfig{
			Host: *chHost, Port: *chPort, Database: *chDB, User: *chUser, Password: *chPassword,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening ClickHouse: %v\n", err)
			os.Exit(1)
		}
		defer func() { _ = ch.Close() }()
		if err := ch.CreateSchema(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error creating clickhouse schema: %v\n", err)
			os.Exit(1)
		}
	}

	nc, err := nats.Connect(*natsURL,
		nats.Name("corgi-vin-feed"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting to NATS: %v\n", err)
		os.Exit(1)
	}

	st := &feedStats{}

	handler := func(msg *nats.Msg) {
		st.Received++
		entry, ok := parseFeedMessage(msg.Data)
		if !ok {
			st.Skipped++
			return
		}

		res := decoder.Decode(ctx, entry.VIN, &decode.Options{
			ModelYear:          entry.ModelYear,
			IncludeDiagnostics: true,
		})
		st.Decoded++
		if !res.Valid {
			st.Invalid++
		}

		if history != nil || pg != nil || ch != nil {
			p, err := storage.BuildInsertParams(res, time.Now())
			if err == nil {
				stored := true
				if history != nil {
					if _, err := history.Insert(p); err != nil {
						log.Printf("history insert failed: %v", err)
						stored = false
					}
				}
				if pg != nil {
					if err := pg.UpsertDecode(ctx, p); err != nil {
						log.Printf("postgres upsert failed: %v", err)
						stored = false
					}
				}
				if ch != nil {
					if err := ch.Insert(ctx, p); err != nil {
						log.Printf("clickhouse insert failed: %v", err)
						stored = false
					}
				}
				if stored {
					st.Stored++
				}
			}
		}

		payload, err := json.Marshal(res)
		if err != nil {
			return
		}
		if msg.Reply != "" {
			_ = msg.Respond(payload)
		}
		if *results != "" {
			_ = nc.Publish(*results, payload)
		}
	}

	sub, err := nc.QueueSubscribe(*subject, *queue, handler)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error subscribing to %s: %v\n", *subject, err)
		os.Exit(1)
	}

	log.Printf("vin-feed consuming %s (queue %s) on %s", *subject, *queue, *natsURL)

	// Drain on shutdown so in-flight messages finish.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Printf("shutting down: received=%d decoded=%d invalid=%d skipped=%d stored=%d",
		st.Received, st.Decoded, st.Invalid, st.Skipped, st.Stored)
	_ = sub.Drain()
	if err := nc.Drain(); err != nil {
		_ = nc.Flush()
	}
	nc.Close()
}

// parseFeedMessage accepts a JSON object or a bare string VIN.
func parseFeedMessage(data []byte) (feedMessage, bool) {
	var entry feedMessage
	if err := json.Unmarshal(data, &entry); err == nil && entry.VIN != "" {
		return entry, true
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil && s != "" {
		return feedMessage{VIN: s}, true
	}
	trimmed := strings.TrimSpace(string(data))
	if trimmed != "" && !strings.HasPrefix(trimmed, "{") && !strings.HasPrefix(trimmed, "[") {
		return feedMessage{VIN: trimmed}, true
	}
	return feedMessage{}, false
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
