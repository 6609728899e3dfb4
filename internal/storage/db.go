package storage

import (
	"context"
	"fmt"
)

// SinkConfig holds connection settings for both remote history sinks.
type SinkConfig struct {
	ClickHouse ClickHouseConfig
	Postgres   PostgresConfig
}

// DefaultSinkConfig returns a configuration with default local development
// settings.
func DefaultSinkConfig() SinkConfig {
	return SinkConfig{
		ClickHouse: ClickHouseConfig{
			Host:     "localhost",
			Port:     9000,
			Database: "corgi",
			User:     "default",
			Password: "",
		},
		Postgres: PostgresConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "corgi_fleet",
			User:     "corgi",
			Password: "corgi",
		},
	}
}

// Sinks wraps both ClickHouse and PostgreSQL connections.
type Sinks struct {
	CH *ClickHouseDB // ClickHouse for decode analytics.
	PG *PostgresDB   // PostgreSQL for per-VIN fleet history.
}

// OpenSinks opens connections to both ClickHouse and PostgreSQL.
func OpenSinks(ctx context.Context, cfg SinkConfig) (*Sinks, error) {
	ch, err := OpenClickHouse(ctx, cfg.ClickHouse)
	if err != nil {
		return nil, fmt.Errorf("clickhouse: %w", err)
	}

	pg, err := OpenPostgres(ctx, cfg.Postgres)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("postgres: %w", err)
	}

	return &Sinks{CH: ch, PG: pg}, nil
}

// Close closes both database connections.
func (s *Sinks) Close() error {
	var errs []error
	if s.CH != nil {
		if err := s.CH.Close(); err != nil {
			errs = append(errs, fmt.Errorf("clickhouse: %w", err))
		}
	}
	if s.PG != nil {
		s.PG.Close()
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// CreateSchemas creates the schemas in both databases.
func (s *Sinks) CreateSchemas(ctx context.Context) error {
	if err := s.CH.CreateSchema(ctx); err != nil {
		return fmt.Errorf("clickhouse schema: %w", err)
	}
	if err := s.PG.CreateSchema(ctx); err != nil {
		return fmt.Errorf("postgres schema: %w", err)
	}
	return nil
}

// Store stores one decode in every open sink.
func (s *Sinks) Store(ctx context.Context, p *InsertParams) error {
	if s.PG != nil {
		if err := s.PG.UpsertDecode(ctx, p); err != nil {
			return err
		}
	}
	if s.CH != nil {
		if err := s.CH.Insert(ctx, p); err != nil {
			return err
		}
	}
	return nil
}
