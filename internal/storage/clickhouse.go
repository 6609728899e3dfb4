package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// ClickHouseConfig holds ClickHouse connection settings.
type ClickHouseConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
}

// ClickHouseDB wraps a ClickHouse connection for decode analytics.
type ClickHouseDB struct {
	conn driver.Conn
}

// Conn returns the underlying ClickHouse connection for direct queries.
func (d *ClickHouseDB) Conn() driver.Conn {
	return d.conn
}

// OpenClickHouse opens a connection to ClickHouse.
func OpenClickHouse(ctx context.Context, cfg ClickHouseConfig) (*ClickHouseDB, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout:     10 * time.Second,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}

	return &ClickHouseDB{conn: conn}, nil
}

// Close closes the connection.
func (d *ClickHouseDB) Close() error {
	return d.conn.Close()
}

// CreateSchema creates the decode analytics table if it does not exist.
func (d *ClickHouseDB) CreateSchema(ctx context.Context) error {
	schema := `CREATE TABLE IF NOT EXISTS decode_events (
		decoded_at DateTime64(3, 'UTC'),
		vin String,
		valid UInt8,
		make LowCardinality(String),
		model LowCardinality(String),
		model_year UInt16,
		body_class LowCardinality(String),
		country LowCardinality(String),
		confidence Float64,
		error_codes String,
		result_json String
	) ENGINE = MergeTree()
	PARTITION BY toYYYYMM(decoded_at)
	ORDER BY (make, model, decoded_at)`

	if err := d.conn.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create decode_events: %w", err)
	}
	return nil
}

// InsertBatch stores a batch of decode events in one block.
func (d *ClickHouseDB) InsertBatch(ctx context.Context, events []*InsertParams) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := d.conn.PrepareBatch(ctx, `
		INSERT INTO decode_events (decoded_at, vin, valid, make, model, model_year, body_class, country, confidence, error_codes, result_json)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, p := range events {
		resultJSON, err := p.marshalResult()
		if err != nil {
			return err
		}
		valid := uint8(0)
		if p.Valid {
			valid = 1
		}
		if err := batch.Append(p.DecodedAt, p.VIN, valid, p.Make, p.Model, uint16(p.ModelYear),
			p.BodyClass, p.Country, p.Confidence, p.errorCodesCSV(), resultJSON); err != nil {
			return fmt.Errorf("append event: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// Insert stores a single decode event.
func (d *ClickHouseDB) Insert(ctx context.Context, p *InsertParams) error {
	return d.InsertBatch(ctx, []*InsertParams{p})
}

// CountByMake returns decode counts grouped by make.
func (d *ClickHouseDB) CountByMake(ctx context.Context) (map[string]uint64, error) {
	rows, err := d.conn.Query(ctx, "SELECT make, count() FROM decode_events GROUP BY make")
	if err != nil {
		return nil, fmt.Errorf("count by make: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]uint64)
	for rows.Next() {
		var mk string
		var count uint64
		if err := rows.Scan(&mk, &count); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[mk] = count
	}
	return counts, rows.Err()
}
