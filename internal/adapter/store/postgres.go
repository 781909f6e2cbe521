package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/marketplace/delivery-service/internal/domain/model"
)

var (
	_ CursorStore = (*PostgresCursor)(nil)
	_ EventSource = (*PostgresSource)(nil)
)

// PostgresOption configures the postgres backends.
type PostgresOption func(*postgresTable)

type postgresTable struct {
	schema string
	name   string
}

func (t postgresTable) ident() string {
	return pgx.Identifier{t.schema, t.name}.Sanitize()
}

// WithSchema sets the PostgreSQL schema for the table.
// Default: "public"
func WithSchema(schema string) PostgresOption {
	return func(t *postgresTable) {
		if schema != "" {
			t.schema = schema
		}
	}
}

// WithTableName overrides the default table name.
func WithTableName(name string) PostgresOption {
	return func(t *postgresTable) {
		if name != "" {
			t.name = name
		}
	}
}

func newTable(defaultName string, opts []PostgresOption) postgresTable {
	t := postgresTable{schema: "public", name: defaultName}
	for _, opt := range opts {
		opt(&t)
	}
	return t
}

// PostgresCursor stores named cursors in a single table.
// Default table: delivery_cursors
type PostgresCursor struct {
	pool  *pgxpool.Pool
	table postgresTable
	key   string
}

func NewPostgresCursor(pool *pgxpool.Pool, key string, opts ...PostgresOption) *PostgresCursor {
	return &PostgresCursor{
		pool:  pool,
		table: newTable("delivery_cursors", opts),
		key:   key,
	}
}

// CreateTable creates the cursor table if it does not exist.
func (c *PostgresCursor) CreateTable(ctx context.Context) error {
	_, err := c.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			name TEXT PRIMARY KEY,
			value BIGINT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`, c.table.ident()))
	if err != nil {
		return unavailable("postgres cursor: create table", err)
	}
	return nil
}

func (c *PostgresCursor) Get(ctx context.Context) (int64, bool, error) {
	var value int64
	err := c.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT value FROM %s WHERE name = $1`, c.table.ident()),
		c.key,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, unavailable("postgres cursor: get", err)
	}
	return value, true, nil
}

// Set upserts the cursor, keeping the greater of the stored and the new value.
func (c *PostgresCursor) Set(ctx context.Context, value int64) error {
	ident := c.table.ident()
	_, err := c.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (name, value, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO UPDATE
		SET value = GREATEST(%s.value, EXCLUDED.value), updated_at = NOW()
	`, ident, ident), c.key, value)
	if err != nil {
		return unavailable("postgres cursor: set", err)
	}
	return nil
}

// PostgresSource reads notifications appended by the marketplace backend.
// Default table: notifications(id BIGSERIAL, recipient_id TEXT, payload JSONB, created_at TIMESTAMPTZ)
type PostgresSource struct {
	pool  *pgxpool.Pool
	table postgresTable
}

func NewPostgresSource(pool *pgxpool.Pool, opts ...PostgresOption) *PostgresSource {
	return &PostgresSource{
		pool:  pool,
		table: newTable("notifications", opts),
	}
}

// CreateTable creates the notification log table if it does not exist.
func (s *PostgresSource) CreateTable(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			recipient_id TEXT NOT NULL,
			payload JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`, s.table.ident()))
	if err != nil {
		return unavailable("postgres source: create table", err)
	}
	return nil
}

// Append inserts a notification and returns its sequence id.
func (s *PostgresSource) Append(ctx context.Context, recipientID string, payload []byte) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`INSERT INTO %s (recipient_id, payload) VALUES ($1, $2) RETURNING id`, s.table.ident()),
		recipientID, payload,
	).Scan(&id)
	if err != nil {
		return 0, unavailable("postgres source: append", err)
	}
	return id, nil
}

func (s *PostgresSource) LatestSequenceID(ctx context.Context) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT COALESCE(MAX(id), 0) FROM %s`, s.table.ident()),
	).Scan(&id)
	if err != nil {
		return 0, unavailable("postgres source: latest", err)
	}
	return id, nil
}

func (s *PostgresSource) EventsAfter(ctx context.Context, seq int64, limit int) ([]model.Event, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, recipient_id, payload, created_at
		FROM %s
		WHERE id > $1
		ORDER BY id
		LIMIT $2
	`, s.table.ident()), seq, limit)
	if err != nil {
		return nil, unavailable("postgres source: events after", err)
	}
	defer rows.Close()

	events := make([]model.Event, 0, limit)
	for rows.Next() {
		var ev model.Event
		if err := rows.Scan(&ev.SequenceID, &ev.RecipientID, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, unavailable("postgres source: scan", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("postgres source: rows", err)
	}
	return events, nil
}
