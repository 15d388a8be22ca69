// Package postgres provides a PostgreSQL implementation of the storage adapter.
//
// Events and snapshots live in two tables of a configurable schema. Writers of
// the same aggregate are serialized by a row lock on the aggregate's earliest
// event (SELECT ... FOR UPDATE) held for the duration of the save transaction.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"sync/atomic"
	"time"

	"github.com/AshkanYarmoradi/go-huddle/adapters"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"
)

// Driver names accepted by WithDriver.
const (
	DriverPgx = "pgx"
	DriverPQ  = "postgres"
)

// DefaultSchema is the schema used when none is configured.
const DefaultSchema = "huddle"

// uniqueViolation is the SQLSTATE raised for duplicate (aggregate_id, version) pairs.
const uniqueViolation = "23505"

// Sentinel errors for the postgres adapter.
// These are aliases to the adapters package errors for compatibility with errors.Is().
var (
	ErrAdapterClosed       = adapters.ErrAdapterClosed
	ErrEmptyAggregateID    = adapters.ErrEmptyAggregateID
	ErrNoEvents            = adapters.ErrNoEvents
	ErrConcurrencyConflict = adapters.ErrConcurrencyConflict
)

// Ensure PostgresAdapter implements required interfaces.
var (
	_ adapters.Adapter       = (*PostgresAdapter)(nil)
	_ adapters.HealthChecker = (*PostgresAdapter)(nil)
	_ adapters.Migrator      = (*PostgresAdapter)(nil)
)

// PostgresAdapter is a PostgreSQL implementation of adapters.Adapter.
type PostgresAdapter struct {
	db     *sql.DB
	driver string
	schema string
	closed atomic.Bool

	maxOpen     int
	maxIdle     int
	maxLifetime time.Duration
}

// Option configures a PostgresAdapter.
type Option func(*PostgresAdapter)

// WithSchema sets the database schema name.
func WithSchema(schema string) Option {
	return func(a *PostgresAdapter) {
		a.schema = schema
	}
}

// WithDriver selects the database/sql driver: DriverPgx (default) or DriverPQ.
func WithDriver(driver string) Option {
	return func(a *PostgresAdapter) {
		a.driver = driver
	}
}

// WithMaxConnections sets the maximum number of open connections.
func WithMaxConnections(n int) Option {
	return func(a *PostgresAdapter) {
		a.maxOpen = n
	}
}

// WithMaxIdleConnections sets the maximum number of idle connections.
func WithMaxIdleConnections(n int) Option {
	return func(a *PostgresAdapter) {
		a.maxIdle = n
	}
}

// WithConnectionMaxLifetime sets the maximum connection lifetime.
func WithConnectionMaxLifetime(d time.Duration) Option {
	return func(a *PostgresAdapter) {
		a.maxLifetime = d
	}
}

// NewAdapter opens a connection pool and returns the adapter.
func NewAdapter(connStr string, opts ...Option) (*PostgresAdapter, error) {
	a := &PostgresAdapter{
		driver: DriverPgx,
		schema: DefaultSchema,
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.driver != DriverPgx && a.driver != DriverPQ {
		return nil, fmt.Errorf("huddle/postgres: unsupported driver %q", a.driver)
	}

	db, err := sql.Open(a.driver, connStr)
	if err != nil {
		return nil, fmt.Errorf("huddle/postgres: failed to open database: %w", err)
	}
	a.db = db
	a.applyPoolSettings()

	return a, nil
}

// NewAdapterWithDB creates a new adapter with an existing database connection.
func NewAdapterWithDB(db *sql.DB, opts ...Option) *PostgresAdapter {
	a := &PostgresAdapter{
		db:     db,
		driver: DriverPgx,
		schema: DefaultSchema,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.applyPoolSettings()
	return a
}

func (a *PostgresAdapter) applyPoolSettings() {
	if a.maxOpen > 0 {
		a.db.SetMaxOpenConns(a.maxOpen)
	}
	if a.maxIdle > 0 {
		a.db.SetMaxIdleConns(a.maxIdle)
	}
	if a.maxLifetime > 0 {
		a.db.SetConnMaxLifetime(a.maxLifetime)
	}
}

// Migrate creates the schema, tables and indexes. It is idempotent.
func (a *PostgresAdapter) Migrate(ctx context.Context) error {
	if a.closed.Load() {
		return ErrAdapterClosed
	}
	for _, stmt := range migrationStatements(a.schema) {
		if _, err := a.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("huddle/postgres: migration failed: %w", err)
		}
	}
	return nil
}

func migrationStatements(schema string) []string {
	s := quoteIdent(schema)
	return []string{
		fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, s),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.events (
			event_id        UUID PRIMARY KEY,
			aggregate_id    VARCHAR(255) NOT NULL,
			aggregate_type  VARCHAR(255) NOT NULL,
			event_type      VARCHAR(255) NOT NULL,
			version         BIGINT NOT NULL,
			data            BYTEA NOT NULL,
			metadata        BYTEA,
			timestamp       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE(aggregate_id, version)
		)`, s),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_events_aggregate ON %s.events(aggregate_id, version)`, s),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_events_type ON %s.events(event_type)`, s),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.snapshots (
			aggregate_id    VARCHAR(255) PRIMARY KEY,
			snapshot_id     UUID NOT NULL,
			aggregate_type  VARCHAR(255) NOT NULL,
			data            BYTEA NOT NULL,
			metadata        BYTEA,
			version         BIGINT NOT NULL,
			timestamp       TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, s),
	}
}

// Events returns the event log bound to the connection pool.
func (a *PostgresAdapter) Events() adapters.EventLog {
	return &eventLog{q: a.db, schema: a.schema, closed: &a.closed}
}

// Snapshots returns the snapshot store bound to the connection pool.
func (a *PostgresAdapter) Snapshots() adapters.SnapshotStore {
	return &snapshotStore{q: a.db, schema: a.schema, closed: &a.closed}
}

// BeginTx starts a database transaction.
func (a *PostgresAdapter) BeginTx(ctx context.Context) (adapters.Tx, error) {
	if a.closed.Load() {
		return nil, ErrAdapterClosed
	}
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("huddle/postgres: failed to begin transaction: %w", err)
	}
	return &pgTx{tx: tx, schema: a.schema, closed: &a.closed}, nil
}

// Ping checks database connectivity.
func (a *PostgresAdapter) Ping(ctx context.Context) error {
	if a.closed.Load() {
		return ErrAdapterClosed
	}
	return a.db.PingContext(ctx)
}

// Close closes the connection pool.
func (a *PostgresAdapter) Close() error {
	a.closed.Store(true)
	return a.db.Close()
}

// DB returns the underlying database connection.
func (a *PostgresAdapter) DB() *sql.DB {
	return a.db
}

// Schema returns the configured schema name.
func (a *PostgresAdapter) Schema() string {
	return a.schema
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type pgTx struct {
	tx     *sql.Tx
	schema string
	closed *atomic.Bool
}

// LockAggregate locks the earliest event row of the aggregate and returns the
// highest stored version. An aggregate without events has nothing to lock and
// reports version 0.
func (t *pgTx) LockAggregate(ctx context.Context, aggregateID string) (int64, error) {
	if aggregateID == "" {
		return 0, ErrEmptyAggregateID
	}
	var first int64
	err := t.tx.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT version FROM %s.events
		WHERE aggregate_id = $1
		ORDER BY version ASC
		LIMIT 1
		FOR UPDATE`, quoteIdent(t.schema)), aggregateID).Scan(&first)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("huddle/postgres: failed to lock aggregate %q: %w", aggregateID, err)
	}

	var current int64
	err = t.tx.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT COALESCE(MAX(version), 0) FROM %s.events
		WHERE aggregate_id = $1`, quoteIdent(t.schema)), aggregateID).Scan(&current)
	if err != nil {
		return 0, fmt.Errorf("huddle/postgres: failed to read version of %q: %w", aggregateID, err)
	}
	return current, nil
}

func (t *pgTx) Events() adapters.EventLog {
	return &eventLog{q: t.tx, schema: t.schema, closed: t.closed}
}

func (t *pgTx) Snapshots() adapters.SnapshotStore {
	return &snapshotStore{q: t.tx, schema: t.schema, closed: t.closed}
}

func (t *pgTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		if errors.Is(err, sql.ErrTxDone) {
			return adapters.ErrTxDone
		}
		return mapWriteError("", 0, fmt.Errorf("huddle/postgres: failed to commit: %w", err))
	}
	return nil
}

func (t *pgTx) Rollback() error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

type eventLog struct {
	q      queryer
	schema string
	closed *atomic.Bool
}

func (l *eventLog) Append(ctx context.Context, events []adapters.EventRecord) error {
	if l.closed.Load() {
		return ErrAdapterClosed
	}
	if err := adapters.ValidateAppend(events); err != nil {
		return err
	}

	// Outside a transaction the batch still commits as a whole.
	q := l.q
	if db, ok := q.(*sql.DB); ok {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("huddle/postgres: failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()
		if err := insertEvents(ctx, tx, l.schema, events); err != nil {
			return err
		}
		return mapWriteError(events[0].AggregateID, events[0].Version, tx.Commit())
	}
	return insertEvents(ctx, q, l.schema, events)
}

func insertEvents(ctx context.Context, q queryer, schema string, events []adapters.EventRecord) error {
	query := fmt.Sprintf(`
		INSERT INTO %s.events (event_id, aggregate_id, aggregate_type, event_type, version, data, metadata, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, quoteIdent(schema))

	for _, e := range events {
		id := e.ID
		if id == "" {
			id = uuid.NewString()
		}
		ts := e.Timestamp
		if ts.IsZero() {
			ts = time.Now().UTC()
		}
		_, err := q.ExecContext(ctx, query,
			id, e.AggregateID, e.AggregateType, e.EventType, e.Version, e.Data, e.Metadata, ts)
		if err != nil {
			return mapWriteError(e.AggregateID, e.Version,
				fmt.Errorf("huddle/postgres: failed to insert event: %w", err))
		}
	}
	return nil
}

func (l *eventLog) LoadSince(ctx context.Context, aggregateID string, version int64) iter.Seq2[adapters.EventRecord, error] {
	return func(yield func(adapters.EventRecord, error) bool) {
		if l.closed.Load() {
			yield(adapters.EventRecord{}, ErrAdapterClosed)
			return
		}
		rows, err := l.q.QueryContext(ctx, fmt.Sprintf(`
			SELECT event_id, aggregate_id, aggregate_type, event_type, version, data, metadata, timestamp
			FROM %s.events
			WHERE aggregate_id = $1 AND version > $2
			ORDER BY version ASC`, quoteIdent(l.schema)), aggregateID, version)
		if err != nil {
			yield(adapters.EventRecord{}, fmt.Errorf("huddle/postgres: failed to load events: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var e adapters.EventRecord
			if err := rows.Scan(&e.ID, &e.AggregateID, &e.AggregateType, &e.EventType,
				&e.Version, &e.Data, &e.Metadata, &e.Timestamp); err != nil {
				yield(adapters.EventRecord{}, fmt.Errorf("huddle/postgres: failed to scan event: %w", err))
				return
			}
			if !yield(e, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(adapters.EventRecord{}, fmt.Errorf("huddle/postgres: error iterating events: %w", err))
		}
	}
}

type snapshotStore struct {
	q      queryer
	schema string
	closed *atomic.Bool
}

func (s *snapshotStore) Load(ctx context.Context, aggregateID string) (*adapters.SnapshotRecord, error) {
	if s.closed.Load() {
		return nil, ErrAdapterClosed
	}
	var rec adapters.SnapshotRecord
	err := s.q.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT snapshot_id, aggregate_id, aggregate_type, data, metadata, version, timestamp
		FROM %s.snapshots
		WHERE aggregate_id = $1`, quoteIdent(s.schema)), aggregateID).Scan(
		&rec.ID, &rec.AggregateID, &rec.AggregateType, &rec.Data, &rec.Metadata, &rec.Version, &rec.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("huddle/postgres: failed to load snapshot: %w", err)
	}
	return &rec, nil
}

func (s *snapshotStore) Upsert(ctx context.Context, snap adapters.SnapshotRecord) error {
	if s.closed.Load() {
		return ErrAdapterClosed
	}
	if snap.AggregateID == "" {
		return ErrEmptyAggregateID
	}
	id := snap.ID
	if id == "" {
		id = uuid.NewString()
	}
	ts := snap.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err := s.q.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s.snapshots (aggregate_id, snapshot_id, aggregate_type, data, metadata, version, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (aggregate_id) DO UPDATE SET
			snapshot_id = EXCLUDED.snapshot_id,
			aggregate_type = EXCLUDED.aggregate_type,
			data = EXCLUDED.data,
			metadata = EXCLUDED.metadata,
			version = EXCLUDED.version,
			timestamp = EXCLUDED.timestamp`, quoteIdent(s.schema)),
		snap.AggregateID, id, snap.AggregateType, snap.Data, snap.Metadata, snap.Version, ts)
	if err != nil {
		return fmt.Errorf("huddle/postgres: failed to upsert snapshot: %w", err)
	}
	return nil
}

// mapWriteError turns a unique violation from either driver into a ConcurrencyError.
func mapWriteError(aggregateID string, version int64, err error) error {
	if isUniqueViolation(err) {
		return &conflictError{
			ConcurrencyError: adapters.NewConcurrencyError(aggregateID, version-1, -1),
			cause:            err,
		}
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == uniqueViolation
	}
	return false
}

// conflictError keeps the driver error reachable through errors.As.
type conflictError struct {
	*adapters.ConcurrencyError
	cause error
}

func (e *conflictError) Unwrap() error {
	return e.cause
}

func (e *conflictError) As(target any) bool {
	if t, ok := target.(**adapters.ConcurrencyError); ok {
		*t = e.ConcurrencyError
		return true
	}
	return false
}

func quoteIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}
