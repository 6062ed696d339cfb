package datasource

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgxFactory builds pgx-backed Sources. Grounded on
// internal/database/postgres/pool.go's PostgresPool.Connect: parse the
// connection string into a pgxpool.Config, apply pool sizing, ping once to
// fail fast on a bad DSN.
type PgxFactory struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	ConnectTimeout    time.Duration
	Logger            *slog.Logger
}

// NewSource implements Factory.
func (f *PgxFactory) NewSource(connectionString string) (Source, error) {
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}

	poolConfig, err := pgxpool.ParseConfig(connectionString)
	if err != nil {
		return nil, fmt.Errorf("pgx: invalid connection string: %w", err)
	}
	if f.MaxConns > 0 {
		poolConfig.MaxConns = f.MaxConns
	}
	if f.MinConns > 0 {
		poolConfig.MinConns = f.MinConns
	}
	if f.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = f.MaxConnLifetime
	}
	if f.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = f.MaxConnIdleTime
	}
	if f.HealthCheckPeriod > 0 {
		poolConfig.HealthCheckPeriod = f.HealthCheckPeriod
	}

	connectTimeout := f.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 30 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("pgx: failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgx: failed to ping: %w", err)
	}

	logger.Info("pgx data source created", "max_conns", poolConfig.MaxConns, "min_conns", poolConfig.MinConns)
	return &pgxSource{pool: pool, logger: logger}, nil
}

type pgxSource struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func (s *pgxSource) OpenConnection(ctx context.Context) (Connection, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("pgx: failed to acquire connection: %w", err)
	}
	return &pgxConnection{conn: conn}, nil
}

func (s *pgxSource) Close() error {
	s.pool.Close()
	return nil
}

type pgxConnection struct {
	conn *pgxpool.Conn
}

func (c *pgxConnection) BeginTransaction(ctx context.Context, isolation IsolationLevel) (Transaction, error) {
	opts := pgx.TxOptions{IsoLevel: toPgxIsolation(isolation)}
	tx, err := c.conn.BeginTx(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("pgx: failed to begin transaction: %w", err)
	}
	return &pgxTransaction{tx: tx}, nil
}

func (c *pgxConnection) CreateCommand(spec CommandSpec) (Command, error) {
	return &pgxCommand{conn: c.conn, spec: spec}, nil
}

func (c *pgxConnection) Close(ctx context.Context) error {
	c.conn.Release()
	return nil
}

type pgxTransaction struct {
	tx pgx.Tx
}

func (t *pgxTransaction) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *pgxTransaction) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

type pgxCommand struct {
	conn *pgxpool.Conn
	spec CommandSpec
}

func (c *pgxCommand) args() []any {
	args := make([]any, len(c.spec.Parameters))
	for i, p := range c.spec.Parameters {
		args[i] = p.Value
	}
	return args
}

func (c *pgxCommand) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.spec.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.spec.Timeout)
}

func (c *pgxCommand) ExecuteNonQuery(ctx context.Context) (int64, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if tx, ok := c.spec.Tx.(*pgxTransaction); ok {
		tag, err := tx.tx.Exec(ctx, c.spec.Text, c.args()...)
		if err != nil {
			return 0, err
		}
		return tag.RowsAffected(), nil
	}
	tag, err := c.conn.Exec(ctx, c.spec.Text, c.args()...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (c *pgxCommand) ExecuteScalar(ctx context.Context) (Row, error) {
	ctx, cancel := c.withTimeout(ctx)

	if tx, ok := c.spec.Tx.(*pgxTransaction); ok {
		return &scalarRow{row: tx.tx.QueryRow(ctx, c.spec.Text, c.args()...), cancel: cancel}, nil
	}
	return &scalarRow{row: c.conn.QueryRow(ctx, c.spec.Text, c.args()...), cancel: cancel}, nil
}

func (c *pgxCommand) ExecuteReader(ctx context.Context) (Rows, error) {
	ctx, cancel := c.withTimeout(ctx)

	var rows pgx.Rows
	var err error
	if tx, ok := c.spec.Tx.(*pgxTransaction); ok {
		rows, err = tx.tx.Query(ctx, c.spec.Text, c.args()...)
	} else {
		rows, err = c.conn.Query(ctx, c.spec.Text, c.args()...)
	}
	if err != nil {
		cancel()
		return nil, err
	}
	return &pgxRows{rows: rows, cancel: cancel}, nil
}

type pgxRows struct {
	rows   pgx.Rows
	cancel context.CancelFunc
}

func (r *pgxRows) Next() bool          { return r.rows.Next() }
func (r *pgxRows) Scan(dest ...any) error { return r.rows.Scan(dest...) }
func (r *pgxRows) Err() error           { return r.rows.Err() }
func (r *pgxRows) Close() {
	r.rows.Close()
	r.cancel()
}

func toPgxIsolation(level IsolationLevel) pgx.TxIsoLevel {
	switch level {
	case IsolationReadUncommitted:
		return pgx.ReadUncommitted
	case IsolationReadCommitted:
		return pgx.ReadCommitted
	case IsolationRepeatableRead:
		return pgx.RepeatableRead
	case IsolationSerializable:
		return pgx.Serializable
	default:
		return pgx.ReadCommitted
	}
}
