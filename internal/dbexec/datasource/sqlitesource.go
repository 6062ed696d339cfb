package datasource

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"
)

// SqliteFactory builds sqlite-backed Sources (modernc.org/sqlite, a
// cgo-free driver). Used for fast unit tests and as the demo CLI's
// zero-dependency default, mirroring the same Source/Connection/Command
// contract the pgx adapter satisfies so the executor is driver-agnostic.
type SqliteFactory struct {
	MaxOpenConns int
	Logger       *slog.Logger
}

// NewSource implements Factory.
func (f *SqliteFactory) NewSource(connectionString string) (Source, error) {
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", connectionString)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open: %w", err)
	}
	if f.MaxOpenConns > 0 {
		db.SetMaxOpenConns(f.MaxOpenConns)
	} else {
		// sqlite tolerates exactly one writer at a time; serialize by default
		// so the executor's pooling assumptions still hold.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to ping: %w", err)
	}

	logger.Info("sqlite data source created", "dsn", connectionString)
	return &sqliteSource{db: db}, nil
}

type sqliteSource struct {
	db *sql.DB
}

func (s *sqliteSource) OpenConnection(ctx context.Context) (Connection, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to acquire connection: %w", err)
	}
	return &sqliteConnection{conn: conn}, nil
}

func (s *sqliteSource) Close() error {
	return s.db.Close()
}

type sqliteConnection struct {
	conn *sql.Conn
}

func (c *sqliteConnection) BeginTransaction(ctx context.Context, isolation IsolationLevel) (Transaction, error) {
	tx, err := c.conn.BeginTx(ctx, &sql.TxOptions{Isolation: toSQLIsolation(isolation)})
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to begin transaction: %w", err)
	}
	return &sqliteTransaction{tx: tx}, nil
}

func (c *sqliteConnection) CreateCommand(spec CommandSpec) (Command, error) {
	return &sqliteCommand{conn: c.conn, spec: spec}, nil
}

func (c *sqliteConnection) Close(ctx context.Context) error {
	return c.conn.Close()
}

type sqliteTransaction struct {
	tx *sql.Tx
}

func (t *sqliteTransaction) Commit(ctx context.Context) error   { return t.tx.Commit() }
func (t *sqliteTransaction) Rollback(ctx context.Context) error { return t.tx.Rollback() }

type sqliteCommand struct {
	conn *sql.Conn
	spec CommandSpec
}

func (c *sqliteCommand) args() []any {
	args := make([]any, len(c.spec.Parameters))
	for i, p := range c.spec.Parameters {
		args[i] = p.Value
	}
	return args
}

func (c *sqliteCommand) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.spec.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.spec.Timeout)
}

func (c *sqliteCommand) execer(ctx context.Context) (func(query string, args ...any) (sql.Result, error), func(query string, args ...any) *sql.Row, func(query string, args ...any) (*sql.Rows, error)) {
	if tx, ok := c.spec.Tx.(*sqliteTransaction); ok {
		return func(q string, a ...any) (sql.Result, error) { return tx.tx.ExecContext(ctx, q, a...) },
			func(q string, a ...any) *sql.Row { return tx.tx.QueryRowContext(ctx, q, a...) },
			func(q string, a ...any) (*sql.Rows, error) { return tx.tx.QueryContext(ctx, q, a...) }
	}
	return func(q string, a ...any) (sql.Result, error) { return c.conn.ExecContext(ctx, q, a...) },
		func(q string, a ...any) *sql.Row { return c.conn.QueryRowContext(ctx, q, a...) },
		func(q string, a ...any) (*sql.Rows, error) { return c.conn.QueryContext(ctx, q, a...) }
}

func (c *sqliteCommand) ExecuteNonQuery(ctx context.Context) (int64, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	exec, _, _ := c.execer(ctx)
	result, err := exec(c.spec.Text, c.args()...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (c *sqliteCommand) ExecuteScalar(ctx context.Context) (Row, error) {
	ctx, cancel := c.withTimeout(ctx)

	_, queryRow, _ := c.execer(ctx)
	return &scalarRow{row: queryRow(c.spec.Text, c.args()...), cancel: cancel}, nil
}

func (c *sqliteCommand) ExecuteReader(ctx context.Context) (Rows, error) {
	ctx, cancel := c.withTimeout(ctx)

	_, _, query := c.execer(ctx)
	rows, err := query(c.spec.Text, c.args()...)
	if err != nil {
		cancel()
		return nil, err
	}
	return &sqliteRows{rows: rows, cancel: cancel}, nil
}

type sqliteRows struct {
	rows   *sql.Rows
	cancel context.CancelFunc
}

func (r *sqliteRows) Next() bool             { return r.rows.Next() }
func (r *sqliteRows) Scan(dest ...any) error { return r.rows.Scan(dest...) }
func (r *sqliteRows) Err() error             { return r.rows.Err() }
func (r *sqliteRows) Close() {
	r.rows.Close()
	r.cancel()
}

// scalarRow keeps a command's timeout context alive until Scan has read the
// row, then releases it.
type scalarRow struct {
	row    Row
	cancel context.CancelFunc
}

func (r *scalarRow) Scan(dest ...any) error {
	defer r.cancel()
	return r.row.Scan(dest...)
}

func toSQLIsolation(level IsolationLevel) sql.IsolationLevel {
	switch level {
	case IsolationReadUncommitted:
		return sql.LevelReadUncommitted
	case IsolationReadCommitted:
		return sql.LevelReadCommitted
	case IsolationRepeatableRead:
		return sql.LevelRepeatableRead
	case IsolationSerializable:
		return sql.LevelSerializable
	case IsolationSnapshot:
		return sql.LevelSnapshot
	default:
		return sql.LevelDefault
	}
}
