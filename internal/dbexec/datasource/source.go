// Package datasource implements the data-source cache and the concrete
// DataSource adapters the executor opens connections from. It models the
// "Consumed interfaces" of an abstract driver data source
// exposing opened connections, which in turn expose commands, readers and
// transactions. The wire protocol itself is delegated entirely to the
// underlying driver (pgx or modernc sqlite) — this package only shapes it
// into the contract the executor needs.
package datasource

import (
	"context"
	"time"
)

// IsolationLevel mirrors dbexec.IsolationLevel without importing the parent
// package, keeping datasource free-standing and reusable by any caller of
// the Source/Connection contract.
type IsolationLevel int

const (
	IsolationUnspecified IsolationLevel = iota
	IsolationReadUncommitted
	IsolationReadCommitted
	IsolationRepeatableRead
	IsolationSerializable
	IsolationSnapshot
	IsolationChaos
)

// ParameterDirection mirrors dbexec.ParameterDirection.
type ParameterDirection int

const (
	DirectionInput ParameterDirection = iota
	DirectionOutput
	DirectionInputOutput
	DirectionReturnValue
)

// Parameter is the driver-facing, fully materialized form of a query
// parameter: NULL-for-absent already applied, all hints copied verbatim
// from the caller's QueryParameter.
type Parameter struct {
	Name      string
	Value     any // nil means SQL NULL
	DBType    string
	Direction ParameterDirection
	Size      int
	Precision int
	Scale     int
}

// CommandKind mirrors dbexec.CommandKind.
type CommandKind int

const (
	CommandKindText CommandKind = iota
	CommandKindStoredProcedure
)

// Row is a single-row scan target, mirroring database/sql.Row and pgx.Row.
type Row interface {
	Scan(dest ...any) error
}

// Rows is a forward-only cursor over a result set, mirroring pgx.Rows.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

// Command is a built, ready-to-run driver command.
type Command interface {
	ExecuteNonQuery(ctx context.Context) (rowsAffected int64, err error)
	ExecuteScalar(ctx context.Context) (Row, error)
	ExecuteReader(ctx context.Context) (Rows, error)
}

// Transaction is a driver transaction.
type Transaction interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// CommandSpec fully describes the driver command to build: text, kind,
// timeout (already resolved to the driver's sentinel by the caller),
// parameters, and an optional transaction to attach.
type CommandSpec struct {
	Text       string
	Kind       CommandKind
	Timeout    time.Duration // <= 0 means "no timeout" driver sentinel
	Parameters []Parameter
	Tx         Transaction // nil => no transaction
}

// Connection is an opened driver connection: it can build a command and begin a transaction, and must be
// released back to its Source exactly once.
type Connection interface {
	CreateCommand(spec CommandSpec) (Command, error)
	BeginTransaction(ctx context.Context, isolation IsolationLevel) (Transaction, error)
	Close(ctx context.Context) error
}

// Source is the abstract driver data source of a factory for
// opened connections sharing pooling and configuration. One Source instance
// is created per logical connection name and cached by Cache.
type Source interface {
	OpenConnection(ctx context.Context) (Connection, error)
	// Close disposes every resource owned by this source (e.g. closes the
	// underlying pool). It must not block on connections already handed
	// out to in-flight executions — the driver keeps those valid until they
	// are themselves closed.
	Close() error
}

// Factory builds a Source for a given connection string. Exactly one
// concrete Factory (pgx- or sqlite-backed) is wired per deployment; the
// cache is driver-agnostic.
type Factory interface {
	NewSource(connectionString string) (Source, error)
}
