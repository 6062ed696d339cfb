// Package executor implements the command executor that
// orchestrates one execution end to end — snapshot options, resolve data
// source and pipeline, open connection, optionally begin a transaction,
// build a driver command, run it under the resilience pipeline, convert the
// result, and dispose every resource in order. Grounded on PostgresPool's
// Exec/Query/QueryRow/Begin methods, generalized from one hard-coded pool to
// an arbitrary cached datasource.Source plus resilience.Pipeline per
// connection name.
package executor

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/corvid-systems/dbexec/internal/dbexec"
	"github.com/corvid-systems/dbexec/internal/dbexec/coercion"
	"github.com/corvid-systems/dbexec/internal/dbexec/datasource"
	"github.com/corvid-systems/dbexec/internal/dbexec/resilience"
)

// OptionsSnapshot is the minimal slice of live configuration the executor
// needs per call, returned by OptionsProvider.Snapshot. Kept as its own
// struct (rather than *dbexec.DbOptions directly) so callers can swap the
// provider for a test double without constructing full options machinery.
type OptionsSnapshot struct {
	DefaultConnectionName string
	CommandTimeout        time.Duration
	DefaultIsolation      dbexec.IsolationLevel
}

// OptionsProvider exposes the current, hot-reloadable configuration
// snapshot.
type OptionsProvider interface {
	Snapshot() OptionsSnapshot
}

// DbClient is the command executor. One instance is safe for concurrent
// callers; per-execution resources are confined to a single logical flow.
type DbClient struct {
	options   OptionsProvider
	sources   *datasource.Cache
	pipelines *resilience.Cache
	logger    *slog.Logger
	metrics   *ClientMetrics
	disposed  chan struct{}
}

// NewDbClient wires together the already-constructed caches. Registration
// builds sources/pipelines and calls this; DbClient itself takes no
// dependency on any DI container. metrics may be nil to disable
// instrumentation entirely.
func NewDbClient(options OptionsProvider, sources *datasource.Cache, pipelines *resilience.Cache, metrics *ClientMetrics, logger *slog.Logger) *DbClient {
	if logger == nil {
		logger = slog.Default()
	}
	disposed := make(chan struct{})
	return &DbClient{
		options:   options,
		sources:   sources,
		pipelines: pipelines,
		logger:    logger,
		metrics:   metrics,
		disposed:  disposed,
	}
}

func (c *DbClient) isDisposed() bool {
	select {
	case <-c.disposed:
		return true
	default:
		return false
	}
}

// Close disposes the data-source cache and rejects subsequent calls with
// dbexec.ErrDisposed. In-flight executions already holding a connection
// complete normally.
func (c *DbClient) Close() error {
	if c.isDisposed() {
		return nil
	}
	close(c.disposed)
	c.sources.Dispose()
	return nil
}

// ExecuteNonQuery runs q and returns the number of affected rows.
func (c *DbClient) ExecuteNonQuery(ctx context.Context, q dbexec.QueryDefinition) (int64, error) {
	var affected int64
	err := c.run(ctx, q, "non_query", func(ctx context.Context, cmd datasource.Command) error {
		n, err := cmd.ExecuteNonQuery(ctx)
		affected = n
		return err
	})
	return affected, err
}

// ExecuteScalar runs q and returns the first column of the first row,
// converted to T by the coercion package; an empty result set yields the zero value and
// found=false.
func ExecuteScalar[T any](ctx context.Context, c *DbClient, q dbexec.QueryDefinition) (T, bool, error) {
	var zero T
	var result T
	var found bool

	err := c.run(ctx, q, "scalar", func(ctx context.Context, cmd datasource.Command) error {
		row, err := cmd.ExecuteScalar(ctx)
		if err != nil {
			return err
		}
		var raw any
		if scanErr := row.Scan(&raw); scanErr != nil {
			if isNoRows(scanErr) {
				return nil
			}
			return scanErr
		}
		coerced, convErr := coercion.Coerce[T](raw)
		if convErr != nil {
			return convErr
		}
		result = coerced
		found = true
		return nil
	})
	if err != nil {
		return zero, false, err
	}
	return result, found, nil
}

// RowProjector builds a T from one result row.
type RowProjector[T any] func(row datasource.Row) (T, error)

// Query runs q and returns every projected row, materialized in full before
// this call returns.
func Query[T any](ctx context.Context, c *DbClient, q dbexec.QueryDefinition, project RowProjector[T]) ([]T, error) {
	var results []T

	err := c.run(ctx, q, "query", func(ctx context.Context, cmd datasource.Command) error {
		rows, err := cmd.ExecuteReader(ctx)
		if err != nil {
			return err
		}
		defer rows.Close()

		buffered := make([]T, 0, 16)
		for rows.Next() {
			item, projErr := project(rows)
			if projErr != nil {
				return projErr
			}
			buffered = append(buffered, item)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		results = buffered
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// run implements the shared execution body of resolve
// effective options, get the cached source and pipeline, then invoke body
// once per pipeline attempt with a freshly opened connection and built
// command.
func (c *DbClient) run(ctx context.Context, q dbexec.QueryDefinition, opLabel string, body func(ctx context.Context, cmd datasource.Command) error) error {
	if c.isDisposed() {
		return dbexec.ErrDisposed
	}
	if err := q.Validate(); err != nil {
		return err
	}

	snapshot := c.options.Snapshot()
	connectionName := q.EffectiveConnectionName(snapshot.DefaultConnectionName)
	timeout := q.EffectiveTimeout(snapshot.CommandTimeout)
	isolation := q.EffectiveIsolation(snapshot.DefaultIsolation)

	resctx := dbexec.NewResilienceContext(q, connectionName)

	source, err := c.sources.Get(ctx, connectionName)
	if err != nil {
		return dbexec.NewConfigurationError(connectionName, err.Error())
	}
	pipeline, err := c.pipelines.Get(connectionName)
	if err != nil {
		return dbexec.NewConfigurationError(connectionName, err.Error())
	}

	start := time.Now()
	err = pipeline.Execute(ctx, resctx.OperationKey, func(ctx context.Context) error {
		return c.attempt(ctx, source, q, connectionName, opLabel, timeout, isolation, body)
	})

	if c.metrics != nil {
		outcome := "success"
		if err != nil {
			outcome = "failure"
		}
		c.metrics.ExecutionsTotal.WithLabelValues(connectionName, opLabel, outcome).Inc()
		c.metrics.ExecutionDuration.WithLabelValues(connectionName, opLabel).Observe(time.Since(start).Seconds())
	}
	return err
}

// attempt performs one pipeline invocation: open connection, optionally
// begin transaction, build command, run body, commit/rollback, dispose in
// order.
func (c *DbClient) attempt(
	ctx context.Context,
	source datasource.Source,
	q dbexec.QueryDefinition,
	connectionName string,
	opLabel string,
	timeout time.Duration,
	isolation dbexec.IsolationLevel,
	body func(ctx context.Context, cmd datasource.Command) error,
) (execErr error) {
	conn, err := source.OpenConnection(ctx)
	if err != nil {
		return classify(connectionName, q.CommandText, opLabel, err)
	}
	if c.metrics != nil {
		c.metrics.OpenConnections.WithLabelValues(connectionName).Inc()
	}
	defer func() {
		if closeErr := conn.Close(ctx); closeErr != nil {
			c.logger.Warn("failed to close connection", "connection_name", connectionName, "error", closeErr)
		}
		if c.metrics != nil {
			c.metrics.OpenConnections.WithLabelValues(connectionName).Dec()
		}
	}()

	var tx datasource.Transaction
	if isolation != dbexec.IsolationUnspecified {
		tx, err = conn.BeginTransaction(ctx, toDatasourceIsolation(isolation))
		if err != nil {
			return classify(connectionName, q.CommandText, opLabel, err)
		}
	}

	defer func() {
		if tx == nil {
			return
		}
		if execErr != nil {
			if rollbackErr := tx.Rollback(ctx); rollbackErr != nil {
				c.logger.Warn("rollback failed, suppressing in favor of original error",
					"connection_name", connectionName, "error", rollbackErr)
				if c.metrics != nil {
					c.metrics.TransactionErrors.WithLabelValues(connectionName, "rollback").Inc()
				}
			}
			return
		}
		if commitErr := tx.Commit(ctx); commitErr != nil {
			execErr = classify(connectionName, q.CommandText, opLabel, commitErr)
			if c.metrics != nil {
				c.metrics.TransactionErrors.WithLabelValues(connectionName, "commit").Inc()
			}
		}
	}()

	cmd, err := conn.CreateCommand(buildSpec(q, timeout, tx))
	if err != nil {
		return classify(connectionName, q.CommandText, opLabel, err)
	}

	if bodyErr := body(ctx, cmd); bodyErr != nil {
		return classify(connectionName, q.CommandText, opLabel, bodyErr)
	}
	return nil
}

// buildSpec materializes the driver command spec:
// ceil-of-seconds timeout, non-positive mapping to "no timeout", every
// parameter copied with NULL standing in for an absent value.
func buildSpec(q dbexec.QueryDefinition, timeout time.Duration, tx datasource.Transaction) datasource.CommandSpec {
	params := make([]datasource.Parameter, len(q.Parameters))
	for i, p := range q.Parameters {
		var value any
		if p.HasValue {
			value = p.Value
		}
		params[i] = datasource.Parameter{
			Name:      p.Name,
			Value:     value,
			DBType:    p.DBType,
			Direction: toDatasourceDirection(p.Direction),
			Size:      p.Size,
			Precision: p.Precision,
			Scale:     p.Scale,
		}
	}

	driverTimeout := timeout
	if timeout > 0 {
		seconds := math.Ceil(timeout.Seconds())
		driverTimeout = time.Duration(seconds) * time.Second
	} else {
		driverTimeout = 0
	}

	return datasource.CommandSpec{
		Text:       q.CommandText,
		Kind:       toDatasourceKind(q.CommandKind),
		Timeout:    driverTimeout,
		Parameters: params,
		Tx:         tx,
	}
}

// retryablePgSQLStates mirrors postgres.DatabaseError.IsRetryable's SQLSTATE
// table: connection failures, serialization/deadlock conflicts, and
// transient unavailability are worth retrying; syntax errors, constraint
// violations, and auth failures are not.
var retryablePgSQLStates = map[string]bool{
	"08000": true, // connection_exception
	"08001": true, // sqlclient_unable_to_establish_sqlconnection
	"08003": true, // connection_does_not_exist
	"08004": true, // sqlserver_rejected_establishment_of_sqlconnection
	"08006": true, // connection_failure
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"53300": true, // too_many_connections
	"57P01": true, // admin_shutdown
	"57P02": true, // crash_shutdown
	"57P03": true, // cannot_connect_now
}

// sqlite result codes (modernc.org/sqlite's *sqlite.Error.Code()) that
// indicate contention rather than a permanent failure.
const (
	sqliteBusy   = 5
	sqliteLocked = 6
)

// classify wraps a raw driver error as TransientError when it is worth
// retrying and counting as a circuit-breaker failure, or UnknownError
// otherwise, so the resilience pipeline's classifier can tell a deadlock
// from a bad statement. Mirrors the queue_error_classification.go idiom of
// an anonymous structural interface satisfied by the driver's own error
// type — *pgconn.PgError implements SQLState() string and modernc.org/sqlite's
// *sqlite.Error implements Code() int — so this package never imports
// either driver directly. A context.Canceled error becomes CancelledError
// here; an expired per-attempt deadline is turned into TimeoutError by
// resilience.TimeoutGuard after this returns.
func classify(connectionName, commandText, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return dbexec.NewCancelledError(err)
	}
	if isTransientDriverError(err) {
		return dbexec.NewTransientError(op, err)
	}
	return dbexec.NewUnknownError(connectionName, commandText, err)
}

func isTransientDriverError(err error) bool {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return retryablePgSQLStates[pgErr.SQLState()]
	}

	var sqliteErr interface{ Code() int }
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqliteBusy, sqliteLocked:
			return true
		default:
			return false
		}
	}

	return false
}

// isNoRows recognizes both sql.ErrNoRows ("sql: no rows in result set") and
// pgx.ErrNoRows ("no rows in result set") without importing either driver
// package directly, since datasource.Row is driver-agnostic.
func isNoRows(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no rows in result set")
}

func toDatasourceIsolation(level dbexec.IsolationLevel) datasource.IsolationLevel {
	return datasource.IsolationLevel(level)
}

func toDatasourceKind(kind dbexec.CommandKind) datasource.CommandKind {
	return datasource.CommandKind(kind)
}

func toDatasourceDirection(dir dbexec.ParameterDirection) datasource.ParameterDirection {
	return datasource.ParameterDirection(dir)
}
