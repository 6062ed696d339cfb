package executor_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvid-systems/dbexec/internal/dbexec"
	"github.com/corvid-systems/dbexec/internal/dbexec/datasource"
	"github.com/corvid-systems/dbexec/internal/dbexec/executor"
)

func newTestRegistration(t *testing.T) *dbexec.Registration {
	t.Helper()

	opts := dbexec.DefaultDbOptions()
	opts.ConnectionStrings[opts.DefaultConnectionName] = "file::memory:?cache=shared"

	reg, err := dbexec.NewRegistration(dbexec.RegistrationDeps{
		Options:            opts,
		Resilience:         dbexec.DefaultDbResilienceOptions(),
		SourceFactory:      &datasource.SqliteFactory{},
		MaxCachedSources:   8,
		MaxCachedPipelines: 8,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })
	return reg
}

func TestDbClient_ExecuteNonQuery_CreatesTableAndInserts(t *testing.T) {
	reg := newTestRegistration(t)
	ctx := context.Background()

	_, err := reg.Client().ExecuteNonQuery(ctx, dbexec.NewTextQuery("CREATE TABLE widgets (id INTEGER, name TEXT)"))
	require.NoError(t, err)

	affected, err := reg.Client().ExecuteNonQuery(ctx, dbexec.NewTextQuery(
		"INSERT INTO widgets (id, name) VALUES (?, ?)",
		dbexec.NewInputParameter("id", int64(1)),
		dbexec.NewInputParameter("name", "sprocket"),
	))
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)
}

func TestDbClient_ExecuteScalar_ReturnsCoercedValue(t *testing.T) {
	reg := newTestRegistration(t)
	ctx := context.Background()

	value, found, err := executor.ExecuteScalar[int64](ctx, reg.Client(), dbexec.NewTextQuery("SELECT 7"))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(7), value)
}

func TestDbClient_ExecuteScalar_NoRowsReturnsNotFound(t *testing.T) {
	reg := newTestRegistration(t)
	ctx := context.Background()

	_, err := reg.Client().ExecuteNonQuery(ctx, dbexec.NewTextQuery("CREATE TABLE empties (id INTEGER)"))
	require.NoError(t, err)

	value, found, err := executor.ExecuteScalar[int64](ctx, reg.Client(), dbexec.NewTextQuery("SELECT id FROM empties WHERE id = 99"))
	require.NoError(t, err)
	assert.False(t, found)
	assert.Zero(t, value)
}

func TestDbClient_Query_ProjectsAllRows(t *testing.T) {
	reg := newTestRegistration(t)
	ctx := context.Background()

	_, err := reg.Client().ExecuteNonQuery(ctx, dbexec.NewTextQuery("CREATE TABLE names (value TEXT)"))
	require.NoError(t, err)
	for _, name := range []string{"ada", "grace", "margaret"} {
		_, err := reg.Client().ExecuteNonQuery(ctx, dbexec.NewTextQuery(
			"INSERT INTO names (value) VALUES (?)", dbexec.NewInputParameter("value", name),
		))
		require.NoError(t, err)
	}

	results, err := executor.Query[string](ctx, reg.Client(), dbexec.NewTextQuery("SELECT value FROM names ORDER BY value"),
		func(row datasource.Row) (string, error) {
			var value string
			err := row.Scan(&value)
			return value, err
		})
	require.NoError(t, err)
	assert.Equal(t, []string{"ada", "grace", "margaret"}, results)
}

func TestDbClient_TransactionCommitsSuccessfulWrite(t *testing.T) {
	reg := newTestRegistration(t)
	ctx := context.Background()

	_, err := reg.Client().ExecuteNonQuery(ctx, dbexec.NewTextQuery("CREATE TABLE ledger (amount INTEGER)"))
	require.NoError(t, err)

	_, err = reg.Client().ExecuteNonQuery(ctx,
		dbexec.NewTextQuery("INSERT INTO ledger (amount) VALUES (?)", dbexec.NewInputParameter("amount", int64(100))).
			WithIsolation(dbexec.IsolationSerializable),
	)
	require.NoError(t, err)

	// A malformed statement under the same isolation setting must fail and
	// leave the already-committed row untouched.
	_, err = reg.Client().ExecuteNonQuery(ctx,
		dbexec.NewTextQuery("INSERT INTO nonexistent_table (amount) VALUES (1)").
			WithIsolation(dbexec.IsolationSerializable),
	)
	var unknownErr *dbexec.UnknownError
	require.ErrorAs(t, err, &unknownErr, "a missing table is a permanent failure, not a transient one")

	count, found, err := executor.ExecuteScalar[int64](ctx, reg.Client(), dbexec.NewTextQuery("SELECT COUNT(*) FROM ledger"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(1), count)
}

func TestDbClient_Close_RejectsSubsequentCalls(t *testing.T) {
	reg := newTestRegistration(t)
	require.NoError(t, reg.Close())

	_, err := reg.Client().ExecuteNonQuery(context.Background(), dbexec.NewTextQuery("SELECT 1"))
	assert.ErrorIs(t, err, dbexec.ErrDisposed)
}

func TestDbClient_UnknownConnectionNameIsConfigurationError(t *testing.T) {
	reg := newTestRegistration(t)
	ctx := context.Background()

	_, err := reg.Client().ExecuteNonQuery(ctx, dbexec.NewTextQuery("SELECT 1").WithConnectionName("nonexistent"))

	var cfgErr *dbexec.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}

func TestDbClient_RespectsPerQueryTimeout(t *testing.T) {
	reg := newTestRegistration(t)
	ctx := context.Background()

	// A 1-nanosecond timeout on a trivial query should either succeed (the
	// driver never even observes the deadline) or surface a timeout/transient
	// failure — never hang.
	done := make(chan struct{})
	go func() {
		_, _ = reg.Client().ExecuteNonQuery(ctx, dbexec.NewTextQuery("SELECT 1").WithTimeout(time.Nanosecond))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("ExecuteNonQuery did not return within the deadline budget")
	}
}
