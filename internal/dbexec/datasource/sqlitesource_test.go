package datasource

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestSqliteSource(t *testing.T) Source {
	t.Helper()
	factory := &SqliteFactory{}
	src, err := factory.NewSource("file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = src.Close() })
	return src
}

func TestSqliteSource_ExecuteNonQuery_CreatesTableAndInserts(t *testing.T) {
	src := openTestSqliteSource(t)
	ctx := context.Background()

	conn, err := src.OpenConnection(ctx)
	require.NoError(t, err)
	defer conn.Close(ctx)

	create, err := conn.CreateCommand(CommandSpec{Text: "CREATE TABLE accounts (id INTEGER, name TEXT)"})
	require.NoError(t, err)
	_, err = create.ExecuteNonQuery(ctx)
	require.NoError(t, err)

	insert, err := conn.CreateCommand(CommandSpec{
		Text: "INSERT INTO accounts (id, name) VALUES (?, ?)",
		Parameters: []Parameter{
			{Name: "id", Value: int64(1)},
			{Name: "name", Value: "ada"},
		},
	})
	require.NoError(t, err)
	affected, err := insert.ExecuteNonQuery(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)
}

func TestSqliteSource_ExecuteScalar_ReturnsFirstColumn(t *testing.T) {
	src := openTestSqliteSource(t)
	ctx := context.Background()

	conn, err := src.OpenConnection(ctx)
	require.NoError(t, err)
	defer conn.Close(ctx)

	cmd, err := conn.CreateCommand(CommandSpec{Text: "SELECT 42"})
	require.NoError(t, err)
	row, err := cmd.ExecuteScalar(ctx)
	require.NoError(t, err)

	var value int64
	require.NoError(t, row.Scan(&value))
	assert.Equal(t, int64(42), value)
}

func TestSqliteSource_ExecuteReader_IteratesAllRows(t *testing.T) {
	src := openTestSqliteSource(t)
	ctx := context.Background()

	conn, err := src.OpenConnection(ctx)
	require.NoError(t, err)
	defer conn.Close(ctx)

	setup, err := conn.CreateCommand(CommandSpec{Text: "CREATE TABLE letters (letter TEXT)"})
	require.NoError(t, err)
	_, err = setup.ExecuteNonQuery(ctx)
	require.NoError(t, err)

	for _, letter := range []string{"a", "b", "c"} {
		insert, err := conn.CreateCommand(CommandSpec{
			Text:       "INSERT INTO letters (letter) VALUES (?)",
			Parameters: []Parameter{{Name: "letter", Value: letter}},
		})
		require.NoError(t, err)
		_, err = insert.ExecuteNonQuery(ctx)
		require.NoError(t, err)
	}

	query, err := conn.CreateCommand(CommandSpec{Text: "SELECT letter FROM letters ORDER BY letter"})
	require.NoError(t, err)
	rows, err := query.ExecuteReader(ctx)
	require.NoError(t, err)
	defer rows.Close()

	var got []string
	for rows.Next() {
		var letter string
		require.NoError(t, rows.Scan(&letter))
		got = append(got, letter)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestSqliteSource_TransactionRollback_DiscardsChanges(t *testing.T) {
	src := openTestSqliteSource(t)
	ctx := context.Background()

	conn, err := src.OpenConnection(ctx)
	require.NoError(t, err)
	defer conn.Close(ctx)

	setup, err := conn.CreateCommand(CommandSpec{Text: "CREATE TABLE ledger (amount INTEGER)"})
	require.NoError(t, err)
	_, err = setup.ExecuteNonQuery(ctx)
	require.NoError(t, err)

	tx, err := conn.BeginTransaction(ctx, IsolationSerializable)
	require.NoError(t, err)

	insert, err := conn.CreateCommand(CommandSpec{
		Text:       "INSERT INTO ledger (amount) VALUES (?)",
		Parameters: []Parameter{{Name: "amount", Value: int64(100)}},
		Tx:         tx,
	})
	require.NoError(t, err)
	_, err = insert.ExecuteNonQuery(ctx)
	require.NoError(t, err)

	require.NoError(t, tx.Rollback(ctx))

	count, err := conn.CreateCommand(CommandSpec{Text: "SELECT COUNT(*) FROM ledger"})
	require.NoError(t, err)
	row, err := count.ExecuteScalar(ctx)
	require.NoError(t, err)

	var n int64
	require.NoError(t, row.Scan(&n))
	assert.Zero(t, n)
}

func TestSqliteSource_TransactionCommit_PersistsChanges(t *testing.T) {
	src := openTestSqliteSource(t)
	ctx := context.Background()

	conn, err := src.OpenConnection(ctx)
	require.NoError(t, err)
	defer conn.Close(ctx)

	setup, err := conn.CreateCommand(CommandSpec{Text: "CREATE TABLE ledger (amount INTEGER)"})
	require.NoError(t, err)
	_, err = setup.ExecuteNonQuery(ctx)
	require.NoError(t, err)

	tx, err := conn.BeginTransaction(ctx, IsolationSerializable)
	require.NoError(t, err)

	insert, err := conn.CreateCommand(CommandSpec{
		Text:       "INSERT INTO ledger (amount) VALUES (?)",
		Parameters: []Parameter{{Name: "amount", Value: int64(250)}},
		Tx:         tx,
	})
	require.NoError(t, err)
	_, err = insert.ExecuteNonQuery(ctx)
	require.NoError(t, err)

	require.NoError(t, tx.Commit(ctx))

	count, err := conn.CreateCommand(CommandSpec{Text: "SELECT COUNT(*) FROM ledger"})
	require.NoError(t, err)
	row, err := count.ExecuteScalar(ctx)
	require.NoError(t, err)

	var n int64
	require.NoError(t, row.Scan(&n))
	assert.Equal(t, int64(1), n)
}
