package dbexec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestQueryDefinition_Validate(t *testing.T) {
	tests := []struct {
		name    string
		query   QueryDefinition
		wantErr bool
	}{
		{
			name:    "blank command text",
			query:   NewTextQuery(""),
			wantErr: true,
		},
		{
			name:    "valid text query",
			query:   NewTextQuery("SELECT 1"),
			wantErr: false,
		},
		{
			name:    "blank parameter name",
			query:   NewTextQuery("SELECT 1", QueryParameter{Name: "", HasValue: true}),
			wantErr: true,
		},
		{
			name: "duplicate parameter names",
			query: NewTextQuery("SELECT @p",
				NewInputParameter("p", 1),
				NewInputParameter("p", 2),
			),
			wantErr: true,
		},
		{
			name:    "stored procedure query",
			query:   NewStoredProcedureQuery("dbo.DoThing", NewInputParameter("id", 7)),
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.query.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestQueryDefinition_WithHelpers(t *testing.T) {
	base := NewTextQuery("SELECT 1")

	withTimeout := base.WithTimeout(5 * time.Second)
	assert.Equal(t, 5*time.Second, withTimeout.CommandTimeout)
	assert.Zero(t, base.CommandTimeout, "WithTimeout must not mutate the receiver")

	withIsolation := base.WithIsolation(IsolationSerializable)
	assert.Equal(t, IsolationSerializable, withIsolation.Isolation)
	assert.Equal(t, IsolationUnspecified, base.Isolation)

	withConn := base.WithConnectionName("reporting")
	assert.Equal(t, "reporting", withConn.ConnectionName)
	assert.Empty(t, base.ConnectionName)

	withTag := base.WithTag("trace-id")
	assert.Equal(t, "trace-id", withTag.Tag)
	assert.Nil(t, base.Tag)
}

func TestQueryDefinition_EffectiveTimeout(t *testing.T) {
	tests := []struct {
		name    string
		query   QueryDefinition
		def     time.Duration
		want    time.Duration
	}{
		{name: "zero override uses default", query: NewTextQuery("SELECT 1"), def: 3 * time.Second, want: 3 * time.Second},
		{name: "explicit override wins", query: NewTextQuery("SELECT 1").WithTimeout(9 * time.Second), def: 3 * time.Second, want: 9 * time.Second},
		{name: "negative override means no timeout and is returned as-is", query: NewTextQuery("SELECT 1").WithTimeout(-1), def: 3 * time.Second, want: -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.query.EffectiveTimeout(tt.def))
		})
	}
}

func TestQueryDefinition_EffectiveConnectionName(t *testing.T) {
	assert.Equal(t, "main", NewTextQuery("SELECT 1").EffectiveConnectionName("main"))
	assert.Equal(t, "reporting", NewTextQuery("SELECT 1").WithConnectionName("reporting").EffectiveConnectionName("main"))
}

func TestQueryDefinition_EffectiveIsolation(t *testing.T) {
	assert.Equal(t, IsolationReadCommitted, NewTextQuery("SELECT 1").EffectiveIsolation(IsolationReadCommitted))
	assert.Equal(t, IsolationSerializable, NewTextQuery("SELECT 1").WithIsolation(IsolationSerializable).EffectiveIsolation(IsolationReadCommitted))
}

func TestNewInputParameter_NilValueIsExplicitNull(t *testing.T) {
	p := NewInputParameter("p", nil)
	assert.True(t, p.HasValue)
	assert.Nil(t, p.Value)
	assert.Equal(t, DirectionInput, p.Direction)
}

func TestIsolationLevel_String(t *testing.T) {
	tests := []struct {
		level IsolationLevel
		want  string
	}{
		{IsolationUnspecified, "unspecified"},
		{IsolationReadUncommitted, "read_uncommitted"},
		{IsolationReadCommitted, "read_committed"},
		{IsolationRepeatableRead, "repeatable_read"},
		{IsolationSerializable, "serializable"},
		{IsolationSnapshot, "snapshot"},
		{IsolationChaos, "chaos"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.level.String())
	}
}

func TestCommandKind_String(t *testing.T) {
	assert.Equal(t, "text", CommandKindText.String())
	assert.Equal(t, "stored_procedure", CommandKindStoredProcedure.String())
}
