package dbexec

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewResilienceContext(t *testing.T) {
	q := NewTextQuery("SELECT 1 FROM accounts WHERE id = @id", NewInputParameter("id", 1)).
		WithTag("trace-123")

	rc := NewResilienceContext(q, "reporting")

	assert.Equal(t, q.CommandText, rc.OperationKey)
	assert.Equal(t, q.CommandText, rc.CommandText)
	assert.Equal(t, "reporting", rc.ConnectionName)
	assert.Equal(t, CommandKindText, rc.CommandKind)
	assert.Equal(t, "trace-123", rc.Tag)
}

func TestNewResilienceContext_StoredProcedureKind(t *testing.T) {
	q := NewStoredProcedureQuery("dbo.DoThing")
	rc := NewResilienceContext(q, "main")

	assert.Equal(t, CommandKindStoredProcedure, rc.CommandKind)
	assert.Equal(t, "dbo.DoThing", rc.OperationKey)
}
