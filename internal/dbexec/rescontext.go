package dbexec

// ResilienceContext is the per-execution ambient state: it is
// created once per top-level execution and reused, unmodified in identity,
// across every retry attempt within that execution. Middleware reads it to
// label metrics and logs; it carries no behavior of its own.
type ResilienceContext struct {
	// OperationKey defaults to CommandText when blank; it is the label
	// retry/circuit-breaker/metrics code groups by.
	OperationKey   string
	ConnectionName string
	CommandText    string
	CommandKind    CommandKind
	Tag            any
}

// NewResilienceContext stamps a ResilienceContext from a resolved query
// definition, defaulting OperationKey to CommandText.
func NewResilienceContext(q QueryDefinition, connectionName string) *ResilienceContext {
	return &ResilienceContext{
		OperationKey:   q.CommandText,
		ConnectionName: connectionName,
		CommandText:    q.CommandText,
		CommandKind:    q.CommandKind,
		Tag:            q.Tag,
	}
}
