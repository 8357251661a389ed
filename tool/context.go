package tool

import "context"

// Context keys for call information passed to tools
type contextKey string

const (
	tenantIDKey  contextKey = "ragpg_tenant_id"
	sessionIDKey contextKey = "ragpg_session_id"
	variablesKey contextKey = "ragpg_variables"
)

// CallContext carries answer-level information to tools during execution.
// The answer pipeline attaches it before executing any tool the model
// requested; tools read it via the accessors below.
type CallContext struct {
	// TenantID is the tenant the current answer runs under.
	TenantID string

	// SessionID is the conversation session, empty for sessionless calls.
	SessionID string

	// Variables contains per-call values passed via the Answer() request,
	// e.g. the caller's user id or a trace id.
	Variables map[string]any
}

// WithCallContext attaches call context to the given context.
func WithCallContext(ctx context.Context, cc CallContext) context.Context {
	ctx = context.WithValue(ctx, tenantIDKey, cc.TenantID)
	ctx = context.WithValue(ctx, sessionIDKey, cc.SessionID)
	ctx = context.WithValue(ctx, variablesKey, cc.Variables)
	return ctx
}

// GetCallContext extracts the full call context from the context.
// Returns false if the context was not enriched with call information.
func GetCallContext(ctx context.Context) (CallContext, bool) {
	tenantID, ok := ctx.Value(tenantIDKey).(string)
	if !ok {
		return CallContext{}, false
	}
	sessionID, _ := ctx.Value(sessionIDKey).(string)
	vars, _ := ctx.Value(variablesKey).(map[string]any)
	return CallContext{TenantID: tenantID, SessionID: sessionID, Variables: vars}, true
}

// GetTenantID extracts the tenant id from the context.
func GetTenantID(ctx context.Context) (string, bool) {
	tenantID, ok := ctx.Value(tenantIDKey).(string)
	return tenantID, ok
}

// GetSessionID extracts the session id from the context.
func GetSessionID(ctx context.Context) (string, bool) {
	sessionID, ok := ctx.Value(sessionIDKey).(string)
	return sessionID, ok
}

// GetVariables extracts all variables from the context.
// Returns nil if no variables were set.
func GetVariables(ctx context.Context) map[string]any {
	vars, _ := ctx.Value(variablesKey).(map[string]any)
	return vars
}

// GetVariable extracts a single variable from the context by key.
// The type parameter T specifies the expected type of the variable.
// Returns the zero value and false if the variable is not found or has
// the wrong type.
//
// Example:
//
//	userID, ok := tool.GetVariable[string](ctx, "user_id")
func GetVariable[T any](ctx context.Context, key string) (T, bool) {
	vars, _ := ctx.Value(variablesKey).(map[string]any)
	if vars == nil {
		var zero T
		return zero, false
	}
	val, ok := vars[key]
	if !ok {
		var zero T
		return zero, false
	}
	typed, ok := val.(T)
	if !ok {
		var zero T
		return zero, false
	}
	return typed, ok
}

// GetVariableOr extracts a variable from the context or returns the
// default value.
func GetVariableOr[T any](ctx context.Context, key string, defaultValue T) T {
	val, ok := GetVariable[T](ctx, key)
	if !ok {
		return defaultValue
	}
	return val
}
