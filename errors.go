package ragpg

import (
	"errors"
	"fmt"
)

// Common errors
var (
	// ErrInvalidConfig is returned when the client configuration is invalid
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrTenantNotFound is returned when a tenant does not exist or the
	// provided namespace does not match the stored one
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrSessionNotFound is returned when a session does not exist or
	// belongs to a different tenant
	ErrSessionNotFound = errors.New("session not found")

	// ErrConsentDenied is returned when a tenant's consent does not cover
	// the requested operation
	ErrConsentDenied = errors.New("consent denied")

	// ErrEmbeddingFailed is returned when the embedding provider fails
	ErrEmbeddingFailed = errors.New("embedding failed")

	// ErrBackendFailed is returned when a durable store is unavailable
	ErrBackendFailed = errors.New("backend failed")

	// ErrCompletionFailed is returned when both the primary and fallback
	// completion models fail
	ErrCompletionFailed = errors.New("completion failed")

	// ErrClientNotStarted is returned when calling methods before Start()
	ErrClientNotStarted = errors.New("client not started")

	// ErrClientAlreadyStarted is returned when Start() is called twice
	ErrClientAlreadyStarted = errors.New("client already started")
)

// Kind classifies an error for callers that route on failure class rather
// than on the concrete cause.
type Kind string

const (
	// KindNotFound means the entity is absent. Cross-tenant reads report
	// this same kind so existence is never confirmed to the wrong tenant.
	KindNotFound Kind = "not_found"

	// KindDenied means the tenant's consent does not cover the operation.
	KindDenied Kind = "denied"

	// KindInvalidArgument means an input violated bounds or format.
	KindInvalidArgument Kind = "invalid_argument"

	// KindBackendFailed means an upstream store or model is unavailable.
	KindBackendFailed Kind = "backend_failed"

	// KindTimeout means the operation exceeded its deadline.
	KindTimeout Kind = "timeout"

	// KindConflict means the operation collided with concurrent state.
	KindConflict Kind = "conflict"

	// KindInternal means a bug.
	KindInternal Kind = "internal"
)

// Error is a classified error with the context the answer pipeline needs:
// the failing operation, the tenant it ran for, and a Spanish user-facing
// message safe to surface verbatim. The developer-facing Error() string
// stays in English and never reaches end users.
type Error struct {
	Kind     Kind
	Op       string // operation that failed, e.g. "vector_search"
	TenantID string // tenant the operation ran for, if any
	Msg      string // localized user-facing message
	Err      error  // underlying error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.TenantID != "" {
		return fmt.Sprintf("%s (tenant=%s): %s: %v", e.Op, e.TenantID, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// newError creates a classified error. msg may be empty when the failure
// is never user-visible.
func newError(kind Kind, op, tenantID, msg string, err error) *Error {
	return &Error{
		Kind:     kind,
		Op:       op,
		TenantID: tenantID,
		Msg:      msg,
		Err:      err,
	}
}

// KindOf returns the Kind carried by err, or KindInternal when err is not
// a classified error. A nil err has no kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MsgServiceUnavailable is the generic unavailable message. All output
// shown to end users is Spanish; specific messages name the operation and
// the next step and never expose internal identifiers or policy.
const MsgServiceUnavailable = "El servicio no está disponible en este momento. Por favor, intente de nuevo más tarde."

// msgConsentDenied names the tenant and the refused operation.
func msgConsentDenied(tenantID, op string) string {
	return fmt.Sprintf("La organización %s no cuenta con consentimiento vigente para la operación %s. Contacte a su administrador para actualizar el consentimiento.", tenantID, op)
}

// msgTenantNotFound names the tenant that could not be resolved.
func msgTenantNotFound(tenantID string) string {
	return fmt.Sprintf("No se encontró la organización %s. Verifique el identificador e intente de nuevo.", tenantID)
}

// msgSessionNotFound deliberately does not say whether the session exists.
func msgSessionNotFound() string {
	return "No se encontró la sesión solicitada. Inicie una nueva conversación."
}

// UserMessage returns the Spanish user-facing message for err: the
// specific message when err carries one, the generic unavailable message
// otherwise. Returns "" for a nil error.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e.Msg != "" {
		return e.Msg
	}
	return MsgServiceUnavailable
}
