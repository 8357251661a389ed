package ragpg

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/youssefsiam38/ragpg/storage"
)

// SessionStore keeps conversation sessions in memory for the process
// lifetime and writes them through to the durable store on every append.
// Persistence failures are absorbed: the conversation continues in memory
// and the next successful append re-syncs the durable copy.
type SessionStore struct {
	store   storage.Store
	onError func(error)

	// mu guards the entries map; each entry carries its own mutex so
	// appends serialize per session while sessions stay independent.
	mu      sync.Mutex
	entries map[string]*sessionEntry

	// now is replaceable in tests.
	now func() time.Time
}

type sessionEntry struct {
	mu      sync.Mutex
	session *storage.Session
}

// SessionStoreConfig configures a SessionStore.
type SessionStoreConfig struct {
	// OnError is called when a write-through persist fails.
	OnError func(err error)
}

// NewSessionStore creates a SessionStore backed by store.
func NewSessionStore(store storage.Store, config *SessionStoreConfig) *SessionStore {
	if config == nil {
		config = &SessionStoreConfig{}
	}
	return &SessionStore{
		store:   store,
		onError: config.OnError,
		entries: make(map[string]*sessionEntry),
		now:     time.Now,
	}
}

// GetOrCreate returns the session for sessionID, creating it when absent.
// An empty sessionID mints a fresh UUID. Sessions are tenant-bound: a
// session owned by another tenant is reported as not found, never as
// forbidden, so existence is not confirmed across tenants.
func (s *SessionStore) GetOrCreate(ctx context.Context, sessionID, tenantID, sessionContext string) (*storage.Session, error) {
	const op = "session_get_or_create"

	if tenantID == "" {
		return nil, newError(KindInvalidArgument, op, "", "",
			fmt.Errorf("%w: tenant id is required", ErrInvalidConfig))
	}

	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	s.mu.Lock()
	entry, ok := s.entries[sessionID]
	s.mu.Unlock()
	if ok {
		entry.mu.Lock()
		owner := entry.session.TenantID
		entry.mu.Unlock()
		if owner != tenantID {
			return nil, s.sessionNotFound(op, tenantID, sessionID)
		}
		return entry.session, nil
	}

	session, err := s.store.GetSession(ctx, sessionID)
	switch {
	case err == nil:
		if session.TenantID != tenantID {
			return nil, s.sessionNotFound(op, tenantID, sessionID)
		}
	case errors.Is(err, storage.ErrNotFound):
		now := s.now()
		session = &storage.Session{
			ID:        sessionID,
			TenantID:  tenantID,
			Context:   sessionContext,
			Turns:     []storage.Turn{},
			CreatedAt: now,
			UpdatedAt: now,
		}
		if perr := s.store.UpsertSession(ctx, session); perr != nil {
			s.reportError(fmt.Errorf("failed to persist new session %s: %w", sessionID, perr))
		}
	default:
		return nil, newError(KindBackendFailed, op, tenantID, MsgServiceUnavailable,
			fmt.Errorf("%w: %v", ErrBackendFailed, err))
	}

	s.mu.Lock()
	// Another goroutine may have cached it while we read the store.
	if existing, ok := s.entries[sessionID]; ok {
		entry = existing
	} else {
		entry = &sessionEntry{session: session}
		s.entries[sessionID] = entry
	}
	s.mu.Unlock()

	entry.mu.Lock()
	cached := entry.session
	entry.mu.Unlock()
	if cached.TenantID != tenantID {
		return nil, s.sessionNotFound(op, tenantID, sessionID)
	}
	return cached, nil
}

func (s *SessionStore) sessionNotFound(op, tenantID, sessionID string) error {
	return newError(KindNotFound, op, tenantID, msgSessionNotFound(),
		fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID))
}

// AppendTurn appends one turn to session, in memory first and then
// written through to the store. Appends to the same session serialize;
// the persist failure path logs and returns nil so a storage blip never
// loses the user's conversation.
func (s *SessionStore) AppendTurn(ctx context.Context, session *storage.Session, role, content string, metadata map[string]any) error {
	if session == nil {
		return newError(KindInvalidArgument, "session_append_turn", "", "",
			fmt.Errorf("%w: session is required", ErrSessionNotFound))
	}

	entry := s.entryFor(session)
	entry.mu.Lock()
	defer entry.mu.Unlock()

	now := s.now()
	session.Turns = append(session.Turns, storage.Turn{
		Role:      role,
		Content:   content,
		Timestamp: now,
		Metadata:  metadata,
	})
	session.UpdatedAt = now

	if err := s.store.UpsertSession(ctx, session); err != nil {
		s.reportError(fmt.Errorf("failed to persist session %s: %w", session.ID, err))
	}
	return nil
}

// entryFor returns the cache entry for session, registering the session
// when it was obtained outside GetOrCreate.
func (s *SessionStore) entryFor(session *storage.Session) *sessionEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[session.ID]
	if !ok {
		entry = &sessionEntry{session: session}
		s.entries[session.ID] = entry
	}
	return entry
}

// ContextWindow returns the last 2·maxTurns turns in their original
// order, without summarizing or truncating content. A non-positive
// maxTurns means the default window.
func (s *SessionStore) ContextWindow(session *storage.Session, maxTurns int) []storage.Turn {
	if session == nil {
		return nil
	}
	if maxTurns <= 0 {
		maxTurns = DefaultSessionWindowTurns
	}

	entry := s.entryFor(session)
	entry.mu.Lock()
	defer entry.mu.Unlock()

	turns := session.Turns
	limit := 2 * maxTurns
	if len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	out := make([]storage.Turn, len(turns))
	copy(out, turns)
	return out
}

// ClearCache drops all in-memory sessions. Durable copies are untouched.
func (s *SessionStore) ClearCache() {
	s.mu.Lock()
	s.entries = make(map[string]*sessionEntry)
	s.mu.Unlock()
}

func (s *SessionStore) reportError(err error) {
	if s.onError != nil {
		s.onError(err)
	}
}
