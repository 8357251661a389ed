package ragpg

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestSessionStore_GetOrCreate_MintsSessionID(t *testing.T) {
	store := newFakeStore()
	sessions := NewSessionStore(store, nil)

	session, err := sessions.GetOrCreate(context.Background(), "", "tenant-a", "renewals")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if session.ID == "" {
		t.Fatal("expected a minted session id")
	}
	if session.TenantID != "tenant-a" {
		t.Errorf("TenantID = %q, want tenant-a", session.TenantID)
	}
	if session.Context != "renewals" {
		t.Errorf("Context = %q, want renewals", session.Context)
	}

	// The new session is persisted immediately.
	if _, err := store.GetSession(context.Background(), session.ID); err != nil {
		t.Errorf("new session not persisted: %v", err)
	}
}

func TestSessionStore_GetOrCreate_ReturnsExisting(t *testing.T) {
	store := newFakeStore()
	sessions := NewSessionStore(store, nil)
	ctx := context.Background()

	first, err := sessions.GetOrCreate(ctx, "", "tenant-a", "")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	second, err := sessions.GetOrCreate(ctx, first.ID, "tenant-a", "")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if second != first {
		t.Error("expected the cached session instance")
	}
}

func TestSessionStore_GetOrCreate_CrossTenant(t *testing.T) {
	store := newFakeStore()
	sessions := NewSessionStore(store, nil)
	ctx := context.Background()

	session, err := sessions.GetOrCreate(ctx, "", "tenant-a", "")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}

	// Another tenant asking for the same session id learns nothing about
	// its existence.
	_, err = sessions.GetOrCreate(ctx, session.ID, "tenant-b", "")
	if KindOf(err) != KindNotFound {
		t.Errorf("KindOf() = %v, want %v", KindOf(err), KindNotFound)
	}
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}

	// Same for a session only present in the store, not the cache.
	sessions.ClearCache()
	_, err = sessions.GetOrCreate(ctx, session.ID, "tenant-b", "")
	if KindOf(err) != KindNotFound {
		t.Errorf("KindOf() after cache clear = %v, want %v", KindOf(err), KindNotFound)
	}
}

func TestSessionStore_GetOrCreate_RequiresTenantID(t *testing.T) {
	sessions := NewSessionStore(newFakeStore(), nil)

	_, err := sessions.GetOrCreate(context.Background(), "", "", "")
	if KindOf(err) != KindInvalidArgument {
		t.Errorf("KindOf() = %v, want %v", KindOf(err), KindInvalidArgument)
	}
}

func TestSessionStore_GetOrCreate_LoadsFromStore(t *testing.T) {
	store := newFakeStore()
	sessions := NewSessionStore(store, nil)
	ctx := context.Background()

	session, err := sessions.GetOrCreate(ctx, "", "tenant-a", "")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if err := sessions.AppendTurn(ctx, session, RoleUser, "hola", nil); err != nil {
		t.Fatalf("AppendTurn() error = %v", err)
	}

	// A fresh cache rehydrates the session from the store.
	sessions.ClearCache()
	loaded, err := sessions.GetOrCreate(ctx, session.ID, "tenant-a", "")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if len(loaded.Turns) != 1 || loaded.Turns[0].Content != "hola" {
		t.Errorf("loaded turns = %+v, want the persisted turn", loaded.Turns)
	}
}

func TestSessionStore_AppendTurn_WritesThrough(t *testing.T) {
	store := newFakeStore()
	sessions := NewSessionStore(store, nil)
	ctx := context.Background()

	session, err := sessions.GetOrCreate(ctx, "", "tenant-a", "")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}

	if err := sessions.AppendTurn(ctx, session, RoleUser, "hola", nil); err != nil {
		t.Fatalf("AppendTurn() error = %v", err)
	}
	if err := sessions.AppendTurn(ctx, session, RoleAssistant, "buenos días", map[string]any{"model": "m"}); err != nil {
		t.Fatalf("AppendTurn() error = %v", err)
	}

	persisted, err := store.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if len(persisted.Turns) != 2 {
		t.Fatalf("persisted turns = %d, want 2", len(persisted.Turns))
	}
	if persisted.Turns[0].Role != RoleUser || persisted.Turns[1].Role != RoleAssistant {
		t.Errorf("turn roles = %q, %q, want user, assistant", persisted.Turns[0].Role, persisted.Turns[1].Role)
	}
	if persisted.Turns[1].Metadata["model"] != "m" {
		t.Errorf("turn metadata = %v, want model m", persisted.Turns[1].Metadata)
	}
}

func TestSessionStore_AppendTurn_AbsorbsPersistFailure(t *testing.T) {
	store := newFakeStore()
	var reported error
	sessions := NewSessionStore(store, &SessionStoreConfig{
		OnError: func(err error) { reported = err },
	})
	ctx := context.Background()

	session, err := sessions.GetOrCreate(ctx, "", "tenant-a", "")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}

	store.upsertSessionErr = errors.New("disk full")
	if err := sessions.AppendTurn(ctx, session, RoleUser, "hola", nil); err != nil {
		t.Fatalf("AppendTurn() error = %v, want nil (persist failures are absorbed)", err)
	}
	if reported == nil {
		t.Error("expected the persist failure to be reported via OnError")
	}
	if len(session.Turns) != 1 {
		t.Errorf("in-memory turns = %d, want 1", len(session.Turns))
	}
}

func TestSessionStore_AppendTurn_NilSession(t *testing.T) {
	sessions := NewSessionStore(newFakeStore(), nil)

	err := sessions.AppendTurn(context.Background(), nil, RoleUser, "hola", nil)
	if KindOf(err) != KindInvalidArgument {
		t.Errorf("KindOf() = %v, want %v", KindOf(err), KindInvalidArgument)
	}
}

func TestSessionStore_ContextWindow(t *testing.T) {
	store := newFakeStore()
	sessions := NewSessionStore(store, nil)
	ctx := context.Background()

	session, err := sessions.GetOrCreate(ctx, "", "tenant-a", "")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	for i := 0; i < 7; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		if err := sessions.AppendTurn(ctx, session, role, fmt.Sprintf("turn %d", i), nil); err != nil {
			t.Fatalf("AppendTurn() error = %v", err)
		}
	}

	// Window of N exchanges means the last 2N turns.
	window := sessions.ContextWindow(session, 2)
	if len(window) != 4 {
		t.Fatalf("window = %d turns, want 4", len(window))
	}
	if window[0].Content != "turn 3" || window[3].Content != "turn 6" {
		t.Errorf("window = [%q .. %q], want [turn 3 .. turn 6]", window[0].Content, window[3].Content)
	}

	// Shorter histories come back whole.
	window = sessions.ContextWindow(session, 50)
	if len(window) != 7 {
		t.Errorf("window = %d turns, want all 7", len(window))
	}

	// The window is a copy; mutating it must not touch the session.
	window[0].Content = "mutated"
	if session.Turns[0].Content == "mutated" {
		t.Error("ContextWindow must return a copy")
	}

	if got := sessions.ContextWindow(nil, 2); got != nil {
		t.Errorf("ContextWindow(nil) = %v, want nil", got)
	}
}
