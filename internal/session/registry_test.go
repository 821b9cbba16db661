package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/pramodkumar0813/DI-Skill-Bridge/internal/models"
)

type mockVerifier struct {
	identities map[string]models.Identity
}

func (m *mockVerifier) VerifyToken(ctx context.Context, token string) (models.Identity, error) {
	id, ok := m.identities[token]
	if !ok {
		return models.Identity{}, models.ErrInvalidCredential
	}
	if !id.IsActive {
		return id, models.ErrInactiveUser
	}
	return id, nil
}

func newRegistry() *Registry {
	return NewRegistry(&mockVerifier{identities: map[string]models.Identity{
		"teacher-token":  {UserID: "1", Role: models.RoleTeacher, IsActive: true, FullName: "Tia Teacher"},
		"student-token":  {UserID: "2", Role: models.RoleStudent, IsActive: true},
		"inactive-token": {UserID: "3", Role: models.RoleStudent, IsActive: false},
	}})
}

func TestRegistry_Connect(t *testing.T) {
	r := newRegistry()
	a, b := r.Connect(), r.Connect()
	if a == b {
		t.Fatal("handles must be unique")
	}

	s, ok := r.Get(a)
	if !ok || s.State != Connected {
		t.Errorf("expected connected session, got %+v", s)
	}
	if r.Len() != 2 {
		t.Errorf("expected 2 sessions, got %d", r.Len())
	}
}

func TestRegistry_Authenticate(t *testing.T) {
	r := newRegistry()
	h := r.Connect()

	id, err := r.Authenticate(context.Background(), h, "teacher-token", models.RoleTeacher, "")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if id.UserID != "1" {
		t.Errorf("unexpected identity %+v", id)
	}

	s, _ := r.Get(h)
	if s.State != Authenticated || s.Role != models.RoleTeacher {
		t.Errorf("unexpected session %+v", s)
	}
	if s.DisplayName != "Tia Teacher" {
		t.Errorf("expected directory name fallback, got %q", s.DisplayName)
	}

	if _, err := r.Authenticate(context.Background(), h, "teacher-token", models.RoleTeacher, ""); !errors.Is(err, models.ErrAlreadyAuthenticated) {
		t.Errorf("expected ErrAlreadyAuthenticated, got %v", err)
	}
}

func TestRegistry_AuthenticateDisplayName(t *testing.T) {
	r := newRegistry()

	h := r.Connect()
	r.Authenticate(context.Background(), h, "student-token", models.RoleStudent, "  Sam  ")
	if s, _ := r.Get(h); s.DisplayName != "Sam" {
		t.Errorf("expected claimed name, got %q", s.DisplayName)
	}

	h = r.Connect()
	r.Authenticate(context.Background(), h, "student-token", models.RoleStudent, "")
	if s, _ := r.Get(h); s.DisplayName != models.AnonymousName {
		t.Errorf("expected anonymous, got %q", s.DisplayName)
	}
}

func TestRegistry_AuthenticateFailures(t *testing.T) {
	tests := []struct {
		name  string
		token string
		role  models.Role
		want  error
	}{
		{"bad token", "nope", models.RoleStudent, models.ErrInvalidCredential},
		{"role mismatch", "student-token", models.RoleTeacher, models.ErrRoleMismatch},
		{"unknown role", "student-token", models.Role("admin"), models.ErrRoleMismatch},
		{"inactive", "inactive-token", models.RoleStudent, models.ErrInactiveUser},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRegistry()
			h := r.Connect()
			_, err := r.Authenticate(context.Background(), h, tt.token, tt.role, "x")
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
			if s, _ := r.Get(h); s.State != Connected {
				t.Errorf("failed auth must leave session connected, got %s", s.State)
			}
		})
	}

	r := newRegistry()
	if _, err := r.Authenticate(context.Background(), "missing", "student-token", models.RoleStudent, ""); !errors.Is(err, models.ErrUnknownHandle) {
		t.Errorf("expected ErrUnknownHandle, got %v", err)
	}
}

func TestRegistry_RoomTransitions(t *testing.T) {
	r := newRegistry()
	h := r.Connect()

	if _, err := r.EnterRoom(h, "101", models.RoomSnapshot{ID: "101"}); !errors.Is(err, models.ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}

	r.Authenticate(context.Background(), h, "student-token", models.RoleStudent, "Sam")
	s, err := r.EnterRoom(h, "101", models.RoomSnapshot{ID: "101"})
	if err != nil {
		t.Fatalf("enter: %v", err)
	}
	if s.State != InRoom || s.RoomID != "101" || s.Snapshot.ID != "101" {
		t.Errorf("unexpected session %+v", s)
	}

	if r.ExitRoom(h, "202") {
		t.Error("exit from another room must not transition")
	}
	if !r.ExitRoom(h, "101") {
		t.Error("expected exit to transition")
	}
	if r.ExitRoom(h, "101") {
		t.Error("second exit must report no transition")
	}
	if s, _ := r.Get(h); s.State != Authenticated || s.RoomID != "" {
		t.Errorf("unexpected session after exit %+v", s)
	}
}

func TestRegistry_OnDisconnectIdempotent(t *testing.T) {
	r := newRegistry()
	h := r.Connect()
	r.Authenticate(context.Background(), h, "student-token", models.RoleStudent, "Sam")
	r.EnterRoom(h, "101", models.RoomSnapshot{ID: "101"})

	var calls int32
	leave := func(ctx context.Context, s Session) error {
		atomic.AddInt32(&calls, 1)
		if s.RoomID != "101" || s.State != InRoom {
			t.Errorf("leave got unexpected session %+v", s)
		}
		return nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.OnDisconnect(context.Background(), h, leave)
		}()
	}
	wg.Wait()

	if calls != 1 {
		t.Errorf("expected leave once, got %d", calls)
	}
	if _, ok := r.Get(h); ok {
		t.Error("session should be discarded")
	}
}

func TestRegistry_OnDisconnectOutsideRoom(t *testing.T) {
	r := newRegistry()
	h := r.Connect()

	called := false
	err := r.OnDisconnect(context.Background(), h, func(context.Context, Session) error {
		called = true
		return nil
	})
	if err != nil || called {
		t.Errorf("leave must not run outside a room (err=%v, called=%v)", err, called)
	}
	if r.Len() != 0 {
		t.Errorf("expected empty registry, got %d", r.Len())
	}
}

func TestRegistry_OnDisconnectLeaveError(t *testing.T) {
	r := newRegistry()
	h := r.Connect()
	r.Authenticate(context.Background(), h, "student-token", models.RoleStudent, "Sam")
	r.EnterRoom(h, "101", models.RoomSnapshot{})

	boom := errors.New("boom")
	if err := r.OnDisconnect(context.Background(), h, func(context.Context, Session) error { return boom }); !errors.Is(err, boom) {
		t.Errorf("expected leave error, got %v", err)
	}
	if _, ok := r.Get(h); ok {
		t.Error("session should be discarded even when leave fails")
	}
}
