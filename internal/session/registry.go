// Package session tracks the connections served by this process and the
// state each one is in.
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pramodkumar0813/DI-Skill-Bridge/internal/models"
)

// State is a connection's position in its lifecycle.
type State int

const (
	Connected State = iota
	Authenticated
	InRoom
	Disconnected
)

func (s State) String() string {
	switch s {
	case Connected:
		return "connected"
	case Authenticated:
		return "authenticated"
	case InRoom:
		return "in_room"
	case Disconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Session is the per-connection record. Values are replaced whole on every
// transition; callers get copies.
type Session struct {
	Handle      string
	State       State
	Identity    models.Identity
	Role        models.Role
	DisplayName string
	RoomID      string
	Snapshot    models.RoomSnapshot
}

// Verifier validates a credential and returns the account behind it.
type Verifier interface {
	VerifyToken(ctx context.Context, token string) (models.Identity, error)
}

// Registry is the process-local table of sessions keyed by handle.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]Session
	verifier Verifier
}

// NewRegistry returns an empty Registry that checks credentials with verifier.
func NewRegistry(verifier Verifier) *Registry {
	return &Registry{
		sessions: make(map[string]Session),
		verifier: verifier,
	}
}

// Connect allocates a handle for a new transport connection.
func (r *Registry) Connect() string {
	handle := uuid.New().String()

	r.mu.Lock()
	r.sessions[handle] = Session{Handle: handle, State: Connected}
	r.mu.Unlock()

	return handle
}

// Authenticate verifies credential and binds the identity to handle. The
// claimed role must match the account's role. A connection authenticates
// once.
func (r *Registry) Authenticate(ctx context.Context, handle, credential string, claimedRole models.Role, displayName string) (models.Identity, error) {
	current, ok := r.Get(handle)
	if !ok {
		return models.Identity{}, models.ErrUnknownHandle
	}
	if current.State != Connected {
		return models.Identity{}, models.ErrAlreadyAuthenticated
	}
	if !claimedRole.Valid() {
		return models.Identity{}, fmt.Errorf("%w: %q is not a classroom role", models.ErrRoleMismatch, claimedRole)
	}

	identity, err := r.verifier.VerifyToken(ctx, credential)
	if err != nil {
		return models.Identity{}, err
	}
	if identity.Role != claimedRole {
		return models.Identity{}, fmt.Errorf("%w: claimed %s, account is %s", models.ErrRoleMismatch, claimedRole, identity.Role)
	}

	name := strings.TrimSpace(displayName)
	if name == "" {
		name = strings.TrimSpace(identity.FullName)
	}
	if name == "" {
		name = models.AnonymousName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// The verifier call ran unlocked; the connection may have gone away.
	s, ok := r.sessions[handle]
	if !ok {
		return models.Identity{}, models.ErrUnknownHandle
	}
	if s.State != Connected {
		return models.Identity{}, models.ErrAlreadyAuthenticated
	}
	r.sessions[handle] = Session{
		Handle:      handle,
		State:       Authenticated,
		Identity:    identity,
		Role:        identity.Role,
		DisplayName: name,
	}
	return identity, nil
}

// Get returns a copy of the session for handle.
func (r *Registry) Get(handle string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[handle]
	return s, ok
}

// EnterRoom moves an authenticated session into roomID.
func (r *Registry) EnterRoom(handle, roomID string, snapshot models.RoomSnapshot) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[handle]
	if !ok || s.State == Disconnected {
		return Session{}, models.ErrUnknownHandle
	}
	if s.State == Connected {
		return Session{}, models.ErrNotAuthenticated
	}

	next := s
	next.State = InRoom
	next.RoomID = roomID
	next.Snapshot = snapshot
	r.sessions[handle] = next
	return next, nil
}

// ExitRoom moves the session out of roomID. It reports whether this call
// performed the transition, so concurrent exits act once.
func (r *Registry) ExitRoom(handle, roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[handle]
	if !ok || s.State != InRoom || s.RoomID != roomID {
		return false
	}

	next := s
	next.State = Authenticated
	next.RoomID = ""
	next.Snapshot = models.RoomSnapshot{}
	r.sessions[handle] = next
	return true
}

// OnDisconnect retires handle. If the session was in a room, leave runs once
// with the final session value before the entry is discarded. Later calls
// for the same handle do nothing.
func (r *Registry) OnDisconnect(ctx context.Context, handle string, leave func(context.Context, Session) error) error {
	r.mu.Lock()
	s, ok := r.sessions[handle]
	if !ok || s.State == Disconnected {
		r.mu.Unlock()
		return nil
	}
	wasInRoom := s.State == InRoom
	next := s
	next.State = Disconnected
	r.sessions[handle] = next
	r.mu.Unlock()

	var err error
	if wasInRoom && leave != nil {
		err = leave(ctx, s)
	}

	r.mu.Lock()
	delete(r.sessions, handle)
	r.mu.Unlock()

	return err
}

// Len is the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
