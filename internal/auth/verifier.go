package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pramodkumar0813/DI-Skill-Bridge/internal/models"
)

// ErrUserNotFound is returned by a UserLookup for an unknown id.
var ErrUserNotFound = errors.New("user not found")

// UserLookup resolves a user id to the account behind it.
type UserLookup interface {
	LookupUser(ctx context.Context, userID string) (models.Identity, error)
}

// Verifier turns a bearer token into a verified identity.
type Verifier struct {
	secret  string
	users   UserLookup
	timeout time.Duration
}

// NewVerifier returns a Verifier that gives each user lookup at most timeout.
func NewVerifier(secret string, users UserLookup, timeout time.Duration) *Verifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Verifier{secret: secret, users: users, timeout: timeout}
}

// VerifyToken validates token and loads the account it names. Unknown users
// count as invalid credentials; disabled accounts as ErrInactiveUser. A lookup
// that outlives the timeout is reported as ErrDirectoryUnavailable.
func (v *Verifier) VerifyToken(ctx context.Context, token string) (models.Identity, error) {
	claims, err := ParseToken(v.secret, token)
	if err != nil {
		return models.Identity{}, err
	}

	lookupCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()
	identity, err := v.users.LookupUser(lookupCtx, string(claims.UserID))
	if errors.Is(err, ErrUserNotFound) {
		return models.Identity{}, fmt.Errorf("%w: user %s not found", models.ErrInvalidCredential, claims.UserID)
	}
	if err != nil && lookupCtx.Err() != nil && !errors.Is(err, models.ErrDirectoryUnavailable) {
		return models.Identity{}, fmt.Errorf("%w: lookup user %s: %v", models.ErrDirectoryUnavailable, claims.UserID, err)
	}
	if err != nil {
		return models.Identity{}, fmt.Errorf("lookup user %s: %w", claims.UserID, err)
	}
	if !identity.IsActive {
		return identity, fmt.Errorf("%w: user %s", models.ErrInactiveUser, claims.UserID)
	}
	return identity, nil
}
