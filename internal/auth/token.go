package auth

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pramodkumar0813/DI-Skill-Bridge/internal/models"
)

// UserID accepts the user_id claim as a JSON string or number, since the
// issuing platform encodes integer primary keys.
type UserID string

func (u *UserID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*u = UserID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("user_id: %w", err)
	}
	*u = UserID(n.String())
	return nil
}

// JWTClaims represents the claims of an access token.
type JWTClaims struct {
	UserID    UserID `json:"user_id"`
	TokenType string `json:"token_type,omitempty"`
	jwt.RegisteredClaims
}

// ParseToken validates an HS256 access token. A leading "Bearer " is
// stripped. Every failure is reported as ErrInvalidCredential.
func ParseToken(secret, raw string) (*JWTClaims, error) {
	tokenString := strings.TrimSpace(raw)
	if len(tokenString) > 7 && strings.EqualFold(tokenString[:7], "Bearer ") {
		tokenString = strings.TrimSpace(tokenString[7:])
	}
	if tokenString == "" {
		return nil, fmt.Errorf("%w: token required", models.ErrInvalidCredential)
	}

	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		// Validate signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidCredential, err)
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, fmt.Errorf("%w: invalid token claims", models.ErrInvalidCredential)
	}
	if claims.TokenType != "" && claims.TokenType != "access" {
		return nil, fmt.Errorf("%w: %s token cannot open a classroom", models.ErrInvalidCredential, claims.TokenType)
	}
	return claims, nil
}

// IssueToken signs an access token for userID. Production tokens come from
// the platform's auth service; this is for local development and tests.
func IssueToken(secret, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := JWTClaims{
		UserID:    UserID(userID),
		TokenType: "access",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
