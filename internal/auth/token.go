package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrTokenExpired = errors.New("session token has expired")

// TokenInfo describes a session token issued by the gateway. Tokens that are
// not JWTs are opaque and carry no expiry.
type TokenInfo struct {
	JWT       bool
	Subject   string
	ExpiresAt time.Time
}

// Inspect decodes the claims of a gateway session token without verifying
// its signature. The node holds no verification key; the gateway remains the
// authority and this only avoids presenting a token that is known dead.
func Inspect(token string) (TokenInfo, error) {
	if token == "" {
		return TokenInfo{}, errors.New("empty token")
	}

	claims := jwt.RegisteredClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return TokenInfo{}, nil
	}

	info := TokenInfo{JWT: true, Subject: claims.Subject}
	if claims.ExpiresAt != nil {
		info.ExpiresAt = claims.ExpiresAt.Time
	}
	return info, nil
}

// Check returns ErrTokenExpired when token is a JWT whose exp is before now.
// Opaque tokens always pass.
func Check(token string, now time.Time) error {
	info, err := Inspect(token)
	if err != nil {
		return err
	}
	if info.JWT && !info.ExpiresAt.IsZero() && now.After(info.ExpiresAt) {
		return fmt.Errorf("%w at %s", ErrTokenExpired, info.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}

// UsableToken returns token, or "" when it is known to be expired.
func UsableToken(token string) string {
	if token == "" {
		return ""
	}
	if err := Check(token, time.Now()); err != nil {
		slog.Warn("Discarding session token", "error", err)
		return ""
	}
	return token
}
