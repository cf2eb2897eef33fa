// Package auth turns bearer tokens into user identities. Token issuance lives
// elsewhere; this side only verifies.
package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hallwayfm/hallway/internal/domain"
)

type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify returns the user id from a signed HS256 token. An empty or invalid
// token yields ErrAuthRequired; callers decide whether a guest is acceptable.
func (v *Verifier) Verify(token string) (domain.UserID, error) {
	if token == "" {
		return "", domain.ErrAuthRequired
	}
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", fmt.Errorf("%w: invalid token", domain.ErrAuthRequired)
	}
	sub, err := parsed.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("%w: token has no subject", domain.ErrAuthRequired)
	}
	return domain.UserID(sub), nil
}
