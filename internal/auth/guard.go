package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"semaphore/records/internal/model"
)

var (
	ErrMissingToken = errors.New("authorization_required")
	ErrTokenRevoked = errors.New("token_revoked")
	ErrForbidden    = errors.New("forbidden")
)

// Identity is what a request is allowed to act as once its token checks out.
type Identity struct {
	UserID    int64
	Role      model.Role
	TokenID   string
	ExpiresAt time.Time
}

// Guard composes token decoding, revocation lookup and role matching.
type Guard struct {
	issuer   *Issuer
	registry RevocationRegistry
}

func NewGuard(issuer *Issuer, registry RevocationRegistry) *Guard {
	return &Guard{issuer: issuer, registry: registry}
}

// Check authenticates the Authorization header value and, when required is
// non-empty, authorizes the role. Any authentication failure returns before
// the role is looked at.
func (g *Guard) Check(ctx context.Context, header string, required model.Role) (Identity, error) {
	token := BearerToken(header)
	if token == "" {
		return Identity{}, ErrMissingToken
	}
	claims, err := g.issuer.Decode(token)
	if err != nil {
		return Identity{}, err
	}
	revoked, err := g.registry.IsRevoked(ctx, claims.ID)
	if err != nil {
		return Identity{}, fmt.Errorf("revocation lookup: %w", err)
	}
	if revoked {
		return Identity{}, ErrTokenRevoked
	}
	identity := Identity{
		UserID:  claims.UserID,
		Role:    claims.Role,
		TokenID: claims.ID,
	}
	if claims.ExpiresAt != nil {
		identity.ExpiresAt = claims.ExpiresAt.Time
	}
	if required != "" && identity.Role != required {
		return identity, ErrForbidden
	}
	return identity, nil
}

// Revoke blacklists the token behind identity until it would have expired.
func (g *Guard) Revoke(ctx context.Context, identity Identity) error {
	return g.registry.Revoke(ctx, identity.TokenID, identity.ExpiresAt)
}

// IsAuthError reports whether err is one of the 401 outcomes of Check.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrMissingToken) ||
		errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrInvalidSignature) ||
		errors.Is(err, ErrMalformedToken) ||
		errors.Is(err, ErrTokenRevoked)
}

func BearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
