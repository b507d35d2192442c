package auth

import (
	"context"
	"errors"
	"fmt"

	jwt "github.com/golang-jwt/jwt/v5"

	"mcpgate/pkg/models"
)

// ErrUnauthenticated covers every credential failure: missing, malformed,
// bad signature, or issuer/audience mismatch. Callers never learn which.
var ErrUnauthenticated = errors.New("unauthenticated")

// Verifier validates bearer credentials against a remote signing-key set.
type Verifier struct {
	Issuer   string
	Audience string
	Keys     *JWKSCache
}

// Verify checks the token and extracts the caller identity. The group
// claim may be absent, a single string, or a list; the environment claim
// defaults to "dev". No retry is performed; every call verifies afresh.
func (v *Verifier) Verify(ctx context.Context, token string) (models.Identity, error) {
	if token == "" {
		return models.Identity{}, ErrUnauthenticated
	}
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		return v.Keys.Key(ctx, kid)
	},
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithIssuer(v.Issuer),
		jwt.WithAudience(v.Audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return models.Identity{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	return identityFromClaims(claims), nil
}

func identityFromClaims(claims jwt.MapClaims) models.Identity {
	id := models.Identity{Subject: "anonymous", Env: "dev", Groups: []string{}}
	if sub, ok := claims["sub"].(string); ok && sub != "" {
		id.Subject = sub
	}
	switch groups := claims["groups"].(type) {
	case string:
		id.Groups = []string{groups}
	case []any:
		for _, g := range groups {
			if s, ok := g.(string); ok {
				id.Groups = append(id.Groups, s)
			}
		}
	}
	if env, ok := claims["env"].(string); ok && env != "" {
		id.Env = env
	}
	if profile, ok := claims["dlp_profile"].(string); ok {
		id.DLPProfile = profile
	}
	extra := map[string]any{}
	for k, val := range claims {
		switch k {
		case "sub", "groups", "env", "dlp_profile", "iss", "aud", "exp", "nbf", "iat", "jti":
			continue
		}
		extra[k] = val
	}
	if len(extra) > 0 {
		id.Extra = extra
	}
	return id
}
