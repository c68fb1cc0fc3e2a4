/*
auth.go - Caller identity

PURPOSE:
  Resolves who is calling before any handler runs. The engine never trusts a
  user id from the request body; identity comes from the Authenticator only.

AUTHENTICATORS:
  JWTAuthenticator:    HS256 bearer token. The user id is the first non-empty
                       claim of sub, cognito:username, username, user_id.
                       A true "admin" claim grants admin routes.
  HeaderAuthenticator: Trusts X-User-ID / X-Admin. Local development only.

FAILURES:
  No resolvable identity -> 401 UNAUTHORIZED (before body validation).
  Identity without admin on /api/admin/* -> 403 FORBIDDEN.
*/
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/warp/recycle-points/points"
)

// Identity is the authenticated caller.
type Identity struct {
	UserID points.UserID
	Admin  bool
}

// Authenticator resolves the caller of a request.
type Authenticator interface {
	Authenticate(r *http.Request) (Identity, error)
}

// userClaims is the lookup order for the user id.
var userClaims = []string{"sub", "cognito:username", "username", "user_id"}

// JWTAuthenticator validates HS256 bearer tokens.
type JWTAuthenticator struct {
	Secret []byte
	Issuer string // optional; enforced when set
}

func (a *JWTAuthenticator) Authenticate(r *http.Request) (Identity, error) {
	raw, ok := bearerToken(r)
	if !ok {
		return Identity{}, points.ErrUnauthorized
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.Issuer))
	}
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return a.Secret, nil
	}, opts...)
	if err != nil {
		return Identity{}, errors.Join(points.ErrUnauthorized, err)
	}

	var id Identity
	for _, name := range userClaims {
		if s, ok := claims[name].(string); ok && s != "" {
			id.UserID = points.UserID(s)
			break
		}
	}
	if id.UserID == "" {
		return Identity{}, points.ErrUnauthorized
	}
	id.Admin, _ = claims["admin"].(bool)
	return id, nil
}

// SignToken issues an HS256 token for sub. Used by tests and local tooling.
func SignToken(secret []byte, issuer string, sub points.UserID, admin bool, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": string(sub),
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if issuer != "" {
		claims["iss"] = issuer
	}
	if admin {
		claims["admin"] = true
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return "", false
	}
	tok := strings.TrimSpace(h[7:])
	return tok, tok != ""
}

// HeaderAuthenticator trusts identity headers set by a fronting proxy.
type HeaderAuthenticator struct{}

func (HeaderAuthenticator) Authenticate(r *http.Request) (Identity, error) {
	user := strings.TrimSpace(r.Header.Get("X-User-ID"))
	if user == "" {
		return Identity{}, points.ErrUnauthorized
	}
	admin, _ := strconv.ParseBool(r.Header.Get("X-Admin"))
	return Identity{UserID: points.UserID(user), Admin: admin}, nil
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

type identityKey struct{}

// IdentityFrom returns the identity stored by Authenticate.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// Authenticate rejects requests without an identity.
func (h *Handler) Authenticate(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := auth.Authenticate(r)
			if err != nil {
				h.writeError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, id)))
		})
	}
}

// RequireAdmin rejects identities without the admin flag.
func (h *Handler) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, ok := IdentityFrom(r.Context()); !ok || !id.Admin {
			h.writeError(w, r, points.ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
