package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/recycle-points/points"
)

var testSecret = []byte("test-secret")

func requestWithBearer(token string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/api/redeem", nil)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	return r
}

func signClaims(t *testing.T, secret []byte, method jwt.SigningMethod, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(secret)
	require.NoError(t, err)
	return s
}

func TestJWTAuthenticator_Sub(t *testing.T) {
	a := &JWTAuthenticator{Secret: testSecret, Issuer: "recycle"}
	tok, err := SignToken(testSecret, "recycle", "U1", true, time.Hour)
	require.NoError(t, err)

	id, err := a.Authenticate(requestWithBearer(tok))
	require.NoError(t, err)
	assert.Equal(t, points.UserID("U1"), id.UserID)
	assert.True(t, id.Admin)
}

func TestJWTAuthenticator_ClaimFallbackOrder(t *testing.T) {
	a := &JWTAuthenticator{Secret: testSecret}
	exp := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name   string
		claims jwt.MapClaims
		want   points.UserID
	}{
		{"cognito username", jwt.MapClaims{"cognito:username": "cog", "username": "plain", "exp": exp}, "cog"},
		{"username", jwt.MapClaims{"username": "plain", "user_id": "uid", "exp": exp}, "plain"},
		{"user_id", jwt.MapClaims{"user_id": "uid", "exp": exp}, "uid"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			id, err := a.Authenticate(requestWithBearer(signClaims(t, testSecret, jwt.SigningMethodHS256, tc.claims)))
			require.NoError(t, err)
			assert.Equal(t, tc.want, id.UserID)
			assert.False(t, id.Admin)
		})
	}
}

func TestJWTAuthenticator_Rejects(t *testing.T) {
	a := &JWTAuthenticator{Secret: testSecret, Issuer: "recycle"}
	future := time.Now().Add(time.Hour).Unix()

	expired, err := SignToken(testSecret, "recycle", "U1", false, -time.Minute)
	require.NoError(t, err)
	wrongKey, err := SignToken([]byte("other"), "recycle", "U1", false, time.Hour)
	require.NoError(t, err)
	wrongIssuer, err := SignToken(testSecret, "someone-else", "U1", false, time.Hour)
	require.NoError(t, err)
	noUser := signClaims(t, testSecret, jwt.SigningMethodHS256, jwt.MapClaims{"iss": "recycle", "exp": future})
	wrongAlg := signClaims(t, testSecret, jwt.SigningMethodHS512, jwt.MapClaims{"sub": "U1", "iss": "recycle", "exp": future})

	for name, tok := range map[string]string{
		"no header":    "",
		"garbage":      "not.a.jwt",
		"expired":      expired,
		"wrong key":    wrongKey,
		"wrong issuer": wrongIssuer,
		"no user":      noUser,
		"wrong alg":    wrongAlg,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := a.Authenticate(requestWithBearer(tok))
			assert.ErrorIs(t, err, points.ErrUnauthorized)
		})
	}
}

func TestHeaderAuthenticator(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := HeaderAuthenticator{}.Authenticate(r)
	assert.ErrorIs(t, err, points.ErrUnauthorized)

	r.Header.Set("X-User-ID", "U7")
	r.Header.Set("X-Admin", "1")
	id, err := HeaderAuthenticator{}.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, Identity{UserID: "U7", Admin: true}, id)
}

func TestRouter_JWTEndToEnd(t *testing.T) {
	s := newTestServer(t)
	s.user("U1", 0)
	h := NewHandler(s.coord, s.store, s.coord.Log)
	router := NewRouter(h, RouterOptions{Auth: &JWTAuthenticator{Secret: testSecret}})

	tok, err := SignToken(testSecret, "", "U1", false, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/me/balance", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// X-User-ID is ignored in JWT mode.
	req = httptest.NewRequest(http.MethodGet, "/api/me/balance", nil)
	req.Header.Set("X-User-ID", "U1")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
