package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-thumbnailer/internal/thumbnail"
)

func TestJWTRoundTrip(t *testing.T) {
	a, err := NewJWT(JWTConfig{Secret: "s3cret", Issuer: "thumbnailer", Audience: "api"})
	require.NoError(t, err)

	token, err := a.GenerateToken("user-1", "u1@example.com", time.Minute)
	require.NoError(t, err)

	id, err := a.Authenticate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", id.UserID)
	assert.Equal(t, "u1@example.com", id.Email)
}

func TestJWTRejections(t *testing.T) {
	a, err := NewJWT(JWTConfig{Secret: "s3cret", Issuer: "thumbnailer"})
	require.NoError(t, err)
	other, err := NewJWT(JWTConfig{Secret: "different", Issuer: "thumbnailer"})
	require.NoError(t, err)
	wrongIssuer, err := NewJWT(JWTConfig{Secret: "s3cret", Issuer: "someone-else"})
	require.NoError(t, err)

	forged, err := other.GenerateToken("user-1", "", time.Minute)
	require.NoError(t, err)
	foreign, err := wrongIssuer.GenerateToken("user-1", "", time.Minute)
	require.NoError(t, err)

	past := &JWTAuthenticator{secret: a.secret, cfg: a.cfg, now: func() time.Time { return time.Now().Add(-2 * time.Hour) }}
	expired, err := past.GenerateToken("user-1", "", time.Minute)
	require.NoError(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    "thumbnailer",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}).SignedString([]byte("s3cret"))
	require.NoError(t, err)

	for name, token := range map[string]string{
		"empty":      "",
		"garbage":    "not.a.jwt",
		"forged":     forged,
		"issuer":     foreign,
		"expired":    expired,
		"alg none":   unsigned,
		"no subject": noSubject,
	} {
		_, err := a.Authenticate(context.Background(), token)
		require.Error(t, err, name)
		assert.Equal(t, thumbnail.KindUnauthorized, thumbnail.KindOf(err), name)
	}
}

func TestNewJWTRequiresSecret(t *testing.T) {
	_, err := NewJWT(JWTConfig{})
	assert.Error(t, err)
}

func TestBearerToken(t *testing.T) {
	tok, ok := BearerToken("Bearer abc.def")
	assert.True(t, ok)
	assert.Equal(t, "abc.def", tok)

	tok, ok = BearerToken("bearer   xyz ")
	assert.True(t, ok)
	assert.Equal(t, "xyz", tok)

	for _, bad := range []string{"", "Bearer", "Bearer ", "Basic abc", "abc"} {
		_, ok := BearerToken(bad)
		assert.False(t, ok, bad)
	}
}

func TestUserInfoAuthenticate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "anon-key", r.Header.Get("apikey"))
		switch r.Header.Get("Authorization") {
		case "Bearer good":
			fmt.Fprint(w, `{"id":"user-7","email":"u7@example.com"}`)
		case "Bearer sub-only":
			fmt.Fprint(w, `{"sub":"user-8"}`)
		case "Bearer empty":
			fmt.Fprint(w, `{}`)
		case "Bearer broken":
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer srv.Close()

	a, err := NewUserInfo(UserInfoConfig{URL: srv.URL, APIKey: "anon-key"}, nil)
	require.NoError(t, err)
	ctx := context.Background()

	id, err := a.Authenticate(ctx, "good")
	require.NoError(t, err)
	assert.Equal(t, thumbnail.Identity{UserID: "user-7", Email: "u7@example.com"}, id)

	id, err = a.Authenticate(ctx, "sub-only")
	require.NoError(t, err)
	assert.Equal(t, "user-8", id.UserID)

	_, err = a.Authenticate(ctx, "bad")
	assert.Equal(t, thumbnail.KindUnauthorized, thumbnail.KindOf(err))
	_, err = a.Authenticate(ctx, "empty")
	assert.Equal(t, thumbnail.KindUnauthorized, thumbnail.KindOf(err))
	_, err = a.Authenticate(ctx, "")
	assert.Equal(t, thumbnail.KindUnauthorized, thumbnail.KindOf(err))
	_, err = a.Authenticate(ctx, "broken")
	assert.Equal(t, thumbnail.KindInternal, thumbnail.KindOf(err))
}

func TestUserInfoUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	a, err := NewUserInfo(UserInfoConfig{URL: url, Timeout: time.Second}, nil)
	require.NoError(t, err)
	_, err = a.Authenticate(context.Background(), "good")
	assert.Equal(t, thumbnail.KindInternal, thumbnail.KindOf(err))

	_, err = NewUserInfo(UserInfoConfig{}, nil)
	assert.Error(t, err)
}
