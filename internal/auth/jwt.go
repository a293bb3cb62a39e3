// Package auth resolves bearer tokens into caller identities.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/JakeFAU/site-thumbnailer/internal/thumbnail"
)

// Claims represents the JWT claims the service accepts.
type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// JWTConfig configures HS256 token validation.
type JWTConfig struct {
	Secret   string
	Issuer   string
	Audience string
	TTL      time.Duration
}

// JWTAuthenticator validates HS256 tokens signed with a shared secret.
type JWTAuthenticator struct {
	secret []byte
	cfg    JWTConfig
	now    func() time.Time
}

// NewJWT creates a JWT authenticator.
func NewJWT(cfg JWTConfig) (*JWTAuthenticator, error) {
	if cfg.Secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	return &JWTAuthenticator{secret: []byte(cfg.Secret), cfg: cfg, now: time.Now}, nil
}

// Authenticate validates token and returns the subject as the user ID.
func (a *JWTAuthenticator) Authenticate(_ context.Context, token string) (thumbnail.Identity, error) {
	const op = "authenticate"
	if strings.TrimSpace(token) == "" {
		return thumbnail.Identity{}, thumbnail.NewError(thumbnail.KindUnauthorized, op, errors.New("missing token"))
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
		jwt.WithExpirationRequired(),
	}
	if a.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.cfg.Issuer))
	}
	if a.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(a.cfg.Audience))
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return a.secret, nil
	}, opts...)
	if err != nil {
		return thumbnail.Identity{}, thumbnail.NewError(thumbnail.KindUnauthorized, op, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return thumbnail.Identity{}, thumbnail.NewError(thumbnail.KindUnauthorized, op, errors.New("invalid token"))
	}
	if claims.Subject == "" {
		return thumbnail.Identity{}, thumbnail.NewError(thumbnail.KindUnauthorized, op, errors.New("token has no subject"))
	}
	return thumbnail.Identity{UserID: claims.Subject, Email: claims.Email}, nil
}

// GenerateToken signs a token for userID. ttl <= 0 uses the configured TTL.
func (a *JWTAuthenticator) GenerateToken(userID, email string, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", errors.New("user id is required")
	}
	if ttl <= 0 {
		ttl = a.cfg.TTL
	}
	now := a.now()
	claims := &Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    a.cfg.Issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	if a.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{a.cfg.Audience}
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
