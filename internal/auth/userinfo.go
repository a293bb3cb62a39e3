package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/JakeFAU/site-thumbnailer/internal/thumbnail"
)

// UserInfoConfig configures delegation to an identity provider's user endpoint.
type UserInfoConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// UserInfoAuthenticator asks the identity provider who owns a token.
type UserInfoAuthenticator struct {
	cfg    UserInfoConfig
	client *http.Client
}

type userInfoResponse struct {
	ID    string `json:"id"`
	Sub   string `json:"sub"`
	Email string `json:"email"`
}

// NewUserInfo creates a user-endpoint authenticator. client may be nil.
func NewUserInfo(cfg UserInfoConfig, client *http.Client) (*UserInfoAuthenticator, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("userinfo url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &UserInfoAuthenticator{cfg: cfg, client: client}, nil
}

// Authenticate forwards token to the provider. Any non-200 answer is Unauthorized;
// transport failures are Internal so an outage is not reported as a bad token.
func (a *UserInfoAuthenticator) Authenticate(ctx context.Context, token string) (thumbnail.Identity, error) {
	const op = "userinfo"
	if strings.TrimSpace(token) == "" {
		return thumbnail.Identity{}, thumbnail.NewError(thumbnail.KindUnauthorized, op, errors.New("missing token"))
	}
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.URL, nil)
	if err != nil {
		return thumbnail.Identity{}, thumbnail.NewError(thumbnail.KindInternal, op, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if a.cfg.APIKey != "" {
		req.Header.Set("apikey", a.cfg.APIKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return thumbnail.Identity{}, thumbnail.NewError(thumbnail.KindInternal, op, fmt.Errorf("call identity provider: %w", err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 500:
		return thumbnail.Identity{}, thumbnail.Errorf(thumbnail.KindInternal, op, "identity provider returned %d", resp.StatusCode)
	default:
		return thumbnail.Identity{}, thumbnail.Errorf(thumbnail.KindUnauthorized, op, "identity provider returned %d", resp.StatusCode)
	}

	var body userInfoResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return thumbnail.Identity{}, thumbnail.NewError(thumbnail.KindInternal, op, fmt.Errorf("decode user: %w", err))
	}
	id := body.ID
	if id == "" {
		id = body.Sub
	}
	if id == "" {
		return thumbnail.Identity{}, thumbnail.NewError(thumbnail.KindUnauthorized, op, errors.New("identity provider returned no user id"))
	}
	return thumbnail.Identity{UserID: id, Email: body.Email}, nil
}
