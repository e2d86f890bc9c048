package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/alaamer12/pixcrawler/internal/common"
	"github.com/alaamer12/pixcrawler/internal/errkind"
	"github.com/alaamer12/pixcrawler/internal/interfaces"
)

// NewVerifier selects the token verifier for the configured provider.
func NewVerifier(cfg *common.AuthConfig, logger arbor.ILogger) (interfaces.TokenVerifier, error) {
	switch cfg.Provider {
	case "remote":
		return NewRemoteVerifier(cfg, logger), nil
	case "static":
		return NewStaticVerifier(cfg.Tokens), nil
	}
	return nil, fmt.Errorf("unknown auth provider: %s", cfg.Provider)
}

// RemoteVerifier verifies bearer tokens against the external identity
// provider's verification endpoint. The provider owns users; we only read
// back the identifier it asserts.
type RemoteVerifier struct {
	endpoint string
	client   *http.Client
	logger   arbor.ILogger
}

// NewRemoteVerifier creates a verifier calling the configured endpoint.
func NewRemoteVerifier(cfg *common.AuthConfig, logger arbor.ILogger) *RemoteVerifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RemoteVerifier{
		endpoint: cfg.Endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// Verify posts the token to the identity provider and returns the asserted
// user id. Classification of failures follows the shared HTTP status map.
func (v *RemoteVerifier) Verify(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", errkind.Unauthorized("missing bearer token", nil)
	}
	if v.endpoint == "" {
		return "", errkind.Unauthorized("no identity provider configured", nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, nil)
	if err != nil {
		return "", errkind.Infrastructure("failed to build verification request", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := v.client.Do(req)
	if err != nil {
		kind := errkind.KindOf(err)
		if kind == errkind.KindTimeout {
			return "", errkind.Timeout("identity provider did not answer in time", err)
		}
		return "", errkind.Network("identity provider unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		kind := errkind.FromHTTPStatus(resp.StatusCode)
		if kind == errkind.KindUnauthorized || kind == errkind.KindForbidden || kind == errkind.KindNotFound {
			return "", errkind.Unauthorized(fmt.Sprintf("identity provider rejected token (%d)", resp.StatusCode), nil)
		}
		return "", errkind.ServiceUnavailable(fmt.Sprintf("identity provider returned %d", resp.StatusCode), nil)
	}

	var body struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", errkind.Unauthorized("identity provider returned an unreadable response", err)
	}
	if body.UserID == "" {
		return "", errkind.Unauthorized("identity provider asserted no user", nil)
	}
	return body.UserID, nil
}

// StaticVerifier resolves tokens from a fixed map. Development only.
type StaticVerifier struct {
	tokens map[string]string
}

// NewStaticVerifier creates a map-backed verifier.
func NewStaticVerifier(tokens map[string]string) *StaticVerifier {
	if tokens == nil {
		tokens = make(map[string]string)
	}
	return &StaticVerifier{tokens: tokens}
}

// Verify looks the token up in the static map.
func (v *StaticVerifier) Verify(_ context.Context, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errkind.Unauthorized("missing bearer token", nil)
	}
	userID, ok := v.tokens[token]
	if !ok {
		return "", errkind.Unauthorized("unknown token", nil)
	}
	return userID, nil
}
