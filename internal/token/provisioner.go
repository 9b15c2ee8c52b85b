// ABOUTME: TokenProvisioner client for the backend token endpoint
// ABOUTME: POST {identity, room} -> {token}; non-2xx responses become ProvisionError

package token

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// DefaultTokenPath is the token endpoint path on the backend.
const DefaultTokenPath = "/api/livekit-token"

// Provisioner returns an access credential for identity in room.
type Provisioner interface {
	Token(ctx context.Context, identity, room string) (string, error)
}

// ProvisionError reports a token endpoint that answered with a failure.
type ProvisionError struct {
	StatusCode int
	Message    string
}

func (e *ProvisionError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("token endpoint returned status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("token endpoint returned status %d", e.StatusCode)
}

type tokenRequest struct {
	Identity string `json:"identity"`
	Room     string `json:"room"`
}

type tokenResponse struct {
	Token string `json:"token"`
	Error string `json:"error,omitempty"`
}

// HTTPProvisioner fetches credentials from the token endpoint.
type HTTPProvisioner struct {
	endpoint string
	client   *http.Client
}

// NewHTTPProvisioner creates a provisioner for the full endpoint URL. Pass
// nil client for http.DefaultClient.
func NewHTTPProvisioner(endpoint string, client *http.Client) *HTTPProvisioner {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPProvisioner{endpoint: endpoint, client: client}
}

// Endpoint returns the token endpoint URL.
func (p *HTTPProvisioner) Endpoint() string {
	return p.endpoint
}

// Token requests a credential for identity in room.
func (p *HTTPProvisioner) Token(ctx context.Context, identity, room string) (string, error) {
	bodyBytes, err := json.Marshal(tokenRequest{Identity: identity, Room: room})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching token: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	var out tokenResponse
	decodeErr := json.Unmarshal(body, &out)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := out.Error
		if decodeErr != nil {
			msg = strings.TrimSpace(string(body))
		}
		return "", &ProvisionError{StatusCode: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return "", fmt.Errorf("parsing response: %w", decodeErr)
	}
	if out.Token == "" {
		return "", fmt.Errorf("%w: empty token in response", ErrInvalidToken)
	}
	return out.Token, nil
}
