// ABOUTME: HTTP client for the backend agent endpoint (POST {message} -> {response})
// ABOUTME: Every failure is returned as an AgentRequestError

package conversation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// DefaultAgentPath is the agent endpoint path on the backend.
const DefaultAgentPath = "/api/agent"

// maxErrorBody caps how much of a failed response body is kept.
const maxErrorBody = 512

// AgentClient asks the backend agent a single question.
type AgentClient interface {
	Ask(ctx context.Context, message string) (string, error)
}

// AgentRequestError reports a failed agent request. StatusCode is zero when
// no response was received.
type AgentRequestError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *AgentRequestError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("server error: %d", e.StatusCode)
	}
	return e.Err.Error()
}

func (e *AgentRequestError) Unwrap() error {
	return e.Err
}

type agentRequest struct {
	Message string `json:"message"`
}

type agentResponse struct {
	Response string `json:"response"`
}

// HTTPAgentClient calls the agent endpoint over HTTP.
type HTTPAgentClient struct {
	endpoint string
	client   *http.Client
}

// NewHTTPAgentClient creates a client for the full endpoint URL. Pass nil
// client for http.DefaultClient.
func NewHTTPAgentClient(endpoint string, client *http.Client) *HTTPAgentClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPAgentClient{endpoint: endpoint, client: client}
}

// Ask posts message and returns the agent's response text.
func (c *HTTPAgentClient) Ask(ctx context.Context, message string) (string, error) {
	bodyBytes, err := json.Marshal(agentRequest{Message: message})
	if err != nil {
		return "", &AgentRequestError{Err: fmt.Errorf("marshaling request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", &AgentRequestError{Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", &AgentRequestError{Err: fmt.Errorf("sending request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", &AgentRequestError{
			StatusCode: resp.StatusCode,
			Body:       string(body),
			Err:        fmt.Errorf("agent endpoint returned status %d", resp.StatusCode),
		}
	}

	var out agentResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &AgentRequestError{Err: fmt.Errorf("parsing response: %w", err)}
	}
	return out.Response, nil
}
