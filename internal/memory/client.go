// Package memory submits finalized conversational turns to the external
// memory store. The sink is write-only and best-effort: the relay never
// lets a persistence failure degrade the voice session.
package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Turn is one finalized, non-empty utterance to persist.
type Turn struct {
	SessionID string `json:"session_id"`
	AgentID   string `json:"agent_id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
}

// Sink accepts finalized turns. Implementations must be safe for
// concurrent use.
type Sink interface {
	SaveTurn(ctx context.Context, t Turn) error
}

// Client posts turns to an HTTP memory endpoint.
type Client struct {
	HTTPClient *http.Client
	Endpoint   string
	APIKey     string
}

// NewClient constructs a memory client for the given endpoint.
func NewClient(endpoint, apiKey string) *Client {
	return &Client{
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		Endpoint:   endpoint,
		APIKey:     apiKey,
	}
}

// SaveTurn persists one turn. Returns an error on transport failure or
// a non-2xx response.
func (c *Client) SaveTurn(ctx context.Context, t Turn) error {
	if c.Endpoint == "" {
		return fmt.Errorf("memory: endpoint missing")
	}
	body, _ := json.Marshal(t)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("memory: status=%d body=%s", resp.StatusCode, string(b))
	}
	return nil
}

// Nop discards turns. Used when no memory endpoint is configured.
type Nop struct{}

func (Nop) SaveTurn(context.Context, Turn) error { return nil }
