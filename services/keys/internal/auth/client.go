package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Claims struct {
	Valid     bool
	UserID    uuid.UUID
	SessionID uuid.UUID
}

type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		base = "http://localhost:8081"
	}
	return &Client{
		baseURL: base,
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

// Verify checks the provided JWT via the auth service verify endpoint.
func (c *Client) Verify(ctx context.Context, token string) (Claims, error) {
	payload := map[string]string{"token": strings.TrimSpace(token)}
	data, err := json.Marshal(payload)
	if err != nil {
		return Claims{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/auth/verify", bytes.NewReader(data))
	if err != nil {
		return Claims{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Claims{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return Claims{}, fmt.Errorf("auth verify failed: %s", resp.Status)
	}

	var body struct {
		Valid     bool   `json:"valid"`
		UserID    string `json:"userId"`
		SessionID string `json:"sessionId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Claims{}, err
	}
	if !body.Valid {
		return Claims{Valid: false}, nil
	}

	userID, err := uuid.Parse(body.UserID)
	if err != nil {
		return Claims{}, fmt.Errorf("invalid user id from verify response")
	}
	sessionID, err := uuid.Parse(body.SessionID)
	if err != nil {
		return Claims{}, fmt.Errorf("invalid session id from verify response")
	}
	return Claims{
		Valid:     true,
		UserID:    userID,
		SessionID: sessionID,
	}, nil
}
