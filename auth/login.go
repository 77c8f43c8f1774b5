package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/pithecene-io/chatlink/iox"
)

// DefaultLoginTimeout is the default timeout of a login request.
const DefaultLoginTimeout = 10 * time.Second

// ErrInvalidCredentials is returned when the server rejects the login.
var ErrInvalidCredentials = errors.New("auth: invalid credentials")

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// Login posts credentials to url and returns the issued token.
// A 401 maps to ErrInvalidCredentials; other non-2xx statuses are errors.
func Login(ctx context.Context, client *http.Client, url, email, password string) (string, error) {
	if client == nil {
		client = &http.Client{Timeout: DefaultLoginTimeout}
	}
	body, err := json.Marshal(loginRequest{Email: email, Password: password})
	if err != nil {
		return "", fmt.Errorf("auth: marshal login: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("auth: create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("auth: login request failed: %w", err)
	}
	defer iox.DrainClose(resp.Body)

	if resp.StatusCode == http.StatusUnauthorized {
		return "", ErrInvalidCredentials
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("auth: login: unexpected status %d", resp.StatusCode)
	}

	var lr loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return "", fmt.Errorf("auth: decode login response: %w", err)
	}
	if lr.Token == "" {
		return "", errors.New("auth: login response has no token")
	}
	return lr.Token, nil
}
