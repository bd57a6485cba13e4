package sso

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var (
	// ErrTimeout means the identity provider did not answer within the
	// configured deadline.
	ErrTimeout = errors.New("identity provider request timed out")
)

// UpstreamError carries a non-success response from the identity
// provider's token endpoint. Status and body are preserved verbatim so
// callers can pass them through.
type UpstreamError struct {
	StatusCode int
	Body       []byte
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("identity provider returned status %d", e.StatusCode)
}

// Provider holds the identity provider endpoints used by the
// orchestrator: the browser-facing sign-on and sign-out URLs and the
// machine-to-machine token endpoint.
type Provider struct {
	SignOnURL  string
	SignOutURL string
	TokenURL   string

	httpClient *http.Client
}

const defaultProviderTimeout = 10 * time.Second

// NewProvider creates a provider description. A non-positive timeout
// falls back to a 10 second default; the IdP call is a single round
// trip and must never hang a handler.
func NewProvider(signOnURL, signOutURL, tokenURL string, timeout time.Duration) *Provider {
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}
	return &Provider{
		SignOnURL:  signOnURL,
		SignOutURL: signOutURL,
		TokenURL:   tokenURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// ClientCredentialsRequest is the confidential-client grant forwarded
// to the provider's token endpoint.
type ClientCredentialsRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Audience     string `json:"audience"`
	GrantType    string `json:"grant_type"`
}

// ClientCredentialsToken forwards a client-credentials grant to the
// provider and returns the provider's success body verbatim. A
// non-success status comes back as *UpstreamError with the original
// status and body; network deadline failures come back as ErrTimeout.
func (p *Provider) ClientCredentialsToken(ctx context.Context, clientID, clientSecret, audience string) ([]byte, error) {
	reqBody, err := json.Marshal(ClientCredentialsRequest{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Audience:     audience,
		GrantType:    "client_credentials",
	})
	if err != nil {
		return nil, fmt.Errorf("encode token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.TokenURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, ErrTimeout
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: body}
	}
	return body, nil
}
