// Package googleauth provides bearer tokens for Google APIs from the GCE
// metadata server. The service account attached to the instance must carry
// the cloud-platform scope for Vertex AI and the spreadsheets scope for the
// Sheets API.
package googleauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

const defaultTokenURL = "http://metadata.google.internal/computeMetadata/v1/instance/service-accounts/default/token"

// tokenResponse is the metadata server's token payload.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// Source fetches and caches service-account access tokens. Results are
// cached until expiry minus a 60-second buffer; staleness inside that buffer
// is not re-validated per call.
type Source struct {
	tokenURL   string
	httpClient *http.Client

	mu     sync.RWMutex
	token  string
	expiry time.Time
	now    func() time.Time // for testing
}

// New creates a Source. If tokenURL is empty, the standard metadata server
// endpoint is used.
func New(tokenURL string) *Source {
	if tokenURL == "" {
		tokenURL = defaultTokenURL
	}
	return &Source{
		tokenURL:   tokenURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		now:        time.Now,
	}
}

// Token returns the cached access token, fetching a fresh one when the cache
// is empty or expired.
func (s *Source) Token(ctx context.Context) (string, error) {
	s.mu.RLock()
	if s.token != "" && s.now().Before(s.expiry) {
		tok := s.token
		s.mu.RUnlock()
		return tok, nil
	}
	s.mu.RUnlock()

	return s.fetch(ctx)
}

// Refresh drops the cached token and fetches a fresh one. The scheduler
// calls this once at the start of every window so the whole window runs on
// one credential.
func (s *Source) Refresh(ctx context.Context) error {
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()

	_, err := s.fetch(ctx)
	return err
}

func (s *Source) fetch(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.tokenURL, nil)
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Metadata-Flavor", "Google")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token fetch failed (HTTP %d): %s",
			resp.StatusCode, string(body[:min(500, len(body))]))
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return "", fmt.Errorf("parse token response: %w", err)
	}
	if tok.AccessToken == "" {
		return "", errors.New("metadata server returned an empty token")
	}

	expiry := s.now().Add(time.Duration(tok.ExpiresIn)*time.Second - 60*time.Second)

	s.mu.Lock()
	s.token = tok.AccessToken
	s.expiry = expiry
	s.mu.Unlock()

	return tok.AccessToken, nil
}
