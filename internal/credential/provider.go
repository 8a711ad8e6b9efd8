// Package credential acquires and caches the bearer token used for all
// upstream agent API calls via an OAuth client-credentials grant.
package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/sablehq/parley/internal/domain"
)

const (
	// refreshMargin is how long before expiry the cached token is
	// considered stale.
	refreshMargin = 60 * time.Second

	// Reported token lifetimes are clamped into this range.
	minLifetime = 60 * time.Second
	maxLifetime = 86400 * time.Second

	tokenTimeout = 10 * time.Second
)

// Config holds the client-credentials grant parameters.
type Config struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scope        string
}

// Provider caches a single bearer token process-wide and refreshes it
// lazily. Concurrent refreshes are collapsed by a single-flight group;
// tokens are idempotent and interchangeable, so last-writer-wins is fine.
type Provider struct {
	cfg        Config
	httpClient *http.Client

	mu        sync.Mutex
	token     string
	expiresAt time.Time

	sf  singleflight.Group
	now func() time.Time // for testing
}

// New creates a token provider for the given grant configuration.
func New(cfg Config) *Provider {
	return &Provider{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: tokenTimeout},
		now:        time.Now,
	}
}

// AccessToken returns a non-expired bearer token, refreshing it when the
// remaining lifetime drops under the safety margin.
func (p *Provider) AccessToken(ctx context.Context) (string, error) {
	p.mu.Lock()
	if p.token != "" && p.now().Before(p.expiresAt.Add(-refreshMargin)) {
		tok := p.token
		p.mu.Unlock()
		return tok, nil
	}
	p.mu.Unlock()

	v, err, _ := p.sf.Do("token", func() (any, error) {
		return p.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (p *Provider) refresh(ctx context.Context) (string, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {p.cfg.ClientID},
		"client_secret": {p.cfg.ClientSecret},
	}
	if p.cfg.Scope != "" {
		form.Set("scope", p.cfg.Scope)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.TokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("%w: build token request: %v", domain.ErrCredential, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: token request: %v", domain.ErrCredential, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		// Drain without retaining the body; credential endpoint errors
		// must not leak to callers.
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("%w: token endpoint status %d", domain.ErrCredential, resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("%w: decode token response: %v", domain.ErrCredential, err)
	}
	if body.AccessToken == "" {
		return "", fmt.Errorf("%w: token response had no access_token", domain.ErrCredential)
	}

	lifetime := clampLifetime(time.Duration(body.ExpiresIn) * time.Second)

	p.mu.Lock()
	p.token = body.AccessToken
	p.expiresAt = p.now().Add(lifetime)
	p.mu.Unlock()

	return body.AccessToken, nil
}

func clampLifetime(d time.Duration) time.Duration {
	if d < minLifetime {
		return minLifetime
	}
	if d > maxLifetime {
		return maxLifetime
	}
	return d
}
