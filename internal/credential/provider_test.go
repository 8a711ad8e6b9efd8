package credential

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sablehq/parley/internal/domain"
)

func tokenServer(t *testing.T, calls *atomic.Int64, expiresIn int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if got := r.PostForm.Get("grant_type"); got != "client_credentials" {
			t.Fatalf("unexpected grant_type %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-1",
			"expires_in":   expiresIn,
		})
	}))
}

func TestAccessTokenCachesUntilMargin(t *testing.T) {
	var calls atomic.Int64
	srv := tokenServer(t, &calls, 3600)
	defer srv.Close()

	now := time.Now()
	p := New(Config{TokenURL: srv.URL, ClientID: "id", ClientSecret: "secret"})
	p.now = func() time.Time { return now }

	ctx := context.Background()
	for range 3 {
		tok, err := p.AccessToken(ctx)
		if err != nil {
			t.Fatalf("AccessToken: %v", err)
		}
		if tok != "tok-1" {
			t.Fatalf("unexpected token %q", tok)
		}
	}
	if calls.Load() != 1 {
		t.Fatalf("expected 1 token request, got %d", calls.Load())
	}

	// Move inside the 60s refresh margin: next call must refresh.
	now = now.Add(3600*time.Second - 30*time.Second)
	if _, err := p.AccessToken(ctx); err != nil {
		t.Fatalf("AccessToken after expiry: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected refresh, got %d calls", calls.Load())
	}
}

func TestAccessTokenClampsShortLifetime(t *testing.T) {
	var calls atomic.Int64
	srv := tokenServer(t, &calls, 5)
	defer srv.Close()

	now := time.Now()
	p := New(Config{TokenURL: srv.URL, ClientID: "id", ClientSecret: "secret"})
	p.now = func() time.Time { return now }

	if _, err := p.AccessToken(context.Background()); err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	if got := p.expiresAt.Sub(now); got != minLifetime {
		t.Fatalf("expected clamp to %v, got %v", minLifetime, got)
	}
}

func TestAccessTokenErrors(t *testing.T) {
	t.Run("endpoint failure", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "denied", http.StatusUnauthorized)
		}))
		defer srv.Close()

		p := New(Config{TokenURL: srv.URL, ClientID: "id", ClientSecret: "bad"})
		_, err := p.AccessToken(context.Background())
		if !errors.Is(err, domain.ErrCredential) {
			t.Fatalf("expected ErrCredential, got %v", err)
		}
	})

	t.Run("missing token", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"expires_in":3600}`))
		}))
		defer srv.Close()

		p := New(Config{TokenURL: srv.URL, ClientID: "id", ClientSecret: "secret"})
		_, err := p.AccessToken(context.Background())
		if !errors.Is(err, domain.ErrCredential) {
			t.Fatalf("expected ErrCredential, got %v", err)
		}
	})
}
