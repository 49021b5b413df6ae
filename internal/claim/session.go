// Package claim implements the authenticated claim protocol against the
// external case-management system.
package claim

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SessionConfig describes the form login against the external portal.
type SessionConfig struct {
	LoginURL string
	Username string
	Password string
	// LoginMarker is a substring of the login page body; seeing it on a
	// response means the session has lapsed.
	LoginMarker string
	Timeout     time.Duration
}

// Session supplies a ready authenticated HTTP client. Expiry is a retryable
// condition handled by Refresh, never a fatal error.
type Session struct {
	cfg    SessionConfig
	logger *zap.Logger

	mu     sync.Mutex
	client *http.Client
}

// NewSession builds a Session. The client is authenticated lazily on first use.
func NewSession(cfg SessionConfig, logger *zap.Logger) (*Session, error) {
	if cfg.LoginURL == "" {
		return nil, fmt.Errorf("session.login_url is required")
	}
	if cfg.Username == "" {
		return nil, fmt.Errorf("session.username is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Session{cfg: cfg, logger: logger}, nil
}

// Client returns the authenticated client, logging in on first use.
func (s *Session) Client(ctx context.Context) (*http.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client, nil
	}
	client, err := s.login(ctx)
	if err != nil {
		return nil, err
	}
	s.client = client
	return s.client, nil
}

// Refresh discards the current session and authenticates again.
func (s *Session) Refresh(ctx context.Context) (*http.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger.Info("refreshing external session", zap.String("login_url", s.cfg.LoginURL))
	client, err := s.login(ctx)
	if err != nil {
		return nil, err
	}
	s.client = client
	return s.client, nil
}

// Expired reports whether a response body looks like the login page.
func (s *Session) Expired(body string) bool {
	return s.cfg.LoginMarker != "" && strings.Contains(body, s.cfg.LoginMarker)
}

func (s *Session) login(ctx context.Context) (*http.Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	client := &http.Client{
		Jar:     jar,
		Timeout: s.cfg.Timeout,
	}

	form := url.Values{}
	form.Set("usuario", s.cfg.Username)
	form.Set("clave", s.cfg.Password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.LoginURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("login request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("read login response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("login rejected: status %d", resp.StatusCode)
	}
	if s.Expired(string(body)) {
		return nil, fmt.Errorf("login rejected: credentials not accepted")
	}

	s.logger.Debug("external session established", zap.String("user", s.cfg.Username))
	return client, nil
}
