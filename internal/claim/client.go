package claim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rlorentegh/tramitador/internal/filing"
	"github.com/rlorentegh/tramitador/internal/metrics"
)

// Config controls the claim protocol client.
type Config struct {
	// Endpoint is the external claim POST URL.
	Endpoint string
	// Identity is the acting operator identity sent with each claim.
	Identity string
	// ConflictMarker in the response body means the resource is owned by a
	// different identity. Permanent, never retried.
	ConflictMarker string
	// ErrorMarker in the response body means the claim failed for any other
	// reason.
	ErrorMarker string
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// Client performs idempotent external claims with bounded retry. Re-claiming
// a resource already owned by this identity is a no-op success on the
// external side, so the POST itself is safe to repeat.
type Client struct {
	cfg     Config
	session *Session
	retry   *filing.ExponentialRetryPolicy
	logger  *zap.Logger
}

// New builds a Client.
func New(cfg Config, session *Session, logger *zap.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("claim.endpoint is required")
	}
	if cfg.Identity == "" {
		return nil, fmt.Errorf("claim.identity is required")
	}
	if cfg.ConflictMarker == "" {
		cfg.ConflictMarker = "asignado a otro usuario"
	}
	if cfg.ErrorMarker == "" {
		cfg.ErrorMarker = "ha ocurrido un error"
	}
	return &Client{
		cfg:     cfg,
		session: session,
		retry:   filing.NewRetryPolicy(cfg.MaxAttempts, cfg.BackoffBase, cfg.BackoffMax),
		logger:  logger,
	}, nil
}

// Identity returns the acting identity used for claims.
func (c *Client) Identity() string { return c.cfg.Identity }

// Claim marks the resource as owned by this identity in the external system.
// Ownership conflicts return filing.ErrOwnershipConflict immediately;
// transient failures are retried with jittered backoff until the attempt
// budget runs out.
func (c *Client) Claim(ctx context.Context, resourceID int64, caseNumber string) error {
	var (
		lastErr   error
		refreshed bool
	)
	for attempt := 0; attempt < c.retry.MaxAttempts(); attempt++ {
		err := c.claimOnce(ctx, resourceID, caseNumber)
		if err == nil {
			metrics.ObserveClaim("ok")
			return nil
		}
		if filing.IsPermanent(err) {
			if errors.Is(err, filing.ErrOwnershipConflict) {
				metrics.ObserveClaim("conflict")
			} else {
				metrics.ObserveClaim("rejected")
			}
			return err
		}
		if errors.Is(err, filing.ErrSessionExpired) && !refreshed {
			// One re-authentication per claim, without consuming an attempt.
			if _, refreshErr := c.session.Refresh(ctx); refreshErr != nil {
				metrics.ObserveClaim("error")
				return fmt.Errorf("refresh session: %w", refreshErr)
			}
			refreshed = true
			attempt--
			continue
		}
		lastErr = err
		if !c.retry.ShouldRetry(err, attempt) {
			break
		}
		wait := c.retry.Backoff(attempt)
		c.logger.Warn("claim attempt failed, backing off",
			zap.Int64("resource_id", resourceID),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return fmt.Errorf("claim canceled: %w", ctx.Err())
		case <-time.After(wait):
		}
	}
	metrics.ObserveClaim("error")
	return fmt.Errorf("claim resource %d: %w", resourceID, lastErr)
}

func (c *Client) claimOnce(ctx context.Context, resourceID int64, caseNumber string) error {
	client, err := c.session.Client(ctx)
	if err != nil {
		return fmt.Errorf("acquire session: %w", err)
	}

	form := url.Values{}
	form.Set("idRecurso", strconv.FormatInt(resourceID, 10))
	form.Set("expediente", caseNumber)
	form.Set("usuario", c.cfg.Identity)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build claim request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	// Success is inferred from a redirect or a 200 without an error marker,
	// so redirects must not be followed.
	doClient := &http.Client{
		Jar:     client.Jar,
		Timeout: client.Timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	resp, err := doClient.Do(req)
	if err != nil {
		return fmt.Errorf("claim request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusMultipleChoices && resp.StatusCode < http.StatusBadRequest {
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("claim rejected: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 256<<10))
	if err != nil {
		return fmt.Errorf("read claim response: %w", err)
	}
	text := string(body)
	lower := strings.ToLower(text)
	switch {
	case c.session.Expired(text):
		return filing.ErrSessionExpired
	case strings.Contains(lower, strings.ToLower(c.cfg.ConflictMarker)):
		return filing.ErrOwnershipConflict
	case strings.Contains(lower, strings.ToLower(c.cfg.ErrorMarker)):
		return filing.ErrClaimRejected
	}
	return nil
}
