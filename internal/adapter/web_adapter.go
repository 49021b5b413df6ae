package adapter

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/rlorentegh/tramitador/internal/filing"
)

// WebAdapterConfig describes a source whose case list is only exposed as an
// HTML table on the portal.
type WebAdapterConfig struct {
	Source   filing.SourceID
	ListURL  string
	Protocol filing.ProtocolTag
	Timeout  time.Duration
}

// jarProvider supplies the authenticated cookie jar shared with the claim
// session.
type jarProvider interface {
	Client(ctx context.Context) (*http.Client, error)
}

// WebAdapter discovers candidates by scraping the portal's case list.
type WebAdapter struct {
	base
	cfg     WebAdapterConfig
	session jarProvider
}

// NewWebAdapter builds a WebAdapter.
func NewWebAdapter(
	cfg WebAdapterConfig,
	session jarProvider,
	claims filing.ClaimClient,
	enricher Enricher,
	logger *zap.Logger,
) (*WebAdapter, error) {
	if cfg.Source == "" {
		return nil, fmt.Errorf("adapter source is required")
	}
	if cfg.ListURL == "" {
		return nil, fmt.Errorf("adapter list_url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if session == nil {
		return nil, fmt.Errorf("session is required")
	}
	if claims == nil {
		return nil, fmt.Errorf("claim client is required")
	}
	return &WebAdapter{
		base: base{
			source:   cfg.Source,
			claims:   claims,
			enricher: enricher,
			logger:   logger,
		},
		cfg:     cfg,
		session: session,
	}, nil
}

// Source returns the source id this adapter services.
func (a *WebAdapter) Source() filing.SourceID { return a.cfg.Source }

// FetchCandidates scrapes the case list, free before claimed-by-self.
// The portal owns the markup, so this adapter canonicalizes case numbers
// locally and drops anything it cannot parse.
func (a *WebAdapter) FetchCandidates(ctx context.Context, limit int) ([]filing.Resource, error) {
	if limit <= 0 {
		return nil, nil
	}
	authedClient, err := a.session.Client(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire session for %s: %w", a.cfg.Source, err)
	}

	collector := colly.NewCollector(colly.Async(false))
	collector.SetCookieJar(authedClient.Jar)
	collector.SetRequestTimeout(a.cfg.Timeout)

	var (
		resources []filing.Resource
		scrapeErr error
	)
	collector.OnHTML("tr.recurso", func(e *colly.HTMLElement) {
		res, ok := a.parseRow(e)
		if !ok {
			return
		}
		resources = append(resources, res)
	})
	collector.OnError(func(resp *colly.Response, err error) {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			scrapeErr = filing.ErrSessionExpired
			return
		}
		scrapeErr = err
	})

	if err := a.visit(ctx, collector); err != nil {
		return nil, err
	}
	if scrapeErr != nil {
		return nil, fmt.Errorf("scrape case list for %s: %w", a.cfg.Source, scrapeErr)
	}

	orderFreeFirst(resources)
	if len(resources) > limit {
		resources = resources[:limit]
	}
	return resources, nil
}

func (a *WebAdapter) visit(ctx context.Context, collector *colly.Collector) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(a.cfg.ListURL)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("case list fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("visit case list for %s: %w", a.cfg.Source, err)
		}
		return nil
	}
}

func (a *WebAdapter) parseRow(e *colly.HTMLElement) (filing.Resource, bool) {
	id, err := strconv.ParseInt(e.Attr("data-id"), 10, 64)
	if err != nil {
		a.logger.Warn("skipping case row without numeric id",
			zap.String("source", string(a.cfg.Source)),
			zap.String("raw_id", e.Attr("data-id")),
		)
		return filing.Resource{}, false
	}

	caseNumber := strings.TrimSpace(e.ChildText("td.expediente"))
	if !CaseNumberValid(caseNumber) {
		repaired, err := RepairCaseNumber(caseNumber)
		if err != nil {
			a.logger.Warn("dropping candidate with unrepairable case number",
				zap.String("source", string(a.cfg.Source)),
				zap.Int64("resource_id", id),
				zap.String("case_number", caseNumber),
			)
			return filing.Resource{}, false
		}
		caseNumber = repaired
	}

	state := filing.ResourceFree
	claimedBy := strings.TrimSpace(e.Attr("data-asignado"))
	if e.Attr("data-estado") != "libre" {
		state = filing.ResourceClaimed
		// Same eligibility as the SQL adapter's query: free cases, or cases
		// already assigned to this identity.
		if claimedBy != a.claims.Identity() {
			return filing.Resource{}, false
		}
	}
	return filing.Resource{
		SourceID:           a.cfg.Source,
		ResourceID:         id,
		CaseNumber:         caseNumber,
		State:              state,
		ClaimedBy:          claimedBy,
		Claimant:           strings.TrimSpace(e.ChildText("td.interesado")),
		Address:            strings.TrimSpace(e.ChildText("td.domicilio")),
		Protocol:           a.cfg.Protocol,
		NeedsAuthorization: e.Attr("data-autorizacion") != "",
		AuthorizationType:  e.Attr("data-autorizacion"),
	}, true
}
