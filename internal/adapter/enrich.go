package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Enricher normalizes claimant addresses for portal forms.
type Enricher interface {
	Normalize(ctx context.Context, address string) (string, error)
}

// HTTPEnricher calls the address-normalization service.
type HTTPEnricher struct {
	endpoint string
	client   *http.Client
}

// NewHTTPEnricher builds an HTTPEnricher.
func NewHTTPEnricher(endpoint string, timeout time.Duration) *HTTPEnricher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPEnricher{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

// Normalize posts the raw address and returns the service's normal form.
func (e *HTTPEnricher) Normalize(ctx context.Context, address string) (string, error) {
	body, err := json.Marshal(map[string]string{"address": address})
	if err != nil {
		return "", fmt.Errorf("marshal enrichment request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build enrichment request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("enrichment request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("enrichment rejected: status %d", resp.StatusCode)
	}
	var decoded struct {
		Normalized string `json:"normalized"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode enrichment response: %w", err)
	}
	if decoded.Normalized == "" {
		return "", fmt.Errorf("enrichment returned empty address")
	}
	return decoded.Normalized, nil
}

// Expansion order is fixed so the fallback stays deterministic.
var abbreviations = []struct{ abbr, full string }{
	{"C/", "CALLE "},
	{"AVDA.", "AVENIDA "},
	{"AVDA ", "AVENIDA "},
	{"PZA.", "PLAZA "},
	{"PZA ", "PLAZA "},
	{"CTRA.", "CARRETERA "},
	{"Nº", "NUMERO "},
}

// NormalizeAddressLocal is the deterministic fallback used whenever the
// enrichment service is unavailable. It must stay pure so repeated payload
// builds for the same resource produce identical payloads.
func NormalizeAddressLocal(address string) string {
	out := strings.ToUpper(strings.TrimSpace(address))
	for _, a := range abbreviations {
		out = strings.ReplaceAll(out, a.abbr, a.full)
	}
	return strings.Join(strings.Fields(out), " ")
}
