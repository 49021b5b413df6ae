// Package engine contains the form-automation engines that execute filing
// tasks against the portal.
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"

	"github.com/rlorentegh/tramitador/internal/filing"
)

// Config controls the behavior of the chromedp engine.
type Config struct {
	// PortalURLs maps each protocol to the form URL its workflow starts at.
	PortalURLs map[filing.ProtocolTag]string
	// NavigationTimeout bounds one full task execution.
	NavigationTimeout time.Duration
	// SuccessMarker is the text the portal renders after a successful filing.
	SuccessMarker string
	// ErrorMarker is the text the portal renders when the filing is rejected.
	ErrorMarker string
}

// Chromedp drives the portal form with a headless browser.
type Chromedp struct {
	cfg         Config
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp creates a headless engine backed by chromedp.
func NewChromedp(cfg Config) (*Chromedp, error) {
	if len(cfg.PortalURLs) == 0 {
		return nil, fmt.Errorf("at least one portal url is required")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 60 * time.Second
	}
	if cfg.SuccessMarker == "" {
		cfg.SuccessMarker = "presentado correctamente"
	}
	if cfg.ErrorMarker == "" {
		cfg.ErrorMarker = "ha ocurrido un error"
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Chromedp{
		cfg:         cfg,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close cancels the allocator context.
func (e *Chromedp) Close() {
	e.allocCancel()
}

// Execute runs the portal workflow for one task: navigate to the protocol's
// form, fill it from the payload, submit, and read back the outcome. The
// rendered result panel is captured as a screenshot artifact either way.
func (e *Chromedp) Execute(ctx context.Context, task filing.PendingTask) (filing.EngineResult, error) {
	url, ok := e.cfg.PortalURLs[task.Protocol]
	if !ok {
		return filing.EngineResult{}, fmt.Errorf("no portal url for protocol %q", task.Protocol)
	}

	taskCtx, taskCancel := chromedp.NewContext(e.allocator)
	defer taskCancel()

	taskCtx, cancel := context.WithTimeout(taskCtx, e.cfg.NavigationTimeout)
	defer cancel()
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-taskCtx.Done():
		}
	}()

	var (
		resultText string
		screenshot []byte
	)
	actions := []chromedp.Action{
		emulation.SetDeviceMetricsOverride(1366, 900, 1, false),
		chromedp.Navigate(url),
		chromedp.WaitVisible(`#expediente`, chromedp.ByID),
		chromedp.SetValue(`#expediente`, task.Payload.CaseNumber, chromedp.ByID),
		chromedp.SetValue(`#interesado`, task.Payload.Claimant, chromedp.ByID),
		chromedp.SetValue(`#domicilio`, task.Payload.Address, chromedp.ByID),
		chromedp.Click(`#presentar`, chromedp.ByID),
		chromedp.WaitVisible(`#resultado`, chromedp.ByID),
		chromedp.Text(`#resultado`, &resultText, chromedp.ByID),
		chromedp.CaptureScreenshot(&screenshot),
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return filing.EngineResult{}, fmt.Errorf("portal workflow for case %s: %w", task.Payload.CaseNumber, err)
	}

	return e.classifyResult(resultText, screenshot), nil
}

// classifyResult maps the rendered result panel text to a terminal outcome.
// Marker matching ignores case on both sides.
func (e *Chromedp) classifyResult(resultText string, screenshot []byte) filing.EngineResult {
	result := filing.EngineResult{
		Result:       strings.TrimSpace(resultText),
		Artifact:     screenshot,
		ArtifactName: "resultado.png",
	}
	lower := strings.ToLower(resultText)
	switch {
	case strings.Contains(lower, strings.ToLower(e.cfg.SuccessMarker)):
		result.Completed = true
	case strings.Contains(lower, strings.ToLower(e.cfg.ErrorMarker)):
		result.ErrorText = strings.TrimSpace(resultText)
	default:
		result.ErrorText = fmt.Sprintf("unrecognized portal response: %s", strings.TrimSpace(resultText))
	}
	return result
}
