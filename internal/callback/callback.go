// Package callback delivers the final Execution Supervisor result to a
// caller-provided webhook URL, best-effort, with secret masking in logs and
// a feature gate for destinations that aren't ready for live traffic
// (spec §4.F).
package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cursorrunner/cursor-runner/internal/cloudlog"
)

const (
	requestTimeout = 10 * time.Second
	// maxAttempts is the initial delivery attempt plus 3 retries.
	maxAttempts = 4
)

// retryDelays are the exponential backoff delays preceding each retry.
var retryDelays = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

// secretParamNames are query parameter names masked before logging
// (case-insensitive).
var secretParamNames = map[string]bool{
	"secret": true, "token": true, "key": true, "password": true, "api_key": true,
}

// Config holds the dispatcher's static configuration.
type Config struct {
	// WebhookSecret is appended as a "secret" query parameter to every
	// destination URL. Empty means no signing.
	WebhookSecret string

	// GatedHostnameSubstring, when non-empty, marks destinations whose
	// hostname contains it as feature-gated.
	GatedHostnameSubstring string
	// GatedFeatureEnabled controls whether gated destinations are actually
	// delivered to.
	GatedFeatureEnabled bool
}

// Dispatcher delivers webhook callbacks.
type Dispatcher struct {
	cfg    Config
	client *http.Client
	logger cloudlog.Logger
}

// New constructs a Dispatcher with a bounded-timeout HTTP client.
func New(cfg Config, logger cloudlog.Logger) *Dispatcher {
	if logger == nil {
		logger = cloudlog.NewStderrLogger("callback")
	}
	return &Dispatcher{
		cfg:    cfg,
		client: &http.Client{Timeout: requestTimeout},
		logger: logger,
	}
}

// Deliver POSTs payload as JSON to destinationURL, signing it with the
// configured webhook secret. It makes up to maxAttempts attempts (the
// first plus 3 retries) with exponential backoff and never returns an error the caller of the
// Execution Supervisor would see — failures are logged and dropped.
func (d *Dispatcher) Deliver(ctx context.Context, requestID, destinationURL string, payload any) {
	signed, err := d.sign(destinationURL)
	if err != nil {
		d.logger.Warn("callback destination URL invalid", "requestId", requestID, "error", err.Error())
		return
	}

	if gated, enabled := d.gateCheck(signed); gated && !enabled {
		d.logger.Info("callback destination feature-gated, skipping",
			"requestId", requestID, "destination", maskSecrets(signed))
		return
	}

	body, err := json.Marshal(payload)
	if err != nil {
		d.logger.Warn("callback payload marshal failed", "requestId", requestID, "error", err.Error())
		return
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(retryDelays[attempt-1]):
			case <-ctx.Done():
				d.logger.Warn("callback delivery cancelled during backoff",
					"requestId", requestID, "destination", maskSecrets(signed))
				return
			}
		}

		lastErr = d.attempt(ctx, signed, body)
		if lastErr == nil {
			d.logger.Info("callback delivered",
				"requestId", requestID, "destination", maskSecrets(signed), "attempt", attempt+1)
			return
		}
		d.logger.Warn("callback attempt failed",
			"requestId", requestID, "destination", maskSecrets(signed), "attempt", attempt+1, "error", lastErr.Error())
	}

	d.logger.Error("callback delivery exhausted retries, dropping",
		"requestId", requestID, "destination", maskSecrets(signed), "error", lastErr.Error())
}

func (d *Dispatcher) attempt(ctx context.Context, dest string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, dest, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return &httpStatusError{status: resp.StatusCode}
}

type httpStatusError struct{ status int }

func (e *httpStatusError) Error() string {
	return http.StatusText(e.status)
}

func (d *Dispatcher) sign(destinationURL string) (string, error) {
	u, err := url.Parse(destinationURL)
	if err != nil {
		return "", err
	}
	if d.cfg.WebhookSecret != "" {
		q := u.Query()
		q.Set("secret", d.cfg.WebhookSecret)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// gateCheck reports whether dest matches the gated-hostname substring and,
// if so, whether the feature is enabled.
func (d *Dispatcher) gateCheck(dest string) (gated bool, enabled bool) {
	if d.cfg.GatedHostnameSubstring == "" {
		return false, true
	}
	u, err := url.Parse(dest)
	if err != nil {
		return false, true
	}
	if strings.Contains(u.Hostname(), d.cfg.GatedHostnameSubstring) {
		return true, d.cfg.GatedFeatureEnabled
	}
	return false, true
}

// maskSecrets replaces the value of any query parameter whose name matches
// secretParamNames (case-insensitive) with "***" before the URL is logged.
func maskSecrets(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	changed := false
	for name := range q {
		if secretParamNames[strings.ToLower(name)] {
			q.Set(name, "***")
			changed = true
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}
	return u.String()
}
