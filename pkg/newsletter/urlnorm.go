// Package newsletter extracts structured content from digest emails.
//
// Each known sender family has its own Format that knows the digest's
// section headings and item layout. Unrecognized senders fall back to a
// pass-through format so ingestion always produces something for the
// generative extraction step downstream.
package newsletter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Tracking query parameters stripped during canonicalization.
var trackingParams = map[string]bool{
	"utm_source":   true,
	"utm_medium":   true,
	"utm_campaign": true,
	"utm_term":     true,
	"utm_content":  true,
	"fbclid":       true,
	"gclid":        true,
	"mc_cid":       true,
	"mc_eid":       true,
	"ref":          true,
}

// NormalizeURL strips tracking parameters from a candidate URL. Malformed
// URLs are returned unchanged; the caller logs and moves on rather than
// dropping the item.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return raw
	}

	query := parsed.Query()
	changed := false
	for param := range query {
		if trackingParams[strings.ToLower(param)] {
			query.Del(param)
			changed = true
		}
	}
	if changed {
		parsed.RawQuery = query.Encode()
	}
	parsed.Fragment = ""

	return parsed.String()
}

// CanonicalShortenerURL reduces a link-shortener URL to its bare
// https://<host>/<code> form, discarding tracking parameters and any extra
// path segments after the code. Returns the input unchanged when it does not
// look like a shortener link for the given host.
func CanonicalShortenerURL(raw, shortenerHost string) string {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || !strings.EqualFold(parsed.Host, shortenerHost) {
		return NormalizeURL(raw)
	}

	code := strings.Trim(parsed.Path, "/")
	if idx := strings.IndexByte(code, '/'); idx >= 0 {
		code = code[:idx]
	}
	if code == "" {
		return NormalizeURL(raw)
	}

	return fmt.Sprintf("https://%s/%s", strings.ToLower(shortenerHost), code)
}

// Typed drop reasons from source validation. Callers log the reason and skip
// the candidate; there is no retry.
var (
	ErrSourceMalformed   = errors.New("source URL is malformed")
	ErrSourceNotFound    = errors.New("source host could not be resolved")
	ErrSourceTimeout     = errors.New("source probe timed out")
	ErrSourceUnavailable = errors.New("source returned an error status")
)

// SourceValidator probes candidate discovery sources for reachability.
type SourceValidator struct {
	client *http.Client
	logger *zap.Logger
}

// NewSourceValidator creates a validator with a short probe timeout.
func NewSourceValidator(logger *zap.Logger) *SourceValidator {
	return &SourceValidator{
		client: &http.Client{Timeout: 5 * time.Second},
		logger: logger,
	}
}

// Validate performs a HEAD probe against the source URL. Any response other
// than 404 or a 5xx counts as valid: the probe is a best-effort liveness
// filter, not a guarantee.
func (v *SourceValidator) Validate(ctx context.Context, source string) error {
	parsed, err := url.Parse(strings.TrimSpace(source))
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		v.logger.Debug("Dropping candidate with malformed source", zap.String("source", source))
		return ErrSourceMalformed
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, parsed.String(), nil)
	if err != nil {
		return ErrSourceMalformed
	}

	resp, err := v.client.Do(req)
	if err != nil {
		reason := classifyProbeError(err)
		v.logger.Debug("Source probe failed",
			zap.String("source", source),
			zap.String("reason", reason.Error()))
		return reason
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode >= 500 {
		v.logger.Debug("Source returned error status",
			zap.String("source", source),
			zap.Int("status", resp.StatusCode))
		return ErrSourceUnavailable
	}

	return nil
}

func classifyProbeError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrSourceTimeout
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ErrSourceNotFound
	}
	return ErrSourceUnavailable
}
