// Package delivery hands completed leads to the CRM and to the notification channel.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// CRM client defaults
const (
	// DefaultCRMTimeout bounds one CRM submission
	DefaultCRMTimeout = 10 * time.Second
	// DefaultSuccessMarker is the text a successful CRM response body contains
	DefaultSuccessMarker = "success"
	// DefaultLeadSource is the leadsource value sent with every lead
	DefaultLeadSource = "telegram"
	// MaxExcerptLength is the longest response excerpt kept for a rejected submission, in characters
	MaxExcerptLength = 200
	// maxResponseBytes bounds how much of a response body is read
	maxResponseBytes = 64 << 10
)

// Form parameters added to every submission.
const (
	ParamLeadSource = "leadsource"
	ParamPublicID   = "publicid"
)

var (
	// ErrMissingEndpoint means no CRM endpoint is configured.
	ErrMissingEndpoint = errors.New("CRM endpoint not configured")
	// ErrMissingPublicID means no CRM tenant identifier is configured.
	ErrMissingPublicID = errors.New("CRM public id not configured")
)

// CRMOpts holds configuration options for the CRM client.
type CRMOpts struct {
	Endpoint      string
	PublicID      string
	Source        string
	Timeout       time.Duration
	SuccessMarker string
	HTTPClient    *http.Client
}

// CRMOption defines a configuration option for the CRM client.
type CRMOption func(*CRMOpts)

// WithEndpoint sets the CRM ingestion URL.
func WithEndpoint(endpoint string) CRMOption {
	return func(o *CRMOpts) { o.Endpoint = endpoint }
}

// WithPublicID sets the tenant identifier sent as publicid.
func WithPublicID(id string) CRMOption {
	return func(o *CRMOpts) { o.PublicID = id }
}

// WithSource overrides the leadsource tag used when a lead carries none.
func WithSource(source string) CRMOption {
	return func(o *CRMOpts) { o.Source = source }
}

// WithTimeout bounds each submission.
func WithTimeout(d time.Duration) CRMOption {
	return func(o *CRMOpts) { o.Timeout = d }
}

// WithSuccessMarker sets the text that marks a successful response body.
func WithSuccessMarker(marker string) CRMOption {
	return func(o *CRMOpts) { o.SuccessMarker = marker }
}

// WithHTTPClient sets the HTTP client used for submissions.
func WithHTTPClient(c *http.Client) CRMOption {
	return func(o *CRMOpts) { o.HTTPClient = c }
}

// CRMClient submits leads to a form-encoded HTTP ingestion endpoint.
type CRMClient struct {
	cfg CRMOpts
}

// NewCRMClient creates a CRM client. Missing endpoint or tenant id is not an error here: every
// submission then reports a configuration error instead.
func NewCRMClient(opts ...CRMOption) *CRMClient {
	cfg := CRMOpts{
		Source:        DefaultLeadSource,
		Timeout:       DefaultCRMTimeout,
		SuccessMarker: DefaultSuccessMarker,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Endpoint == "" || cfg.PublicID == "" {
		slog.Warn("CRMClient: CRM delivery not fully configured, leads will not reach the CRM",
			"endpoint_set", cfg.Endpoint != "", "public_id_set", cfg.PublicID != "")
	}
	return &CRMClient{cfg: cfg}
}

// FormValues builds the submission body: one parameter per lead field, then leadsource and publicid.
func (c *CRMClient) FormValues(lead models.Lead) url.Values {
	values := url.Values{}
	for _, f := range lead.Fields {
		param := f.CRMParam
		if param == "" {
			param = f.Name
		}
		values.Set(param, f.Value)
	}
	source := lead.Source
	if source == "" {
		source = c.cfg.Source
	}
	values.Set(ParamLeadSource, source)
	values.Set(ParamPublicID, c.cfg.PublicID)
	return values
}

// Submit posts the lead once and classifies the result. It never retries.
func (c *CRMClient) Submit(ctx context.Context, lead models.Lead) models.CRMOutcome {
	switch {
	case c.cfg.Endpoint == "":
		return models.CRMOutcome{Status: models.CRMStatusConfigError, Err: ErrMissingEndpoint}
	case c.cfg.PublicID == "":
		return models.CRMOutcome{Status: models.CRMStatusConfigError, Err: ErrMissingPublicID}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	body := c.FormValues(lead).Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, strings.NewReader(body))
	if err != nil {
		return models.CRMOutcome{Status: models.CRMStatusConfigError, Err: fmt.Errorf("invalid CRM endpoint: %w", err)}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	slog.Debug("CRMClient.Submit: posting lead", "lead_id", lead.ID, "endpoint", c.cfg.Endpoint)
	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		slog.Error("CRMClient.Submit: request failed", "error", err, "lead_id", lead.ID)
		return models.CRMOutcome{Status: models.CRMStatusTransportError, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		slog.Error("CRMClient.Submit: reading response failed", "error", err, "lead_id", lead.ID)
		return models.CRMOutcome{Status: models.CRMStatusTransportError, HTTPStatus: resp.StatusCode, Err: err}
	}
	text := string(raw)

	if resp.StatusCode != http.StatusOK || !strings.Contains(strings.ToLower(text), strings.ToLower(c.cfg.SuccessMarker)) {
		slog.Warn("CRMClient.Submit: lead rejected", "lead_id", lead.ID, "status", resp.StatusCode)
		return models.CRMOutcome{
			Status:     models.CRMStatusRemoteRejected,
			HTTPStatus: resp.StatusCode,
			Excerpt:    Excerpt(text, MaxExcerptLength),
		}
	}

	slog.Info("CRMClient.Submit: lead delivered", "lead_id", lead.ID)
	return models.CRMOutcome{Status: models.CRMStatusDelivered, HTTPStatus: resp.StatusCode}
}

// Excerpt trims s and cuts it to at most n characters.
func Excerpt(s string, n int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
