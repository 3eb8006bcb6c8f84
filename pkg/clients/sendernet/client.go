package sendernet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"

	"github.com/vinugawade/sender.net/pkg/clients"
	"github.com/vinugawade/sender.net/pkg/logging"
)

// DefaultBaseURL is the public sender.net v2 API root.
const DefaultBaseURL = "https://api.sender.net/v2/"

// Endpoints relative to the base URL.
const (
	endpointSubscribers = "subscribers"
	endpointGroups      = "groups"
	endpointCampaigns   = "campaigns"
)

// ErrMissingToken is returned when no API access token has been saved yet.
var ErrMissingToken = errors.New("API access token is missing in configuration")

// ConfigError reports that the stored settings cannot be used to call the API.
// No request is issued when it is returned.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("sender.net settings are not set: %v", e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// APIError carries the status of a non-2xx response.
type APIError struct {
	StatusCode int
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("sender.net %s returned status: %d", e.Endpoint, e.StatusCode)
}

// Credentials is the part of the stored configuration every call needs.
type Credentials struct {
	Token   string
	BaseURL string
}

// CredentialsSource loads the current credentials. It is consulted on every
// call so that a settings change takes effect immediately.
type CredentialsSource interface {
	Credentials(ctx context.Context) (Credentials, error)
}

// CredentialsFunc adapts a function to CredentialsSource.
type CredentialsFunc func(ctx context.Context) (Credentials, error)

func (f CredentialsFunc) Credentials(ctx context.Context) (Credentials, error) {
	return f(ctx)
}

// StaticCredentials always returns the same credentials.
type StaticCredentials Credentials

func (s StaticCredentials) Credentials(context.Context) (Credentials, error) {
	return Credentials(s), nil
}

// Client is a thin wrapper over the sender.net REST API. Transport failures
// and non-2xx responses are logged and reported as false/nil; only
// configuration problems are returned as errors.
type Client struct {
	creds          CredentialsSource
	defaultBaseURL string
	client         *http.Client
	httpExecutor   failsafe.Executor[*http.Response]
	shouldRetry    func(resp *http.Response, err error) bool
	logger         logging.Logger
	metrics        *Metrics
}

type Option func(*Client)

func NewClient(creds CredentialsSource, logger logging.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = logging.NewLogger()
	}
	c := &Client{
		creds:          creds,
		defaultBaseURL: DefaultBaseURL,
		client:         clients.NewHTTPClient(10 * time.Second),
		logger:         logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.client = httpClient
		}
	}
}

// WithHTTPExecutorConfig routes requests through a failsafe executor. A config
// with no retries and no circuit breaker leaves requests as single direct calls.
func WithHTTPExecutorConfig(cfg clients.HTTPExecutorConfig) Option {
	return func(c *Client) {
		if !cfg.Enabled() {
			c.httpExecutor = nil
			c.shouldRetry = nil
			return
		}
		c.httpExecutor = clients.NewHTTPExecutor(cfg)
		c.shouldRetry = cfg.ShouldRetry
		if c.shouldRetry == nil {
			c.shouldRetry = clients.DefaultShouldRetry
		}
	}
}

// WithDefaultBaseURL sets the base URL used when none has been saved.
func WithDefaultBaseURL(baseURL string) Option {
	return func(c *Client) {
		if strings.TrimSpace(baseURL) != "" {
			c.defaultBaseURL = baseURL
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// DefaultBaseURL returns the base URL used when the stored one is empty.
func (c *Client) DefaultBaseURL() string {
	return c.defaultBaseURL
}

// SubscriberParams is the body of a create-subscriber call.
type SubscriberParams struct {
	Email     string   `json:"email"`
	Groups    []string `json:"groups"`
	Firstname string   `json:"firstname,omitempty"`
	Lastname  string   `json:"lastname,omitempty"`
}

// MarshalJSON sends lastname, even empty, whenever a name is sent.
func (p SubscriberParams) MarshalJSON() ([]byte, error) {
	type body struct {
		Email     string   `json:"email"`
		Groups    []string `json:"groups"`
		Firstname string   `json:"firstname,omitempty"`
		Lastname  *string  `json:"lastname,omitempty"`
	}
	b := body{Email: p.Email, Groups: p.Groups, Firstname: p.Firstname}
	if p.Firstname != "" || p.Lastname != "" {
		lastname := p.Lastname
		b.Lastname = &lastname
	}
	return json.Marshal(b)
}

// Group is a sender.net subscriber group.
type Group struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Subscriber is the subset of the subscriber resource this service reads.
type Subscriber struct {
	ID        string  `json:"id"`
	Email     string  `json:"email"`
	Firstname string  `json:"firstname"`
	Lastname  string  `json:"lastname"`
	Groups    []Group `json:"subscriber_tags"`
}

// credentials loads the stored credentials and fails fast without a token.
func (c *Client) credentials(ctx context.Context) (Credentials, error) {
	if c.creds == nil {
		return Credentials{}, &ConfigError{Err: ErrMissingToken}
	}
	creds, err := c.creds.Credentials(ctx)
	if err != nil {
		return Credentials{}, &ConfigError{Err: err}
	}
	if strings.TrimSpace(creds.Token) == "" {
		return Credentials{}, &ConfigError{Err: ErrMissingToken}
	}
	if strings.TrimSpace(creds.BaseURL) == "" {
		creds.BaseURL = c.defaultBaseURL
	}
	return creds, nil
}

// APIHeader returns the headers for an authenticated call using the stored token.
func (c *Client) APIHeader(ctx context.Context) (http.Header, error) {
	creds, err := c.credentials(ctx)
	if err != nil {
		return nil, err
	}
	return apiHeader(creds.Token), nil
}

func apiHeader(token string) http.Header {
	h := make(http.Header)
	h.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	return h
}

// CreateSubscriber adds a subscriber. It reports true only for a 2xx response.
func (c *Client) CreateSubscriber(ctx context.Context, params SubscriberParams) (bool, error) {
	creds, err := c.credentials(ctx)
	if err != nil {
		return false, err
	}
	if params.Groups == nil {
		params.Groups = []string{}
	}

	resp, ok := c.call(ctx, "create_subscriber", http.MethodPost, creds.BaseURL, endpointSubscribers, params, apiHeader(creds.Token))
	if !ok {
		return false, nil
	}
	drainAndClose(resp)

	c.logger.WithFields(logging.Fields{
		"operation": "create_subscriber",
		"groups":    len(params.Groups),
	}).Info("Subscriber created")
	return true, nil
}

// GetSubscriberByEmail fetches a subscriber. A nil subscriber means not found
// or the lookup failed; both are logged.
func (c *Client) GetSubscriberByEmail(ctx context.Context, email string) (*Subscriber, error) {
	creds, err := c.credentials(ctx)
	if err != nil {
		return nil, err
	}

	endpoint := endpointSubscribers + "/" + url.PathEscape(strings.TrimSpace(email))
	resp, ok := c.call(ctx, "get_subscriber", http.MethodGet, creds.BaseURL, endpoint, nil, apiHeader(creds.Token))
	if !ok {
		return nil, nil
	}
	defer drainAndClose(resp)

	var envelope struct {
		Data *Subscriber `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		c.logDecodeError("get_subscriber", err)
		return nil, nil
	}
	return envelope.Data, nil
}

// ListAllGroups returns all groups of the account owning the stored token.
func (c *Client) ListAllGroups(ctx context.Context) ([]Group, error) {
	creds, err := c.credentials(ctx)
	if err != nil {
		return nil, err
	}
	return c.ListGroupsWith(ctx, creds), nil
}

// ListGroupsWith lists groups with credentials that may not be saved yet.
// It returns nil when the token is empty or the call fails.
func (c *Client) ListGroupsWith(ctx context.Context, creds Credentials) []Group {
	if strings.TrimSpace(creds.Token) == "" {
		return nil
	}
	baseURL := creds.BaseURL
	if strings.TrimSpace(baseURL) == "" {
		baseURL = c.defaultBaseURL
	}

	resp, ok := c.call(ctx, "list_groups", http.MethodGet, baseURL, endpointGroups, nil, apiHeader(creds.Token))
	if !ok {
		return nil
	}
	defer drainAndClose(resp)

	var envelope struct {
		Data []Group `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		c.logDecodeError("list_groups", err)
		return nil
	}
	if envelope.Data == nil {
		return []Group{}
	}
	return envelope.Data
}

// CheckAPIKey probes the campaigns listing with the given, not yet saved,
// token against the stored base URL. Only HTTP 200 counts as valid.
func (c *Client) CheckAPIKey(ctx context.Context, token string) bool {
	baseURL := c.defaultBaseURL
	if c.creds != nil {
		if creds, err := c.creds.Credentials(ctx); err == nil && strings.TrimSpace(creds.BaseURL) != "" {
			baseURL = creds.BaseURL
		}
	}
	return c.CheckAPIKeyAt(ctx, baseURL, token)
}

// CheckAPIKeyAt is CheckAPIKey against an explicit base URL, used when the
// base URL is being changed in the same submission.
func (c *Client) CheckAPIKeyAt(ctx context.Context, baseURL, token string) bool {
	if strings.TrimSpace(token) == "" {
		return false
	}
	if strings.TrimSpace(baseURL) == "" {
		baseURL = c.defaultBaseURL
	}

	resp, ok := c.call(ctx, "check_api_key", http.MethodGet, baseURL, endpointCampaigns, nil, apiHeader(token))
	if !ok {
		return false
	}
	defer drainAndClose(resp)
	return resp.StatusCode == http.StatusOK
}

// call issues one request. On success the caller owns the response body.
// Failures are logged and counted here and never returned.
func (c *Client) call(ctx context.Context, operation, method, baseURL, endpoint string, body interface{}, header http.Header) (*http.Response, bool) {
	reqURL, err := joinURL(baseURL, endpoint)
	if err != nil {
		c.metrics.IncRequest(operation, "invalid_url")
		c.logger.WithFields(logging.Fields{
			"operation": operation,
			"base_url":  baseURL,
		}).WithError(err).Error("sender.net API request failed")
		return nil, false
	}

	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			c.metrics.IncRequest(operation, "encode_error")
			c.logger.WithField("operation", operation).WithError(err).Error("sender.net API request failed")
			return nil, false
		}
	}

	route := routeLabel(endpoint)
	start := time.Now()
	resp, err := c.doRequest(ctx, func(ctx context.Context) (*http.Request, error) {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
		if err != nil {
			return nil, err
		}
		req.Header = header.Clone()
		return req, nil
	})
	c.metrics.ObserveDuration(operation, time.Since(start))

	if err != nil {
		fields := logging.Fields{
			"operation": operation,
			"endpoint":  route,
		}
		// Exhausted retries hand back the last (already closed) response.
		if resp != nil {
			fields["status"] = resp.StatusCode
		}
		c.metrics.IncRequest(operation, "transport_error")
		c.logger.WithFields(fields).WithError(err).Error("sender.net API request failed")
		return nil, false
	}

	if !isSuccess(resp) {
		apiErr := &APIError{StatusCode: resp.StatusCode, Endpoint: route}
		drainAndClose(resp)
		c.metrics.IncRequest(operation, statusLabel(resp.StatusCode))

		entry := c.logger.WithFields(logging.Fields{
			"operation": operation,
			"endpoint":  route,
			"status":    apiErr.StatusCode,
		}).WithError(apiErr)
		if apiErr.StatusCode == http.StatusNotFound {
			entry.Debug("sender.net API resource not found")
		} else {
			entry.Error("sender.net API request failed")
		}
		return nil, false
	}

	c.metrics.IncRequest(operation, "success")
	return resp, true
}

func (c *Client) doRequest(ctx context.Context, build func(ctx context.Context) (*http.Request, error)) (*http.Response, error) {
	if c.httpExecutor == nil {
		req, err := build(ctx)
		if err != nil {
			return nil, err
		}
		return c.client.Do(req)
	}

	return clients.ExecuteHTTP(ctx, c.httpExecutor, func() (*http.Response, error) {
		req, err := build(ctx)
		if err != nil {
			return nil, err
		}
		resp, err := c.client.Do(req)
		if c.shouldRetry != nil && c.shouldRetry(resp, err) {
			if resp != nil && resp.Body != nil {
				_ = resp.Body.Close()
			}
		}
		return resp, err
	})
}

func (c *Client) logDecodeError(operation string, err error) {
	c.metrics.IncRequest(operation, "decode_error")
	c.logger.WithField("operation", operation).WithError(err).Error("failed to decode sender.net response")
}

func isSuccess(resp *http.Response) bool {
	return resp != nil && resp.StatusCode >= 200 && resp.StatusCode < 300
}

func statusLabel(code int) string {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return "unauthorized"
	case code == http.StatusNotFound:
		return "not_found"
	case code == http.StatusUnprocessableEntity:
		return "rejected"
	case code >= 500:
		return "server_error"
	default:
		return "http_error"
	}
}

// routeLabel keeps subscriber emails out of logs and errors.
func routeLabel(endpoint string) string {
	if strings.HasPrefix(endpoint, endpointSubscribers+"/") {
		return endpointSubscribers + "/{email}"
	}
	return endpoint
}

// joinURL appends endpoint to baseURL, tolerating a missing trailing slash.
func joinURL(baseURL, endpoint string) (string, error) {
	baseURL = strings.TrimSpace(baseURL)
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("base url %q is not absolute", baseURL)
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return baseURL + strings.TrimPrefix(endpoint, "/"), nil
}

func drainAndClose(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
