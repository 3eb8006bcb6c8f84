package sendernet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/vinugawade/sender.net/pkg/clients"
)

// newTestClient creates a client without an executor so tests use the direct client.Do path.
func newTestClient(baseURL, token string) (*Client, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	c := NewClient(StaticCredentials{Token: token, BaseURL: baseURL + "/"}, logger, WithHTTPClient(&http.Client{}))
	return c, hook
}

func TestNewClientDefaults(t *testing.T) {
	c := NewClient(nil, nil)
	if c.defaultBaseURL != DefaultBaseURL {
		t.Fatalf("expected default base URL %s, got %s", DefaultBaseURL, c.defaultBaseURL)
	}
	if c.client == nil || c.client.Timeout != 10*time.Second {
		t.Fatalf("expected 10s HTTP client, got %+v", c.client)
	}
	if c.httpExecutor != nil {
		t.Fatal("expected single-attempt client without executor by default")
	}
	if c.logger == nil {
		t.Fatal("expected fallback logger")
	}
}

func TestWithHTTPClientNilIgnored(t *testing.T) {
	c := NewClient(nil, nil, WithHTTPClient(nil))
	if c.client == nil {
		t.Fatal("nil client should not replace default")
	}
}

func TestWithDefaultBaseURL(t *testing.T) {
	c := NewClient(nil, nil, WithDefaultBaseURL("https://example.test/v2/"))
	if c.DefaultBaseURL() != "https://example.test/v2/" {
		t.Fatalf("unexpected default base url %s", c.DefaultBaseURL())
	}
	c = NewClient(nil, nil, WithDefaultBaseURL("  "))
	if c.DefaultBaseURL() != DefaultBaseURL {
		t.Fatal("blank base url should be ignored")
	}
}

func TestAPIHeader(t *testing.T) {
	c, _ := newTestClient("http://localhost", "abc123")
	h, err := c.APIHeader(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := h.Get("Authorization"); got != "Bearer abc123" {
		t.Fatalf("expected bearer header, got %q", got)
	}
	if h.Get("Content-Type") != "application/json" || h.Get("Accept") != "application/json" {
		t.Fatalf("expected JSON content negotiation headers, got %v", h)
	}
}

func TestOperationsFailFastWithoutToken(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, _ := newTestClient(srv.URL, "  ")
	ctx := context.Background()

	assertConfigErr := func(name string, err error) {
		t.Helper()
		var cfgErr *ConfigError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("%s: expected *ConfigError, got %T (%v)", name, err, err)
		}
		if !errors.Is(err, ErrMissingToken) {
			t.Fatalf("%s: expected ErrMissingToken, got %v", name, err)
		}
	}

	_, err := c.APIHeader(ctx)
	assertConfigErr("APIHeader", err)

	ok, err := c.CreateSubscriber(ctx, SubscriberParams{Email: "a@b.com"})
	assertConfigErr("CreateSubscriber", err)
	if ok {
		t.Fatal("CreateSubscriber should not report success without a token")
	}

	sub, err := c.GetSubscriberByEmail(ctx, "a@b.com")
	assertConfigErr("GetSubscriberByEmail", err)
	if sub != nil {
		t.Fatal("expected nil subscriber")
	}

	groups, err := c.ListAllGroups(ctx)
	assertConfigErr("ListAllGroups", err)
	if groups != nil {
		t.Fatal("expected nil groups")
	}

	if got := atomic.LoadInt32(&hits); got != 0 {
		t.Fatalf("expected no outbound request without a token, got %d", got)
	}
}

func TestCredentialsSourceErrorIsConfigError(t *testing.T) {
	loadErr := errors.New("settings store unavailable")
	c := NewClient(CredentialsFunc(func(context.Context) (Credentials, error) {
		return Credentials{}, loadErr
	}), nil)

	_, err := c.ListAllGroups(context.Background())
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigError, got %T", err)
	}
	if !errors.Is(err, loadErr) {
		t.Fatalf("expected wrapped load error, got %v", err)
	}
}

func TestCheckAPIKey(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   bool
	}{
		{name: "accepted token", status: http.StatusOK, want: true},
		{name: "rejected token", status: http.StatusUnauthorized, want: false},
		{name: "created is not a valid probe", status: http.StatusCreated, want: false},
		{name: "server error", status: http.StatusInternalServerError, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotPath, gotAuth, gotMethod string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotPath = r.URL.Path
				gotAuth = r.Header.Get("Authorization")
				gotMethod = r.Method
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			// The stored token differs from the probed one: the probe must use its argument.
			c, _ := newTestClient(srv.URL, "stored-token")
			if got := c.CheckAPIKey(context.Background(), "abc123"); got != tt.want {
				t.Fatalf("CheckAPIKey = %v, want %v", got, tt.want)
			}
			if gotMethod != http.MethodGet || gotPath != "/campaigns" {
				t.Fatalf("expected GET /campaigns, got %s %s", gotMethod, gotPath)
			}
			if gotAuth != "Bearer abc123" {
				t.Fatalf("expected probe with supplied token, got %q", gotAuth)
			}
		})
	}
}

func TestCheckAPIKeyWorksBeforeAnyTokenIsSaved(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, _ := newTestClient(srv.URL, "")
	if !c.CheckAPIKey(context.Background(), "abc123") {
		t.Fatal("expected probe to run with an empty stored token")
	}
	if c.CheckAPIKey(context.Background(), "") {
		t.Fatal("expected empty token to be rejected without a request")
	}
}

func TestCheckAPIKeyAtUsesExplicitBaseURL(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.URL.Path != "/v2/campaigns" {
			t.Errorf("expected /v2/campaigns, got %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, _ := newTestClient("http://127.0.0.1:1", "")
	// No trailing slash on purpose.
	if !c.CheckAPIKeyAt(context.Background(), srv.URL+"/v2", "abc123") {
		t.Fatal("expected probe against explicit base URL to succeed")
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Fatalf("expected exactly one probe request, got %d", hits)
	}
}

func TestCheckAPIKeyTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	srv.Close()

	c, hook := newTestClient(srv.URL, "")
	if c.CheckAPIKey(context.Background(), "abc123") {
		t.Fatal("expected false on transport error")
	}
	entry := hook.LastEntry()
	if entry == nil || entry.Level != logrus.ErrorLevel {
		t.Fatal("expected transport error to be logged")
	}
}

func TestCreateSubscriberSuccess(t *testing.T) {
	var gotMethod, gotPath, gotAuth, gotContentType, gotAccept string
	var gotBody map[string]interface{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		gotAccept = r.Header.Get("Accept")

		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)

		w.WriteHeader(http.StatusCreated)
		_, _ = fmt.Fprint(w, `{"success":true,"data":{"id":"sub-1"}}`)
	}))
	defer srv.Close()

	c, _ := newTestClient(srv.URL, "abc123")
	ok, err := c.CreateSubscriber(context.Background(), SubscriberParams{
		Email:     "a@b.com",
		Groups:    []string{"eZVD4w", "dN9n8z"},
		Firstname: "alice",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected success")
	}

	if gotMethod != http.MethodPost || gotPath != "/subscribers" {
		t.Fatalf("expected POST /subscribers, got %s %s", gotMethod, gotPath)
	}
	if gotAuth != "Bearer abc123" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
	if gotContentType != "application/json" || gotAccept != "application/json" {
		t.Fatalf("unexpected content headers %q %q", gotContentType, gotAccept)
	}
	if gotBody["email"] != "a@b.com" {
		t.Fatalf("expected email a@b.com, got %v", gotBody["email"])
	}
	groups, _ := gotBody["groups"].([]interface{})
	if len(groups) != 2 || groups[0] != "eZVD4w" || groups[1] != "dN9n8z" {
		t.Fatalf("expected configured groups, got %v", gotBody["groups"])
	}
	if gotBody["firstname"] != "alice" {
		t.Fatalf("expected firstname alice, got %v", gotBody["firstname"])
	}
	if lastname, present := gotBody["lastname"]; !present || lastname != "" {
		t.Fatalf("expected explicit empty lastname with a local user, got %v", gotBody["lastname"])
	}
}

func TestCreateSubscriberSendsEmptyGroupList(t *testing.T) {
	var raw string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		raw = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, _ := newTestClient(srv.URL, "abc123")
	if ok, _ := c.CreateSubscriber(context.Background(), SubscriberParams{Email: "a@b.com"}); !ok {
		t.Fatal("expected success")
	}
	if raw != `{"email":"a@b.com","groups":[]}` {
		t.Fatalf("unexpected body %s", raw)
	}
}

func TestCreateSubscriberStatusBoundaries(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{status: 200, want: true},
		{status: 299, want: true},
		{status: 300, want: false},
		{status: 422, want: false},
		{status: 500, want: false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status %d", tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			c, _ := newTestClient(srv.URL, "abc123")
			ok, err := c.CreateSubscriber(context.Background(), SubscriberParams{Email: "a@b.com"})
			if err != nil {
				t.Fatalf("vendor failures must not propagate as errors, got %v", err)
			}
			if ok != tt.want {
				t.Fatalf("status %d: got %v, want %v", tt.status, ok, tt.want)
			}
		})
	}
}

// net/http never surfaces a 1xx from a handler, so the lower edge is checked directly.
func TestIsSuccess(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{status: 100, want: false},
		{status: 199, want: false},
		{status: 200, want: true},
		{status: 201, want: true},
		{status: 299, want: true},
		{status: 300, want: false},
	}
	for _, tt := range tests {
		if got := isSuccess(&http.Response{StatusCode: tt.status}); got != tt.want {
			t.Errorf("isSuccess(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
	if isSuccess(nil) {
		t.Error("nil response must not count as success")
	}
}

func TestCreateSubscriberFailureIsLogged(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c, hook := newTestClient(srv.URL, "abc123")
	_, _ = c.CreateSubscriber(context.Background(), SubscriberParams{Email: "a@b.com"})

	entry := hook.LastEntry()
	if entry == nil {
		t.Fatal("expected a log entry")
	}
	if entry.Level != logrus.ErrorLevel {
		t.Fatalf("expected error level, got %v", entry.Level)
	}
	if entry.Data["status"] != http.StatusUnprocessableEntity {
		t.Fatalf("expected status field 422, got %v", entry.Data["status"])
	}
	var apiErr *APIError
	if err, _ := entry.Data[logrus.ErrorKey].(error); !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError in log entry, got %v", entry.Data[logrus.ErrorKey])
	}
}

func TestGetSubscriberByEmailFound(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `{
			"data": {
				"id": "dN9n8z",
				"email": "a@b.com",
				"firstname": "Alice",
				"lastname": "",
				"subscriber_tags": [{"id": "eZVD4w", "title": "Newsletter"}]
			}
		}`)
	}))
	defer srv.Close()

	c, _ := newTestClient(srv.URL, "abc123")
	sub, err := c.GetSubscriberByEmail(context.Background(), " a@b.com ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPath != "/subscribers/a@b.com" {
		t.Fatalf("expected /subscribers/a@b.com, got %s", gotPath)
	}
	if sub == nil {
		t.Fatal("expected subscriber")
	}
	if sub.ID != "dN9n8z" || sub.Email != "a@b.com" || sub.Firstname != "Alice" {
		t.Fatalf("unexpected subscriber %+v", sub)
	}
	if len(sub.Groups) != 1 || sub.Groups[0].ID != "eZVD4w" {
		t.Fatalf("unexpected groups %+v", sub.Groups)
	}
}

func TestGetSubscriberByEmailNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c, hook := newTestClient(srv.URL, "abc123")
	sub, err := c.GetSubscriberByEmail(context.Background(), "missing@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub != nil {
		t.Fatal("expected nil subscriber")
	}
	entry := hook.LastEntry()
	if entry == nil || entry.Level != logrus.DebugLevel {
		t.Fatal("expected not-found to be logged at debug level")
	}
	if entry.Data["endpoint"] != "subscribers/{email}" {
		t.Fatalf("expected email-free endpoint label, got %v", entry.Data["endpoint"])
	}
}

func TestGetSubscriberByEmailDecodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, `not-json`)
	}))
	defer srv.Close()

	c, _ := newTestClient(srv.URL, "abc123")
	sub, err := c.GetSubscriberByEmail(context.Background(), "a@b.com")
	if err != nil || sub != nil {
		t.Fatalf("expected nil, nil on decode error, got %v, %v", sub, err)
	}
}

func TestListAllGroups(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/groups" {
			t.Errorf("expected /groups, got %s", r.URL.Path)
		}
		_, _ = fmt.Fprint(w, `{
			"data": [
				{"id": "eZVD4w", "title": "Newsletter", "recipient_count": 10},
				{"id": "dN9n8z", "title": "Customers", "recipient_count": 3}
			],
			"meta": {"total": 2}
		}`)
	}))
	defer srv.Close()

	c, _ := newTestClient(srv.URL, "abc123")
	groups, err := c.ListAllGroups(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []Group{{ID: "eZVD4w", Title: "Newsletter"}, {ID: "dN9n8z", Title: "Customers"}}
	if len(groups) != len(want) {
		t.Fatalf("expected %d groups, got %d", len(want), len(groups))
	}
	for i := range want {
		if groups[i] != want[i] {
			t.Fatalf("group %d: expected %+v, got %+v", i, want[i], groups[i])
		}
	}
}

func TestListAllGroupsFailureReturnsNil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c, _ := newTestClient(srv.URL, "abc123")
	groups, err := c.ListAllGroups(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if groups != nil {
		t.Fatalf("expected nil groups, got %v", groups)
	}
}

func TestListGroupsWithUnsavedToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = fmt.Fprint(w, `{"data": []}`)
	}))
	defer srv.Close()

	c, _ := newTestClient(srv.URL, "")
	groups := c.ListGroupsWith(context.Background(), Credentials{Token: "typed-token", BaseURL: srv.URL})
	if groups == nil || len(groups) != 0 {
		t.Fatalf("expected empty non-nil list, got %v", groups)
	}
	if gotAuth != "Bearer typed-token" {
		t.Fatalf("expected typed token, got %q", gotAuth)
	}
	if c.ListGroupsWith(context.Background(), Credentials{}) != nil {
		t.Fatal("expected nil for empty token")
	}
}

func TestInvalidBaseURL(t *testing.T) {
	c := NewClient(StaticCredentials{Token: "abc123", BaseURL: "not a url"}, nil)
	ok, err := c.CreateSubscriber(context.Background(), SubscriberParams{Email: "a@b.com"})
	if err != nil || ok {
		t.Fatalf("expected false, nil for unusable base URL, got %v, %v", ok, err)
	}
}

func TestJoinURL(t *testing.T) {
	tests := []struct {
		base, endpoint, want string
		wantErr              bool
	}{
		{base: "https://api.sender.net/v2/", endpoint: "groups", want: "https://api.sender.net/v2/groups"},
		{base: "https://api.sender.net/v2", endpoint: "groups", want: "https://api.sender.net/v2/groups"},
		{base: "https://api.sender.net/v2/", endpoint: "/campaigns", want: "https://api.sender.net/v2/campaigns"},
		{base: "api.sender.net/v2/", endpoint: "groups", wantErr: true},
	}
	for _, tt := range tests {
		got, err := joinURL(tt.base, tt.endpoint)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("joinURL(%q): expected error", tt.base)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Fatalf("joinURL(%q, %q) = %q, %v; want %q", tt.base, tt.endpoint, got, err, tt.want)
		}
	}
}

func TestMetricsCountOutcomes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/groups" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	metrics := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_api_requests_total"}, []string{"operation", "status"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "test_api_duration_seconds"}, []string{"operation"}),
	}
	logger, _ := test.NewNullLogger()
	c := NewClient(StaticCredentials{Token: "abc123", BaseURL: srv.URL}, logger, WithMetrics(metrics))

	_ = c.CheckAPIKey(context.Background(), "abc123")
	_, _ = c.ListAllGroups(context.Background())

	if got := testutil.ToFloat64(metrics.Requests.WithLabelValues("check_api_key", "success")); got != 1 {
		t.Fatalf("expected 1 successful probe, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.Requests.WithLabelValues("list_groups", "server_error")); got != 1 {
		t.Fatalf("expected 1 server error, got %v", got)
	}
	if got := testutil.CollectAndCount(metrics.Duration); got != 2 {
		t.Fatalf("expected duration series for 2 operations, got %d", got)
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.IncRequest("op", "success")
	m.ObserveDuration("op", time.Second)
	m.RecordCircuitState("sendernet", clients.StateClosed, clients.StateOpen)
}

func TestExecutorRetriesWhenConfigured(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = fmt.Fprint(w, `{"data":[{"id":"g1","title":"One"}]}`)
	}))
	defer srv.Close()

	logger, _ := test.NewNullLogger()
	c := NewClient(StaticCredentials{Token: "abc123", BaseURL: srv.URL}, logger,
		WithHTTPExecutorConfig(clients.HTTPExecutorConfig{
			MaxRetries: 2,
			BaseDelay:  time.Millisecond,
			MaxDelay:   time.Millisecond,
		}),
	)

	groups, err := c.ListAllGroups(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(groups) != 1 || groups[0].ID != "g1" {
		t.Fatalf("expected groups after retries, got %v", groups)
	}
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestDefaultExecutorConfigIsSingleAttempt(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	logger, _ := test.NewNullLogger()
	c := NewClient(StaticCredentials{Token: "abc123", BaseURL: srv.URL}, logger,
		WithHTTPExecutorConfig(clients.DefaultHTTPExecutorConfig()),
	)
	if c.httpExecutor != nil {
		t.Fatal("expected no executor for the default config")
	}

	ok, _ := c.CreateSubscriber(context.Background(), SubscriberParams{Email: "a@b.com"})
	if ok {
		t.Fatal("expected failure")
	}
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Fatalf("expected exactly one attempt, got %d", got)
	}
}
