package turnstile

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultVerifyURL = "https://challenges.cloudflare.com/turnstile/v0/siteverify"

type Validator struct {
	secretKey  string
	verifyURL  string
	httpClient *http.Client
}

type VerifyResponse struct {
	Success     bool     `json:"success"`
	ErrorCodes  []string `json:"error-codes"`
	ChallengeTS string   `json:"challenge_ts"`
	Hostname    string   `json:"hostname"`
}

type Option func(*Validator)

func WithVerifyURL(u string) Option {
	return func(v *Validator) {
		if u != "" {
			v.verifyURL = u
		}
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(v *Validator) {
		if c != nil {
			v.httpClient = c
		}
	}
}

func NewValidator(secretKey string, opts ...Option) *Validator {
	v := &Validator{
		secretKey: secretKey,
		verifyURL: DefaultVerifyURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Enabled reports whether a secret key is configured.
func (v *Validator) Enabled() bool {
	return v != nil && v.secretKey != ""
}

func (v *Validator) Verify(ctx context.Context, token, remoteIP string) (*VerifyResponse, error) {
	if v.secretKey == "" {
		return &VerifyResponse{Success: true, ErrorCodes: []string{}}, nil
	}

	if token == "" {
		return &VerifyResponse{
			Success:    false,
			ErrorCodes: []string{"missing-input-response"},
		}, nil
	}

	data := url.Values{}
	data.Set("secret", v.secretKey)
	data.Set("response", token)
	if remoteIP != "" {
		data.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.verifyURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var result VerifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &result, nil
}
