package validation

import (
	"strings"
	"testing"
)

func TestValidEmail(t *testing.T) {
	tests := []struct {
		email string
		want  bool
	}{
		{"a@b.com", true},
		{"first.last+tag@example.co.uk", true},
		{"not-an-email", false},
		{"a@b", false},
		{"a b@c.com", false},
		{"Alice <a@b.com>", false},
		{"@b.com", false},
		{"a@@b.com", false},
		{strings.Repeat("a", 250) + "@b.com", false},
	}
	for _, tt := range tests {
		if got := ValidEmail(tt.email); got != tt.want {
			t.Errorf("ValidEmail(%q) = %v, want %v", tt.email, got, tt.want)
		}
	}
}

func TestValidateSubscription_TrimsEmail(t *testing.T) {
	req := &SubscriptionRequest{Email: "  a@b.com \n"}
	if errs := ValidateSubscription(req, false); len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
	if req.Email != "a@b.com" {
		t.Fatalf("expected trimmed email, got %q", req.Email)
	}
}

func TestValidateSubscription_Required(t *testing.T) {
	errs := ValidateSubscription(&SubscriptionRequest{Email: "   "}, false)
	if len(errs) != 1 || errs[0] != "Email field is required." {
		t.Fatalf("expected required error, got %v", errs)
	}
}

func TestValidateSubscription_Malformed(t *testing.T) {
	errs := ValidateSubscription(&SubscriptionRequest{Email: "not-an-email"}, false)
	if len(errs) != 1 || errs[0] != "The email address not-an-email is not valid." {
		t.Fatalf("expected invalid email error, got %v", errs)
	}
}

func TestValidateSubscription_Honeypot(t *testing.T) {
	errs := ValidateSubscription(&SubscriptionRequest{Email: "a@b.com", PhoneNumber: "555-1234"}, false)
	found := false
	for _, e := range errs {
		if strings.Contains(e, "Honeypot") {
			found = true
		}
	}
	if !found {
		t.Fatal("filled honeypot should be rejected")
	}

	// Turnstile replaces the honeypot.
	errs = ValidateSubscription(&SubscriptionRequest{Email: "a@b.com", PhoneNumber: "555-1234"}, true)
	if len(errs) != 0 {
		t.Fatalf("honeypot should be skipped with turnstile, got %v", errs)
	}
}

func TestValidateSettings(t *testing.T) {
	tests := []struct {
		name   string
		req    SettingsRequest
		fields []string
	}{
		{name: "valid", req: SettingsRequest{APIAccessTokens: "abc123", APIBaseURL: "https://api.sender.net/v2/"}},
		{name: "missing both", req: SettingsRequest{APIAccessTokens: " ", APIBaseURL: ""}, fields: []string{"api_access_tokens", "api_base_url"}},
		{name: "relative url", req: SettingsRequest{APIAccessTokens: "abc123", APIBaseURL: "api.sender.net/v2/"}, fields: []string{"api_base_url"}},
		{name: "ftp url", req: SettingsRequest{APIAccessTokens: "abc123", APIBaseURL: "ftp://api.sender.net/"}, fields: []string{"api_base_url"}},
		{name: "plain http allowed", req: SettingsRequest{APIAccessTokens: "abc123", APIBaseURL: "http://localhost:8080/v2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			errs := ValidateSettings(&req)
			if len(errs) != len(tt.fields) {
				t.Fatalf("expected errors on %v, got %v", tt.fields, errs)
			}
			for _, f := range tt.fields {
				if _, ok := errs[f]; !ok {
					t.Fatalf("expected error on %s, got %v", f, errs)
				}
			}
		})
	}
}

func TestValidateSettings_Trims(t *testing.T) {
	req := &SettingsRequest{APIAccessTokens: " abc123\n", APIBaseURL: " https://api.sender.net/v2/ "}
	_ = ValidateSettings(req)
	if req.APIAccessTokens != "abc123" || req.APIBaseURL != "https://api.sender.net/v2/" {
		t.Fatalf("expected trimmed values, got %+v", req)
	}
}
