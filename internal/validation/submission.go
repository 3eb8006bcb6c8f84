package validation

import (
	"fmt"
	"net/mail"
	"net/url"
	"regexp"
	"strings"
)

// SubscriptionRequest is a subscription form or JSON submission.
type SubscriptionRequest struct {
	Email          string `json:"email" form:"email"`
	PhoneNumber    string `json:"phone_number" form:"phone_number"`
	TurnstileToken string `json:"turnstile_token" form:"cf-turnstile-response"`
}

// SettingsRequest is a settings form or JSON submission.
type SettingsRequest struct {
	APIAccessTokens string   `json:"api_access_tokens" form:"api_access_tokens"`
	APIBaseURL      string   `json:"api_base_url" form:"api_base_url"`
	UserGroup       []string `json:"user_group" form:"user_group[]"`
	FormToken       string   `json:"-" form:"form_token"`
}

var emailRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ValidEmail reports whether email is a single bare address.
func ValidEmail(email string) bool {
	if len(email) > 254 || !emailRegex.MatchString(email) {
		return false
	}
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return false
	}
	return addr.Address == email
}

// ValidateSubscription trims the email in place and returns the problems
// found. The honeypot is only checked when Turnstile is off.
func ValidateSubscription(req *SubscriptionRequest, turnstileEnabled bool) []string {
	var errors []string

	req.Email = strings.TrimSpace(req.Email)

	if !turnstileEnabled && strings.TrimSpace(req.PhoneNumber) != "" {
		errors = append(errors, "Honeypot field filled (bot detected)")
	}

	switch {
	case req.Email == "":
		errors = append(errors, "Email field is required.")
	case !ValidEmail(req.Email):
		errors = append(errors, fmt.Sprintf("The email address %s is not valid.", req.Email))
	}

	return errors
}

// ValidateSettings trims the request in place and returns errors keyed by
// field name.
func ValidateSettings(req *SettingsRequest) map[string]string {
	errors := make(map[string]string)

	req.APIAccessTokens = strings.TrimSpace(req.APIAccessTokens)
	req.APIBaseURL = strings.TrimSpace(req.APIBaseURL)

	if req.APIAccessTokens == "" {
		errors["api_access_tokens"] = "API access token field is required."
	}

	switch {
	case req.APIBaseURL == "":
		errors["api_base_url"] = "Base URL field is required."
	case !validBaseURL(req.APIBaseURL):
		errors["api_base_url"] = "Base URL must be an absolute http or https URL."
	}

	return errors
}

func validBaseURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
