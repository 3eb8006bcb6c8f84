package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/vinugawade/sender.net/internal/messenger"
	"github.com/vinugawade/sender.net/pkg/clients/sendernet"
	"github.com/vinugawade/sender.net/pkg/turnstile"
)

type SenderAPI interface {
	CreateSubscriber(ctx context.Context, params sendernet.SubscriberParams) (bool, error)
	GetSubscriberByEmail(ctx context.Context, email string) (*sendernet.Subscriber, error)
	ListAllGroups(ctx context.Context) ([]sendernet.Group, error)
	ListGroupsWith(ctx context.Context, creds sendernet.Credentials) []sendernet.Group
	CheckAPIKeyAt(ctx context.Context, baseURL, token string) bool
	DefaultBaseURL() string
}

type TurnstileVerifier interface {
	Verify(ctx context.Context, token, remoteIP string) (*turnstile.VerifyResponse, error)
}

// FormTokens issues and checks per-session anti-forgery tokens.
type FormTokens interface {
	FormToken(c *gin.Context, formID string) string
	ValidFormToken(c *gin.Context, formID, token string) bool
}

type Flash interface {
	AddStatus(c *gin.Context, text string)
	AddError(c *gin.Context, text string)
	Messages(c *gin.Context) []messenger.Message
}
