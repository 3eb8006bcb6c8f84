package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/vinugawade/sender.net/internal/settings"
	"github.com/vinugawade/sender.net/internal/users"
	"github.com/vinugawade/sender.net/internal/validation"
	"github.com/vinugawade/sender.net/internal/views"
	"github.com/vinugawade/sender.net/pkg/clients/sendernet"
	"github.com/vinugawade/sender.net/pkg/logging"
	"github.com/vinugawade/sender.net/pkg/middleware"
)

const (
	SubscribePath    = "/subscribe"
	SubscribeAPIPath = "/api/subscribe"

	subscribeTitle = "Subscribe"
)

// SubscribeConfig holds the collaborators of SubscribeHandler.
type SubscribeConfig struct {
	API                SenderAPI
	Settings           settings.Store
	Users              users.Directory
	Flash              Flash
	Block              *BlockHandler
	TurnstileValidator TurnstileVerifier
	TurnstileEnabled   bool
	Logger             logging.Logger
	Metrics            *FormMetrics
}

type SubscribeHandler struct {
	api                SenderAPI
	settings           settings.Store
	users              users.Directory
	flash              Flash
	block              *BlockHandler
	turnstileValidator TurnstileVerifier
	turnstileEnabled   bool
	logger             logging.Logger
	metrics            *FormMetrics
}

func NewSubscribeHandler(cfg SubscribeConfig) *SubscribeHandler {
	directory := cfg.Users
	if directory == nil {
		directory = users.NoopDirectory{}
	}
	return &SubscribeHandler{
		api:                cfg.API,
		settings:           cfg.Settings,
		users:              directory,
		flash:              cfg.Flash,
		block:              cfg.Block,
		turnstileValidator: cfg.TurnstileValidator,
		turnstileEnabled:   cfg.TurnstileEnabled,
		logger:             cfg.Logger,
		metrics:            cfg.Metrics,
	}
}

// subscribeResult is the outcome of one submission, shared by the HTML and
// JSON endpoints.
type subscribeResult struct {
	status     string // metrics label
	httpStatus int
	message    string
	// fieldErrors are shown next to the email field; the form is re-rendered.
	fieldErrors []string
}

func (r subscribeResult) success() bool {
	return r.status == "success"
}

// Show renders the full subscription page.
func (h *SubscribeHandler) Show(c *gin.Context) {
	h.renderPage(c, http.StatusOK, views.SubscriptionFormView{})
}

// Submit handles the HTML form.
func (h *SubscribeHandler) Submit(c *gin.Context) {
	var req validation.SubscriptionRequest
	if err := c.ShouldBind(&req); err != nil {
		h.metrics.IncSubscribe("bad_request")
		c.String(http.StatusBadRequest, "Invalid request")
		return
	}

	res := h.subscribe(c, &req)
	h.metrics.IncSubscribe(res.status)

	if len(res.fieldErrors) > 0 {
		h.renderPage(c, res.httpStatus, views.SubscriptionFormView{
			Email:  req.Email,
			Errors: res.fieldErrors,
		})
		return
	}

	if res.success() {
		h.flash.AddStatus(c, res.message)
	} else {
		h.flash.AddError(c, res.message)
	}
	c.Redirect(http.StatusSeeOther, SubscribePath)
}

// HandleJSON handles POST /api/subscribe.
func (h *SubscribeHandler) HandleJSON(c *gin.Context) {
	var req validation.SubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.metrics.IncSubscribe("bad_request")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if key := c.Request.Header.Get("Idempotency-Key"); key != "" {
		middleware.GetContextLogger(c, h.logger).WithFields(logging.Fields{
			"idempotency_key": key,
			"email":           redactEmail(req.Email),
		}).Info("Subscribe request received with idempotency key")
	}

	res := h.subscribe(c, &req)
	h.metrics.IncSubscribe(res.status)

	switch {
	case res.success():
		c.JSON(res.httpStatus, gin.H{"success": true, "message": res.message})
	case len(res.fieldErrors) > 0:
		c.JSON(res.httpStatus, gin.H{"success": false, "error": res.fieldErrors[0], "details": res.fieldErrors})
	default:
		c.JSON(res.httpStatus, gin.H{"success": false, "error": res.message})
	}
}

func (h *SubscribeHandler) subscribe(c *gin.Context, req *validation.SubscriptionRequest) subscribeResult {
	parent := c.Request.Context()
	remoteIP := c.ClientIP()
	log := middleware.GetContextLogger(c, h.logger)

	// 1. Validate input
	if errs := validation.ValidateSubscription(req, h.turnstileEnabled); len(errs) > 0 {
		log.WithField("errors", errs).Warn("Subscription failed validation")
		return subscribeResult{status: "validation_failed", httpStatus: http.StatusBadRequest, fieldErrors: errs}
	}
	email := req.Email
	failed := fmt.Sprintf("Unable to subscribe %s. Please try again later.", email)

	// 2. Validate bot
	if h.turnstileEnabled {
		ctx, cancel := context.WithTimeout(parent, 5*time.Second)
		ver, err := h.turnstileValidator.Verify(ctx, req.TurnstileToken, remoteIP)
		cancel()
		if err != nil {
			log.WithError(err).Error("Turnstile verification error on subscribe")
			return subscribeResult{status: "turnstile_error", httpStatus: http.StatusBadGateway, message: "Verification service error"}
		}
		if !ver.Success {
			log.Warn("Bot detected on subscribe")
			return subscribeResult{status: "turnstile_failed", httpStatus: http.StatusBadRequest, message: "Bot verification failed"}
		}
	}

	ctx, cancel := context.WithTimeout(parent, 10*time.Second)
	defer cancel()

	rec, err := settings.LoadOrEmpty(ctx, h.settings)
	if err != nil {
		log.WithError(err).Error("Failed to load sender.net settings")
		return subscribeResult{status: "store_error", httpStatus: http.StatusServiceUnavailable, message: failed}
	}

	// 3. Reject existing subscribers
	existing, err := h.api.GetSubscriberByEmail(ctx, email)
	if err != nil {
		return h.configFailure(log, err, email, failed)
	}
	if existing != nil {
		msg := fmt.Sprintf("Subscriber with email %s already exists.", email)
		return subscribeResult{status: "exists", httpStatus: http.StatusConflict, message: msg, fieldErrors: []string{msg}}
	}

	// 4. Create
	params := sendernet.SubscriberParams{
		Email:  email,
		Groups: rec.UserGroup,
	}
	if u := h.lookupUser(ctx, log, email); u != nil {
		params.Firstname = u.DisplayName
		params.Lastname = ""
	}

	ok, err := h.api.CreateSubscriber(ctx, params)
	if err != nil {
		return h.configFailure(log, err, email, failed)
	}
	if !ok {
		log.WithFields(logging.Fields{
			"email":  redactEmail(email),
			"groups": len(params.Groups),
		}).Error("Sender.net subscribe failed")
		return subscribeResult{status: "sendernet_error", httpStatus: http.StatusBadGateway, message: failed}
	}

	log.WithFields(logging.Fields{
		"email":      redactEmail(email),
		"groups":     len(params.Groups),
		"local_user": params.Firstname != "",
	}).Info("Email is subscribed")
	return subscribeResult{status: "success", httpStatus: http.StatusOK, message: fmt.Sprintf("%s email is subscribed.", email)}
}

func (h *SubscribeHandler) configFailure(log *logrus.Entry, err error, email, failed string) subscribeResult {
	var cfgErr *sendernet.ConfigError
	if errors.As(err, &cfgErr) {
		log.WithError(err).WithField("email", redactEmail(email)).Error("Sender.net is not configured")
		return subscribeResult{status: "not_configured", httpStatus: http.StatusServiceUnavailable, message: failed}
	}
	log.WithError(err).WithField("email", redactEmail(email)).Error("Sender.net call failed")
	return subscribeResult{status: "sendernet_error", httpStatus: http.StatusBadGateway, message: failed}
}

// lookupUser degrades to no local user on any error.
func (h *SubscribeHandler) lookupUser(ctx context.Context, log *logrus.Entry, email string) *users.User {
	u, err := h.users.FindByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, users.ErrNotFound) {
			log.WithError(err).WithField("email", redactEmail(email)).Warn("Local user lookup failed")
		}
		return nil
	}
	return u
}

func (h *SubscribeHandler) renderPage(c *gin.Context, status int, form views.SubscriptionFormView) {
	block, err := h.block.build(c, form)
	if err != nil {
		c.String(http.StatusInternalServerError, "Unable to render page")
		return
	}
	c.HTML(status, views.SubscribePage, views.SubscribePageView{
		Page:  views.Page{Title: subscribeTitle},
		Block: block,
	})
}
