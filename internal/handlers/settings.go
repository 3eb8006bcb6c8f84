package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/vinugawade/sender.net/internal/settings"
	"github.com/vinugawade/sender.net/internal/validation"
	"github.com/vinugawade/sender.net/internal/views"
	"github.com/vinugawade/sender.net/pkg/clients/sendernet"
	"github.com/vinugawade/sender.net/pkg/logging"
	"github.com/vinugawade/sender.net/pkg/middleware"
)

const (
	SettingsPath       = "/admin/config/services/sender-net"
	SettingsGroupsPath = SettingsPath + "/groups"

	settingsTitle  = "Sender.net settings"
	settingsFormID = "sender_net_settings"

	msgInvalidToken  = "Invalid API access token."
	msgSettingsSaved = "The configuration options have been saved."
	msgSettingsError = "The configuration options could not be saved."
)

type SettingsHandler struct {
	api     SenderAPI
	store   settings.Store
	flash   Flash
	tokens  FormTokens
	logger  logging.Logger
	metrics *FormMetrics
}

func NewSettingsHandler(
	api SenderAPI,
	store settings.Store,
	flash Flash,
	tokens FormTokens,
	logger logging.Logger,
	metrics *FormMetrics,
) *SettingsHandler {
	return &SettingsHandler{
		api:     api,
		store:   store,
		flash:   flash,
		tokens:  tokens,
		logger:  logger,
		metrics: metrics,
	}
}

// Show renders the settings form with the stored values and live groups.
func (h *SettingsHandler) Show(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	log := h.log(c)
	rec, err := settings.LoadOrEmpty(ctx, h.store)
	if err != nil {
		log.WithError(err).Error("Failed to load sender.net settings")
		h.flash.AddError(c, "The configuration could not be loaded.")
		rec = settings.Record{}
	}

	var groups []sendernet.Group
	if rec.APIAccessTokens != "" {
		if groups, err = h.api.ListAllGroups(ctx); err != nil {
			log.WithError(err).Debug("Rendering settings without groups")
		}
	}

	h.render(c, http.StatusOK, views.SettingsView{
		Token:   rec.APIAccessTokens,
		BaseURL: h.baseURLOrDefault(rec.APIBaseURL),
		Groups:  views.GroupOptions(groups, rec.UserGroup),
	})
}

// Submit validates the token against the vendor and persists the record.
func (h *SettingsHandler) Submit(c *gin.Context) {
	var req validation.SettingsRequest
	if err := c.ShouldBind(&req); err != nil {
		h.metrics.IncSettings("bad_request")
		c.String(http.StatusBadRequest, "Invalid request")
		return
	}
	if !h.tokens.ValidFormToken(c, settingsFormID, req.FormToken) {
		h.metrics.IncSettings("forbidden")
		h.log(c).Warn("Rejected settings submission without a valid form token")
		c.String(http.StatusForbidden, "Invalid form token")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	// Every validation error leaves no usable credentials, so the
	// re-rendered form lists no groups.
	if errs := h.validate(ctx, c, &req); len(errs) > 0 {
		h.render(c, http.StatusUnprocessableEntity, views.SettingsView{
			Token:   req.APIAccessTokens,
			BaseURL: req.APIBaseURL,
			Errors:  errs,
		})
		return
	}

	if err := h.save(ctx, c, req); err != nil {
		h.flash.AddError(c, msgSettingsError)
	} else {
		h.flash.AddStatus(c, msgSettingsSaved)
	}
	c.Redirect(http.StatusSeeOther, SettingsPath)
}

// Groups returns the checkbox list for a token that may not be saved yet.
func (h *SettingsHandler) Groups(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	rec, err := settings.LoadOrEmpty(ctx, h.store)
	if err != nil {
		h.log(c).WithError(err).Warn("Failed to load sender.net settings for group refresh")
		rec = settings.Record{}
	}

	token := strings.TrimSpace(c.Query("api_access_tokens"))
	baseURL := strings.TrimSpace(c.Query("api_base_url"))
	if baseURL == "" {
		baseURL = h.baseURLOrDefault(rec.APIBaseURL)
	}

	groups := h.api.ListGroupsWith(ctx, sendernet.Credentials{Token: token, BaseURL: baseURL})
	c.HTML(http.StatusOK, views.Groups, views.GroupOptions(groups, rec.UserGroup))
}

// GetJSON returns the stored record.
func (h *SettingsHandler) GetJSON(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	rec, err := settings.LoadOrEmpty(ctx, h.store)
	if err != nil {
		h.log(c).WithError(err).Error("Failed to load sender.net settings")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Settings unavailable"})
		return
	}
	if rec.UserGroup == nil {
		rec.UserGroup = []string{}
	}
	c.JSON(http.StatusOK, gin.H{
		"api_access_tokens": rec.APIAccessTokens,
		"api_base_url":      h.baseURLOrDefault(rec.APIBaseURL),
		"user_group":        rec.UserGroup,
		"configured":        rec.APIAccessTokens != "",
	})
}

// PutJSON applies the same validation and persistence as the form.
func (h *SettingsHandler) PutJSON(c *gin.Context) {
	var req validation.SettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.metrics.IncSettings("bad_request")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	if errs := h.validate(ctx, c, &req); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Submission failed validation", "details": errs})
		return
	}

	if err := h.save(ctx, c, req); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgSettingsError})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": msgSettingsSaved})
}

// validate checks required fields first and only then probes the token.
func (h *SettingsHandler) validate(ctx context.Context, c *gin.Context, req *validation.SettingsRequest) map[string]string {
	errs := validation.ValidateSettings(req)
	if len(errs) > 0 {
		h.metrics.IncSettings("validation_failed")
		return errs
	}

	if !h.api.CheckAPIKeyAt(ctx, req.APIBaseURL, req.APIAccessTokens) {
		h.metrics.IncSettings("invalid_token")
		h.log(c).WithField("token", redactToken(req.APIAccessTokens)).Warn("Rejected sender.net API access token")
		errs["api_access_tokens"] = msgInvalidToken
	}
	return errs
}

func (h *SettingsHandler) save(ctx context.Context, c *gin.Context, req validation.SettingsRequest) error {
	rec := settings.Normalize(settings.Record{
		APIAccessTokens: req.APIAccessTokens,
		APIBaseURL:      req.APIBaseURL,
		UserGroup:       req.UserGroup,
	})
	if err := h.store.Save(ctx, rec); err != nil {
		h.metrics.IncSettings("store_error")
		h.log(c).WithError(err).Error("Failed to save sender.net settings")
		return err
	}

	h.metrics.IncSettings("success")
	h.log(c).WithFields(logging.Fields{
		"token":    redactToken(rec.APIAccessTokens),
		"base_url": rec.APIBaseURL,
		"groups":   len(rec.UserGroup),
	}).Info("Sender.net settings saved")
	return nil
}

func (h *SettingsHandler) render(c *gin.Context, status int, view views.SettingsView) {
	view.Page = views.Page{Title: settingsTitle, Messages: h.flash.Messages(c)}
	view.FormToken = h.tokens.FormToken(c, settingsFormID)
	view.Action = SettingsPath
	view.GroupsAction = SettingsGroupsPath
	view.TokenHelpURL = views.TokenHelpURL
	view.DocsURL = views.DocsURL
	c.HTML(status, views.Settings, view)
}

func (h *SettingsHandler) baseURLOrDefault(baseURL string) string {
	if strings.TrimSpace(baseURL) == "" {
		return h.api.DefaultBaseURL()
	}
	return baseURL
}

func (h *SettingsHandler) log(c *gin.Context) *logrus.Entry {
	return middleware.GetContextLogger(c, h.logger)
}
