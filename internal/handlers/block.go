package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vinugawade/sender.net/internal/views"
	"github.com/vinugawade/sender.net/pkg/logging"
	"github.com/vinugawade/sender.net/pkg/middleware"
)

const BlockPath = "/block/subscription"

// BlockHandler renders the subscription form wrapped in the block fragment
// so it can be embedded in other pages.
type BlockHandler struct {
	renderer         *views.Renderer
	flash            Flash
	formAction       string
	turnstileSiteKey string
	logger           logging.Logger
}

func NewBlockHandler(renderer *views.Renderer, flash Flash, turnstileSiteKey string, logger logging.Logger) *BlockHandler {
	return &BlockHandler{
		renderer:         renderer,
		flash:            flash,
		formAction:       SubscribePath,
		turnstileSiteKey: turnstileSiteKey,
		logger:           logger,
	}
}

func (h *BlockHandler) Handle(c *gin.Context) {
	block, err := h.build(c, views.SubscriptionFormView{})
	if err != nil {
		c.String(http.StatusInternalServerError, "Unable to render block")
		return
	}
	c.HTML(http.StatusOK, views.Block, block)
}

// build fills the per-request parts of the form and wraps it.
func (h *BlockHandler) build(c *gin.Context, form views.SubscriptionFormView) (views.BlockView, error) {
	form.Action = h.formAction
	form.TurnstileSiteKey = h.turnstileSiteKey
	form.Messages = h.flash.Messages(c)

	block, err := h.renderer.RenderBlock(form)
	if err != nil {
		middleware.GetContextLogger(c, h.logger).WithError(err).Error("Failed to render subscription block")
		return views.BlockView{}, err
	}
	return block, nil
}
