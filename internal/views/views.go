// Package views holds the HTML templates of the settings and subscription
// forms.
package views

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"

	"github.com/vinugawade/sender.net/internal/messenger"
	"github.com/vinugawade/sender.net/pkg/clients/sendernet"
)

//go:embed templates/*.html
var files embed.FS

const (
	TokenHelpURL = "https://app.sender.net/settings/tokens"
	DocsURL      = "https://api.sender.net/#introduction"

	BlockID    = "sender_net_subscription_block"
	BlockLabel = "Sender.net Subscription Block"
)

// Template names.
const (
	Settings         = "settings"
	Groups           = "groups"
	SubscriptionForm = "subscription_form"
	Block            = "block_subscription"
	SubscribePage    = "subscribe"
)

// Parse loads the embedded templates.
func Parse() (*template.Template, error) {
	tmpl, err := template.New("views").ParseFS(files, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return tmpl, nil
}

// MustParse is like Parse but panics on error.
func MustParse() *template.Template {
	tmpl, err := Parse()
	if err != nil {
		panic(err)
	}
	return tmpl
}

type Page struct {
	Title    string
	Messages []messenger.Message
}

type GroupOption struct {
	ID      string
	Title   string
	Checked bool
}

type SettingsView struct {
	Page         Page
	Action       string
	GroupsAction string
	FormToken    string
	Token        string
	BaseURL      string
	TokenHelpURL string
	DocsURL      string
	Groups       []GroupOption
	Errors       map[string]string
}

type SubscriptionFormView struct {
	Action           string
	Email            string
	Errors           []string
	Messages         []messenger.Message
	TurnstileSiteKey string
}

type BlockView struct {
	ID      string
	Label   string
	Content template.HTML
}

type SubscribePageView struct {
	Page  Page
	Block BlockView
}

// GroupOptions marks the groups whose ids are in selected.
func GroupOptions(groups []sendernet.Group, selected []string) []GroupOption {
	checked := make(map[string]bool, len(selected))
	for _, id := range selected {
		checked[id] = true
	}
	opts := make([]GroupOption, 0, len(groups))
	for _, g := range groups {
		title := strings.TrimSpace(g.Title)
		if title == "" {
			title = g.ID
		}
		opts = append(opts, GroupOption{ID: g.ID, Title: title, Checked: checked[g.ID]})
	}
	return opts
}

// Renderer renders named templates to strings for composition.
type Renderer struct {
	tmpl *template.Template
}

func NewRenderer(tmpl *template.Template) *Renderer {
	return &Renderer{tmpl: tmpl}
}

// Render executes the named template. The output is trusted HTML produced by
// html/template.
func (r *Renderer) Render(name string, data interface{}) (template.HTML, error) {
	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return template.HTML(buf.String()), nil //nolint:gosec // escaped by html/template
}

// RenderBlock renders the subscription form and wraps it in the block.
func (r *Renderer) RenderBlock(form SubscriptionFormView) (BlockView, error) {
	content, err := r.Render(SubscriptionForm, form)
	if err != nil {
		return BlockView{}, err
	}
	return BlockView{ID: BlockID, Label: BlockLabel, Content: content}, nil
}
