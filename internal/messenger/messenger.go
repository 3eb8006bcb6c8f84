package messenger

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/vinugawade/sender.net/pkg/logging"
)

// CookieName carries the flash session id.
const CookieName = "sender_net_flash"

const sessionContextKey = "flash_session"

// Messenger attaches messages to the browser session of a gin request.
type Messenger struct {
	store    Store
	logger   logging.Logger
	secure   bool
	tokenKey []byte
}

type Option func(*Messenger)

// WithSecureCookie marks the session cookie Secure.
func WithSecureCookie(secure bool) Option {
	return func(m *Messenger) {
		m.secure = secure
	}
}

// WithFormTokenKey sets the HMAC key for form tokens. Instances behind
// one load balancer must share it. Empty keys are ignored.
func WithFormTokenKey(key []byte) Option {
	return func(m *Messenger) {
		if len(key) > 0 {
			m.tokenKey = key
		}
	}
}

func New(store Store, logger logging.Logger, opts ...Option) *Messenger {
	m := &Messenger{store: store, logger: logger}
	for _, opt := range opts {
		opt(m)
	}
	if len(m.tokenKey) == 0 {
		m.tokenKey = make([]byte, 32)
		_, _ = rand.Read(m.tokenKey)
	}
	return m
}

func (m *Messenger) AddStatus(c *gin.Context, text string) {
	m.Add(c, LevelStatus, text)
}

func (m *Messenger) AddError(c *gin.Context, text string) {
	m.Add(c, LevelError, text)
}

// Add queues a message. Store failures are logged and the message is dropped.
func (m *Messenger) Add(c *gin.Context, level Level, text string) {
	session := m.session(c, true)
	if err := m.store.Push(c.Request.Context(), session, Message{Level: level, Text: text}); err != nil {
		m.logger.WithError(err).WithField("level", level).Warn("Failed to queue flash message")
	}
}

// Messages returns and clears the pending messages of the session.
func (m *Messenger) Messages(c *gin.Context) []Message {
	session := m.session(c, false)
	if session == "" {
		return nil
	}
	msgs, err := m.store.Pop(c.Request.Context(), session)
	if err != nil {
		m.logger.WithError(err).Warn("Failed to read flash messages")
		return nil
	}
	return msgs
}

func (m *Messenger) session(c *gin.Context, create bool) string {
	if v, ok := c.Get(sessionContextKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	if cookie, err := c.Cookie(CookieName); err == nil {
		if _, err := uuid.Parse(cookie); err == nil {
			c.Set(sessionContextKey, cookie)
			return cookie
		}
	}
	if !create {
		return ""
	}

	session := uuid.NewString()
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(CookieName, session, 0, "/", "", m.secure, true)
	c.Set(sessionContextKey, session)
	return session
}

// FormToken returns the anti-forgery token of formID for the browser
// session, starting a session when there is none.
func (m *Messenger) FormToken(c *gin.Context, formID string) string {
	return m.formToken(m.session(c, true), formID)
}

// ValidFormToken reports whether token was issued by FormToken for the
// same session and form.
func (m *Messenger) ValidFormToken(c *gin.Context, formID, token string) bool {
	session := m.session(c, false)
	if session == "" || token == "" {
		return false
	}
	return hmac.Equal([]byte(token), []byte(m.formToken(session, formID)))
}

func (m *Messenger) formToken(session, formID string) string {
	mac := hmac.New(sha256.New, m.tokenKey)
	mac.Write([]byte(formID))
	mac.Write([]byte{0})
	mac.Write([]byte(session))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
