package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/vinugawade/sender.net/internal/messenger"
	"github.com/vinugawade/sender.net/internal/users"
	"github.com/vinugawade/sender.net/pkg/clients/sendernet"
	"github.com/vinugawade/sender.net/pkg/turnstile"
)

// --- Shared stubs ---

type checkCall struct {
	baseURL string
	token   string
}

type senderStub struct {
	groups        []sendernet.Group
	groupsErr     error
	groupsWith    []sendernet.Group
	subscriber    *sendernet.Subscriber
	subscriberErr error
	createOK      bool
	createErr     error
	checkOK       bool

	createCalls    []sendernet.SubscriberParams
	getCalls       []string
	checkCalls     []checkCall
	listAllCalls   int
	listWithCalls  []sendernet.Credentials
	defaultBaseURL string
}

func (s *senderStub) CreateSubscriber(_ context.Context, params sendernet.SubscriberParams) (bool, error) {
	s.createCalls = append(s.createCalls, params)
	return s.createOK, s.createErr
}

func (s *senderStub) GetSubscriberByEmail(_ context.Context, email string) (*sendernet.Subscriber, error) {
	s.getCalls = append(s.getCalls, email)
	return s.subscriber, s.subscriberErr
}

func (s *senderStub) ListAllGroups(context.Context) ([]sendernet.Group, error) {
	s.listAllCalls++
	return s.groups, s.groupsErr
}

func (s *senderStub) ListGroupsWith(_ context.Context, creds sendernet.Credentials) []sendernet.Group {
	s.listWithCalls = append(s.listWithCalls, creds)
	return s.groupsWith
}

func (s *senderStub) CheckAPIKeyAt(_ context.Context, baseURL, token string) bool {
	s.checkCalls = append(s.checkCalls, checkCall{baseURL: baseURL, token: token})
	return s.checkOK
}

func (s *senderStub) DefaultBaseURL() string {
	if s.defaultBaseURL != "" {
		return s.defaultBaseURL
	}
	return sendernet.DefaultBaseURL
}

type flashStub struct {
	statuses []string
	errors   []string
}

func (f *flashStub) AddStatus(_ *gin.Context, text string) { f.statuses = append(f.statuses, text) }
func (f *flashStub) AddError(_ *gin.Context, text string)  { f.errors = append(f.errors, text) }

// Messages returns nothing so that queued messages stay inspectable.
func (f *flashStub) Messages(*gin.Context) []messenger.Message { return nil }

// formTokenStub accepts exactly one token for any form.
type formTokenStub struct {
	token string
}

func (f formTokenStub) FormToken(*gin.Context, string) string { return f.token }

func (f formTokenStub) ValidFormToken(_ *gin.Context, _ string, token string) bool {
	return token != "" && token == f.token
}

type directoryStub struct {
	user *users.User
	err  error
}

func (d directoryStub) FindByEmail(context.Context, string) (*users.User, error) {
	if d.err != nil {
		return nil, d.err
	}
	if d.user == nil {
		return nil, users.ErrNotFound
	}
	return d.user, nil
}

type turnstileStub struct {
	resp  *turnstile.VerifyResponse
	err   error
	calls int
}

func (t *turnstileStub) Verify(context.Context, string, string) (*turnstile.VerifyResponse, error) {
	t.calls++
	return t.resp, t.err
}
