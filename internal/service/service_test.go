package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/remitdesk/internal/backend"
	"github.com/mmeshcher/remitdesk/internal/confirm"
	"github.com/mmeshcher/remitdesk/internal/lifecycle"
	"github.com/mmeshcher/remitdesk/internal/metrics"
	"github.com/mmeshcher/remitdesk/internal/model"
	"github.com/mmeshcher/remitdesk/internal/validation"
)

type stubBackend struct {
	mu sync.Mutex

	deal        *model.Deal
	getErr      error
	getCalls    int
	failRefetch bool

	transitionErr    error
	transitionCtxErr error
	transitions      []string
	payloads      []any
	nextStatus    lifecycle.Status

	messages []model.DealMessage
	sent     []backend.MessageRequest

	accounts []model.AgentCompanyAccount
	uploaded []string
}

func (s *stubBackend) GetDeal(ctx context.Context, token, dealID string) (*model.Deal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.getCalls++
	if s.getErr != nil {
		return nil, s.getErr
	}
	if s.failRefetch && len(s.transitions) > 0 {
		return nil, errors.New("backend unavailable")
	}
	if s.deal == nil {
		return nil, backend.ErrNotFound
	}
	d := *s.deal
	return &d, nil
}

func (s *stubBackend) Transition(ctx context.Context, token, dealID, endpoint string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.transitions = append(s.transitions, endpoint)
	s.transitionCtxErr = ctx.Err()
	s.payloads = append(s.payloads, payload)
	if s.transitionErr != nil {
		return s.transitionErr
	}
	if s.nextStatus != lifecycle.StatusUnknown {
		s.deal.Status = string(s.nextStatus)
	}
	return nil
}

func (s *stubBackend) ListMessages(ctx context.Context, token, dealID string) ([]model.DealMessage, error) {
	return s.messages, nil
}

func (s *stubBackend) SendMessage(ctx context.Context, token, dealID string, msg backend.MessageRequest) (*model.DealMessage, error) {
	s.sent = append(s.sent, msg)
	return &model.DealMessage{ID: "m-new", DealID: dealID, Text: msg.Text, Attachments: msg.Attachments}, nil
}

func (s *stubBackend) ListCompanyAccounts(ctx context.Context, token, companyID string) ([]model.AgentCompanyAccount, error) {
	return s.accounts, nil
}

func (s *stubBackend) UploadFiles(ctx context.Context, token string, files []backend.File) ([]string, error) {
	return s.uploaded, nil
}

func (s *stubBackend) transitionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.transitions)
}

type stubRepo struct {
	mu      sync.Mutex
	entries []model.Transition
	err     error
}

func (r *stubRepo) Close() error { return nil }

func (r *stubRepo) AppendTransition(ctx context.Context, t model.Transition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, t)
	return r.err
}

func (r *stubRepo) ListTransitions(ctx context.Context, dealID string) ([]model.Transition, error) {
	return r.entries, nil
}

var (
	agentOwner  = model.Session{AccessToken: "t-agent", Viewer: model.Viewer{UserID: "u1", Side: model.SideAgent, Role: model.RoleOwner}}
	agentViewer = model.Session{AccessToken: "t-view", Viewer: model.Viewer{UserID: "u2", Side: model.SideAgent, Role: model.RoleViewer}}
	clientOwner = model.Session{AccessToken: "t-client", Viewer: model.Viewer{UserID: "c1", Side: model.SideClient, Role: model.RoleOwner}}
	adminUser   = model.Session{AccessToken: "t-admin", Viewer: model.Viewer{UserID: "a1", Side: model.SideAdmin, Role: model.RoleAdmin}}
)

func newTestService(b *stubBackend, repo *stubRepo) *Service {
	gate := confirm.NewGate[*Result](time.Minute, 100)
	return NewService(b, repo, gate, metrics.NewCollector(), nil, "https://cdn.example.com")
}

func suggestedDeal() *model.Deal {
	return &model.Deal{ID: "d1", Status: string(lifecycle.StatusSuggested)}
}

func TestView_DispatchesForViewer(t *testing.T) {
	b := &stubBackend{deal: suggestedDeal()}
	svc := newTestService(b, &stubRepo{})

	view, err := svc.View(context.Background(), agentOwner, "d1")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.KindAction, view.Outcome.Kind)
	assert.Equal(t, lifecycle.ComponentReviewDeal, view.Outcome.Component)

	view, err = svc.View(context.Background(), clientOwner, "d1")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.KindBanner, view.Outcome.Kind)
}

func TestView_NotFound(t *testing.T) {
	svc := newTestService(&stubBackend{}, &stubRepo{})

	_, err := svc.View(context.Background(), agentOwner, "missing")
	assert.ErrorIs(t, err, ErrDealNotFound)
}

func TestRequestAction_ConfirmYesRefetches(t *testing.T) {
	b := &stubBackend{deal: suggestedDeal(), nextStatus: lifecycle.StatusAccepted}
	repo := &stubRepo{}
	svc := newTestService(b, repo)
	ctx := context.Background()

	ticket, err := svc.RequestAction(ctx, agentOwner, "d1", "accept", nil)
	require.NoError(t, err)
	assert.Equal(t, "Accept the deal?", ticket.Message)
	assert.Zero(t, b.transitionCount(), "mutation must wait for confirmation")

	res, err := svc.Confirm(ctx, agentOwner, ticket.ID, true)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.Refreshed)
	assert.Equal(t, string(lifecycle.StatusAccepted), res.View.Deal.Status)
	// После accept агенту ничего не предлагается.
	assert.Equal(t, lifecycle.KindNone, res.View.Outcome.Kind)

	assert.Equal(t, []string{"accept"}, b.transitions)
	require.Len(t, repo.entries, 1)
	assert.Equal(t, model.OutcomeSuccess, repo.entries[0].Outcome)
	assert.Equal(t, "u1", repo.entries[0].UserID)
}

func TestRequestAction_ConfirmNoDoesNothing(t *testing.T) {
	b := &stubBackend{deal: suggestedDeal()}
	repo := &stubRepo{}
	svc := newTestService(b, repo)
	ctx := context.Background()

	ticket, err := svc.RequestAction(ctx, agentOwner, "d1", "accept", nil)
	require.NoError(t, err)

	res, err := svc.Confirm(ctx, agentOwner, ticket.ID, false)
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Zero(t, b.transitionCount())
	assert.Empty(t, repo.entries)

	_, err = svc.Confirm(ctx, agentOwner, ticket.ID, true)
	assert.ErrorIs(t, err, ErrTicketNotFound)
	assert.Zero(t, b.transitionCount())
}

func TestConfirm_TwiceSendsOnce(t *testing.T) {
	b := &stubBackend{deal: suggestedDeal(), nextStatus: lifecycle.StatusAccepted}
	svc := newTestService(b, &stubRepo{})
	ctx := context.Background()

	ticket, err := svc.RequestAction(ctx, agentOwner, "d1", "accept", nil)
	require.NoError(t, err)

	_, err = svc.Confirm(ctx, agentOwner, ticket.ID, true)
	require.NoError(t, err)
	_, err = svc.Confirm(ctx, agentOwner, ticket.ID, true)
	assert.ErrorIs(t, err, ErrTicketNotFound)
	assert.Equal(t, 1, b.transitionCount())
}

func TestConfirm_ClientGoneStillSendsMutation(t *testing.T) {
	b := &stubBackend{deal: suggestedDeal(), nextStatus: lifecycle.StatusAccepted}
	repo := &stubRepo{}
	svc := newTestService(b, repo)

	ticket, err := svc.RequestAction(context.Background(), agentOwner, "d1", "accept", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = svc.Confirm(ctx, agentOwner, ticket.ID, true)
	require.NoError(t, err)

	assert.Equal(t, []string{"accept"}, b.transitions)
	assert.NoError(t, b.transitionCtxErr, "mutation must not inherit the request cancellation")
	require.Len(t, repo.entries, 1)
	assert.Equal(t, model.OutcomeSuccess, repo.entries[0].Outcome)
}

func TestConfirm_BackendErrorSkipsRefetch(t *testing.T) {
	b := &stubBackend{
		deal:          suggestedDeal(),
		transitionErr: &backend.Error{StatusCode: 400, Message: "Deal was already accepted"},
	}
	repo := &stubRepo{}
	svc := newTestService(b, repo)
	ctx := context.Background()

	ticket, err := svc.RequestAction(ctx, agentOwner, "d1", "accept", nil)
	require.NoError(t, err)
	callsBefore := b.getCalls

	res, err := svc.Confirm(ctx, agentOwner, ticket.ID, true)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Equal(t, "Deal was already accepted", UserMessage(err))
	assert.Equal(t, callsBefore, b.getCalls, "deal must not be refetched after a rejected mutation")

	require.Len(t, repo.entries, 1)
	assert.Equal(t, model.OutcomeError, repo.entries[0].Outcome)
	assert.Equal(t, "Deal was already accepted", repo.entries[0].Message)
}

func TestConfirm_RefetchFailureStillSucceeds(t *testing.T) {
	b := &stubBackend{deal: suggestedDeal(), nextStatus: lifecycle.StatusAccepted, failRefetch: true}
	svc := newTestService(b, &stubRepo{})
	ctx := context.Background()

	ticket, err := svc.RequestAction(ctx, agentOwner, "d1", "accept", nil)
	require.NoError(t, err)

	res, err := svc.Confirm(ctx, agentOwner, ticket.ID, true)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.False(t, res.Refreshed)
	assert.Nil(t, res.View)
}

func TestConfirm_JournalFailureDoesNotFail(t *testing.T) {
	b := &stubBackend{deal: suggestedDeal(), nextStatus: lifecycle.StatusAccepted}
	svc := newTestService(b, &stubRepo{err: errors.New("db down")})
	ctx := context.Background()

	ticket, err := svc.RequestAction(ctx, agentOwner, "d1", "accept", nil)
	require.NoError(t, err)

	res, err := svc.Confirm(ctx, agentOwner, ticket.ID, true)
	require.NoError(t, err)
	assert.True(t, res.Refreshed)
}

func TestConfirm_ForeignUser(t *testing.T) {
	b := &stubBackend{deal: suggestedDeal()}
	svc := newTestService(b, &stubRepo{})
	ctx := context.Background()

	ticket, err := svc.RequestAction(ctx, agentOwner, "d1", "accept", nil)
	require.NoError(t, err)

	_, err = svc.Confirm(ctx, clientOwner, ticket.ID, true)
	assert.ErrorIs(t, err, ErrTicketNotFound)
	assert.Zero(t, b.transitionCount())
}

func TestRequestAction_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		sess    model.Session
		deal    *model.Deal
		action  string
		payload string
		wantErr error
	}{
		{
			name:    "unknown action",
			sess:    agentOwner,
			deal:    suggestedDeal(),
			action:  "delete",
			wantErr: ErrUnknownAction,
		},
		{
			name:    "not offered to client",
			sess:    clientOwner,
			deal:    suggestedDeal(),
			action:  "accept",
			wantErr: ErrActionNotOffered,
		},
		{
			name:    "viewer role",
			sess:    agentViewer,
			deal:    suggestedDeal(),
			action:  "accept",
			wantErr: ErrActionNotOffered,
		},
		{
			name:    "admin never acts",
			sess:    adminUser,
			deal:    suggestedDeal(),
			action:  "accept",
			wantErr: ErrActionNotOffered,
		},
		{
			name:    "terminal status",
			sess:    agentOwner,
			deal:    &model.Deal{ID: "d1", Status: string(lifecycle.StatusCompleted)},
			action:  "payInvoice",
			wantErr: ErrActionNotOffered,
		},
		{
			name:    "unknown field",
			sess:    agentOwner,
			deal:    suggestedDeal(),
			action:  "accept",
			payload: `{"bogus":true}`,
			wantErr: ErrInvalidPayload,
		},
		{
			name:    "missing deal",
			sess:    agentOwner,
			action:  "accept",
			wantErr: ErrDealNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &stubBackend{deal: tt.deal}
			svc := newTestService(b, &stubRepo{})

			var raw json.RawMessage
			if tt.payload != "" {
				raw = json.RawMessage(tt.payload)
			}

			_, err := svc.RequestAction(context.Background(), tt.sess, "d1", tt.action, raw)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Zero(t, svc.gate.Pending())
		})
	}
}

func TestRequestAction_ValidatesForm(t *testing.T) {
	b := &stubBackend{deal: suggestedDeal()}
	svc := newTestService(b, &stubRepo{})

	_, err := svc.RequestAction(context.Background(), agentOwner, "d1", "reject", json.RawMessage(`{}`))

	var fe validation.FieldErrors
	require.ErrorAs(t, err, &fe)
	assert.Contains(t, fe, "reason")
}

func TestRequestAction_ProposeTermsInPast(t *testing.T) {
	b := &stubBackend{deal: &model.Deal{ID: "d1", Status: string(lifecycle.StatusRequestForTerms)}}
	svc := newTestService(b, &stubRepo{})
	svc.now = func() time.Time { return time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC) }

	payload := `{"rate":"1.1","receive_amount":"110","receive_currency":"EUR","valid_until":"2025-01-01T00:00:00Z"}`
	_, err := svc.RequestAction(context.Background(), agentOwner, "d1", "propose", json.RawMessage(payload))

	var fe validation.FieldErrors
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "must be in the future", fe["valid_until"])
}

func TestRequestAction_PayInvoiceChecksAccount(t *testing.T) {
	fund := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	deal := &model.Deal{
		ID:             "d1",
		Status:         string(lifecycle.StatusPaymentOfInvoice),
		FundReceivedAt: &fund,
		AgentCompany:   &model.AgentCompany{ID: "co1"},
	}
	b := &stubBackend{
		deal:       deal,
		accounts:   []model.AgentCompanyAccount{{ID: "acc1"}},
		nextStatus: lifecycle.StatusCompleted,
	}
	svc := newTestService(b, &stubRepo{})
	ctx := context.Background()

	_, err := svc.RequestAction(ctx, agentOwner, "d1", "payInvoice",
		json.RawMessage(`{"agent_company_account_id":"other","paid_at":"2025-01-03T00:00:00Z"}`))
	var fe validation.FieldErrors
	require.ErrorAs(t, err, &fe)
	assert.Contains(t, fe, "agent_company_account_id")

	ticket, err := svc.RequestAction(ctx, agentOwner, "d1", "payInvoice",
		json.RawMessage(`{"agent_company_account_id":"acc1","paid_at":"2025-01-03T00:00:00Z","files":["receipt.pdf"]}`))
	require.NoError(t, err)

	res, err := svc.Confirm(ctx, agentOwner, ticket.ID, true)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.KindBanner, res.View.Outcome.Kind)
	assert.Equal(t, lifecycle.BannerCompleted, res.View.Outcome.Banner)

	form, ok := b.payloads[0].(*InvoiceForm)
	require.True(t, ok)
	assert.Equal(t, "acc1", form.AgentCompanyAccountID)
	assert.Equal(t, []string{"receipt.pdf"}, form.Files)
}

func TestMessages(t *testing.T) {
	t1 := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	b := &stubBackend{
		deal: &model.Deal{ID: "d1", Status: string(lifecycle.StatusAccepted), AcceptedAt: &t1},
		messages: []model.DealMessage{
			{ID: "m2", Text: "second", Created: t2},
			{ID: "m1", Text: "first", Created: t1, Attachments: []string{"a.pdf"}},
		},
	}
	svc := newTestService(b, &stubRepo{})

	msgs, err := svc.Messages(context.Background(), agentOwner, "d1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, []string{"https://cdn.example.com/a.pdf"}, msgs[0].AttachmentURLs)
}

func TestMessages_HiddenBeforeAccept(t *testing.T) {
	b := &stubBackend{deal: suggestedDeal()}
	svc := newTestService(b, &stubRepo{})

	_, err := svc.Messages(context.Background(), agentOwner, "d1")
	assert.ErrorIs(t, err, ErrChatUnavailable)

	_, err = svc.Messages(context.Background(), clientOwner, "d1")
	assert.NoError(t, err)
}

func TestSendMessage(t *testing.T) {
	b := &stubBackend{deal: suggestedDeal()}
	svc := newTestService(b, &stubRepo{})
	ctx := context.Background()

	msg, err := svc.SendMessage(ctx, clientOwner, "d1", MessageForm{Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Text)
	require.Len(t, b.sent, 1)

	readOnly := model.Session{Viewer: model.Viewer{UserID: "c2", Side: model.SideClient, Role: model.RoleViewer}}
	_, err = svc.SendMessage(ctx, readOnly, "d1", MessageForm{Text: "hello"})
	assert.ErrorIs(t, err, ErrChatReadOnly)

	_, err = svc.SendMessage(ctx, clientOwner, "d1", MessageForm{})
	var fe validation.FieldErrors
	assert.ErrorAs(t, err, &fe)
	assert.Len(t, b.sent, 1)
}

func TestTransitions_AdminOnly(t *testing.T) {
	repo := &stubRepo{entries: []model.Transition{{DealID: "d1", Action: "accept"}}}
	svc := newTestService(&stubBackend{}, repo)

	_, err := svc.Transitions(context.Background(), agentOwner, "d1")
	assert.ErrorIs(t, err, ErrForbidden)

	list, err := svc.Transitions(context.Background(), adminUser, "d1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestUpload(t *testing.T) {
	b := &stubBackend{uploaded: []string{"f1.pdf"}}
	svc := newTestService(b, &stubRepo{})

	_, err := svc.Upload(context.Background(), agentViewer, []backend.File{{Name: "a.pdf"}})
	assert.ErrorIs(t, err, ErrForbidden)

	names, err := svc.Upload(context.Background(), agentOwner, []backend.File{{Name: "a.pdf"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"f1.pdf"}, names)
}

func TestUserMessage(t *testing.T) {
	assert.Equal(t, "nope", UserMessage(&backend.Error{Message: "nope"}))
	assert.Equal(t, backend.FallbackMessage, UserMessage(errors.New("boom")))
}
