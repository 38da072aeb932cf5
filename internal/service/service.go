// Package service реализует сценарии работы со сделкой: выбор действия, подтверждение и переход.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/remitdesk/internal/backend"
	"github.com/mmeshcher/remitdesk/internal/confirm"
	"github.com/mmeshcher/remitdesk/internal/lifecycle"
	"github.com/mmeshcher/remitdesk/internal/metrics"
	"github.com/mmeshcher/remitdesk/internal/model"
	"github.com/mmeshcher/remitdesk/internal/validation"
)

var (
	// ErrDealNotFound возвращается, если сделка не найдена на бэкенде.
	ErrDealNotFound = errors.New("deal not found")
	// ErrUnknownAction возвращается для операции вне словаря.
	ErrUnknownAction = errors.New("unknown action")
	// ErrActionNotOffered возвращается, если операция сейчас не предлагается пользователю.
	ErrActionNotOffered = errors.New("action is not offered for the current deal state")
	// ErrInvalidPayload возвращается, если данные формы не удалось разобрать.
	ErrInvalidPayload = errors.New("invalid payload")
	// ErrTicketNotFound возвращается, если запрос на подтверждение не найден или уже закрыт.
	ErrTicketNotFound = confirm.ErrTicketNotFound
	// ErrChatUnavailable возвращается, если чат сделки скрыт от пользователя.
	ErrChatUnavailable = errors.New("chat is not available")
	// ErrChatReadOnly возвращается при попытке отправки сообщения без прав.
	ErrChatReadOnly = errors.New("chat is read-only")
	// ErrForbidden возвращается, если роль пользователя не позволяет операцию.
	ErrForbidden = errors.New("forbidden")
)

// Backend описывает контракт удалённого бэкенда сделок.
type Backend interface {
	GetDeal(ctx context.Context, token, dealID string) (*model.Deal, error)
	Transition(ctx context.Context, token, dealID, endpoint string, payload any) error
	ListMessages(ctx context.Context, token, dealID string) ([]model.DealMessage, error)
	SendMessage(ctx context.Context, token, dealID string, msg backend.MessageRequest) (*model.DealMessage, error)
	ListCompanyAccounts(ctx context.Context, token, companyID string) ([]model.AgentCompanyAccount, error)
	UploadFiles(ctx context.Context, token string, files []backend.File) ([]string, error)
}

// Repository описывает журнал подтверждённых действий.
type Repository interface {
	Close() error
	AppendTransition(ctx context.Context, t model.Transition) error
	ListTransitions(ctx context.Context, dealID string) ([]model.Transition, error)
}

// DealView содержит сделку и единственный элемент интерфейса, выбранный для пользователя.
type DealView struct {
	Deal    model.Deal
	Outcome lifecycle.Outcome
	Chat    lifecycle.ChatAccess
}

// Result описывает итог подтверждённого действия.
// View заполняется только после успешной повторной загрузки сделки.
type Result struct {
	Refreshed bool
	View      *DealView
}

// MessageView описывает сообщение чата с адресами вложений.
type MessageView struct {
	model.DealMessage
	AttachmentURLs []string
}

// mutationTimeout ограничивает отправку мутации и запись в журнал после подтверждения.
const mutationTimeout = 30 * time.Second

// Service содержит бизнес-логику работы со сделками.
type Service struct {
	backend   Backend
	repo      Repository
	gate      *confirm.Gate[*Result]
	validator *validation.Validator
	metrics   *metrics.Collector
	logger    *zap.Logger
	cdnBase   string
	now       func() time.Time
}

// NewService создаёт сервис сделок.
func NewService(
	b Backend,
	repo Repository,
	gate *confirm.Gate[*Result],
	m *metrics.Collector,
	logger *zap.Logger,
	cdnBase string,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		backend:   b,
		repo:      repo,
		gate:      gate,
		validator: validation.New(),
		metrics:   m,
		logger:    logger,
		cdnBase:   cdnBase,
		now:       time.Now,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

func (s *Service) fetchDeal(ctx context.Context, sess model.Session, dealID string) (*model.Deal, error) {
	d, err := s.backend.GetDeal(ctx, sess.AccessToken, dealID)
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrDealNotFound, dealID)
		}
		return nil, err
	}
	return d, nil
}

// View загружает сделку и выбирает элемент интерфейса для пользователя сессии.
func (s *Service) View(ctx context.Context, sess model.Session, dealID string) (*DealView, error) {
	d, err := s.fetchDeal(ctx, sess, dealID)
	if err != nil {
		return nil, err
	}

	out := lifecycle.Dispatch(sess.Viewer, *d)
	s.metrics.ObserveDispatch(string(sess.Viewer.Side), string(out.Kind))

	return &DealView{
		Deal:    *d,
		Outcome: out,
		Chat:    lifecycle.Chat(sess.Viewer, *d),
	}, nil
}

// RequestAction проверяет, что операция предлагается пользователю, валидирует форму
// и открывает запрос на подтверждение. Мутация не отправляется до подтверждения.
func (s *Service) RequestAction(ctx context.Context, sess model.Session, dealID, action string, payload json.RawMessage) (confirm.Ticket, error) {
	def, ok := lifecycle.LookupOperation(action)
	if !ok {
		return confirm.Ticket{}, fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}

	d, err := s.fetchDeal(ctx, sess, dealID)
	if err != nil {
		return confirm.Ticket{}, err
	}

	if !lifecycle.Dispatch(sess.Viewer, *d).Offers(def.Op) {
		return confirm.Ticket{}, fmt.Errorf("%w: %s in %s", ErrActionNotOffered, action, d.Status)
	}

	form, err := decodeForm(s.validator, def.Op, payload, s.now())
	if err != nil {
		return confirm.Ticket{}, err
	}

	if inv, ok := form.(*InvoiceForm); ok {
		if err := s.checkPayerAccount(ctx, sess, d, inv.AgentCompanyAccountID); err != nil {
			return confirm.Ticket{}, err
		}
	}

	ticket := s.gate.Request(sess.Viewer.UserID, def.Confirm, func(ctx context.Context) (*Result, error) {
		return s.execute(ctx, sess, dealID, def, form)
	})

	s.logger.Debug("confirmation requested",
		zap.String("deal", dealID),
		zap.String("action", action),
		zap.String("ticket", ticket.ID),
	)

	return ticket, nil
}

func (s *Service) checkPayerAccount(ctx context.Context, sess model.Session, d *model.Deal, accountID string) error {
	if d.AgentCompany == nil {
		return validation.FieldErrors{"agent_company_account_id": "deal has no agent company"}
	}

	accounts, err := s.backend.ListCompanyAccounts(ctx, sess.AccessToken, d.AgentCompany.ID)
	if err != nil {
		return err
	}

	for _, a := range accounts {
		if a.ID == accountID {
			return nil
		}
	}
	return validation.FieldErrors{"agent_company_account_id": "is not an account of the agent company"}
}

// Confirm закрывает запрос на подтверждение. При согласии мутация отправляется ровно один раз.
// При отказе возвращается nil без ошибки.
func (s *Service) Confirm(ctx context.Context, sess model.Session, ticketID string, yes bool) (*Result, error) {
	res, err := s.gate.Resolve(ctx, ticketID, sess.Viewer.UserID, yes)
	if errors.Is(err, confirm.ErrTicketNotFound) {
		return nil, err
	}
	s.metrics.ObserveConfirmation(yes)

	if err != nil {
		return nil, err
	}
	return res, nil
}

// execute отправляет мутацию в контексте, не зависящем от отмены запроса подтверждения:
// разрыв соединения клиента не должен обрывать уже начатый переход.
func (s *Service) execute(ctx context.Context, sess model.Session, dealID string, def lifecycle.OperationDef, form any) (*Result, error) {
	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), mutationTimeout)
	defer cancel()

	start := time.Now()
	err := s.backend.Transition(mctx, sess.AccessToken, dealID, def.Endpoint(), form)
	s.metrics.ObserveTransition(string(def.Op), err == nil, time.Since(start))
	s.journal(mctx, sess, dealID, def.Op, err)

	if err != nil {
		s.logger.Info("transition rejected",
			zap.String("deal", dealID),
			zap.String("action", string(def.Op)),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%s: %w", def.Op, err)
	}

	res := &Result{}

	view, err := s.View(ctx, sess, dealID)
	if err != nil {
		s.logger.Warn("refetch after transition failed",
			zap.String("deal", dealID),
			zap.String("action", string(def.Op)),
			zap.Error(err),
		)
		return res, nil
	}

	res.Refreshed = true
	res.View = view
	return res, nil
}

func (s *Service) journal(ctx context.Context, sess model.Session, dealID string, op lifecycle.Operation, txErr error) {
	t := model.Transition{
		DealID:  dealID,
		Action:  string(op),
		Side:    sess.Viewer.Side,
		UserID:  sess.Viewer.UserID,
		Outcome: model.OutcomeSuccess,
	}
	if txErr != nil {
		t.Outcome = model.OutcomeError
		t.Message = UserMessage(txErr)
	}

	if err := s.repo.AppendTransition(ctx, t); err != nil {
		s.logger.Error("append transition", zap.Error(err), zap.String("deal", dealID))
	}
}

// Transitions возвращает журнал действий по сделке. Доступно только администраторам.
func (s *Service) Transitions(ctx context.Context, sess model.Session, dealID string) ([]model.Transition, error) {
	if sess.Viewer.Side != model.SideAdmin {
		return nil, ErrForbidden
	}
	return s.repo.ListTransitions(ctx, dealID)
}

// Accounts возвращает счета компании агента, доступные для оплаты инвойса по сделке.
func (s *Service) Accounts(ctx context.Context, sess model.Session, dealID string) ([]model.AgentCompanyAccount, error) {
	d, err := s.fetchDeal(ctx, sess, dealID)
	if err != nil {
		return nil, err
	}
	if d.AgentCompany == nil {
		return nil, nil
	}
	return s.backend.ListCompanyAccounts(ctx, sess.AccessToken, d.AgentCompany.ID)
}

// Messages возвращает сообщения чата сделки в порядке создания.
func (s *Service) Messages(ctx context.Context, sess model.Session, dealID string) ([]MessageView, error) {
	d, err := s.fetchDeal(ctx, sess, dealID)
	if err != nil {
		return nil, err
	}

	if !lifecycle.Chat(sess.Viewer, *d).Visible {
		return nil, ErrChatUnavailable
	}

	msgs, err := s.backend.ListMessages(ctx, sess.AccessToken, dealID)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Created.Before(msgs[j].Created)
	})

	views := make([]MessageView, 0, len(msgs))
	for _, m := range msgs {
		views = append(views, s.messageView(m))
	}
	return views, nil
}

// SendMessage добавляет сообщение в чат сделки.
func (s *Service) SendMessage(ctx context.Context, sess model.Session, dealID string, form MessageForm) (*MessageView, error) {
	if err := s.validator.Struct(form); err != nil {
		return nil, err
	}

	d, err := s.fetchDeal(ctx, sess, dealID)
	if err != nil {
		return nil, err
	}

	access := lifecycle.Chat(sess.Viewer, *d)
	if !access.Visible {
		return nil, ErrChatUnavailable
	}
	if access.ReadOnly {
		return nil, ErrChatReadOnly
	}

	created, err := s.backend.SendMessage(ctx, sess.AccessToken, dealID, backend.MessageRequest{
		Text:        form.Text,
		Attachments: form.Attachments,
	})
	if err != nil {
		return nil, err
	}

	view := s.messageView(*created)
	return &view, nil
}

func (s *Service) messageView(m model.DealMessage) MessageView {
	urls := make([]string, 0, len(m.Attachments))
	for _, a := range m.Attachments {
		urls = append(urls, lifecycle.AttachmentURL(s.cdnBase, a))
	}
	return MessageView{DealMessage: m, AttachmentURLs: urls}
}

// Upload загружает файлы на бэкенд и возвращает сохранённые имена.
func (s *Service) Upload(ctx context.Context, sess model.Session, files []backend.File) ([]string, error) {
	if !sess.Viewer.Actionable() {
		return nil, ErrForbidden
	}
	if len(files) == 0 {
		return nil, validation.FieldErrors{"files": "is required"}
	}
	return s.backend.UploadFiles(ctx, sess.AccessToken, files)
}

// UserMessage возвращает сообщение для показа пользователю: текст бэкенда или общий текст.
func UserMessage(err error) string {
	var be *backend.Error
	if errors.As(err, &be) && be.Message != "" {
		return be.Message
	}
	return backend.FallbackMessage
}
