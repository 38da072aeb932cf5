// Package handler содержит HTTP-обработчики API сервиса сделок.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/remitdesk/internal/backend"
	"github.com/mmeshcher/remitdesk/internal/confirm"
	"github.com/mmeshcher/remitdesk/internal/lifecycle"
	"github.com/mmeshcher/remitdesk/internal/metrics"
	"github.com/mmeshcher/remitdesk/internal/middleware"
	"github.com/mmeshcher/remitdesk/internal/model"
	"github.com/mmeshcher/remitdesk/internal/service"
	"github.com/mmeshcher/remitdesk/internal/validation"
)

const (
	maxBodySize   = 1 << 20
	maxUploadSize = 32 << 20
	dealsPath     = "/deals"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	View(ctx context.Context, sess model.Session, dealID string) (*service.DealView, error)
	RequestAction(ctx context.Context, sess model.Session, dealID, action string, payload json.RawMessage) (confirm.Ticket, error)
	Confirm(ctx context.Context, sess model.Session, ticketID string, yes bool) (*service.Result, error)
	Messages(ctx context.Context, sess model.Session, dealID string) ([]service.MessageView, error)
	SendMessage(ctx context.Context, sess model.Session, dealID string, form service.MessageForm) (*service.MessageView, error)
	Transitions(ctx context.Context, sess model.Session, dealID string) ([]model.Transition, error)
	Accounts(ctx context.Context, sess model.Session, dealID string) ([]model.AgentCompanyAccount, error)
	Upload(ctx context.Context, sess model.Session, files []backend.File) ([]string, error)
}

// Handler реализует HTTP-обработчики API сервиса сделок.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	rateLimiter    *middleware.RateLimiter
	metrics        *metrics.Collector
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(
	s Service,
	logger *zap.Logger,
	auth *middleware.AuthMiddleware,
	limiter *middleware.RateLimiter,
	m *metrics.Collector,
) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		rateLimiter:    limiter,
		metrics:        m,
	}
}

type envelope struct {
	Status   string `json:"status"`
	Data     any    `json:"data,omitempty"`
	Message  string `json:"message,omitempty"`
	Redirect string `json:"redirect,omitempty"`
}

type outcomeResponse struct {
	Kind       lifecycle.Kind        `json:"kind"`
	Component  lifecycle.Component   `json:"component,omitempty"`
	Operations []lifecycle.Operation `json:"operations,omitempty"`
	Banner     lifecycle.Banner      `json:"banner,omitempty"`
}

type dealResponse struct {
	Deal    model.Deal           `json:"deal"`
	Outcome outcomeResponse      `json:"outcome"`
	Chat    lifecycle.ChatAccess `json:"chat"`
}

func newDealResponse(v *service.DealView) dealResponse {
	return dealResponse{
		Deal: v.Deal,
		Outcome: outcomeResponse{
			Kind:       v.Outcome.Kind,
			Component:  v.Outcome.Component,
			Operations: v.Outcome.Component.Operations(),
			Banner:     v.Outcome.Banner,
		},
		Chat: v.Chat,
	}
}

type confirmRequest struct {
	Answer string `json:"answer"`
}

type confirmResponse struct {
	Confirmed bool          `json:"confirmed"`
	Refreshed bool          `json:"refreshed"`
	View      *dealResponse `json:"view,omitempty"`
}

type messageResponse struct {
	ID             string     `json:"id"`
	AuthorSide     model.Side `json:"author_side"`
	Text           string     `json:"text"`
	Attachments    []string   `json:"attachments,omitempty"`
	AttachmentURLs []string   `json:"attachment_urls,omitempty"`
	Created        string     `json:"created"`
}

func newMessageResponse(m service.MessageView) messageResponse {
	return messageResponse{
		ID:             m.ID,
		AuthorSide:     m.AuthorSide,
		Text:           m.Text,
		Attachments:    m.Attachments,
		AttachmentURLs: m.AttachmentURLs,
		Created:        m.Created.Format(time.RFC3339),
	}
}

// GetDeal возвращает сделку и элемент интерфейса, выбранный для текущего пользователя.
func (h *Handler) GetDeal(w http.ResponseWriter, r *http.Request) {
	sess, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		h.writeStatus(w, http.StatusUnauthorized)
		return
	}

	view, err := h.service.View(r.Context(), sess, chi.URLParam(r, "dealID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeData(w, http.StatusOK, newDealResponse(view))
}

// RequestAction открывает запрос на подтверждение операции над сделкой.
func (h *Handler) RequestAction(w http.ResponseWriter, r *http.Request) {
	sess, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		h.writeStatus(w, http.StatusUnauthorized)
		return
	}

	defer r.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		h.writeStatus(w, http.StatusBadRequest)
		return
	}

	ticket, err := h.service.RequestAction(r.Context(), sess, chi.URLParam(r, "dealID"), chi.URLParam(r, "action"), payload)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeData(w, http.StatusAccepted, ticket)
}

// Confirm принимает ответ пользователя на запрос подтверждения.
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	sess, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		h.writeStatus(w, http.StatusUnauthorized)
		return
	}

	var req confirmRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&req); err != nil {
		h.writeStatus(w, http.StatusBadRequest)
		return
	}

	var yes bool
	switch req.Answer {
	case "yes":
		yes = true
	case "no":
	default:
		h.writeError(w, r, validation.FieldErrors{"answer": `must be "yes" or "no"`})
		return
	}

	res, err := h.service.Confirm(r.Context(), sess, chi.URLParam(r, "ticketID"), yes)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := confirmResponse{}
	if res != nil {
		resp.Confirmed = true
		resp.Refreshed = res.Refreshed
		if res.View != nil {
			dr := newDealResponse(res.View)
			resp.View = &dr
		}
	}

	h.writeData(w, http.StatusOK, resp)
}

// GetMessages возвращает сообщения чата сделки.
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	sess, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		h.writeStatus(w, http.StatusUnauthorized)
		return
	}

	msgs, err := h.service.Messages(r.Context(), sess, chi.URLParam(r, "dealID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		resp = append(resp, newMessageResponse(m))
	}

	h.writeData(w, http.StatusOK, resp)
}

// SendMessage добавляет сообщение в чат сделки.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	sess, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		h.writeStatus(w, http.StatusUnauthorized)
		return
	}

	var form service.MessageForm
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&form); err != nil {
		h.writeStatus(w, http.StatusBadRequest)
		return
	}

	msg, err := h.service.SendMessage(r.Context(), sess, chi.URLParam(r, "dealID"), form)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeData(w, http.StatusCreated, newMessageResponse(*msg))
}

// GetTransitions возвращает журнал действий по сделке.
func (h *Handler) GetTransitions(w http.ResponseWriter, r *http.Request) {
	sess, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		h.writeStatus(w, http.StatusUnauthorized)
		return
	}

	list, err := h.service.Transitions(r.Context(), sess, chi.URLParam(r, "dealID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if len(list) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	h.writeData(w, http.StatusOK, list)
}

// GetAccounts возвращает счета компании агента для оплаты инвойса.
func (h *Handler) GetAccounts(w http.ResponseWriter, r *http.Request) {
	sess, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		h.writeStatus(w, http.StatusUnauthorized)
		return
	}

	accounts, err := h.service.Accounts(r.Context(), sess, chi.URLParam(r, "dealID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if accounts == nil {
		accounts = []model.AgentCompanyAccount{}
	}
	h.writeData(w, http.StatusOK, accounts)
}

// UploadFiles принимает файлы multipart-формы и передаёт их бэкенду.
func (h *Handler) UploadFiles(w http.ResponseWriter, r *http.Request) {
	sess, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		h.writeStatus(w, http.StatusUnauthorized)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		h.writeStatus(w, http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	files := make([]backend.File, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			h.writeStatus(w, http.StatusBadRequest)
			return
		}
		defer f.Close()
		files = append(files, backend.File{Name: fh.Filename, Content: f})
	}

	names, err := h.service.Upload(r.Context(), sess, files)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeData(w, http.StatusCreated, names)
}

// Health сообщает о готовности сервиса.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeData(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) writeData(w http.ResponseWriter, code int, data any) {
	h.writeJSON(w, code, envelope{Status: "success", Data: data})
}

func (h *Handler) writeStatus(w http.ResponseWriter, code int) {
	h.writeJSON(w, code, envelope{Status: "error", Message: http.StatusText(code)})
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("encode response", zap.Error(err))
	}
}

// writeError переводит ошибку сервиса в HTTP-ответ.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		fieldErrs  validation.FieldErrors
		backendErr *backend.Error
	)

	switch {
	case errors.Is(err, service.ErrDealNotFound), errors.Is(err, backend.ErrNotFound):
		h.writeJSON(w, http.StatusNotFound, envelope{
			Status:   "error",
			Message:  "NOT FOUND",
			Redirect: dealsPath,
		})
	case errors.Is(err, service.ErrTicketNotFound):
		h.writeJSON(w, http.StatusNotFound, envelope{
			Status:  "error",
			Message: "Confirmation has expired or was already answered",
		})
	case errors.As(err, &fieldErrs):
		h.writeJSON(w, http.StatusUnprocessableEntity, envelope{
			Status:  "error",
			Data:    fieldErrs,
			Message: "Validation failed",
		})
	case errors.Is(err, service.ErrInvalidPayload), errors.Is(err, service.ErrUnknownAction):
		h.writeJSON(w, http.StatusBadRequest, envelope{Status: "error", Message: err.Error()})
	case errors.Is(err, service.ErrActionNotOffered):
		h.writeJSON(w, http.StatusConflict, envelope{
			Status:  "error",
			Message: "This action is not available for the deal",
		})
	case errors.Is(err, service.ErrForbidden),
		errors.Is(err, service.ErrChatUnavailable),
		errors.Is(err, service.ErrChatReadOnly):
		h.writeStatus(w, http.StatusForbidden)
	case errors.As(err, &backendErr):
		code := http.StatusConflict
		if backendErr.StatusCode == 0 || backendErr.StatusCode >= http.StatusInternalServerError {
			code = http.StatusBadGateway
		}
		h.logger.Warn("backend error",
			zap.Error(err),
			zap.String("path", r.URL.Path),
			zap.Int("backendStatus", backendErr.StatusCode),
		)
		h.writeJSON(w, code, envelope{Status: "error", Message: service.UserMessage(err)})
	default:
		h.logger.Error("request error", zap.Error(err), zap.String("path", r.URL.Path))
		h.writeJSON(w, http.StatusInternalServerError, envelope{
			Status:  "error",
			Message: backend.FallbackMessage,
		})
	}
}
