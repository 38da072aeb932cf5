// Package backend предоставляет клиент удалённого REST-бэкенда сделок.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/mmeshcher/remitdesk/internal/model"
)

// FallbackMessage показывается пользователю, если бэкенд не вернул понятного сообщения.
const FallbackMessage = "Something went wrong"

const maxResponseSize = 8 << 20

// ErrNotFound возвращается, если запись не найдена или бэкенд вернул пустые данные.
var ErrNotFound = errors.New("not found")

// Error описывает отказ бэкенда или сбой транспорта.
type Error struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("backend: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("backend: %s (status %d)", e.Message, e.StatusCode)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Envelope описывает ответ бэкенда.
type Envelope struct {
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

// File описывает файл для загрузки.
type File struct {
	Name    string
	Content io.Reader
}

// Client инкапсулирует HTTP-взаимодействие с бэкендом сделок.
// Чтения повторяются при временных сбоях, мутации отправляются ровно один раз.
type Client struct {
	baseURL    string
	httpClient *http.Client
	readClient *retryablehttp.Client
}

// NewClient создаёт клиент бэкенда по указанному адресу.
func NewClient(baseURL string, timeout time.Duration, readRetries int) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	base := strings.TrimRight(baseURL, "/")
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = readRetries
	rc.RetryWaitMin = 100 * time.Millisecond
	rc.RetryWaitMax = time.Second
	rc.HTTPClient.Timeout = timeout
	rc.Logger = nil
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		baseURL:    base,
		httpClient: &http.Client{Timeout: timeout},
		readClient: rc,
	}
}

// GetDeal запрашивает сделку по идентификатору.
func (c *Client) GetDeal(ctx context.Context, token, dealID string) (*model.Deal, error) {
	var d model.Deal
	if err := c.get(ctx, token, "/deals/"+url.PathEscape(dealID), &d); err != nil {
		return nil, err
	}
	if d.ID == "" {
		return nil, ErrNotFound
	}
	return &d, nil
}

// Transition вызывает эндпоинт перехода сделки.
func (c *Client) Transition(ctx context.Context, token, dealID, endpoint string, payload any) error {
	path := "/deals/" + url.PathEscape(dealID) + "/" + url.PathEscape(endpoint)
	return c.post(ctx, token, path, payload, nil)
}

// ListMessages возвращает сообщения чата сделки в порядке создания.
func (c *Client) ListMessages(ctx context.Context, token, dealID string) ([]model.DealMessage, error) {
	var msgs []model.DealMessage
	err := c.get(ctx, token, "/deals/"+url.PathEscape(dealID)+"/messages", &msgs)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return msgs, nil
}

// MessageRequest описывает новое сообщение чата.
type MessageRequest struct {
	Text        string   `json:"text"`
	Attachments []string `json:"attachments,omitempty"`
}

// SendMessage отправляет сообщение в чат сделки.
func (c *Client) SendMessage(ctx context.Context, token, dealID string, msg MessageRequest) (*model.DealMessage, error) {
	var created model.DealMessage
	if err := c.post(ctx, token, "/deals/"+url.PathEscape(dealID)+"/message", msg, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// ListCompanyAccounts возвращает счета компании агента.
func (c *Client) ListCompanyAccounts(ctx context.Context, token, companyID string) ([]model.AgentCompanyAccount, error) {
	var accounts []model.AgentCompanyAccount
	err := c.get(ctx, token, "/agent-companies/"+url.PathEscape(companyID)+"/accounts", &accounts)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return accounts, nil
}

// UploadFiles загружает файлы и возвращает имена, под которыми они сохранены.
func (c *Client) UploadFiles(ctx context.Context, token string, files []File) ([]string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	for _, f := range files {
		part, err := mw.CreateFormFile("files", f.Name)
		if err != nil {
			return nil, fmt.Errorf("create form file: %w", err)
		}
		if _, err := io.Copy(part, f.Content); err != nil {
			return nil, fmt.Errorf("copy file %s: %w", f.Name, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/files", &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	setAuth(req.Header, token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Message: FallbackMessage, Err: err}
	}

	var names []string
	if err := decode(resp, &names); err != nil {
		return nil, err
	}
	return names, nil
}

func (c *Client) get(ctx context.Context, token, path string, target any) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("backend client not configured")
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	setAuth(req.Header, token)

	resp, err := c.readClient.Do(req)
	if err != nil {
		return &Error{Message: FallbackMessage, Err: err}
	}

	return decode(resp, target)
}

func (c *Client) post(ctx context.Context, token, path string, payload, target any) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("backend client not configured")
	}

	var body io.Reader = http.NoBody
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	setAuth(req.Header, token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Message: FallbackMessage, Err: err}
	}

	return decode(resp, target)
}

func setAuth(h http.Header, token string) {
	h.Set("Accept", "application/json")
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
}

func decode(resp *http.Response, target any) error {
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return &Error{StatusCode: resp.StatusCode, Message: FallbackMessage, Err: err}
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return &Error{StatusCode: resp.StatusCode, Message: FallbackMessage}
		}
		return fmt.Errorf("decode response: %w", err)
	}

	if env.Status != "success" || resp.StatusCode >= http.StatusBadRequest {
		msg := env.Message
		if msg == "" {
			msg = FallbackMessage
		}
		return &Error{StatusCode: resp.StatusCode, Message: msg}
	}

	if target == nil {
		return nil
	}

	if len(env.Data) == 0 || string(env.Data) == "null" {
		return ErrNotFound
	}

	if err := json.Unmarshal(env.Data, target); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}

	return nil
}
