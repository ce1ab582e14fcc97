// Package restapi is the client of the REST write surface used to send
// messages on behalf of the operator.
package restapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrRejected is returned when the server answers with success=false.
var ErrRejected = errors.New("send rejected by server")

// HTTPError is a non-2xx answer.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Body)
}

// Config points the client at a server.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	// Rate is the sustained sends per second; 0 disables throttling.
	Rate  float64
	Burst int
}

// SendRequest is one outbound message.
type SendRequest struct {
	Type      string
	CompanyID string
	ChatID    string
	// PhoneIndex selects the sending line; nil sends from line 0.
	PhoneIndex *int
	UserName   string
	// Fields are the type-specific body fields (text, url, caption...).
	Fields map[string]any
}

// Sender sends messages. *Client implements it.
type Sender interface {
	Send(ctx context.Context, req SendRequest) error
}

// Client talks to the REST write surface.
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

var _ Sender = (*Client)(nil)

// New creates a client.
func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	hc := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetHeader("Content-Type", "application/json").
		SetTimeout(cfg.Timeout)
	if cfg.Token != "" {
		hc.SetAuthToken(cfg.Token)
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.Rate > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.Rate), burst)
	}
	return &Client{http: hc, limiter: limiter, logger: logger}
}

type sendResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// Send posts req to /messages/{type}/{companyId}/{chatId}.
func (c *Client) Send(ctx context.Context, req SendRequest) error {
	if req.Type == "" || req.CompanyID == "" || req.ChatID == "" {
		return fmt.Errorf("send: type, company and chat are required")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("send throttled: %w", err)
	}

	body := make(map[string]any, len(req.Fields)+2)
	for k, v := range req.Fields {
		body[k] = v
	}
	// An unbound operator sends from the first line.
	body["phoneIndex"] = 0
	if req.PhoneIndex != nil {
		body["phoneIndex"] = *req.PhoneIndex
	}
	if req.UserName != "" {
		body["userName"] = req.UserName
	}

	path := fmt.Sprintf("/messages/%s/%s/%s",
		url.PathEscape(req.Type), url.PathEscape(req.CompanyID), url.PathEscape(req.ChatID))
	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		Post(path)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	c.logger.Debug("send posted",
		zap.String("type", req.Type),
		zap.String("chat", req.ChatID),
		zap.Int("status", resp.StatusCode()),
		zap.Duration("took", time.Since(start)))

	if resp.IsError() {
		return &HTTPError{StatusCode: resp.StatusCode(), Body: resp.String()}
	}
	var sr sendResponse
	if err := json.Unmarshal(resp.Body(), &sr); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !sr.Success {
		if sr.Message != "" {
			return fmt.Errorf("%w: %s", ErrRejected, sr.Message)
		}
		return ErrRejected
	}
	return nil
}
