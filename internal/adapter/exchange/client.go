// Package exchange performs the two backend exchanges of the client: sending a
// chat message and fetching a single-use embed URL.
package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"quickchat/internal/domain"
	"quickchat/internal/infra/tracer"
)

// maxResponseBody is the maximum response body size read from the backend.
const maxResponseBody = 1 << 20

// maxErrorExcerpt bounds the body excerpt kept on remote errors.
const maxErrorExcerpt = 512

const (
	chatPath     = "/chat"
	embedURLPath = "/get-embed-url/"
)

// Client talks to the chat / embed-url backend. It never retries and never
// caches: every call is a fresh request.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.client = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// New creates a Client for baseURL. timeout bounds each exchange; zero means no
// client-side limit beyond the caller's context.
func New(baseURL string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// BaseURL returns the backend base URL the client was built for.
func (c *Client) BaseURL() string { return c.baseURL }

type chatRequest struct {
	UserID  string `json:"user_id"`
	Message string `json:"message"`
}

// SendChatMessage posts one chat message and returns the backend's reply.
func (c *Client) SendChatMessage(ctx context.Context, userID, text string) (domain.ChatReply, error) {
	ctx, span := tracer.StartSpan(ctx, "exchange.send_chat_message")
	defer span.End()

	body, err := json.Marshal(chatRequest{UserID: userID, Message: text})
	if err != nil {
		return domain.ChatReply{}, domain.WrapOp("exchange.SendChatMessage", err)
	}

	raw, err := c.do(ctx, http.MethodPost, chatPath, body)
	if err != nil {
		tracer.RecordError(span, err)
		return domain.ChatReply{}, err
	}

	// Decode into pointers so a missing field is distinguishable from an empty one.
	var resp struct {
		Reply *string `json:"reply"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		err = protocolError("exchange.SendChatMessage", "malformed JSON", err)
		tracer.RecordError(span, err)
		return domain.ChatReply{}, err
	}
	if resp.Reply == nil {
		err = protocolError("exchange.SendChatMessage", "response lacks reply field", nil)
		tracer.RecordError(span, err)
		return domain.ChatReply{}, err
	}

	tracer.SetOK(span)
	c.logger.Debug("chat exchange completed", "user_id", userID, "reply_len", len(*resp.Reply))
	return domain.ChatReply{Reply: *resp.Reply}, nil
}

// FetchEmbedURL requests a fresh single-use embed URL.
func (c *Client) FetchEmbedURL(ctx context.Context) (domain.EmbedURL, error) {
	ctx, span := tracer.StartSpan(ctx, "exchange.fetch_embed_url")
	defer span.End()

	raw, err := c.do(ctx, http.MethodGet, embedURLPath, nil)
	if err != nil {
		tracer.RecordError(span, err)
		return domain.EmbedURL{}, err
	}

	var resp struct {
		EmbedURL *string `json:"embedUrl"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		err = protocolError("exchange.FetchEmbedURL", "malformed JSON", err)
		tracer.RecordError(span, err)
		return domain.EmbedURL{}, err
	}
	if resp.EmbedURL == nil || strings.TrimSpace(*resp.EmbedURL) == "" {
		err = protocolError("exchange.FetchEmbedURL", "response lacks embedUrl", nil)
		tracer.RecordError(span, err)
		return domain.EmbedURL{}, err
	}

	tracer.SetOK(span)
	c.logger.Debug("embed url acquired", "url", *resp.EmbedURL)
	return domain.EmbedURL{EmbedURL: *resp.EmbedURL}, nil
}

// do performs one request and returns the body of a 2xx response.
func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	op := "exchange." + method + " " + path

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, domain.NewSubSystemError("exchange", op, domain.ErrNetwork, err.Error())
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &domain.DomainError{
			Op:        op,
			Err:       domain.WithCause(domain.ErrNetwork, err),
			SubSystem: "exchange",
		}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, &domain.DomainError{
			Op:        op,
			Err:       domain.WithCause(domain.ErrNetwork, err),
			Detail:    "read response",
			SubSystem: "exchange",
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt := string(raw)
		if len(excerpt) > maxErrorExcerpt {
			excerpt = excerpt[:maxErrorExcerpt]
		}
		c.logger.Warn("backend returned non-success status", "op", op, "status", resp.StatusCode)
		return nil, &domain.DomainError{
			Op:        op,
			Err:       &domain.RemoteStatusError{StatusCode: resp.StatusCode, Body: excerpt},
			SubSystem: "exchange",
		}
	}
	return raw, nil
}

func protocolError(op, detail string, cause error) error {
	err := domain.ErrProtocol
	if cause != nil {
		err = domain.WithCause(domain.ErrProtocol, cause)
	}
	return &domain.DomainError{Op: op, Err: err, Detail: detail, SubSystem: "exchange"}
}
