// ABOUTME: HTTP client for the hosted API: registration and the stateless unary calls.
// ABOUTME: Dual notification on every call; 409 on registration is deliberately success.

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/duckailabs/openpond-sdk/internal/dedupe"
)

const (
	// DefaultPollInterval is the fixed gap between polling cycles.
	DefaultPollInterval = 5 * time.Second

	// DefaultTimeout bounds each unary request.
	DefaultTimeout = 5 * time.Second

	seenTTL     = 10 * time.Minute
	seenMaxSize = 4096
)

// HTTPError describes a non-2xx response from the hosted API.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("api returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("api returned status %d: %s", e.StatusCode, e.Body)
}

// Options configure the fallback client. Supplied once; never mutated.
type Options struct {
	// BaseURL of the hosted API, e.g. "https://api.openpond.example".
	BaseURL string

	APIKey     string
	AgentID    string
	AgentName  string
	Credential string

	// UseSSE selects the push subscription instead of the polling loop.
	UseSSE bool

	Timeout      time.Duration
	PollInterval time.Duration
}

// MessageHandler receives inbound messages. Single slot, last wins.
type MessageHandler func(Message)

// Client talks to the hosted API. One client runs at most one delivery loop
// (polling or push) between Start and Stop.
type Client struct {
	opts   Options
	logger *slog.Logger
	http   *http.Client // unary calls, bounded by Options.Timeout
	stream *http.Client // push subscription, unbounded
	seen   *dedupe.Cache

	reconnect time.Duration // pause between push resubscribes

	mu        sync.Mutex
	onMessage MessageHandler
	onError   func(error)
	watermark int64
	done      chan struct{}
}

// New creates a fallback client. Nothing is contacted until Start or one of
// the unary calls.
func New(opts Options, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	opts.BaseURL = strings.TrimSuffix(opts.BaseURL, "/")

	return &Client{
		opts:      opts,
		logger:    logger.With("component", "api"),
		http:      &http.Client{Timeout: opts.Timeout},
		stream:    &http.Client{},
		seen:      dedupe.New(seenTTL, seenMaxSize),
		reconnect: reconnectDelay,
	}
}

// OnMessage registers the inbound message handler.
func (c *Client) OnMessage(h MessageHandler) {
	c.mu.Lock()
	c.onMessage = h
	c.mu.Unlock()
}

// OnError registers the error callback. Without one, background loop
// failures are only logged.
func (c *Client) OnError(fn func(error)) {
	c.mu.Lock()
	c.onError = fn
	c.mu.Unlock()
}

// Watermark returns the highest message timestamp delivered by polling.
func (c *Client) Watermark() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.watermark
}

// RegisterAgent registers this agent's identity with the hosted service.
// A conflict response means the agent already exists and is treated as
// success; registration is idempotent by design.
func (c *Client) RegisterAgent(ctx context.Context) error {
	body := map[string]string{
		"credential": c.opts.Credential,
		"name":       c.opts.AgentName,
	}
	err := c.doJSON(ctx, http.MethodPost, "/agents/register", body, nil)

	var httpErr *HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusConflict {
		c.logger.Debug("agent already registered", "agent_id", c.opts.AgentID)
		return nil
	}
	if err != nil {
		return c.fail(fmt.Errorf("registering agent: %w", err))
	}
	return nil
}

// SendMessage posts a message and returns the server-assigned message ID.
func (c *Client) SendMessage(ctx context.Context, req SendMessageRequest) (string, error) {
	body := map[string]string{
		"toAgentId":  req.To,
		"content":    req.Content,
		"credential": c.opts.Credential,
	}
	if req.ConversationID != "" {
		body["conversationId"] = req.ConversationID
	}
	if req.ReplyTo != "" {
		body["replyTo"] = req.ReplyTo
	}

	var out struct {
		MessageID string `json:"messageId"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/messages", body, &out); err != nil {
		return "", c.fail(fmt.Errorf("sending message: %w", err))
	}
	return out.MessageID, nil
}

// GetMessages fetches messages with timestamps after since, in server order.
func (c *Client) GetMessages(ctx context.Context, since int64) ([]Message, error) {
	q := url.Values{}
	q.Set("since", strconv.FormatInt(since, 10))
	if c.opts.Credential != "" {
		q.Set("credential", c.opts.Credential)
	}

	var out struct {
		Messages []Message `json:"messages"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/messages?"+q.Encode(), nil, &out); err != nil {
		return nil, c.fail(fmt.Errorf("fetching messages: %w", err))
	}
	return out.Messages, nil
}

// GetAgent fetches one agent record by identifier.
func (c *Client) GetAgent(ctx context.Context, id string) (*Agent, error) {
	var out Agent
	if err := c.doJSON(ctx, http.MethodGet, "/agents/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, c.fail(fmt.Errorf("fetching agent %s: %w", id, err))
	}
	return &out, nil
}

// ListAgents fetches the full agent roster.
func (c *Client) ListAgents(ctx context.Context) ([]Agent, error) {
	var out struct {
		Agents []Agent `json:"agents"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/agents", nil, &out); err != nil {
		return nil, c.fail(fmt.Errorf("listing agents: %w", err))
	}
	return out.Agents, nil
}

// doJSON performs one request against the API. Non-2xx responses become
// *HTTPError with the response body attached.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.opts.BaseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.opts.APIKey != "" {
		req.Header.Set("X-API-Key", c.opts.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

// fail reports through the error callback and returns the error unchanged,
// implementing the dual-notification contract.
func (c *Client) fail(err error) error {
	c.reportError(err)
	return err
}

func (c *Client) reportError(err error) {
	c.mu.Lock()
	fn := c.onError
	c.mu.Unlock()
	if fn != nil {
		fn(err)
		return
	}
	c.logger.Error("background failure with no error callback registered", "error", err)
}
