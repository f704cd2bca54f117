// ABOUTME: SSE push subscription: auth headers, event parsing, recipient filtering.
// ABOUTME: Resubscribes with a fixed backoff; redelivered IDs are dropped by the seen-cache.

package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// reconnectDelay is the pause before reopening a dropped push subscription.
const reconnectDelay = 2 * time.Second

func (c *Client) subscribe(done chan struct{}) {
	for {
		err := c.streamOnce(done)

		select {
		case <-done:
			return
		default:
		}
		if err != nil {
			c.reportError(fmt.Errorf("event stream: %w", err))
		}

		select {
		case <-done:
			return
		case <-time.After(c.reconnect):
		}
	}
}

// streamOnce opens one push subscription and consumes it until the stream
// ends or Stop is called.
func (c *Client) streamOnce(done chan struct{}) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-done:
			cancel()
		case <-ctx.Done():
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.BaseURL+"/messages/stream", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	if c.opts.APIKey != "" {
		req.Header.Set("X-API-Key", c.opts.APIKey)
	}
	if c.opts.AgentID != "" {
		req.Header.Set("X-Agent-Id", c.opts.AgentID)
	}
	req.Header.Set("X-Timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	// X-Signature is a documented placeholder in the API contract; not sent.

	resp, err := c.stream.Do(req)
	if err != nil {
		return fmt.Errorf("opening stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	c.logger.Debug("push subscription open")

	scanner := bufio.NewScanner(resp.Body)
	var dataLines []string
	for scanner.Scan() {
		line := scanner.Text()

		// Empty line ends one event.
		if line == "" {
			if len(dataLines) > 0 {
				c.handlePushEvent(strings.Join(dataLines, "\n"))
				dataLines = nil
			}
			continue
		}
		if strings.HasPrefix(line, "data:") {
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
		// event:/id:/retry: fields are ignored; every payload is a Message.
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("reading stream: %w", err)
	}
	return nil
}

// handlePushEvent parses one event payload and delivers it if addressed to
// this agent. Malformed payloads are reported and discarded, never retried.
func (c *Client) handlePushEvent(data string) {
	var m Message
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		c.reportError(fmt.Errorf("parsing stream event: %w", err))
		return
	}

	// The server may broadcast wider than one recipient.
	if c.opts.AgentID != "" && m.ToAgentID != c.opts.AgentID {
		return
	}

	// Redelivery happens across resubscribes.
	if m.ID != "" && c.seen.CheckAndMark(m.ID) {
		c.logger.Debug("dropping redelivered message", "message_id", m.ID)
		return
	}

	c.mu.Lock()
	h := c.onMessage
	c.mu.Unlock()
	if h == nil {
		c.logger.Debug("dropping message, no handler registered", "message_id", m.ID)
		return
	}
	h(m)
}
