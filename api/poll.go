// ABOUTME: Start/Stop plus the polling loop with its high-watermark timestamp cursor.
// ABOUTME: Poll failures report and wait for the next tick; the loop never dies on its own.

package api

import (
	"context"
	"fmt"
	"time"
)

// Start registers the agent, then begins message delivery: the polling loop
// by default, the SSE push subscription when Options.UseSSE is set.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.done != nil {
		c.mu.Unlock()
		return fmt.Errorf("client already started")
	}
	done := make(chan struct{})
	c.done = done
	c.mu.Unlock()

	if err := c.RegisterAgent(ctx); err != nil {
		c.mu.Lock()
		c.done = nil
		c.mu.Unlock()
		return err
	}

	if c.opts.UseSSE {
		go c.subscribe(done)
	} else {
		go c.pollLoop(done)
	}
	return nil
}

// Stop ends the delivery loop. Idempotent. In-flight calls are not
// cancelled and may settle afterwards; callers should treat post-stop
// settlements as no-ops.
func (c *Client) Stop() {
	c.mu.Lock()
	done := c.done
	c.done = nil
	c.mu.Unlock()

	if done != nil {
		close(done)
	}
}

func (c *Client) pollLoop(done chan struct{}) {
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.pollOnce()
		}
	}
}

// pollOnce fetches messages past the watermark and delivers them in server
// order, advancing the watermark after each hand-off. Messages at or below
// the watermark were already delivered and are skipped; the watermark never
// moves backward.
func (c *Client) pollOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.Timeout)
	defer cancel()

	msgs, err := c.GetMessages(ctx, c.Watermark())
	if err != nil {
		// Already reported through the callback; retry on the next tick.
		return
	}

	for _, m := range msgs {
		c.mu.Lock()
		if m.Timestamp <= c.watermark {
			c.mu.Unlock()
			continue
		}
		h := c.onMessage
		c.mu.Unlock()

		if h != nil {
			h(m)
		} else {
			c.logger.Debug("dropping message, no handler registered", "message_id", m.ID)
		}

		c.mu.Lock()
		if m.Timestamp > c.watermark {
			c.watermark = m.Timestamp
		}
		c.mu.Unlock()
	}
}
