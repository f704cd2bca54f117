// ABOUTME: Lifecycle coordinator: the outward-facing SDK entry point.
// ABOUTME: Thin facade over whichever transport was selected at construction.

// Package openpond is the client SDK for the OpenPond agent network.
//
// A Client participates through one of two transports, chosen when the
// client is built and never renegotiated at runtime:
//
//   - node mode: a locally supervised node process reached over streaming RPC
//   - api mode: the hosted HTTP API, polling or SSE push (set Config.APIURL)
//
// Both modes share the same contract: Start, receive messages through
// OnMessage, SendMessage, Stop. Agent rosters are transport-specific and are
// reached through the Node and API accessors; the two record shapes describe
// the same entity but carry different fields and are deliberately not merged.
package openpond

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/duckailabs/openpond-sdk/api"
	"github.com/duckailabs/openpond-sdk/node"
)

// Client is the lifecycle coordinator. It owns the configuration, registers
// callbacks, and delegates everything else to the active transport.
type Client struct {
	cfg    *Config
	logger *slog.Logger
	node   *node.Client
	api    *api.Client
}

// Option customizes a Client at construction.
type Option func(*clientOptions)

type clientOptions struct {
	logger *slog.Logger
}

// WithLogger sets the logger shared by the client and its transport.
func WithLogger(l *slog.Logger) Option {
	return func(o *clientOptions) { o.logger = l }
}

// New builds a client for the transport selected by cfg: api mode when
// cfg.APIURL is set, node mode otherwise. cfg is defaulted and validated;
// it must not be mutated afterwards.
func New(cfg *Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	co := clientOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&co)
	}

	c := &Client{cfg: cfg, logger: co.logger}

	if cfg.APIURL != "" {
		c.api = api.New(api.Options{
			BaseURL:      cfg.APIURL,
			APIKey:       cfg.APIKey,
			AgentID:      cfg.AgentID,
			AgentName:    cfg.AgentName,
			Credential:   cfg.Credential,
			UseSSE:       cfg.UseSSE,
			Timeout:      cfg.Timeout,
			PollInterval: cfg.PollInterval,
		}, co.logger)
		return c, nil
	}

	c.node = node.New(node.Options{
		Address:    cfg.Address,
		ListenPort: cfg.ListenPort,
		AgentID:    cfg.AgentID,
		AgentName:  cfg.AgentName,
		Credential: cfg.Credential,
		SpawnNode:  cfg.SpawnNode,
		BinaryPath: cfg.BinaryPath,
		ProtoPath:  cfg.ProtoPath,
		Timeout:    cfg.Timeout,
	}, co.logger)
	return c, nil
}

// Start brings the selected transport up: connect (node mode) or register
// and begin delivery (api mode).
func (c *Client) Start(ctx context.Context) error {
	if c.api != nil {
		return c.api.Start(ctx)
	}
	return c.node.Connect(ctx)
}

// Stop tears the transport down. Idempotent.
func (c *Client) Stop() error {
	if c.api != nil {
		c.api.Stop()
		return nil
	}
	return c.node.Disconnect()
}

// OnMessage registers the inbound message handler. Single slot, last wins;
// it applies to messages received after registration.
func (c *Client) OnMessage(h MessageHandler) {
	if c.api != nil {
		if h == nil {
			c.api.OnMessage(nil)
			return
		}
		c.api.OnMessage(func(m api.Message) {
			h(Message{
				ID:             m.ID,
				From:           m.FromAgentID,
				To:             m.ToAgentID,
				Content:        m.Content,
				Timestamp:      m.Timestamp,
				ConversationID: m.ConversationID,
				ReplyTo:        m.ReplyTo,
			})
		})
		return
	}

	if h == nil {
		c.node.OnMessage(nil)
		return
	}
	c.node.OnMessage(func(m node.Message) {
		h(Message{
			ID:        m.ID,
			From:      m.From,
			Content:   m.Content,
			Timestamp: m.Timestamp,
		})
	})
}

// OnError registers the background error callback. Single slot, last wins.
func (c *Client) OnError(h ErrorHandler) {
	if c.api != nil {
		c.api.OnError(h)
		return
	}
	c.node.OnError(h)
}

// SendMessage delivers content to another agent. In api mode the
// server-assigned message ID is returned; node mode acknowledges without one.
func (c *Client) SendMessage(ctx context.Context, to, content string) (string, error) {
	if c.api != nil {
		return c.api.SendMessage(ctx, api.SendMessageRequest{To: to, Content: content})
	}
	return "", c.node.SendMessage(ctx, to, []byte(content))
}

// Node returns the streaming transport, or nil in api mode. Use it for the
// node-specific operations (ListAgents, State).
func (c *Client) Node() *node.Client {
	return c.node
}

// API returns the hosted-API transport, or nil in node mode. Use it for the
// API-specific operations (ListAgents, GetAgent, GetMessages, Watermark).
func (c *Client) API() *api.Client {
	return c.api
}

// AgentID returns the configured (or generated) agent identity.
func (c *Client) AgentID() string {
	return c.cfg.AgentID
}
