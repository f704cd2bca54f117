// ABOUTME: Streaming RPC client for the supervised node: handshake, event stream, unary calls.
// ABOUTME: Drives the RPCs through a dynamic stub built from the runtime-parsed descriptor.

package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	protov1 "github.com/golang/protobuf/proto"
	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/desc/protoparse"
	"github.com/jhump/protoreflect/dynamic"
	"github.com/jhump/protoreflect/dynamic/grpcdynamic"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

const (
	connectAttempts = 3
	connectBackoff  = time.Second

	serviceName = "pond.P2PNode"
)

// Options configure a streaming client. Supplied once; never mutated.
type Options struct {
	// Address is the node's RPC endpoint, e.g. "localhost:50051".
	Address string

	// ListenPort is the P2P port the node should listen on; it is passed to
	// the spawned process and repeated in the Connect handshake.
	ListenPort int

	AgentID    string
	AgentName  string
	Credential string

	// SpawnNode starts a local node process before dialing. Implied when
	// BinaryPath is set.
	SpawnNode  bool
	BinaryPath string

	// ProtoPath locates the protocol descriptor. Empty means walk parent
	// directories for proto/pond.proto (best effort).
	ProtoPath string

	// Timeout bounds each unary call. Zero means no deadline.
	Timeout time.Duration
}

// MessageHandler receives decoded inbound messages. Single slot, last wins.
type MessageHandler func(Message)

// stub abstracts the dynamic gRPC stub so tests can substitute the transport.
type stub interface {
	invoke(ctx context.Context, method *desc.MethodDescriptor, req protov1.Message) (protov1.Message, error)
	openStream(ctx context.Context, method *desc.MethodDescriptor, req protov1.Message) (eventStream, error)
}

type eventStream interface {
	recv() (protov1.Message, error)
}

type grpcStub struct {
	s grpcdynamic.Stub
}

func (g grpcStub) invoke(ctx context.Context, method *desc.MethodDescriptor, req protov1.Message) (protov1.Message, error) {
	return g.s.InvokeRpc(ctx, method, req)
}

func (g grpcStub) openStream(ctx context.Context, method *desc.MethodDescriptor, req protov1.Message) (eventStream, error) {
	ss, err := g.s.InvokeRpcServerStream(ctx, method, req)
	if err != nil {
		return nil, err
	}
	return grpcEventStream{ss}, nil
}

type grpcEventStream struct {
	ss *grpcdynamic.ServerStream
}

func (g grpcEventStream) recv() (protov1.Message, error) {
	return g.ss.RecvMsg()
}

// methods holds the resolved service surface from the parsed descriptor.
type methods struct {
	connect *desc.MethodDescriptor
	send    *desc.MethodDescriptor
	list    *desc.MethodDescriptor
}

// Client is the streaming RPC client. One client owns one subprocess handle
// and one stream handle; neither is shared.
type Client struct {
	opts   Options
	logger *slog.Logger
	state  *connState
	proc   *Supervisor

	mu           sync.Mutex
	conn         *grpc.ClientConn
	stub         stub
	methods      *methods
	streamCancel context.CancelFunc
	handler      MessageHandler
	onError      func(error)

	// seams for tests
	dial            func(addr string) (*grpc.ClientConn, stub, error)
	loadDescriptors func(path string) (*methods, error)
	backoff         time.Duration
}

// New creates a streaming client. Nothing is dialed until Connect.
func New(opts Options, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		opts:            opts,
		logger:          logger.With("component", "node"),
		state:           newConnState(),
		proc:            NewSupervisor(logger),
		dial:            dialNode,
		loadDescriptors: loadDescriptors,
		backoff:         connectBackoff,
	}
	c.proc.OnExit(c.handleProcessExit)
	return c
}

func dialNode(addr string) (*grpc.ClientConn, stub, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, err
	}
	return conn, grpcStub{grpcdynamic.NewStub(conn)}, nil
}

// loadDescriptors parses the descriptor file and resolves the service surface.
func loadDescriptors(path string) (*methods, error) {
	parser := protoparse.Parser{ImportPaths: []string{filepath.Dir(path)}}
	fds, err := parser.ParseFiles(filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("parsing protocol descriptor %s: %w", path, err)
	}

	var svc *desc.ServiceDescriptor
	for _, fd := range fds {
		if s := fd.FindService(serviceName); s != nil {
			svc = s
			break
		}
	}
	if svc == nil {
		return nil, fmt.Errorf("service %s not found in %s", serviceName, path)
	}

	m := &methods{
		connect: svc.FindMethodByName("Connect"),
		send:    svc.FindMethodByName("SendMessage"),
		list:    svc.FindMethodByName("ListAgents"),
	}
	if m.connect == nil || m.send == nil || m.list == nil {
		return nil, fmt.Errorf("descriptor %s is missing required %s methods", path, serviceName)
	}
	return m, nil
}

// State returns the current connection state.
func (c *Client) State() State {
	return c.state.current()
}

// OnMessage registers the inbound message handler. It applies to events
// received after registration; events with no handler are dropped, not queued.
func (c *Client) OnMessage(h MessageHandler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// OnError registers the background error callback. Single slot, last wins.
func (c *Client) OnError(fn func(error)) {
	c.mu.Lock()
	c.onError = fn
	c.mu.Unlock()
}

// Connect starts the supervised node if configured, loads the protocol
// descriptor, then retries dial+handshake up to three times with a one
// second pause. On exhaustion every acquired resource is released and
// ErrConnectionFailed is returned.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.state.beginStarting(); err != nil {
		return err
	}

	if c.opts.SpawnNode || c.opts.BinaryPath != "" {
		err := c.proc.Start(ctx, StartOptions{
			BinaryPath: c.opts.BinaryPath,
			ListenPort: c.opts.ListenPort,
			AgentID:    c.opts.AgentID,
			Credential: c.opts.Credential,
		})
		if err != nil {
			c.state.set(StateDisconnected)
			return err
		}
	}

	protoPath, err := ResolveProtoPath(c.opts.ProtoPath)
	if err != nil {
		c.teardown()
		c.state.set(StateDisconnected)
		return err
	}

	m, err := c.loadDescriptors(protoPath)
	if err != nil {
		c.teardown()
		c.state.set(StateDisconnected)
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		if err := c.tryConnect(m); err != nil {
			lastErr = err
			c.logger.Warn("connect attempt failed",
				"attempt", attempt,
				"address", c.opts.Address,
				"error", err,
			)
			if attempt < connectAttempts {
				select {
				case <-ctx.Done():
					c.teardown()
					c.state.set(StateDisconnected)
					return ctx.Err()
				case <-time.After(c.backoff):
				}
			}
			continue
		}

		c.state.set(StateConnected)
		c.logger.Info("connected to node", "address", c.opts.Address)
		return nil
	}

	c.teardown()
	c.state.set(StateDisconnected)
	return fmt.Errorf("%w after %d attempts: %v", ErrConnectionFailed, connectAttempts, lastErr)
}

// tryConnect performs one dial+handshake. On failure everything acquired in
// this attempt is released before returning.
func (c *Client) tryConnect(m *methods) error {
	conn, st, err := c.dial(c.opts.Address)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", c.opts.Address, err)
	}

	req := dynamic.NewMessage(m.connect.GetInputType())
	req.SetFieldByName("port", int32(c.opts.ListenPort))
	req.SetFieldByName("name", c.opts.AgentName)
	if c.opts.Credential != "" {
		req.SetFieldByName("private_key", c.opts.Credential)
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	es, err := st.openStream(streamCtx, m.connect, req)
	if err != nil {
		cancel()
		if conn != nil {
			conn.Close()
		}
		return fmt.Errorf("connect handshake: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.stub = st
	c.methods = m
	c.streamCancel = cancel
	c.mu.Unlock()

	go c.recvLoop(es)
	return nil
}

// recvLoop consumes the event stream until it ends. Failures while the
// session is live demote the state to Degraded; deliberate shutdown is
// silent.
func (c *Client) recvLoop(es eventStream) {
	for {
		msg, err := es.recv()
		if err != nil {
			if c.state.current() == StateClosed ||
				errors.Is(err, context.Canceled) ||
				status.Code(err) == codes.Canceled {
				return
			}
			c.state.set(StateDegraded)
			if errors.Is(err, io.EOF) {
				c.reportError(fmt.Errorf("%w: stream closed by node", ErrStreamClosed))
			} else {
				c.reportError(fmt.Errorf("%w: %v", ErrStreamClosed, err))
			}
			return
		}

		dm, err := dynamic.AsDynamicMessage(msg)
		if err != nil {
			c.reportError(fmt.Errorf("decoding node event: %w", err))
			continue
		}
		ev, err := decodeEvent(dm)
		if err != nil {
			c.reportError(err)
			continue
		}
		c.handleEvent(ev)
	}
}

func (c *Client) handleEvent(ev Event) {
	switch e := ev.(type) {
	case ReadyEvent:
		c.logger.Info("node ready", "peer_id", e.PeerID)

	case PeerConnectedEvent:
		c.logger.Debug("peer connected", "peer_id", e.PeerID)

	case MessageEvent:
		c.mu.Lock()
		h := c.handler
		c.mu.Unlock()
		if h == nil {
			c.logger.Debug("dropping message, no handler registered",
				"message_id", e.Message.ID,
				"from", e.Message.From,
			)
			return
		}
		h(e.Message)

	case ErrorEvent:
		c.state.set(StateDegraded)
		c.reportError(fmt.Errorf("%w: %s", ErrStreamClosed, e.Reason))
	}
}

// SendMessage delivers content to another agent. Precondition: Connected.
func (c *Client) SendMessage(ctx context.Context, to string, content []byte) error {
	if err := c.state.requireConnected(); err != nil {
		return c.fail(err)
	}

	st, m, err := c.session()
	if err != nil {
		return c.fail(err)
	}

	req := dynamic.NewMessage(m.send.GetInputType())
	req.SetFieldByName("to", to)
	req.SetFieldByName("content", content)

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	resp, err := st.invoke(callCtx, m.send, req)
	if err != nil {
		return c.fail(fmt.Errorf("%w: %v", ErrSendFailed, err))
	}

	dm, err := dynamic.AsDynamicMessage(resp)
	if err != nil {
		return c.fail(fmt.Errorf("%w: decoding acknowledgement: %v", ErrSendFailed, err))
	}
	if ok, _ := dm.GetFieldByName("success").(bool); !ok {
		reason, _ := dm.GetFieldByName("error").(string)
		if reason == "" {
			reason = "rejected by node"
		}
		return c.fail(fmt.Errorf("%w: %s", ErrSendFailed, reason))
	}
	return nil
}

// ListAgents returns the full roster reported by the node. No pagination,
// no client-side filtering. Precondition: Connected.
func (c *Client) ListAgents(ctx context.Context) ([]AgentInfo, error) {
	if err := c.state.requireConnected(); err != nil {
		return nil, c.fail(err)
	}

	st, m, err := c.session()
	if err != nil {
		return nil, c.fail(err)
	}

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	resp, err := st.invoke(callCtx, m.list, dynamic.NewMessage(m.list.GetInputType()))
	if err != nil {
		return nil, c.fail(fmt.Errorf("listing agents: %w", err))
	}

	dm, err := dynamic.AsDynamicMessage(resp)
	if err != nil {
		return nil, c.fail(fmt.Errorf("decoding agent roster: %w", err))
	}

	raw, _ := dm.GetFieldByName("agents").([]interface{})
	agents := make([]AgentInfo, 0, len(raw))
	for _, item := range raw {
		entry, ok := item.(*dynamic.Message)
		if !ok {
			continue
		}
		agents = append(agents, AgentInfo{
			ID:          stringField(entry, "id"),
			Name:        stringField(entry, "name"),
			PeerID:      stringField(entry, "peer_id"),
			ConnectedAt: int64Field(entry, "connected_at"),
		})
	}
	return agents, nil
}

// Disconnect cancels the stream, stops the supervised process, and resets
// session state. Safe to call when already disconnected.
func (c *Client) Disconnect() error {
	c.state.set(StateClosed)
	c.teardown()
	return nil
}

// teardown releases stream, channel, and subprocess resources. State is the
// caller's responsibility.
func (c *Client) teardown() {
	c.mu.Lock()
	cancel := c.streamCancel
	conn := c.conn
	c.streamCancel = nil
	c.conn = nil
	c.stub = nil
	c.methods = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	c.proc.Stop()
}

func (c *Client) handleProcessExit(err error) {
	if err == nil {
		return
	}
	if c.state.current() == StateConnected {
		c.state.set(StateDegraded)
	}
	c.reportError(err)
}

// session snapshots the live transport handles. A concurrent Disconnect can
// land between the state check and this snapshot; the nil check makes that
// interleaving fail like any other post-stop call instead of panicking.
func (c *Client) session() (stub, *methods, error) {
	c.mu.Lock()
	st, m := c.stub, c.methods
	c.mu.Unlock()
	if st == nil || m == nil {
		return nil, nil, ErrNotConnected
	}
	return st, m, nil
}

// fail reports through the error callback and returns the error unchanged,
// implementing the dual-notification contract.
func (c *Client) fail(err error) error {
	c.reportError(err)
	return err
}

func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.opts.Timeout > 0 {
		return context.WithTimeout(ctx, c.opts.Timeout)
	}
	return context.WithCancel(ctx)
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
