// ABOUTME: Tests for the delivery lifecycle and the polling watermark cursor.
// ABOUTME: Drives pollOnce directly where timing would otherwise dominate the test.

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pollServer serves /agents/register and a scripted /messages response that
// the test can swap between polls.
type pollServer struct {
	mu   sync.Mutex
	msgs []Message
	// since values observed on /messages
	sinces []int64
}

func (ps *pollServer) setMessages(msgs []Message) {
	ps.mu.Lock()
	ps.msgs = msgs
	ps.mu.Unlock()
}

func (ps *pollServer) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/agents/register":
			w.WriteHeader(http.StatusOK)
		case "/messages":
			ps.mu.Lock()
			since, _ := strconv.ParseInt(r.URL.Query().Get("since"), 10, 64)
			ps.sinces = append(ps.sinces, since)
			msgs := ps.msgs
			ps.mu.Unlock()
			json.NewEncoder(w).Encode(map[string]any{"messages": msgs})
		default:
			http.NotFound(w, r)
		}
	})
}

func TestPollOnce_DeliversAndAdvancesWatermark(t *testing.T) {
	ps := &pollServer{msgs: []Message{
		{ID: "m1", ToAgentID: "agent-a", Content: "first", Timestamp: 100},
		{ID: "m2", ToAgentID: "agent-a", Content: "second", Timestamp: 200},
	}}
	srv := httptest.NewServer(ps.handler())
	defer srv.Close()

	c := newTestClient(srv.URL)
	var got []Message
	c.OnMessage(func(m Message) { got = append(got, m) })

	c.pollOnce()

	require.Len(t, got, 2)
	assert.Equal(t, "m1", got[0].ID)
	assert.Equal(t, "m2", got[1].ID)
	assert.Equal(t, int64(200), c.Watermark())

	// An empty follow-up poll asks past the watermark and delivers nothing.
	ps.setMessages(nil)
	c.pollOnce()
	assert.Len(t, got, 2)

	ps.mu.Lock()
	defer ps.mu.Unlock()
	require.Len(t, ps.sinces, 2)
	assert.Equal(t, int64(0), ps.sinces[0])
	assert.Equal(t, int64(200), ps.sinces[1])
}

func TestPollOnce_SkipsStaleTimestamps(t *testing.T) {
	ps := &pollServer{msgs: []Message{
		{ID: "m2", ToAgentID: "agent-a", Timestamp: 200},
	}}
	srv := httptest.NewServer(ps.handler())
	defer srv.Close()

	c := newTestClient(srv.URL)
	var got []Message
	c.OnMessage(func(m Message) { got = append(got, m) })

	c.pollOnce()
	require.Len(t, got, 1)

	// A server replaying an already-delivered timestamp alongside a newer one.
	ps.setMessages([]Message{
		{ID: "m1-replay", ToAgentID: "agent-a", Timestamp: 150},
		{ID: "m3", ToAgentID: "agent-a", Timestamp: 300},
	})
	c.pollOnce()

	require.Len(t, got, 2)
	assert.Equal(t, "m3", got[1].ID)
	assert.Equal(t, int64(300), c.Watermark())
}

func TestPollOnce_ErrorReportsAndKeepsWatermark(t *testing.T) {
	var failing atomic.Bool
	ps := &pollServer{msgs: []Message{{ID: "m1", ToAgentID: "agent-a", Timestamp: 100}}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() && r.URL.Path == "/messages" {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		ps.handler().ServeHTTP(w, r)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	errs := make(chan error, 1)
	c.OnError(func(err error) { errs <- err })
	c.OnMessage(func(Message) {})

	c.pollOnce()
	require.Equal(t, int64(100), c.Watermark())

	failing.Store(true)
	c.pollOnce()

	select {
	case err := <-errs:
		var httpErr *HTTPError
		assert.ErrorAs(t, err, &httpErr)
	default:
		t.Fatal("poll failure not reported")
	}
	assert.Equal(t, int64(100), c.Watermark())
}

func TestStart_PollLoopDeliversOnTicks(t *testing.T) {
	ps := &pollServer{msgs: []Message{{ID: "m1", ToAgentID: "agent-a", Timestamp: 100}}}
	srv := httptest.NewServer(ps.handler())
	defer srv.Close()

	c := New(Options{
		BaseURL:      srv.URL,
		AgentID:      "agent-a",
		AgentName:    "Agent A",
		Credential:   "secret",
		PollInterval: 10 * time.Millisecond,
	}, discardLogger())
	defer c.Stop()

	msgs := make(chan Message, 4)
	c.OnMessage(func(m Message) { msgs <- m })

	require.NoError(t, c.Start(context.Background()))

	select {
	case m := <-msgs:
		assert.Equal(t, "m1", m.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("polled message never delivered")
	}
}

func TestStart_Twice(t *testing.T) {
	srv := httptest.NewServer((&pollServer{}).handler())
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL, AgentID: "agent-a", PollInterval: time.Hour}, discardLogger())
	defer c.Stop()

	require.NoError(t, c.Start(context.Background()))
	assert.Error(t, c.Start(context.Background()))
}

func TestStart_RegistrationFailureAllowsRetry(t *testing.T) {
	var failing atomic.Bool
	failing.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			http.Error(w, "down", http.StatusInternalServerError)
			return
		}
		(&pollServer{}).handler().ServeHTTP(w, r)
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL, AgentID: "agent-a", PollInterval: time.Hour}, discardLogger())
	c.OnError(func(error) {})
	defer c.Stop()

	require.Error(t, c.Start(context.Background()))

	failing.Store(false)
	assert.NoError(t, c.Start(context.Background()))
}

func TestStop_Idempotent(t *testing.T) {
	srv := httptest.NewServer((&pollServer{}).handler())
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL, AgentID: "agent-a", PollInterval: time.Hour}, discardLogger())
	require.NoError(t, c.Start(context.Background()))

	c.Stop()
	c.Stop()

	// Stop before Start is also a no-op.
	fresh := New(Options{BaseURL: srv.URL}, discardLogger())
	fresh.Stop()
}
