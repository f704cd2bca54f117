// ABOUTME: Tests for the unary HTTP calls: headers, bodies, error mapping, dual notification.
// ABOUTME: Runs against httptest servers; no network access.

package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(baseURL string) *Client {
	return New(Options{
		BaseURL:    baseURL,
		APIKey:     "test-key",
		AgentID:    "agent-a",
		AgentName:  "Agent A",
		Credential: "secret",
	}, discardLogger())
}

func TestRegisterAgent(t *testing.T) {
	var gotBody map[string]string
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/agents/register", r.URL.Path)
		gotKey = r.Header.Get("X-API-Key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	require.NoError(t, c.RegisterAgent(context.Background()))
	assert.Equal(t, "test-key", gotKey)
	assert.Equal(t, "secret", gotBody["credential"])
	assert.Equal(t, "Agent A", gotBody["name"])
}

func TestRegisterAgent_ConflictIsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"already registered"}`, http.StatusConflict)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	errs := make(chan error, 1)
	c.OnError(func(err error) { errs <- err })

	assert.NoError(t, c.RegisterAgent(context.Background()))
	assert.Empty(t, errs, "conflict must not be reported as an error")
}

func TestRegisterAgent_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	errs := make(chan error, 1)
	c.OnError(func(err error) { errs <- err })

	err := c.RegisterAgent(context.Background())
	require.Error(t, err)

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusInternalServerError, httpErr.StatusCode)
	assert.Contains(t, httpErr.Body, "boom")

	// The same failure goes through the callback too.
	select {
	case cbErr := <-errs:
		assert.ErrorAs(t, cbErr, &httpErr)
	default:
		t.Fatal("error callback not invoked")
	}
}

func TestSendMessage(t *testing.T) {
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/messages", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]string{"messageId": "msg-42"})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	id, err := c.SendMessage(context.Background(), SendMessageRequest{
		To:             "agent-b",
		Content:        "hello",
		ConversationID: "conv-1",
		ReplyTo:        "msg-7",
	})
	require.NoError(t, err)
	assert.Equal(t, "msg-42", id)
	assert.Equal(t, map[string]string{
		"toAgentId":      "agent-b",
		"content":        "hello",
		"credential":     "secret",
		"conversationId": "conv-1",
		"replyTo":        "msg-7",
	}, gotBody)
}

func TestSendMessage_OmitsEmptyThreadFields(t *testing.T) {
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]string{"messageId": "msg-1"})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.SendMessage(context.Background(), SendMessageRequest{To: "agent-b", Content: "hi"})
	require.NoError(t, err)
	assert.NotContains(t, gotBody, "conversationId")
	assert.NotContains(t, gotBody, "replyTo")
}

func TestGetMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/messages", r.URL.Path)
		require.Equal(t, "150", r.URL.Query().Get("since"))
		require.Equal(t, "secret", r.URL.Query().Get("credential"))
		json.NewEncoder(w).Encode(map[string]any{
			"messages": []Message{
				{ID: "m1", FromAgentID: "b", ToAgentID: "agent-a", Content: "x", Timestamp: 200},
			},
		})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	msgs, err := c.GetMessages(context.Background(), 150)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, int64(200), msgs[0].Timestamp)
}

func TestGetAgent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/agents/agent-b", r.URL.Path)
		json.NewEncoder(w).Encode(Agent{
			Address:      "0xabc",
			Name:         "Bravo",
			Reputation:   7,
			IsActive:     true,
			RegisteredAt: 1700000000000,
		})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	a, err := c.GetAgent(context.Background(), "agent-b")
	require.NoError(t, err)
	assert.Equal(t, "0xabc", a.Address)
	assert.Equal(t, "Bravo", a.Name)
	assert.True(t, a.IsActive)
}

func TestListAgents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/agents", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"agents": []Agent{{Address: "0x1"}, {Address: "0x2"}},
		})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	agents, err := c.ListAgents(context.Background())
	require.NoError(t, err)
	assert.Len(t, agents, 2)
}

func TestHTTPError_Error(t *testing.T) {
	assert.Equal(t, "api returned status 503", (&HTTPError{StatusCode: 503}).Error())
	assert.Equal(t, "api returned status 400: bad field", (&HTTPError{StatusCode: 400, Body: "bad field"}).Error())
}

func TestDoJSON_TransportFailureIsNotHTTPError(t *testing.T) {
	c := newTestClient("http://127.0.0.1:1")

	_, err := c.ListAgents(context.Background())
	require.Error(t, err)

	var httpErr *HTTPError
	assert.False(t, errors.As(err, &httpErr))
}
