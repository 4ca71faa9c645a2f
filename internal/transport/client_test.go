package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, r chi.Router) *Client {
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", "secret-token", srv.Client(), zerolog.Nop())
}

func TestClient_GetSendsTokenAndQuery(t *testing.T) {
	// ARRANGE
	r := chi.NewRouter()
	r.Get(ClientPrefix+"/sync", func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "Bearer secret-token", req.Header.Get("Authorization"))
		assert.Equal(t, "offline", req.URL.Query().Get("set_presence"))
		w.Write([]byte(`{"next_batch":"s1"}`))
	})
	c := newTestServer(t, r)

	// ACT
	var out struct {
		NextBatch string `json:"next_batch"`
	}
	err := c.Get(context.Background(), "/sync", url.Values{"set_presence": {"offline"}}, &out)

	// ASSERT
	require.NoError(t, err)
	assert.Equal(t, "s1", out.NextBatch)
}

func TestClient_PutSendsJSONBody(t *testing.T) {
	r := chi.NewRouter()
	r.Put(ClientPrefix+"/rooms/{roomID}/state/m.room.name/", func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		assert.Equal(t, "Flat", body["name"])
		w.Write([]byte(`{"event_id":"$1"}`))
	})
	c := newTestServer(t, r)

	err := c.Put(context.Background(), "/rooms/"+PathEscape("!a:dom")+"/state/m.room.name/", nil, map[string]string{"name": "Flat"}, nil)

	require.NoError(t, err)
}

func TestClient_PostWithoutBodySendsEmptyObject(t *testing.T) {
	r := chi.NewRouter()
	r.Post(ClientPrefix+"/join/{roomID}", func(w http.ResponseWriter, req *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		assert.Empty(t, body)
		w.Write([]byte(`{"room_id":"!a:dom"}`))
	})
	c := newTestServer(t, r)

	err := c.Post(context.Background(), "/join/"+PathEscape("!a:dom"), nil, nil, nil)

	require.NoError(t, err)
}

func TestClient_RateLimitErrorSurfaced(t *testing.T) {
	r := chi.NewRouter()
	r.Get(ClientPrefix+"/sync", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"errcode":"M_LIMIT_EXCEEDED","error":"Too many requests","retry_after_ms":2000}`))
	})
	c := newTestServer(t, r)

	err := c.Get(context.Background(), "/sync", nil, nil)

	require.Error(t, err)
	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, ErrCodeLimitExceeded, e.ErrCode)
	assert.Equal(t, "Too many requests", e.Message)
	assert.True(t, IsRateLimited(err))
	assert.False(t, IsNotFound(err))
	assert.Equal(t, 2*time.Second, RetryAfter(err))
}

func TestClient_NotFound(t *testing.T) {
	r := chi.NewRouter()
	c := newTestServer(t, r)

	err := c.Post(context.Background(), "/join/x", nil, nil, nil)

	assert.True(t, IsNotFound(err))
	assert.False(t, IsRateLimited(err))
}

func TestClient_ContextCancel(t *testing.T) {
	r := chi.NewRouter()
	r.Get(ClientPrefix+"/sync", func(w http.ResponseWriter, req *http.Request) {
		<-req.Context().Done()
	})
	c := newTestServer(t, r)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.Get(ctx, "/sync", nil, nil)

	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsNotFound_WrappedAndForeign(t *testing.T) {
	wrapped := errors.Join(errors.New("ctx"), &Error{StatusCode: 403, ErrCode: ErrCodeNotFound})

	assert.True(t, IsNotFound(wrapped))
	assert.False(t, IsNotFound(errors.New("plain")))
	assert.Zero(t, RetryAfter(errors.New("plain")))
}
