package lichess

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient("test-token", 100*time.Millisecond, zerolog.Nop())
	c.baseURL = srv.URL
	c.pollInterval = 10 * time.Millisecond
	return c, srv
}

func TestClientSendsBearerToken(t *testing.T) {
	var auth string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
	}))

	require.NoError(t, c.SendMove(context.Background(), "game1", "e2e4"))
	assert.Equal(t, "Bearer test-token", auth)
}

func TestClientRequestError(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"Not your turn"}`))
	}))

	err := c.SendMove(context.Background(), "game1", "e2e4")
	var reqErr *RequestError
	require.True(t, errors.As(err, &reqErr))
	assert.Equal(t, http.StatusBadRequest, reqErr.StatusCode)
	assert.Contains(t, reqErr.Body, "Not your turn")
}

func TestClientRateLimitBlocksAllCalls(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
	}))

	// The throttling response fails the call and opens the cooldown window.
	err := c.SendMove(context.Background(), "game1", "e2e4")
	require.True(t, errors.Is(err, ErrRateLimited))
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))

	// While the window is open no request leaves the process, even from a
	// caller that had nothing to do with the throttled one.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err = c.SendChat(ctx, "game2", "hello", "player")
	require.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))

	// Once the cooldown elapses exactly one call goes through.
	time.Sleep(120 * time.Millisecond)
	require.NoError(t, c.SendMove(context.Background(), "game1", "e2e4"))
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestClientAccount(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/account", r.URL.Path)
		w.Write([]byte(`{"id":"mybot","username":"MyBot","perfs":{"bullet":{"rating":1731,"games":427}}}`))
	}))

	acct, err := c.Account(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "mybot", acct.ID)

	rating, ok := acct.Rating("bullet")
	require.True(t, ok)
	assert.Equal(t, 1731, rating)

	_, ok = acct.Rating("blitz")
	assert.False(t, ok)
}

func TestClientOnlineBotsSkipsMalformedLines(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "200", r.URL.Query().Get("nb"))
		w.Write([]byte(`{"id":"alpha","username":"Alpha","perfs":{"bullet":{"rating":1500}}}` + "\n"))
		w.Write([]byte("{not json\n"))
		w.Write([]byte("\n"))
		w.Write([]byte(`{"id":"beta","username":"Beta","perfs":{"bullet":{"rating":1600}}}` + "\n"))
	}))

	bots, err := c.OnlineBots(context.Background(), 200)
	require.NoError(t, err)
	require.Len(t, bots, 2)
	assert.Equal(t, "alpha", bots[0].ID)
	assert.Equal(t, "beta", bots[1].ID)
}
