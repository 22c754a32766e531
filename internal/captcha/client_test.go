package captcha

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSolver struct {
	submit func(r *http.Request) apiResponse
	poll   func(n int) apiResponse
	polls  atomic.Int32
}

func (f *fakeSolver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var res apiResponse
	switch r.URL.Path {
	case "/in.php":
		res = f.submit(r)
	case "/res.php":
		res = f.poll(int(f.polls.Add(1)))
	default:
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_ = json.NewEncoder(w).Encode(res)
}

func accepted(*http.Request) apiResponse { return apiResponse{Status: 1, Request: "ticket-1"} }

func newClient(t *testing.T, f *fakeSolver, maxPolls int) *Client {
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		APIKey:       "key",
		BaseURL:      srv.URL,
		PollInterval: time.Millisecond,
		MaxPolls:     maxPolls,
	})
}

func TestSolve(t *testing.T) {
	f := &fakeSolver{
		submit: func(r *http.Request) apiResponse {
			assert.NoError(t, r.ParseForm())
			assert.Equal(t, "userrecaptcha", r.PostForm.Get("method"))
			assert.Equal(t, "site-key", r.PostForm.Get("googlekey"))
			assert.Equal(t, "https://portal.example/", r.PostForm.Get("pageurl"))
			assert.Equal(t, "key", r.PostForm.Get("key"))
			return accepted(r)
		},
		poll: func(n int) apiResponse {
			if n < 3 {
				return apiResponse{Status: 0, Request: "CAPCHA_NOT_READY"}
			}
			return apiResponse{Status: 1, Request: "token-abc"}
		},
	}
	c := newClient(t, f, 20)

	token, err := c.Solve(context.Background(), "https://portal.example/", "site-key")
	require.NoError(t, err)
	require.Equal(t, "token-abc", token)
	require.EqualValues(t, 3, f.polls.Load())
}

func TestSolveSubmitRejected(t *testing.T) {
	f := &fakeSolver{
		submit: func(*http.Request) apiResponse { return apiResponse{Status: 0, Request: "ERROR_WRONG_USER_KEY"} },
		poll:   func(int) apiResponse { return apiResponse{} },
	}
	c := newClient(t, f, 20)

	_, err := c.Solve(context.Background(), "https://portal.example/", "site-key")
	require.ErrorIs(t, err, ErrSubmitRejected)
	require.ErrorContains(t, err, "ERROR_WRONG_USER_KEY")
	require.Zero(t, f.polls.Load())
}

func TestSolveErrorStopsPolling(t *testing.T) {
	f := &fakeSolver{
		submit: accepted,
		poll: func(n int) apiResponse {
			if n == 3 {
				return apiResponse{Status: 0, Request: "ERROR_CAPTCHA_UNSOLVABLE"}
			}
			return apiResponse{Status: 0, Request: "CAPCHA_NOT_READY"}
		},
	}
	c := newClient(t, f, 20)

	_, err := c.Solve(context.Background(), "https://portal.example/", "site-key")
	require.ErrorIs(t, err, ErrSolver)
	require.NotErrorIs(t, err, ErrTimeout)
	require.EqualValues(t, 3, f.polls.Load())
}

func TestSolveTimeout(t *testing.T) {
	f := &fakeSolver{
		submit: accepted,
		poll:   func(int) apiResponse { return apiResponse{Status: 0, Request: "CAPCHA_NOT_READY"} },
	}
	c := newClient(t, f, 4)

	_, err := c.Solve(context.Background(), "https://portal.example/", "site-key")
	require.ErrorIs(t, err, ErrTimeout)
	require.NotErrorIs(t, err, ErrSolver)
	require.EqualValues(t, 4, f.polls.Load())
}

func TestSolveUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	c := NewClient(Config{BaseURL: srv.URL, PollInterval: time.Millisecond, MaxPolls: 1})

	_, err := c.Solve(context.Background(), "https://portal.example/", "site-key")
	require.ErrorIs(t, err, ErrUnavailable)
}
