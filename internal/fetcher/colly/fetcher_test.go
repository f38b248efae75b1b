package collyfetcher

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/specialdays/internal/observance"
)

func TestFetcherGet(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "days-agent", r.UserAgent())
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>18 October</html>"))
	}))
	t.Cleanup(srv.Close)

	f := New(Config{UserAgent: "days-agent", Timeout: time.Second})
	resp, err := f.Fetch(context.Background(), observance.FetchRequest{URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "<html>18 October</html>", string(resp.Body))
	assert.Equal(t, "text/html", resp.Headers.Get("Content-Type"))
	assert.False(t, resp.UsedHeadless)
}

func TestFetcherPostWithHeaders(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if r.Method != http.MethodPost || r.Header.Get("X-Api-Key") != "k" || string(body) != `{"q":1}` {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(srv.Close)

	f := New(Config{Timeout: time.Second})
	resp, err := f.Fetch(context.Background(), observance.FetchRequest{
		URL:     srv.URL,
		Method:  "post",
		Body:    []byte(`{"q":1}`),
		Headers: http.Header{"X-Api-Key": {"k"}},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(resp.Body))
}

func TestFetcherStatusError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	f := New(Config{Timeout: time.Second})
	_, err := f.Fetch(context.Background(), observance.FetchRequest{URL: srv.URL})
	require.Error(t, err)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.Code)
	assert.Contains(t, statusErr.Body, "gone")
}

func TestFetcherContextCanceled(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	f := New(Config{Timeout: 5 * time.Second})
	_, err := f.Fetch(ctx, observance.FetchRequest{URL: srv.URL})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFetcherRobotsBlockIsNotSent(t *testing.T) {
	t.Parallel()

	var apiHits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			_, _ = w.Write([]byte("User-agent: *\nDisallow: /api/\n"))
			return
		}
		apiHits.Add(1)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(srv.Close)

	polite := New(Config{RespectRobots: true, Timeout: time.Second})
	_, err := polite.Fetch(context.Background(), observance.FetchRequest{URL: srv.URL + "/api/holidays?day=1"})
	require.ErrorIs(t, err, observance.ErrRequestNotSent)
	require.ErrorIs(t, err, colly.ErrRobotsTxtBlocked)
	assert.Zero(t, apiHits.Load())

	api := New(Config{RespectRobots: false, Timeout: time.Second})
	resp, err := api.Fetch(context.Background(), observance.FetchRequest{URL: srv.URL + "/api/holidays?day=1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(resp.Body))
	assert.EqualValues(t, 1, apiHits.Load())
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	req := observance.FetchRequest{
		URL:     "https://example.com",
		Headers: http.Header{"X-Trace": {"yes"}},
	}
	var result observance.FetchResponse
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, req, time.Unix(0, 0), &result, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	assert.Equal(t, "yes", collyReq.Headers.Get("X-Trace"))

	u, err := url.Parse("https://example.com")
	require.NoError(t, err)
	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusCreated,
		Body:       []byte("body"),
		Headers:    &http.Header{"X-Resp": {"ok"}},
		Request:    &colly.Request{URL: u},
	})
	assert.Equal(t, http.StatusCreated, result.StatusCode)
	assert.Equal(t, "body", string(result.Body))
	assert.Equal(t, "ok", result.Headers.Get("X-Resp"))

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")

	hooks.onError(&colly.Response{StatusCode: http.StatusBadGateway, Body: []byte("upstream")}, errors.New("bad gateway"))
	var statusErr *StatusError
	require.ErrorAs(t, fetchErr, &statusErr)
	assert.Equal(t, http.StatusBadGateway, statusErr.Code)
}

func TestBuildCollectorRobots(t *testing.T) {
	t.Parallel()

	f := New(Config{UserAgent: "coverage-agent", RespectRobots: true})
	collector := f.buildCollector(context.Background(), observance.FetchRequest{}, time.Unix(0, 0), &observance.FetchResponse{}, new(error))
	assert.Equal(t, "coverage-agent", collector.UserAgent)
	assert.False(t, collector.IgnoreRobotsTxt)

	f = New(Config{})
	collector = f.buildCollector(context.Background(), observance.FetchRequest{}, time.Unix(0, 0), &observance.FetchResponse{}, new(error))
	assert.True(t, collector.IgnoreRobotsTxt)
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback)   { s.onRequest = cb }
func (s *stubHooks) OnResponse(cb colly.ResponseCallback) { s.onResponse = cb }
func (s *stubHooks) OnError(cb colly.ErrorCallback)       { s.onError = cb }
