package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"nano-banana/internal/genai"
)

func TestExecuteDirect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "secret", r.Header.Get("x-goog-api-key"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"a":1}`, string(body))
		w.Header().Set("content-type", "application/json")
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tr := New(Options{HTTPClient: srv.Client()})
	resp, err := tr.Execute(context.Background(), Request{
		Method:  http.MethodPost,
		URL:     srv.URL + "/x",
		Headers: map[string]string{"x-goog-api-key": "secret"},
		Body:    []byte(`{"a":1}`),
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusTeapot, resp.StatusCode)
	assert.False(t, resp.OK())
	assert.JSONEq(t, `{"ok":true}`, string(resp.Body))
}

func TestExecuteThroughProxy(t *testing.T) {
	var got Envelope
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/proxy", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"relayed":true}`))
	}))
	defer proxy.Close()

	tr := New(Options{HTTPClient: proxy.Client(), ProxyURL: proxy.URL + "/api/proxy"})
	resp, err := tr.Execute(context.Background(), Request{
		Method:  "post",
		URL:     "https://upstream.example/v1/chat/completions",
		Headers: map[string]string{"Authorization": "Bearer k"},
		Body:    []byte(`{"model":"m"}`),
	})
	require.NoError(t, err)
	assert.True(t, resp.OK())
	assert.JSONEq(t, `{"relayed":true}`, string(resp.Body))

	assert.Equal(t, "https://upstream.example/v1/chat/completions", got.TargetURL)
	assert.Equal(t, "POST", got.Method)
	assert.Equal(t, "Bearer k", got.Headers["Authorization"])
	assert.JSONEq(t, `{"model":"m"}`, string(got.Body))
}

func TestExecuteThroughProxyRejectsNonJSONBody(t *testing.T) {
	tr := New(Options{ProxyURL: "http://127.0.0.1:1/api/proxy"})
	_, err := tr.Execute(context.Background(), Request{URL: "https://x", Body: []byte("not json")})
	assert.Equal(t, genai.KindInvalidRequest, genai.KindOf(err))
}

func TestExecuteTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	tr := New(Options{HTTPClient: srv.Client(), Timeout: 50 * time.Millisecond})
	start := time.Now()
	_, err := tr.Execute(context.Background(), Request{Method: http.MethodGet, URL: srv.URL})
	require.Error(t, err)
	assert.Equal(t, genai.KindTimeout, genai.KindOf(err))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestExecuteCallerCancellationYieldsTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	tr := New(Options{HTTPClient: srv.Client()})
	_, err := tr.Execute(ctx, Request{Method: http.MethodGet, URL: srv.URL})
	assert.Equal(t, genai.KindTimeout, genai.KindOf(err))
}

func TestExecuteNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	tr := New(Options{})
	_, err := tr.Execute(context.Background(), Request{Method: http.MethodGet, URL: url})
	assert.Equal(t, genai.KindNetwork, genai.KindOf(err))
}

func TestExecuteNetworkErrorHidesQueryString(t *testing.T) {
	tr := New(Options{Timeout: 5 * time.Second})
	_, err := tr.Execute(context.Background(), Request{
		URL:  "http://127.0.0.1:1/v1beta/models/m:generateContent?key=SECRET-KEY-123",
		Body: []byte(`{}`),
	})
	require.Error(t, err)
	assert.Equal(t, genai.KindNetwork, genai.KindOf(err))
	assert.NotContains(t, err.Error(), "SECRET-KEY-123")
	assert.Contains(t, err.Error(), "127.0.0.1:1/v1beta/models/m:generateContent")
}

func TestRedactURLError(t *testing.T) {
	err := RedactURLError(&url.Error{Op: "Get", URL: "https://user:pw@host/p?key=k#frag", Err: io.EOF})
	var uerr *url.Error
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, "https://host/p", uerr.URL)
	assert.ErrorIs(t, err, io.EOF)

	plain := errors.New("boom")
	assert.Same(t, plain, RedactURLError(plain))
}

func TestExecuteMapsTaggedProxyFailure(t *testing.T) {
	for _, kind := range []genai.ErrorKind{genai.KindTimeout, genai.KindNetwork} {
		proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set(ProxyErrorHeader, string(kind))
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"error":"unreachable"}`))
		}))

		tr := New(Options{HTTPClient: proxy.Client(), ProxyURL: proxy.URL})
		_, err := tr.Execute(context.Background(), Request{URL: "https://upstream.example/x", Body: []byte(`{}`)})
		proxy.Close()
		assert.Equal(t, kind, genai.KindOf(err))
		assert.False(t, genai.IsRetryable(err))
	}
}

func TestExecuteRelaysUntaggedProxyError(t *testing.T) {
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer proxy.Close()

	tr := New(Options{HTTPClient: proxy.Client(), ProxyURL: proxy.URL})
	resp, err := tr.Execute(context.Background(), Request{URL: "https://upstream.example/x", Body: []byte(`{}`)})
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestExecuteResponseLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 100)))
	}))
	defer srv.Close()

	tr := New(Options{HTTPClient: srv.Client(), MaxResponseBytes: 10})
	_, err := tr.Execute(context.Background(), Request{Method: http.MethodGet, URL: srv.URL})
	assert.Equal(t, genai.KindMalformedResponse, genai.KindOf(err))
}

func TestNormalizeBaseURL(t *testing.T) {
	tests := map[string]string{
		"https://generativelanguage.googleapis.com":          "https://generativelanguage.googleapis.com",
		"https://generativelanguage.googleapis.com/":         "https://generativelanguage.googleapis.com",
		"https://generativelanguage.googleapis.com/v1beta":   "https://generativelanguage.googleapis.com",
		"https://generativelanguage.googleapis.com/v1beta//": "https://generativelanguage.googleapis.com",
		"https://api.example.com/v1":                         "https://api.example.com",
		"https://api.example.com/relay/v1/":                  "https://api.example.com/relay",
		"https://v1":                                         "https://v1",
		"  https://api.example.com/v10  ":                    "https://api.example.com/v10",
		"":                                                   "",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeBaseURL(in), "input %q", in)
	}
}

func TestNormalizeBaseURLIdempotent(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		host := rapid.StringMatching(`[a-z]{1,10}\.[a-z]{2,3}`).Draw(rt, "host")
		suffix := rapid.StringMatching(`(/[a-z0-9]{1,4})*(/v1|/v1beta)*/*`).Draw(rt, "suffix")
		once := NormalizeBaseURL("https://" + host + suffix)
		if twice := NormalizeBaseURL(once); twice != once {
			rt.Fatalf("not idempotent: %q -> %q", once, twice)
		}
		if strings.HasSuffix(once, "/") || strings.HasSuffix(once, "/v1") || strings.HasSuffix(once, "/v1beta") {
			rt.Fatalf("unexpected suffix in %q", once)
		}
	})
}
