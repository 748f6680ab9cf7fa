package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"nano-banana/internal/genai"
	"nano-banana/internal/httpclient"
)

const defaultMaxResponseBytes = 64 << 20

type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (r Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

type Options struct {
	HTTPClient *http.Client
	// ProxyURL, when set, receives every call wrapped in an Envelope.
	ProxyURL         string
	Timeout          time.Duration
	MaxResponseBytes int64
	Logger           *slog.Logger
}

type Transport struct {
	httpClient *http.Client
	proxyURL   string
	timeout    time.Duration
	maxBytes   int64
	logger     *slog.Logger
}

func New(opts Options) *Transport {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = httpclient.DefaultTimeout
	}

	client := opts.HTTPClient
	if client == nil {
		client = httpclient.New(httpclient.Options{Timeout: timeout})
	}

	maxBytes := opts.MaxResponseBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxResponseBytes
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Transport{
		httpClient: client,
		proxyURL:   opts.ProxyURL,
		timeout:    timeout,
		maxBytes:   maxBytes,
		logger:     logger,
	}
}

// Execute performs one call within the configured time budget. Any non-2xx status is
// returned as a Response for the caller to classify; only transport failures are errors.
func (t *Transport) Execute(ctx context.Context, req Request) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	httpReq, err := t.newRequest(ctx, req)
	if err != nil {
		return Response{}, err
	}

	start := time.Now()
	httpResp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return Response{}, ClassifyError(ctx, err)
	}
	defer httpResp.Body.Close()

	if t.proxyURL != "" {
		if kind := genai.ErrorKind(httpResp.Header.Get(ProxyErrorHeader)); kind == genai.KindTimeout || kind == genai.KindNetwork {
			msg, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
			return Response{}, genai.NewError(kind, "proxy could not reach the upstream").
				WithCause(errors.New(string(bytes.TrimSpace(msg))))
		}
	}

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, t.maxBytes+1))
	if err != nil {
		return Response{}, ClassifyError(ctx, err)
	}
	if int64(len(body)) > t.maxBytes {
		return Response{}, genai.NewError(genai.KindMalformedResponse,
			fmt.Sprintf("response exceeds %d bytes", t.maxBytes))
	}

	t.logger.Debug("upstream call",
		"method", req.Method,
		"proxied", t.proxyURL != "",
		"status", httpResp.StatusCode,
		"bytes", len(body),
		"dur_ms", time.Since(start).Milliseconds(),
	)

	return Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       body,
	}, nil
}

func (t *Transport) newRequest(ctx context.Context, req Request) (*http.Request, error) {
	method := req.Method
	if method == "" {
		method = http.MethodPost
	}

	if t.proxyURL != "" {
		payload, err := NewEnvelope(method, req.URL, req.Headers, req.Body).Marshal()
		if err != nil {
			return nil, genai.NewError(genai.KindInvalidRequest, "cannot wrap request for proxy").WithCause(err)
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.proxyURL, bytes.NewReader(payload))
		if err != nil {
			return nil, genai.NewError(genai.KindInvalidRequest, "invalid proxy url").WithCause(err)
		}
		httpReq.Header.Set("content-type", "application/json")
		return httpReq, nil
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, genai.NewError(genai.KindInvalidRequest, "invalid request url").WithCause(err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	return httpReq, nil
}

// ClassifyError maps a failed round trip to TIMEOUT or NETWORK_ERROR. The cause has
// the query string stripped from its URL, since keys travel there.
func ClassifyError(ctx context.Context, err error) *genai.Error {
	var netErr net.Error
	timedOut := ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout())
	err = RedactURLError(err)
	if timedOut {
		return genai.NewError(genai.KindTimeout, "request timed out or was cancelled before the upstream responded").WithCause(err)
	}
	return genai.NewError(genai.KindNetwork, "network failure while contacting upstream").WithCause(err)
}

// RedactURLError rewrites a *url.Error so its URL carries no query, fragment or userinfo.
func RedactURLError(err error) error {
	var uerr *url.Error
	if !errors.As(err, &uerr) {
		return err
	}
	clean := ""
	if u, perr := url.Parse(uerr.URL); perr == nil {
		u.RawQuery, u.Fragment, u.User = "", "", nil
		clean = u.String()
	}
	return &url.Error{Op: uerr.Op, URL: clean, Err: uerr.Err}
}

// Executor is satisfied by *Transport; drivers depend on it so tests can stub calls.
type Executor interface {
	Execute(ctx context.Context, req Request) (Response, error)
}
