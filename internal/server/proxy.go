package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"nano-banana/internal/genai"
	"nano-banana/internal/transport"
)

// hop-by-hop or re-encoded by net/http; relaying them would corrupt the reply.
var excludedResponseHeaders = map[string]bool{
	"content-encoding":  true,
	"transfer-encoding": true,
	"connection":        true,
}

type proxyRequest struct {
	TargetURL string            `json:"targetUrl"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers"`
	Body      json.RawMessage   `json:"body"`
}

func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	var in proxyRequest
	// A malformed envelope is treated like an empty one, which then fails on targetUrl.
	_ = json.NewDecoder(r.Body).Decode(&in)

	if strings.TrimSpace(in.TargetURL) == "" {
		writeError(w, http.StatusBadRequest, "targetUrl is required")
		return
	}
	target, err := url.Parse(in.TargetURL)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		writeError(w, http.StatusBadRequest, "targetUrl must be an absolute http(s) URL")
		return
	}
	if s.allowedHosts != nil && !s.allowedHosts[target.Hostname()] {
		writeError(w, http.StatusForbidden, "target host is not allowed")
		return
	}

	method := strings.ToUpper(strings.TrimSpace(in.Method))
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader
	hasBody := method != http.MethodGet && len(in.Body) > 0 && string(in.Body) != "null"
	if hasBody {
		body = bytes.NewReader(in.Body)
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.proxyTimeout)
	defer cancel()

	upReq, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	for k, v := range in.Headers {
		switch strings.ToLower(k) {
		case "host", "content-length":
			continue
		}
		upReq.Header.Set(k, v)
	}
	if hasBody && upReq.Header.Get("content-type") == "" {
		upReq.Header.Set("content-type", "application/json")
	}

	resp, err := s.proxyClient.Do(upReq)
	if err != nil {
		s.writeProxyFailure(w, transport.ClassifyError(ctx, err), method, target.Host)
		return
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		s.writeProxyFailure(w, transport.ClassifyError(ctx, err), method, target.Host)
		return
	}

	for k, values := range resp.Header {
		if excludedResponseHeaders[strings.ToLower(k)] {
			continue
		}
		for _, v := range values {
			w.Header().Add(k, v)
		}
	}
	// net/http recomputes the length of the decoded body.
	w.Header().Del("content-length")
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(payload)
}

// writeProxyFailure tags the reply so a proxied transport can rebuild the same error
// kind a direct call would have produced.
func (s *Server) writeProxyFailure(w http.ResponseWriter, gerr *genai.Error, method, host string) {
	s.logger.Error("proxy request failed", "method", method, "host", host, "kind", gerr.Kind, "err", gerr)
	status := http.StatusBadGateway
	if gerr.Kind == genai.KindTimeout {
		status = http.StatusGatewayTimeout
	}
	w.Header().Set(transport.ProxyErrorHeader, string(gerr.Kind))
	writeError(w, status, gerr.Error())
}
