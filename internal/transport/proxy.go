package transport

import (
	"encoding/json"
	"errors"
	"strings"
)

// ProxyErrorHeader marks a proxy reply that reports its own failure to reach the
// target rather than relaying an upstream response. The value is the error kind.
const ProxyErrorHeader = "X-Proxy-Error"

// Envelope is the body POSTed to the same-origin proxy, which replays it upstream.
type Envelope struct {
	TargetURL string            `json:"targetUrl"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers,omitempty"`
	Body      json.RawMessage   `json:"body,omitempty"`
}

func NewEnvelope(method, targetURL string, headers map[string]string, body []byte) Envelope {
	return Envelope{
		TargetURL: targetURL,
		Method:    strings.ToUpper(method),
		Headers:   headers,
		Body:      body,
	}
}

// Marshal fails when the body is not JSON, since the proxy re-encodes it as JSON.
func (e Envelope) Marshal() ([]byte, error) {
	if len(e.Body) > 0 && !json.Valid(e.Body) {
		return nil, errors.New("proxy envelope body must be JSON")
	}
	return json.Marshal(e)
}
