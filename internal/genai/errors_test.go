package genai

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		kind      ErrorKind
		retryable bool
		contains  string
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":{"message":"API key not valid"}}`, KindInvalidCredential, false, "API key not valid"},
		{"forbidden", http.StatusForbidden, ``, KindAccessDenied, false, "HTTP 403 Forbidden"},
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"quota"}}`, KindRateLimited, true, "quota"},
		{"server error", http.StatusInternalServerError, `oops`, KindUpstreamUnavailable, true, "HTTP 500"},
		{"bad gateway", http.StatusBadGateway, ``, KindUpstreamUnavailable, true, "HTTP 502"},
		{"bad request structured", http.StatusBadRequest, `{"error":{"message":"Invalid argument"}}`, KindUpstreamFailure, false, "Invalid argument"},
		{"bad request raw", http.StatusBadRequest, `<html>`, KindUpstreamFailure, false, "HTTP 400 Bad Request"},
		{"unknown status", 499, ``, KindUpstreamFailure, false, "HTTP 499"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ClassifyStatus(tt.status, []byte(tt.body))
			assert.Equal(t, tt.kind, err.Kind)
			assert.Equal(t, tt.status, err.HTTPStatus)
			assert.Equal(t, tt.retryable, err.Retryable)
			assert.Contains(t, err.Message, tt.contains)
		})
	}
}

func TestKindOfAndRetryableThroughWrapping(t *testing.T) {
	base := NewError(KindRateLimited, "slow down")
	wrapped := fmt.Errorf("generate: %w", base)

	assert.Equal(t, KindRateLimited, KindOf(wrapped))
	assert.True(t, IsRetryable(wrapped))

	assert.Equal(t, ErrorKind(""), KindOf(fmt.Errorf("plain")))
	assert.False(t, IsRetryable(fmt.Errorf("plain")))
}

func TestErrorUnwrap(t *testing.T) {
	cause := fmt.Errorf("dial tcp: refused")
	err := NewError(KindNetwork, "network failure").WithCause(cause)

	require.ErrorIs(t, err, cause)
	assert.Equal(t, "[NETWORK_ERROR] network failure: dial tcp: refused", err.Error())
}

func TestTurnCloneIsDeep(t *testing.T) {
	turn := Turn{Role: RoleUser, Parts: []Part{TextPart("hi"), ImagePart("image/png", "AAAA")}}
	clone := turn.Clone()
	clone.Parts[1].Image.Data = "BBBB"
	clone.Parts[0].Text = "changed"

	assert.Equal(t, "AAAA", turn.Parts[1].Image.Data)
	assert.Equal(t, "hi", turn.Parts[0].Text)
}
