package httpclient

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	c := New(Options{})
	assert.Equal(t, DefaultTimeout, c.Timeout)

	tr, ok := c.Transport.(*http.Transport)
	require.True(t, ok)
	assert.Equal(t, 15*time.Second, tr.TLSHandshakeTimeout)

	assert.Equal(t, 42*time.Second, New(Options{Timeout: 42 * time.Second}).Timeout)
}

func TestDialNetwork(t *testing.T) {
	assert.Equal(t, "tcp4", dialNetwork("tcp", true))
	assert.Equal(t, "tcp", dialNetwork("tcp", false))
	assert.Equal(t, "tcp6", dialNetwork("tcp6", true))
}

func TestClientReachesLoopback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	resp, err := New(Options{PreferIPv4: true, DialTimeout: time.Second}).Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}
