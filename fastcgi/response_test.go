package fastcgi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestResponseSplitsHeadersAndBody(t *testing.T) {
	resp := newResponse(
		[]byte("Status: 404 Not Found\r\nContent-Type: text/html\r\nX-Powered-By: PHP\r\n\r\n<h1>missing</h1>\n\nmore"),
		[]byte("PHP Notice"),
		1500*time.Millisecond,
	)

	assert.Equal(t, 404, resp.StatusCode())
	assert.Equal(t, "text/html", resp.Header("content-type"))
	assert.Equal(t, "PHP", resp.Headers().Get("X-Powered-By"))
	assert.Equal(t, "<h1>missing</h1>\n\nmore", resp.Body())
	assert.Equal(t, "PHP Notice", resp.ErrorOutput())
	assert.Equal(t, 1.5, resp.ElapsedSeconds())
}

func TestResponseWithoutHeaders(t *testing.T) {
	resp := newResponse([]byte("just a body"), nil, time.Millisecond)

	assert.Equal(t, "just a body", resp.Body())
	assert.Empty(t, resp.Headers())
	assert.Equal(t, 200, resp.StatusCode())
}

func TestResponseHeadersAreCopied(t *testing.T) {
	resp := newResponse([]byte("A: 1\n\nbody"), nil, 0)

	resp.Headers().Set("A", "2")
	assert.Equal(t, "1", resp.Header("A"))
	assert.Equal(t, "body", resp.Body())
}
