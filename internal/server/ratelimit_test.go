package server

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter(t *testing.T) {
	limiter := NewRateLimiter(1, 2)

	assert.True(t, limiter.Allow("10.0.0.1"))
	assert.True(t, limiter.Allow("10.0.0.1"))
	assert.False(t, limiter.Allow("10.0.0.1"))
	assert.True(t, limiter.Allow("10.0.0.2"))

	limiter.mu.Lock()
	limiter.clients["10.0.0.1"].lastSeen = time.Now().Add(-2 * time.Hour)
	limiter.mu.Unlock()

	assert.Equal(t, 1, limiter.CleanupOldClients(time.Hour))
	assert.True(t, limiter.Allow("10.0.0.1"))
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "203.0.113.9:5555"
	assert.Equal(t, "203.0.113.9", getClientIP(req))

	req.Header.Set("X-Real-IP", "198.51.100.2")
	assert.Equal(t, "198.51.100.2", getClientIP(req))

	req.Header.Set("X-Forwarded-For", "192.0.2.7, 10.0.0.1")
	assert.Equal(t, "192.0.2.7", getClientIP(req))
}
