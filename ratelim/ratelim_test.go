package ratelim

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
)

func TestLimitPerIP(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	h := rl.Limit(func(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
		w.WriteHeader(http.StatusNoContent)
	})

	call := func(addr string) int {
		req := httptest.NewRequest(http.MethodPost, "/auth", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h(rec, req, nil)
		return rec.Code
	}

	assert.Equal(t, http.StatusNoContent, call("10.0.0.1:1000"))
	assert.Equal(t, http.StatusNoContent, call("10.0.0.1:2000"))
	assert.Equal(t, http.StatusTooManyRequests, call("10.0.0.1:3000"))
	assert.Equal(t, http.StatusNoContent, call("10.0.0.2:1000"))
}

func TestIdleVisitorsAreForgotten(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	now := time.Now()
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))

	now = now.Add(visitorTTL + time.Second)
	assert.True(t, rl.Allow("b"))
	rl.mu.Lock()
	_, kept := rl.visitors["a"]
	rl.mu.Unlock()
	assert.False(t, kept)
}
