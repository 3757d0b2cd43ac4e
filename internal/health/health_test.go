package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func healthy() Pinger { return pingFunc(func(context.Context) error { return nil }) }

func TestLivenessHandler(t *testing.T) {
	hc := NewHealthCheck(nil, zap.NewNop())
	rec := httptest.NewRecorder()
	hc.LivenessHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}

func TestReadinessHandler(t *testing.T) {
	t.Run("all dependencies healthy", func(t *testing.T) {
		hc := NewHealthCheck(map[string]Pinger{
			"store": healthy(),
			"cache": nil,
		}, zap.NewNop())

		rec := httptest.NewRecorder()
		hc.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		var resp ReadinessResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, ReadinessResponse{Status: "ready", Checks: map[string]string{"store": "healthy"}}, resp)
		assert.True(t, hc.IsReady())
	})

	t.Run("a dependency is down", func(t *testing.T) {
		hc := NewHealthCheck(map[string]Pinger{
			"store": healthy(),
			"cache": pingFunc(func(context.Context) error { return errors.New("connection refused") }),
		}, zap.NewNop())

		rec := httptest.NewRecorder()
		hc.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		var resp ReadinessResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "not_ready", resp.Status)
		assert.Equal(t, map[string]string{"store": "healthy", "cache": "unhealthy"}, resp.Checks)
		assert.Equal(t, "connection refused", resp.Error)
		assert.False(t, hc.IsReady())
	})
}
