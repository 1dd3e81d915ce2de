package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHealthHandler(t *testing.T) {
	healthy := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	tests := []struct {
		name   string
		checks map[string]HealthFunc
		status int
	}{
		{"no checks", nil, http.StatusOK},
		{"all healthy", map[string]HealthFunc{"postgres": healthy}, http.StatusOK},
		{"one down", map[string]HealthFunc{"postgres": healthy, "redis": down}, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			healthHandler(tt.checks).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
			assert.Equal(t, tt.status, rr.Code)
		})
	}
}
