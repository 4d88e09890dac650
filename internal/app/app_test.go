package app

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xenking/course-checkout/pkg/health"
)

func TestServerRouter(t *testing.T) {
	h := health.New()
	h.SetReady(true)
	srv := &server{health: h}

	api := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	router := srv.router(api)

	tests := []struct {
		path string
		want int
	}{
		{path: "/livez", want: http.StatusOK},
		{path: "/readyz", want: http.StatusOK},
		{path: "/api/checkout/sessions/abc", want: http.StatusTeapot},
		{path: "/wallet", want: http.StatusTeapot},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.want, w.Code)
		})
	}

	h.SetReady(false)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestIsProbe(t *testing.T) {
	assert.True(t, isProbe(httptest.NewRequest(http.MethodGet, "/livez", nil)))
	assert.True(t, isProbe(httptest.NewRequest(http.MethodGet, "/readyz", nil)))
	assert.False(t, isProbe(httptest.NewRequest(http.MethodGet, "/api/checkout/sessions", nil)))
}
