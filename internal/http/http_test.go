package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestNormalizePath(t *testing.T) {
	cases := map[string]string{
		"":                   "/",
		"/":                  "/",
		"/membros/42":        "/membros/:param",
		"/membros/42/editar": "/membros/:param/editar",
		"/perfil/5b0c7a8e-3f44-4c1e-9d0e-1f1b2c3d4e5f": "/perfil/:param",
		"/auth/callback?code=x":                        "/auth/callback",
		"//inicio//":                                   "/inicio",
	}
	for in, want := range cases {
		require.Equal(t, want, normalizePath(in), in)
	}
}

func TestMetricsEndpointAndInstrumentation(t *testing.T) {
	reg := prometheus.NewRegistry()
	h, err := RegisterMetrics(MetricsConfig{Registry: reg})
	require.NoError(t, err)

	app := WithMetrics(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	app.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/membros/7", nil))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	require.True(t, strings.Contains(body, `http_requests_total{method="GET",path="/membros/:param",status="418"}`), body)
	require.Contains(t, body, "http_inflight_requests")
}

func TestMiddlewareChain(t *testing.T) {
	var order []string
	mw := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NotEmpty(t, w.Header().Get("X-Request-ID"))
		panic("boom")
	}), mw("a"), mw("b"), WithRequestID, WithRecover, WithLogging, WithSecurityHeaders)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, []string{"a", "b"}, order)
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	require.Contains(t, rr.Body.String(), "internal_error")
}
