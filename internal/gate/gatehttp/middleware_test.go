package gatehttp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dropDatabas3/churchgate/internal/domain/types"
	"github.com/dropDatabas3/churchgate/internal/gate"
	"github.com/dropDatabas3/churchgate/internal/identity"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRouter(st gate.State) http.Handler {
	r := chi.NewRouter()
	r.Use(Middleware(StateFunc(func(context.Context) gate.State { return st }),
		gate.DefaultRoutes(), gate.DefaultPolicy(), zap.NewNop()))
	ok := func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }
	for _, p := range []string{"/login", "/inicio", "/financeiro", "/membros/{id}", "/mfa/challenge", "/dashboard"} {
		r.Get(p, ok)
	}
	return r
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func TestMiddleware_PublicSkipsState(t *testing.T) {
	called := false
	h := Middleware(StateFunc(func(context.Context) gate.State {
		called = true
		return gate.State{}
	}), gate.DefaultRoutes(), gate.DefaultPolicy(), nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rr := get(h, "/login")
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.False(t, called)
}

func TestMiddleware_AnonymousRedirectsToSignIn(t *testing.T) {
	rr := get(newRouter(gate.State{}), "/membros/9?tab=x")
	require.Equal(t, http.StatusFound, rr.Code)
	require.Equal(t, "/login?next=%2Fmembros%2F9%3Ftab%3Dx", rr.Header().Get("Location"))
}

func TestMiddleware_LoadingIsPending(t *testing.T) {
	rr := get(newRouter(gate.State{Loading: true}), "/inicio")
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.Equal(t, RetryAfter, rr.Header().Get("Retry-After"))
}

func TestMiddleware_RoleRedirectAndAllow(t *testing.T) {
	member := gate.State{Authenticated: true, HasProfile: true, Role: types.RoleMembro}
	rr := get(newRouter(member), "/financeiro")
	require.Equal(t, http.StatusFound, rr.Code)
	require.Equal(t, "/inicio", rr.Header().Get("Location"))

	rr = get(newRouter(member), "/inicio")
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestMiddleware_MandatoryMFA(t *testing.T) {
	fin := gate.State{Authenticated: true, HasProfile: true, Role: types.RoleFinanceiro,
		MFA: gate.MFA{HasVerifiedFactor: true, AAL: identity.AAL1}}
	rr := get(newRouter(fin), "/financeiro")
	require.Equal(t, http.StatusFound, rr.Code)
	require.Equal(t, "/mfa/challenge", rr.Header().Get("Location"))

	require.Equal(t, http.StatusOK, get(newRouter(fin), "/mfa/challenge").Code)

	fin.MFA.Remembered = true
	require.Equal(t, http.StatusOK, get(newRouter(fin), "/financeiro").Code)
}

func TestMiddleware_DenyWithoutProfile(t *testing.T) {
	st := gate.State{Authenticated: true}
	rr := get(newRouter(st), "/dashboard")
	require.Equal(t, http.StatusForbidden, rr.Code)
	require.Contains(t, rr.Body.String(), "acesso restrito")
}
