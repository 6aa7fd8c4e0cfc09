// Package gatehttp monta el access gate como middleware HTTP (chi).
package gatehttp

import (
	"context"
	"net/http"
	"net/url"

	"github.com/dropDatabas3/churchgate/internal/gate"
	httpx "github.com/dropDatabas3/churchgate/internal/http"
	"github.com/dropDatabas3/churchgate/internal/metrics"
	"github.com/dropDatabas3/churchgate/internal/observability/logger"
	"go.uber.org/zap"
)

// RetryAfter en segundos para respuestas PENDING.
const RetryAfter = "1"

// StateSource entrega la vista de sesión para el request.
type StateSource interface {
	GateState(ctx context.Context) gate.State
}

// StateFunc adapta una función a StateSource.
type StateFunc func(ctx context.Context) gate.State

func (f StateFunc) GateState(ctx context.Context) gate.State { return f(ctx) }

// Middleware decide cada request con gate.Decide y lo traduce a HTTP:
// allow → next, redirect → 302, deny → 403, pending → 503 + Retry-After.
func Middleware(source StateSource, routes gate.Routes, policy gate.Policy, log *zap.Logger) func(http.Handler) http.Handler {
	log = logger.OrNamed(log, "gate")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			req := routes.Match(r.URL.Path)
			var st gate.State
			if !req.Public {
				st = source.GateState(r.Context())
			}
			v := gate.Decide(req, st, policy)
			metrics.GateVerdicts.WithLabelValues(string(v.Kind)).Inc()

			switch v.Kind {
			case gate.Allow:
				next.ServeHTTP(w, r)
				return
			case gate.Redirect:
				log.Debug("redirect", logger.Route(r.URL.Path), logger.Role(string(st.Role)),
					logger.String("to", v.Path), logger.String("reason", v.Reason))
				http.Redirect(w, r, redirectTarget(v.Path, r, policy), http.StatusFound)
			case gate.Pending:
				w.Header().Set("Retry-After", RetryAfter)
				w.Header().Set("Cache-Control", "no-store")
				httpx.WriteError(w, http.StatusServiceUnavailable, "loading", v.Reason)
			default:
				log.Info("acesso restrito", logger.Route(r.URL.Path), logger.Role(string(st.Role)),
					logger.String("reason", v.Reason))
				httpx.WriteError(w, http.StatusForbidden, "forbidden", "acesso restrito")
			}
		})
	}
}

// redirectTarget agrega ?next= solo al ir al sign-in, para volver tras el login.
func redirectTarget(path string, r *http.Request, p gate.Policy) string {
	if path != p.SignInPath {
		return path
	}
	q := url.Values{}
	q.Set("next", r.URL.RequestURI())
	return path + "?" + q.Encode()
}
