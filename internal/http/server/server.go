// Package server arma el router chi del dashboard: endpoints de auth, /me,
// /metrics y el resto de las páginas detrás del access gate.
package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/dropDatabas3/churchgate/internal/gate"
	"github.com/dropDatabas3/churchgate/internal/gate/gatehttp"
	httpx "github.com/dropDatabas3/churchgate/internal/http"
	"github.com/dropDatabas3/churchgate/internal/observability/logger"
	"github.com/dropDatabas3/churchgate/internal/session"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Deps del router.
type Deps struct {
	Session *session.Manager
	Routes  gate.Routes
	Policy  gate.Policy
	// PublicURL es la base absoluta del dashboard (sin barra final).
	PublicURL string
	// Metrics es el handler de /metrics (opcional).
	Metrics http.Handler
	// BaseContext vive lo que vive el proceso; se usa para remontar la sesión.
	BaseContext context.Context
	Logger      *zap.Logger
}

type handlers struct {
	sess      *session.Manager
	policy    gate.Policy
	publicURL string
	base      context.Context
	log       *zap.Logger
}

// New retorna el handler raíz.
func New(d Deps) http.Handler {
	log := logger.OrNamed(d.Logger, "http")
	if d.BaseContext == nil {
		d.BaseContext = context.Background()
	}
	h := &handlers{
		sess:      d.Session,
		policy:    d.Policy,
		publicURL: strings.TrimRight(d.PublicURL, "/"),
		base:      d.BaseContext,
		log:       log,
	}

	r := chi.NewRouter()
	r.Use(
		httpx.WithRequestID,
		httpx.WithRecover,
		httpx.WithMetrics,
		httpx.WithLogging,
		httpx.WithSecurityHeaders,
	)

	// sin gate
	r.Get("/healthz", h.healthz)
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(gatehttp.Middleware(d.Session, d.Routes, d.Policy, log.Named("gate")))

		r.Get("/auth/callback", h.callback)
		r.Get("/auth/login", h.oauthStart)
		r.Post("/auth/login", h.passwordLogin)
		r.Post("/auth/logout", h.logout)
		r.Post("/mfa/verify", h.verifyMFA)
		r.Get("/me", h.me)
		r.Get("/*", h.page)
	})
	return r
}
