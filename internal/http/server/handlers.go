package server

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dropDatabas3/churchgate/internal/domain/repository"
	"github.com/dropDatabas3/churchgate/internal/domain/types"
	httpx "github.com/dropDatabas3/churchgate/internal/http"
	"github.com/dropDatabas3/churchgate/internal/identity"
	"github.com/dropDatabas3/churchgate/internal/observability/logger"
	"github.com/dropDatabas3/churchgate/internal/session"
)

// readyWait acota la espera de la hidratación dentro de un request.
const readyWait = 10 * time.Second

func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"state":  h.sess.Snapshot().State,
	})
}

// callback es el destino del redirect OAuth: remonta la sesión con la URL
// completa, espera la hidratación y redirige a next o al home del rol.
func (h *handlers) callback(w http.ResponseWriter, r *http.Request) {
	log := logger.From(r.Context()).With(logger.Op("auth.callback"))
	full := h.publicURL + r.URL.RequestURI()

	if err := identityRedirectError(full); err != nil {
		log.Info("oauth callback rejected", logger.Err(err))
	}

	h.sess.Stop()
	h.sess.Start(h.base, full)

	ctx, cancel := context.WithTimeout(r.Context(), readyWait)
	defer cancel()
	snap, err := h.sess.WaitReady(ctx)
	if err != nil {
		httpx.WriteError(w, http.StatusServiceUnavailable, "loading", "session still hydrating")
		return
	}
	if !snap.Authenticated() {
		http.Redirect(w, r, h.policy.SignInPath+"?error=oauth", http.StatusFound)
		return
	}
	http.Redirect(w, r, h.landing(r, snap), http.StatusFound)
}

// oauthStart redirige al provider externo (?provider=google).
func (h *handlers) oauthStart(w http.ResponseWriter, r *http.Request) {
	provider := strings.TrimSpace(r.URL.Query().Get("provider"))
	if provider == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "provider required")
		return
	}
	cb := h.publicURL + "/auth/callback"
	if next := safeNext(r.URL.Query().Get("next")); next != "" {
		cb += "?" + url.Values{"next": {next}}.Encode()
	}
	to, err := h.sess.SignInWithOAuth(r.Context(), provider, cb)
	if err != nil {
		h.writeAuthError(w, r, err)
		return
	}
	http.Redirect(w, r, to, http.StatusFound)
}

func (h *handlers) passwordLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "bad form")
		return
	}
	email := strings.TrimSpace(r.PostForm.Get("email"))
	password := r.PostForm.Get("password")
	if email == "" || password == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "email and password required")
		return
	}
	if _, err := h.sess.SignIn(r.Context(), email, password); err != nil {
		h.writeAuthError(w, r, err)
		return
	}

	// el perfil puede seguir cargando; el gate del destino espera con PENDING
	http.Redirect(w, r, h.landing(r, h.sess.Snapshot()), http.StatusSeeOther)
}

func (h *handlers) logout(w http.ResponseWriter, r *http.Request) {
	if err := h.sess.SignOut(r.Context()); err != nil {
		logger.From(r.Context()).Warn("sign-out incomplete", logger.Err(err))
	}
	http.Redirect(w, r, h.policy.SignInPath, http.StatusSeeOther)
}

func (h *handlers) verifyMFA(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "bad form")
		return
	}
	factorID := r.PostForm.Get("factor_id")
	challengeID := r.PostForm.Get("challenge_id")
	code := strings.TrimSpace(r.PostForm.Get("code"))
	remember, _ := strconv.ParseBool(r.PostForm.Get("remember"))
	if factorID == "" || code == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "factor_id and code required")
		return
	}

	if challengeID == "" {
		ch, err := h.sess.MFA().Challenge(r.Context(), factorID)
		if err != nil {
			h.writeAuthError(w, r, err)
			return
		}
		challengeID = ch.ID
	}
	if err := h.sess.VerifyMFA(r.Context(), factorID, challengeID, code, remember); err != nil {
		h.writeAuthError(w, r, err)
		return
	}
	http.Redirect(w, r, h.landing(r, h.sess.Snapshot()), http.StatusSeeOther)
}

type meResponse struct {
	State          session.State       `json:"state"`
	User           *identity.Identity  `json:"user,omitempty"`
	Profile        *repository.Profile `json:"profile,omitempty"`
	ProfileLoading bool                `json:"profile_loading"`
	Home           string              `json:"home,omitempty"`
	MFA            meMFA               `json:"mfa"`
	Unread         int                 `json:"unread"`
}

type meMFA struct {
	Remembered        bool   `json:"remembered"`
	HasVerifiedFactor bool   `json:"has_verified_factor"`
	AAL               string `json:"aal,omitempty"`
}

func (h *handlers) me(w http.ResponseWriter, r *http.Request) {
	snap := h.sess.Snapshot()
	st := h.sess.GateState(r.Context())
	w.Header().Set("Cache-Control", "no-store")
	httpx.WriteJSON(w, http.StatusOK, meResponse{
		State:          snap.State,
		User:           snap.User,
		Profile:        snap.Profile,
		ProfileLoading: snap.ProfileLoading,
		Home:           h.sess.HomeRoute(),
		MFA: meMFA{
			Remembered:        st.MFA.Remembered,
			HasVerifiedFactor: st.MFA.HasVerifiedFactor,
			AAL:               string(st.MFA.AAL),
		},
		Unread: h.sess.Counter().Value(),
	})
}

// page responde por las páginas del dashboard; el render queda fuera del core.
func (h *handlers) page(w http.ResponseWriter, r *http.Request) {
	var role string
	if p := h.sess.Snapshot().Profile; p != nil {
		role = string(p.Role)
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{
		"page": r.URL.Path,
		"role": role,
	})
}

func (h *handlers) landing(r *http.Request, snap session.Snapshot) string {
	if next := safeNext(r.URL.Query().Get("next")); next != "" {
		return next
	}
	if snap.Profile != nil {
		if home := h.policy.HomeFor(snap.Profile.Role); home != "" {
			return home
		}
	}
	if home := h.policy.HomeFor(types.DefaultRole); home != "" {
		return home
	}
	return "/"
}

func (h *handlers) writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	if ae, ok := identity.AsAuthError(err); ok {
		status := ae.Status
		if status < 400 || status > 499 {
			status = http.StatusUnauthorized
		}
		httpx.WriteError(w, status, ae.Code, ae.Message)
		return
	}
	if errors.Is(err, identity.ErrMisconfigured) || repository.IsUnavailable(err) {
		logger.From(r.Context()).Error("identity backend unavailable", logger.Err(err))
		httpx.WriteError(w, http.StatusServiceUnavailable, "unavailable", "identity backend unavailable")
		return
	}
	if errors.Is(err, session.ErrNoIdentity) {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "no session")
		return
	}
	logger.From(r.Context()).Error("auth operation failed", logger.Err(err))
	httpx.WriteError(w, http.StatusInternalServerError, "internal_error", "unexpected error")
}

// safeNext acepta solo paths locales.
func safeNext(next string) string {
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.Contains(next, `\`) {
		return ""
	}
	return next
}

func identityRedirectError(rawURL string) error {
	_, err := identity.ParseAuthRedirect(rawURL)
	if err != nil && identity.IsAuthError(err) {
		return err
	}
	return nil
}
