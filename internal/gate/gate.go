// Package gate decide el acceso a una ruta a partir del estado de sesión,
// el perfil y los requisitos de la ruta. Decide es puro: sin I/O ni reloj.
package gate

import (
	"github.com/dropDatabas3/churchgate/internal/domain/types"
	"github.com/dropDatabas3/churchgate/internal/identity"
)

// Kind del veredicto.
type Kind string

const (
	Allow    Kind = "allow"
	Redirect Kind = "redirect"
	Deny     Kind = "deny"
	// Pending: todavía no hay datos para decidir; renderizar loading.
	Pending Kind = "pending"
)

// Verdict es el resultado de Decide. Path solo aplica a Redirect.
type Verdict struct {
	Kind   Kind
	Path   string
	Reason string
}

func allow() Verdict                { return Verdict{Kind: Allow} }
func pending(reason string) Verdict { return Verdict{Kind: Pending, Reason: reason} }
func deny(reason string) Verdict    { return Verdict{Kind: Deny, Reason: reason} }
func redirect(path, reason string) Verdict {
	return Verdict{Kind: Redirect, Path: path, Reason: reason}
}

// MFA es el estado de segundo factor del dispositivo/sesión.
type MFA struct {
	Remembered        bool
	HasVerifiedFactor bool
	AAL               identity.AAL
}

// Satisfied: el dispositivo está dentro de la ventana recordada o la sesión ya es aal2.
func (m MFA) Satisfied() bool { return m.Remembered || m.AAL == identity.AAL2 }

// State es la vista de la sesión que necesita el gate.
type State struct {
	Loading         bool
	ProfileLoading  bool
	Authenticated   bool
	PendingRedirect bool
	HasProfile      bool
	Role            types.Role
	MFA             MFA
}

// Decide evalúa, en orden: sign-in, MFA obligatorio, roles de la ruta.
func Decide(req Requirement, st State, p Policy) Verdict {
	if req.Public {
		return allow()
	}

	if st.Loading {
		return pending("session loading")
	}
	if !st.Authenticated {
		if st.PendingRedirect {
			return pending("oauth redirect pending")
		}
		return redirect(p.SignInPath, "no session")
	}

	if !st.HasProfile && st.ProfileLoading && (len(req.Roles) > 0 || p.mfaPossible()) {
		return pending("profile loading")
	}

	if st.HasProfile && p.RequiresMFA(st.Role) && !st.MFA.Satisfied() && !p.IsMFAPath(req.Path) {
		if st.MFA.HasVerifiedFactor {
			return redirect(p.ChallengePath, "mfa challenge required")
		}
		return redirect(p.EnrollPath, "mfa enrollment required")
	}

	if len(req.Roles) == 0 {
		return allow()
	}
	if !st.HasProfile {
		return deny("profile unavailable")
	}
	if st.Role == types.RoleSuperAdmin || req.Admits(st.Role) {
		return allow()
	}
	if home := p.HomeFor(st.Role); home != "" && home != req.Path {
		return redirect(home, "role not allowed")
	}
	return deny("role not allowed")
}
