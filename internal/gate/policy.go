package gate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dropDatabas3/churchgate/internal/domain/types"
)

// DefaultHomes es la única tabla rol → ruta de inicio. La usan el redirect
// post-login y el fallback de roles del gate.
var DefaultHomes = map[types.Role]string{
	types.RoleSuperAdmin:  "/admin",
	types.RolePastorChefe: "/dashboard",
	types.RoleAdmin:       "/dashboard",
	types.RolePastorLider: "/dashboard",
	types.RoleLider:       "/celulas",
	types.RoleFinanceiro:  "/financeiro",
	types.RoleVoluntario:  "/escalas",
	types.RoleMembro:      "/inicio",
	types.RoleVisitante:   "/inicio",
}

// DefaultMandatoryMFA son los roles que no pueden operar sin segundo factor.
var DefaultMandatoryMFA = []types.Role{
	types.RoleSuperAdmin,
	types.RolePastorChefe,
	types.RoleAdmin,
	types.RoleFinanceiro,
}

// Policy agrupa las rutas especiales y las reglas de MFA.
type Policy struct {
	SignInPath    string
	EnrollPath    string
	ChallengePath string
	MandatoryMFA  []types.Role
	Homes         map[types.Role]string
}

func DefaultPolicy() Policy {
	return Policy{
		SignInPath:    "/login",
		EnrollPath:    "/mfa/enroll",
		ChallengePath: "/mfa/challenge",
		MandatoryMFA:  DefaultMandatoryMFA,
		Homes:         DefaultHomes,
	}
}

// RequiresMFA reporta si el rol está en el conjunto obligatorio.
func (p Policy) RequiresMFA(r types.Role) bool {
	for _, m := range p.MandatoryMFA {
		if m == r {
			return true
		}
	}
	return false
}

func (p Policy) mfaPossible() bool { return len(p.MandatoryMFA) > 0 }

// IsMFAPath: las páginas de MFA quedan fuera de la regla de MFA.
func (p Policy) IsMFAPath(path string) bool {
	return hasPathPrefix(path, p.EnrollPath) || hasPathPrefix(path, p.ChallengePath)
}

// HomeFor retorna la ruta de inicio del rol o "".
func (p Policy) HomeFor(r types.Role) string { return p.Homes[r] }

// Validate verifica que la política sea coherente con las rutas: cada rol
// tiene home, el home admite al rol y las rutas especiales existen.
func (p Policy) Validate(routes Routes) error {
	var errs []error
	for _, name := range []struct{ field, path string }{
		{"sign_in_path", p.SignInPath},
		{"enroll_path", p.EnrollPath},
		{"challenge_path", p.ChallengePath},
	} {
		if !strings.HasPrefix(name.path, "/") {
			errs = append(errs, fmt.Errorf("gate: %s must be an absolute path, got %q", name.field, name.path))
		}
	}
	if req := routes.Match(p.SignInPath); !req.Public {
		errs = append(errs, fmt.Errorf("gate: sign-in path %q is not public", p.SignInPath))
	}
	for _, mfaPath := range []string{p.EnrollPath, p.ChallengePath} {
		if req := routes.Match(mfaPath); len(req.Roles) > 0 {
			errs = append(errs, fmt.Errorf("gate: mfa path %q must not require roles", mfaPath))
		}
	}
	for _, r := range p.MandatoryMFA {
		if !r.Valid() {
			errs = append(errs, fmt.Errorf("gate: unknown mfa role %q", r))
		}
	}
	for _, r := range types.AllRoles {
		home := p.HomeFor(r)
		if home == "" {
			errs = append(errs, fmt.Errorf("gate: role %s has no home route", r))
			continue
		}
		req := routes.Match(home)
		if req.Public {
			errs = append(errs, fmt.Errorf("gate: home %q of role %s is public", home, r))
			continue
		}
		if len(req.Roles) > 0 && r != types.RoleSuperAdmin && !req.Admits(r) {
			errs = append(errs, fmt.Errorf("gate: home %q does not admit role %s", home, r))
		}
	}
	return errors.Join(errs...)
}
