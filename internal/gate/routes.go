package gate

import (
	"strings"

	"github.com/dropDatabas3/churchgate/internal/domain/types"
)

// Route declara los requisitos de un prefijo de path.
type Route struct {
	Prefix string
	Roles  []types.Role
	Public bool
}

// Requirement es lo que exige la ruta concreta que se está visitando.
type Requirement struct {
	Path   string
	Roles  []types.Role
	Public bool
}

// Admits reporta si el rol está en el conjunto requerido.
func (r Requirement) Admits(role types.Role) bool {
	for _, want := range r.Roles {
		if want == role {
			return true
		}
	}
	return false
}

// Routes es la tabla de rutas; gana el prefijo más largo.
type Routes []Route

// Match retorna el requisito de path. Sin coincidencia: autenticado sin roles.
func (rs Routes) Match(path string) Requirement {
	best := -1
	for i, r := range rs {
		if !hasPathPrefix(path, r.Prefix) {
			continue
		}
		if best < 0 || len(r.Prefix) > len(rs[best].Prefix) {
			best = i
		}
	}
	req := Requirement{Path: path}
	if best >= 0 {
		req.Roles = rs[best].Roles
		req.Public = rs[best].Public
	}
	return req
}

// hasPathPrefix compara por segmentos: "/membros" matchea "/membros/1" pero no "/membrosx".
func hasPathPrefix(path, prefix string) bool {
	if prefix == "" {
		return false
	}
	if prefix == "/" {
		return strings.HasPrefix(path, "/")
	}
	prefix = strings.TrimRight(prefix, "/")
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}

var (
	leadership = []types.Role{types.RolePastorChefe, types.RoleAdmin}
	pastoral   = []types.Role{types.RolePastorChefe, types.RoleAdmin, types.RolePastorLider}
)

// DefaultRoutes es la tabla del dashboard de la igreja.
func DefaultRoutes() Routes {
	return Routes{
		{Prefix: "/login", Public: true},
		{Prefix: "/signup", Public: true},
		{Prefix: "/forgot-password", Public: true},
		{Prefix: "/auth", Public: true},
		{Prefix: "/healthz", Public: true},

		{Prefix: "/mfa"},
		{Prefix: "/inicio"},
		{Prefix: "/perfil"},
		{Prefix: "/eventos"},

		{Prefix: "/admin", Roles: []types.Role{types.RoleSuperAdmin}},
		{Prefix: "/dashboard", Roles: pastoral},
		{Prefix: "/igreja", Roles: leadership},
		{Prefix: "/membros", Roles: append(pastoral, types.RoleLider)},
		{Prefix: "/celulas", Roles: append(pastoral, types.RoleLider)},
		{Prefix: "/financeiro", Roles: append(leadership, types.RoleFinanceiro)},
		{Prefix: "/escalas", Roles: append(pastoral, types.RoleLider, types.RoleVoluntario)},
		{Prefix: "/relatorios", Roles: append(leadership, types.RolePastorLider, types.RoleFinanceiro)},
	}
}
