// Package types define tipos de dominio compartidos entre paquetes.
package types

import "strings"

// Role es el rol de negocio de un perfil. Enum cerrado.
type Role string

const (
	RoleSuperAdmin  Role = "super_admin"
	RolePastorChefe Role = "pastor_chefe"
	RoleAdmin       Role = "admin"
	RolePastorLider Role = "pastor_lider"
	RoleLider       Role = "lider"
	RoleFinanceiro  Role = "financeiro"
	RoleVoluntario  Role = "voluntario"
	RoleMembro      Role = "membro"
	RoleVisitante   Role = "visitante"
)

// DefaultRole es el rol con el que se crea un perfil nuevo.
const DefaultRole = RoleMembro

// AllRoles en orden de privilegio descendente.
var AllRoles = []Role{
	RoleSuperAdmin,
	RolePastorChefe,
	RoleAdmin,
	RolePastorLider,
	RoleLider,
	RoleFinanceiro,
	RoleVoluntario,
	RoleMembro,
	RoleVisitante,
}

var roleRank = map[Role]int{
	RoleSuperAdmin:  7,
	RolePastorChefe: 6,
	RoleAdmin:       6,
	RolePastorLider: 5,
	RoleLider:       4,
	RoleFinanceiro:  3,
	RoleVoluntario:  2,
	RoleMembro:      1,
	RoleVisitante:   1,
}

// tokens legacy/en inglés que todavía aparecen en registros viejos.
var legacyRoles = map[string]Role{
	"superadmin":    RoleSuperAdmin,
	"super-admin":   RoleSuperAdmin,
	"senior_pastor": RolePastorChefe,
	"lead_pastor":   RolePastorChefe,
	"head_pastor":   RolePastorChefe,
	"administrator": RoleAdmin,
	"pastor":        RolePastorLider,
	"leader_pastor": RolePastorLider,
	"leader":        RoleLider,
	"lider_celula":  RoleLider,
	"finance":       RoleFinanceiro,
	"treasurer":     RoleFinanceiro,
	"tesoureiro":    RoleFinanceiro,
	"volunteer":     RoleVoluntario,
	"member":        RoleMembro,
	"visitor":       RoleVisitante,
	"guest":         RoleVisitante,
}

// Valid retorna true si r es uno de los roles canónicos.
func (r Role) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// Rank: mayor es más privilegiado. Roles desconocidos valen 0.
func (r Role) Rank() int { return roleRank[r] }

// AtLeast compara por privilegio (pastor_chefe y admin empatan).
func (r Role) AtLeast(other Role) bool { return r.Rank() >= other.Rank() }

func (r Role) String() string { return string(r) }

// NormalizeRole convierte un token crudo al rol canónico.
// changed es true cuando el valor almacenado debe reescribirse.
// Un token irreconocible cae a DefaultRole.
func NormalizeRole(raw string) (Role, bool) {
	if r := Role(raw); r.Valid() {
		return r, false
	}
	tok := strings.ToLower(strings.TrimSpace(raw))
	if r := Role(tok); r.Valid() {
		return r, true
	}
	if r, ok := legacyRoles[tok]; ok {
		return r, true
	}
	return DefaultRole, true
}

// Status del perfil.
type Status string

const (
	StatusAtivo     Status = "ativo"
	StatusInativo   Status = "inativo"
	StatusPendente  Status = "pendente"
	StatusBloqueado Status = "bloqueado"
)

// DefaultStatus es el status con el que se crea un perfil nuevo.
const DefaultStatus = StatusAtivo

var legacyStatuses = map[string]Status{
	"active":   StatusAtivo,
	"inactive": StatusInativo,
	"pending":  StatusPendente,
	"blocked":  StatusBloqueado,
	"disabled": StatusInativo,
}

// Valid retorna true si s es un status canónico.
func (s Status) Valid() bool {
	switch s {
	case StatusAtivo, StatusInativo, StatusPendente, StatusBloqueado:
		return true
	}
	return false
}

// NormalizeStatus es el equivalente de NormalizeRole para Status.
func NormalizeStatus(raw string) (Status, bool) {
	if s := Status(raw); s.Valid() {
		return s, false
	}
	tok := strings.ToLower(strings.TrimSpace(raw))
	if s := Status(tok); s.Valid() {
		return s, true
	}
	if s, ok := legacyStatuses[tok]; ok {
		return s, true
	}
	return DefaultStatus, true
}
