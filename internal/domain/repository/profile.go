package repository

import (
	"context"
	"time"

	"github.com/dropDatabas3/churchgate/internal/domain/types"
)

// Profile es el registro de negocio 1:1 con la identidad autenticada.
// ID == Identity.ID.
type Profile struct {
	ID              string       `json:"id"`
	ChurchID        *string      `json:"church_id"`
	FullName        string       `json:"full_name"`
	Email           string       `json:"email"`
	Phone           *string      `json:"phone,omitempty"`
	AvatarURL       *string      `json:"avatar_url,omitempty"`
	Role            types.Role   `json:"role"`
	Status          types.Status `json:"status"`
	CanCreateChurch *bool        `json:"can_create_church,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// Clone copia profunda (los punteros no se comparten).
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	out := *p
	out.ChurchID = clonePtr(p.ChurchID)
	out.Phone = clonePtr(p.Phone)
	out.AvatarURL = clonePtr(p.AvatarURL)
	out.CanCreateChurch = clonePtr(p.CanCreateChurch)
	return &out
}

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// CreateProfileInput son los datos de alta de un perfil.
type CreateProfileInput struct {
	ID        string
	Email     string
	FullName  string
	AvatarURL *string
	Role      types.Role
	Status    types.Status
	ChurchID  *string
}

// ProfilePatch es una actualización parcial; campos nil no se tocan.
type ProfilePatch struct {
	FullName  *string
	AvatarURL *string
	Role      *types.Role
	Status    *types.Status
}

// Empty retorna true si el patch no modifica nada.
func (p ProfilePatch) Empty() bool {
	return p.FullName == nil && p.AvatarURL == nil && p.Role == nil && p.Status == nil
}

// ProfileStore es el store remoto de perfiles.
type ProfileStore interface {
	// Get retorna ErrNotFound si no existe.
	Get(ctx context.Context, id string) (*Profile, error)

	// Insert retorna ErrConflict si ya existe un perfil con ese id.
	Insert(ctx context.Context, in CreateProfileInput) (*Profile, error)

	// Update aplica el patch y retorna el registro resultante.
	// Retorna ErrNotFound si no existe.
	Update(ctx context.Context, id string, patch ProfilePatch) (*Profile, error)
}
