package profile

import (
	"context"
	"fmt"

	"github.com/dropDatabas3/churchgate/internal/domain/repository"
	"github.com/dropDatabas3/churchgate/internal/identity"
	"github.com/dropDatabas3/churchgate/internal/observability/logger"
)

// SelfHeal completa el perfil con la metadata del provider. Solo corrige
// nombres vacíos/placeholder/email y avatares vacíos; nunca pisa un valor
// elegido por el usuario. Retorna healed=false si no hubo escritura.
func (s *Service) SelfHeal(ctx context.Context, id identity.Identity, p *repository.Profile) (*repository.Profile, bool, error) {
	if p == nil || p.ID != id.ID {
		return p, false, nil
	}
	var patch repository.ProfilePatch

	if name := id.Metadata.FullName(); NeedsName(p.FullName) && UsableName(name) && name != p.FullName {
		patch.FullName = &name
	}
	if p.AvatarURL == nil || *p.AvatarURL == "" {
		if a := id.Metadata.AvatarURL(); a != "" {
			patch.AvatarURL = &a
		}
	}
	if patch.Empty() {
		return p, false, nil
	}

	updated, err := s.store.Update(ctx, p.ID, patch)
	if err != nil {
		return p, false, fmt.Errorf("profile: self-heal: %w", err)
	}
	s.log.Info("profile self-healed", logger.UserID(p.ID),
		logger.Bool("name", patch.FullName != nil), logger.Bool("avatar", patch.AvatarURL != nil))
	s.remember(ctx, updated)
	return updated, true, nil
}
