package pg

import (
	"context"
	"fmt"
	"strings"

	"github.com/dropDatabas3/churchgate/internal/domain/repository"
	"github.com/dropDatabas3/churchgate/internal/domain/types"
	"github.com/jackc/pgx/v5"
)

const profileCols = `id::text, church_id::text, full_name, email, phone, avatar_url,
	role, status, can_create_church, created_at, updated_at`

var _ repository.ProfileStore = (*Store)(nil)

func scanProfile(row pgx.Row) (*repository.Profile, error) {
	var (
		p            repository.Profile
		role, status string
	)
	if err := row.Scan(&p.ID, &p.ChurchID, &p.FullName, &p.Email, &p.Phone, &p.AvatarURL,
		&role, &status, &p.CanCreateChurch, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	// se guardan tal cual; la normalización es del servicio de perfiles
	p.Role = types.Role(role)
	p.Status = types.Status(status)
	return &p, nil
}

func (s *Store) Get(ctx context.Context, id string) (*repository.Profile, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+profileCols+` FROM profiles WHERE id = $1`, id)
	p, err := scanProfile(row)
	if err != nil {
		return nil, mapErr("pg: get profile", err)
	}
	return p, nil
}

func (s *Store) Insert(ctx context.Context, in repository.CreateProfileInput) (*repository.Profile, error) {
	if strings.TrimSpace(in.ID) == "" {
		return nil, repository.ErrInvalidInput
	}
	role, status := in.Role, in.Status
	if role == "" {
		role = types.DefaultRole
	}
	if status == "" {
		status = types.DefaultStatus
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO profiles (id, email, full_name, avatar_url, role, status, church_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+profileCols,
		in.ID, in.Email, in.FullName, in.AvatarURL, string(role), string(status), in.ChurchID)
	p, err := scanProfile(row)
	if err != nil {
		return nil, mapErr("pg: insert profile", err)
	}
	return p, nil
}

func (s *Store) Update(ctx context.Context, id string, patch repository.ProfilePatch) (*repository.Profile, error) {
	if patch.Empty() {
		return s.Get(ctx, id)
	}
	var (
		sets []string
		args = []any{id}
	)
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if patch.FullName != nil {
		add("full_name", *patch.FullName)
	}
	if patch.AvatarURL != nil {
		add("avatar_url", *patch.AvatarURL)
	}
	if patch.Role != nil {
		add("role", string(*patch.Role))
	}
	if patch.Status != nil {
		add("status", string(*patch.Status))
	}
	sets = append(sets, "updated_at = now()")

	q := `UPDATE profiles SET ` + strings.Join(sets, ", ") + ` WHERE id = $1 RETURNING ` + profileCols
	p, err := scanProfile(s.pool.QueryRow(ctx, q, args...))
	if err != nil {
		return nil, mapErr("pg: update profile", err)
	}
	return p, nil
}
