package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/dropDatabas3/churchgate/internal/domain/repository"
	"github.com/dropDatabas3/churchgate/internal/domain/types"
	"github.com/stretchr/testify/require"
)

func TestProfiles_CRUD(t *testing.T) {
	ctx := context.Background()
	s := NewProfiles(nil)

	_, err := s.Get(ctx, "u1")
	require.ErrorIs(t, err, repository.ErrNotFound)

	p, err := s.Insert(ctx, repository.CreateProfileInput{ID: "u1", Email: "a@b.c", FullName: "A"})
	require.NoError(t, err)
	require.Equal(t, types.RoleMembro, p.Role)
	require.Equal(t, types.StatusAtivo, p.Status)
	require.Nil(t, p.ChurchID)

	_, err = s.Insert(ctx, repository.CreateProfileInput{ID: "u1"})
	require.ErrorIs(t, err, repository.ErrConflict)

	name := "Maria"
	role := types.RoleAdmin
	p, err = s.Update(ctx, "u1", repository.ProfilePatch{FullName: &name, Role: &role})
	require.NoError(t, err)
	require.Equal(t, "Maria", p.FullName)
	require.Equal(t, types.RoleAdmin, p.Role)

	// la copia retornada no comparte estado
	p.FullName = "mutated"
	got, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "Maria", got.FullName)

	_, err = s.Update(ctx, "nope", repository.ProfilePatch{FullName: &name})
	require.ErrorIs(t, err, repository.ErrNotFound)
	require.Equal(t, 2, s.Calls("insert"))
}

func TestProfiles_GetError(t *testing.T) {
	s := NewProfiles(nil)
	boom := errors.New("boom")
	s.SetGetError(boom)
	_, err := s.Get(context.Background(), "u1")
	require.ErrorIs(t, err, boom)
}

func TestBroker_FilteredDelivery(t *testing.T) {
	ctx := context.Background()
	b := NewBroker()
	s := NewProfiles(b)

	var mine, all []repository.Change
	unsub, err := b.Subscribe(ctx, "profiles", repository.FilterByID("u1"), func(c repository.Change) { mine = append(mine, c) })
	require.NoError(t, err)
	_, err = b.Subscribe(ctx, "profiles", "", func(c repository.Change) { all = append(all, c) })
	require.NoError(t, err)

	_, err = s.Insert(ctx, repository.CreateProfileInput{ID: "u1"})
	require.NoError(t, err)
	_, err = s.Insert(ctx, repository.CreateProfileInput{ID: "u2"})
	require.NoError(t, err)

	require.Len(t, mine, 1)
	require.Equal(t, repository.ChangeInsert, mine[0].Op)
	require.Len(t, all, 2)

	unsub()
	unsub()
	require.Equal(t, 1, b.Subscribers())
	require.Equal(t, 0, b.Publish(repository.Change{Table: "other", ID: "u1"}))
}
