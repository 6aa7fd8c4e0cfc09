package profile

import (
	"context"
	"testing"

	"github.com/dropDatabas3/churchgate/internal/domain/repository"
	"github.com/dropDatabas3/churchgate/internal/domain/types"
	"github.com/dropDatabas3/churchgate/internal/identity"
	"github.com/dropDatabas3/churchgate/internal/store/memory"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSelfHeal_OneShot(t *testing.T) {
	ctx := context.Background()
	store := memory.NewProfiles(nil)
	store.Put(&repository.Profile{ID: uid, FullName: "U", Role: types.RoleMembro, Status: types.StatusAtivo})
	svc := NewService(store, newFacade(t), Options{Logger: zap.NewNop()})

	id := identity.Identity{ID: uid, Email: "maria@example.com", Metadata: identity.UserMetadata{"full_name": "Maria Silva"}}
	res, err := svc.FetchOrCreate(ctx, id, nil)
	require.NoError(t, err)

	healed, ok, err := svc.SelfHeal(ctx, id, res.Profile)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Maria Silva", healed.FullName)
	require.Equal(t, "Maria Silva", svc.Cached(uid).FullName)
	require.Equal(t, 1, store.Calls("update"))

	again, ok, err := svc.SelfHeal(ctx, id, healed)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, "Maria Silva", again.FullName)
	require.Equal(t, 1, store.Calls("update"))
}

func TestSelfHeal_NeverDowngrades(t *testing.T) {
	ctx := context.Background()
	store := memory.NewProfiles(nil)
	avatar := "https://img/custom.png"
	p := &repository.Profile{ID: uid, FullName: "Pr. João", AvatarURL: &avatar}
	store.Put(p)
	svc := NewService(store, newFacade(t), Options{Logger: zap.NewNop()})

	id := identity.Identity{ID: uid, Metadata: identity.UserMetadata{"full_name": "Joao Provider", "avatar_url": "https://img/g.png"}}
	got, ok, err := svc.SelfHeal(ctx, id, p)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, "Pr. João", got.FullName)
	require.Zero(t, store.Calls("update"))

	// un email como nombre se corrige; un placeholder del provider no
	p2 := &repository.Profile{ID: uid, FullName: "joao@example.com", AvatarURL: &avatar}
	store.Put(p2)
	_, ok, err = svc.SelfHeal(ctx, identity.Identity{ID: uid, Metadata: identity.UserMetadata{"full_name": "Usuário"}}, p2)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSelfHeal_FillsAvatar(t *testing.T) {
	ctx := context.Background()
	store := memory.NewProfiles(nil)
	p := &repository.Profile{ID: uid, FullName: "Maria Silva"}
	store.Put(p)
	svc := NewService(store, newFacade(t), Options{Logger: zap.NewNop()})

	got, ok, err := svc.SelfHeal(ctx, identity.Identity{ID: uid, Metadata: identity.UserMetadata{"picture": "https://img/g.png"}}, p)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "https://img/g.png", *got.AvatarURL)
	require.Equal(t, "Maria Silva", got.FullName)
}

func TestSelfHeal_IgnoresForeignProfile(t *testing.T) {
	svc := NewService(memory.NewProfiles(nil), newFacade(t), Options{Logger: zap.NewNop()})
	p := &repository.Profile{ID: "other", FullName: "U"}
	got, ok, err := svc.SelfHeal(context.Background(), maria(), p)
	require.NoError(t, err)
	require.False(t, ok)
	require.Same(t, p, got)
}

func TestNeedsName(t *testing.T) {
	for _, n := range []string{"", " ", "U", "-", "Usuário", "user", "Sem nome", "maria@example.com", "null"} {
		require.True(t, NeedsName(n), n)
	}
	for _, n := range []string{"Maria Silva", "Jo", "Pr. João"} {
		require.False(t, NeedsName(n), n)
	}
}
