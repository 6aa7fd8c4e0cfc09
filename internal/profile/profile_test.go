package profile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dropDatabas3/churchgate/internal/cache"
	cachemem "github.com/dropDatabas3/churchgate/internal/cache/memory"
	"github.com/dropDatabas3/churchgate/internal/domain/repository"
	"github.com/dropDatabas3/churchgate/internal/domain/types"
	"github.com/dropDatabas3/churchgate/internal/identity"
	"github.com/dropDatabas3/churchgate/internal/store/memory"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const uid = "5b0c7a8e-3f44-4c1e-9d0e-1f1b2c3d4e5f"

func newFacade(t *testing.T) *cache.Facade {
	t.Helper()
	f := cache.NewFacade(cachemem.NewKV(0), cachemem.NewBlob(), cache.Options{Namespace: "test", Logger: zap.NewNop()})
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func maria() identity.Identity {
	return identity.Identity{
		ID:       uid,
		Email:    "maria@example.com",
		Metadata: identity.UserMetadata{"full_name": "Maria Silva", "avatar_url": "https://img/m.png"},
	}
}

func TestFetchOrCreate_CreatesWithDefaults(t *testing.T) {
	ctx := context.Background()
	store := memory.NewProfiles(nil)
	svc := NewService(store, newFacade(t), Options{Logger: zap.NewNop()})

	res, err := svc.FetchOrCreate(ctx, maria(), nil)
	require.NoError(t, err)
	require.Equal(t, SourceCreated, res.Source)
	p := res.Profile
	require.Equal(t, uid, p.ID)
	require.Equal(t, types.RoleMembro, p.Role)
	require.Equal(t, types.StatusAtivo, p.Status)
	require.Nil(t, p.ChurchID)
	require.Equal(t, "Maria Silva", p.FullName)
	require.NotNil(t, p.AvatarURL)

	cached := svc.Cached(uid)
	require.NotNil(t, cached)
	require.Equal(t, "Maria Silva", cached.FullName)
	require.Nil(t, cached.AvatarURL, "sync copy is stripped")

	res, err = svc.FetchOrCreate(ctx, maria(), nil)
	require.NoError(t, err)
	require.Equal(t, SourceNetwork, res.Source)
	require.Equal(t, 1, store.Len())
}

func TestFetchOrCreate_SeedNameFallsBackToEmail(t *testing.T) {
	store := memory.NewProfiles(nil)
	svc := NewService(store, newFacade(t), Options{Logger: zap.NewNop()})

	id := identity.Identity{ID: uid, Email: "joao@example.com", Metadata: identity.UserMetadata{"full_name": "U"}}
	res, err := svc.FetchOrCreate(context.Background(), id, nil)
	require.NoError(t, err)
	require.Equal(t, "joao@example.com", res.Profile.FullName)
	require.Nil(t, res.Profile.AvatarURL)
}

// blockingStore retiene Get hasta que se cierre release.
type blockingStore struct {
	repository.ProfileStore
	release chan struct{}
}

func (b *blockingStore) Get(ctx context.Context, id string) (*repository.Profile, error) {
	<-b.release
	return b.ProfileStore.Get(ctx, id)
}

func TestFetchOrCreate_OptimisticRevealBeforeNetwork(t *testing.T) {
	ctx := context.Background()
	inner := memory.NewProfiles(nil)
	inner.Put(&repository.Profile{ID: uid, FullName: "Maria Silva", Role: types.RoleAdmin, Status: types.StatusAtivo})
	facade := newFacade(t)

	// calentar el cache
	warm := NewService(inner, facade, Options{Logger: zap.NewNop()})
	_, err := warm.FetchOrCreate(ctx, maria(), nil)
	require.NoError(t, err)

	bs := &blockingStore{ProfileStore: inner, release: make(chan struct{})}
	svc := NewService(bs, facade, Options{Logger: zap.NewNop()})

	published := make(chan *repository.Profile, 1)
	done := make(chan Resolution, 1)
	go func() {
		res, _ := svc.FetchOrCreate(ctx, maria(), func(p *repository.Profile) { published <- p })
		done <- res
	}()

	select {
	case p := <-published:
		require.Equal(t, types.RoleAdmin, p.Role)
	case <-time.After(2 * time.Second):
		t.Fatal("cached profile was not published before the network fetch")
	}
	select {
	case <-done:
		t.Fatal("fetch finished while the store was blocked")
	default:
	}

	close(bs.release)
	res := <-done
	require.Equal(t, SourceNetwork, res.Source)
}

// racingStore hace que los dos primeros Get vean "no existe" a la vez.
type racingStore struct {
	repository.ProfileStore
	mu      sync.Mutex
	arrived int
	gate    chan struct{}
}

func (r *racingStore) Get(ctx context.Context, id string) (*repository.Profile, error) {
	p, err := r.ProfileStore.Get(ctx, id)

	r.mu.Lock()
	first := r.arrived < 2
	if first {
		r.arrived++
		if r.arrived == 2 {
			close(r.gate)
		}
	}
	r.mu.Unlock()
	if first {
		<-r.gate
	}
	return p, err
}

func TestFetchOrCreate_ConcurrentCreateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	inner := memory.NewProfiles(nil)
	rs := &racingStore{ProfileStore: inner, gate: make(chan struct{})}

	// dos instancias independientes (dos pestañas) sin singleflight compartido
	a := NewService(rs, newFacade(t), Options{Logger: zap.NewNop()})
	b := NewService(rs, newFacade(t), Options{Logger: zap.NewNop()})

	var wg sync.WaitGroup
	results := make([]Resolution, 2)
	errs := make([]error, 2)
	for i, svc := range []*Service{a, b} {
		i, svc := i, svc
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = svc.FetchOrCreate(ctx, maria(), nil)
		}()
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	require.Equal(t, 1, inner.Len())
	require.Equal(t, 2, inner.Calls("insert"), "both callers attempted the insert")
	require.Equal(t, results[0].Profile.ID, results[1].Profile.ID)
	require.True(t, results[0].Profile.CreatedAt.Equal(results[1].Profile.CreatedAt))

	sources := []Source{results[0].Source, results[1].Source}
	require.ElementsMatch(t, []Source{SourceCreated, SourceNetwork}, sources)
}

func TestFetchOrCreate_SingleflightInProcess(t *testing.T) {
	ctx := context.Background()
	inner := memory.NewProfiles(nil)
	bs := &blockingStore{ProfileStore: inner, release: make(chan struct{})}
	svc := NewService(bs, newFacade(t), Options{Logger: zap.NewNop()})

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.FetchOrCreate(ctx, maria(), nil)
			errs <- err
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(bs.release)
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, 1, inner.Len())
	require.LessOrEqual(t, inner.Calls("insert"), 8)
}

type conflictStore struct{ repository.ProfileStore }

func (conflictStore) Get(context.Context, string) (*repository.Profile, error) {
	return nil, repository.ErrNotFound
}

func (conflictStore) Insert(context.Context, repository.CreateProfileInput) (*repository.Profile, error) {
	return nil, repository.ErrConflict
}

func TestFetchOrCreate_ConflictRetriesAreBounded(t *testing.T) {
	svc := NewService(conflictStore{}, newFacade(t), Options{Logger: zap.NewNop()})
	_, err := svc.FetchOrCreate(context.Background(), maria(), nil)
	require.ErrorIs(t, err, repository.ErrConflict)
}

func TestFetchOrCreate_FallbackToCache(t *testing.T) {
	ctx := context.Background()
	store := memory.NewProfiles(nil)
	facade := newFacade(t)
	svc := NewService(store, facade, Options{Logger: zap.NewNop()})

	_, err := svc.FetchOrCreate(ctx, maria(), nil)
	require.NoError(t, err)

	boom := errors.New("network down")
	store.SetGetError(boom)
	res, err := svc.FetchOrCreate(ctx, maria(), nil)
	require.NoError(t, err)
	require.Equal(t, SourceFallback, res.Source)
	require.ErrorIs(t, res.Stale, boom)
	require.Equal(t, "Maria Silva", res.Profile.FullName)

}

func TestFetchOrCreate_AbsentWithoutCache(t *testing.T) {
	store := memory.NewProfiles(nil)
	store.SetGetError(errors.New("network down"))
	svc := NewService(store, newFacade(t), Options{Logger: zap.NewNop()})

	published := false
	res, err := svc.FetchOrCreate(context.Background(), maria(), func(*repository.Profile) { published = true })
	require.Error(t, err)
	require.Nil(t, res.Profile)
	require.False(t, published)
}

func TestFetchOrCreate_FallbackToFullCopy(t *testing.T) {
	ctx := context.Background()
	store := memory.NewProfiles(nil)
	kv := cachemem.NewKV(0)
	facade := cache.NewFacade(kv, cachemem.NewBlob(), cache.Options{Namespace: "test", Logger: zap.NewNop()})
	defer facade.Close()
	svc := NewService(store, facade, Options{Logger: zap.NewNop()})

	_, err := svc.FetchOrCreate(ctx, maria(), nil)
	require.NoError(t, err)
	require.NoError(t, facade.Flush(ctx))
	kv.Delete("test:" + CacheKey(uid))

	store.SetGetError(errors.New("network down"))
	res, err := svc.FetchOrCreate(ctx, maria(), nil)
	require.NoError(t, err)
	require.Equal(t, SourceFallback, res.Source)
	require.NotNil(t, res.Profile.AvatarURL, "full copy keeps large fields")
}

func TestFetch_NormalizesLegacyTokens(t *testing.T) {
	ctx := context.Background()
	store := memory.NewProfiles(nil)
	store.Put(&repository.Profile{ID: uid, FullName: "Maria Silva", Role: "leader", Status: "active"})
	svc := NewService(store, newFacade(t), Options{Logger: zap.NewNop()})

	res, err := svc.FetchOrCreate(ctx, maria(), nil)
	require.NoError(t, err)
	require.Equal(t, types.RoleLider, res.Profile.Role)
	require.Equal(t, types.StatusAtivo, res.Profile.Status)
	require.Equal(t, 1, store.Calls("update"))

	stored, err := store.Get(ctx, uid)
	require.NoError(t, err)
	require.Equal(t, types.RoleLider, stored.Role)

	_, err = svc.FetchOrCreate(ctx, maria(), nil)
	require.NoError(t, err)
	require.Equal(t, 1, store.Calls("update"), "write-back is one-time")
}

func TestRefresh_SkipsOptimisticPublish(t *testing.T) {
	ctx := context.Background()
	store := memory.NewProfiles(nil)
	svc := NewService(store, newFacade(t), Options{Logger: zap.NewNop()})
	_, err := svc.FetchOrCreate(ctx, maria(), nil)
	require.NoError(t, err)

	role := types.RoleAdmin
	_, err = store.Update(ctx, uid, repository.ProfilePatch{Role: &role})
	require.NoError(t, err)

	res, err := svc.Refresh(ctx, maria())
	require.NoError(t, err)
	require.Equal(t, types.RoleAdmin, res.Profile.Role)
	require.Equal(t, types.RoleAdmin, svc.Cached(uid).Role)

	store.SetGetError(errors.New("down"))
	_, err = svc.Refresh(ctx, maria())
	require.Error(t, err)

	_, err = svc.Refresh(ctx, identity.Identity{})
	require.ErrorIs(t, err, repository.ErrInvalidInput)
}

type guardFunc func() bool

func (g guardFunc) Do(fn func()) bool {
	if !g() {
		return false
	}
	fn()
	return true
}

func TestFetchOrCreate_WriteGuardSkipsSupersededWrite(t *testing.T) {
	facade := newFacade(t)
	store := memory.NewProfiles(nil)
	svc := NewService(store, facade, Options{Logger: zap.NewNop()})

	ctx := WithWriteGuard(context.Background(), guardFunc(func() bool { return false }))
	res, err := svc.FetchOrCreate(ctx, maria(), nil)
	require.NoError(t, err)
	require.Equal(t, SourceCreated, res.Source)
	require.Equal(t, uid, res.Profile.ID)

	require.NoError(t, facade.Flush(context.Background()))
	var p repository.Profile
	require.False(t, facade.Read(CacheKey(uid), &p))
	ok, err := facade.ReadFull(context.Background(), CacheKey(uid), &p)
	require.NoError(t, err)
	require.False(t, ok)

	ctx = WithWriteGuard(context.Background(), guardFunc(func() bool { return true }))
	_, err = svc.Refresh(ctx, maria())
	require.NoError(t, err)
	require.True(t, facade.Read(CacheKey(uid), &p))
}

func TestResolveShared_RetriesWhenAnotherCallerCancelled(t *testing.T) {
	facade := newFacade(t)
	inner := memory.NewProfiles(nil)
	inner.Put(&repository.Profile{ID: uid, FullName: "Maria Silva", Role: types.RoleMembro, Status: types.StatusAtivo})
	bs := &blockingStore{ProfileStore: inner, release: make(chan struct{})}
	svc := NewService(bs, facade, Options{Logger: zap.NewNop()})

	cancelled, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := svc.Refresh(cancelled, maria())
		first <- err
	}()
	// el segundo caller se suma al vuelo del primero
	second := make(chan Resolution, 1)
	go func() {
		time.Sleep(20 * time.Millisecond)
		res, _ := svc.Refresh(context.Background(), maria())
		second <- res
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	close(bs.release)

	require.ErrorIs(t, <-first, context.Canceled)
	select {
	case res := <-second:
		require.NotNil(t, res.Profile)
		require.Equal(t, uid, res.Profile.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("second caller did not resolve")
	}
}
