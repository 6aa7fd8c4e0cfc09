package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dropDatabas3/churchgate/internal/cache/memory"
	cacheredis "github.com/dropDatabas3/churchgate/internal/cache/redis"
	rdb "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type member struct {
	ID        string   `json:"id"`
	FullName  string   `json:"full_name"`
	AvatarURL string   `json:"avatar_url,omitempty"`
	Gallery   []string `json:"gallery,omitempty"`
	Church    *church  `json:"church,omitempty"`
}

type church struct {
	Name    string `json:"name"`
	LogoURL string `json:"logo_url,omitempty"`
}

func newMemoryFacade(t *testing.T, clk *fakeClock) *Facade {
	t.Helper()
	f := NewFacade(memory.NewKV(0), memory.NewBlob(), Options{
		Namespace: "churchgate",
		Now:       clk.Now,
		Logger:    zap.NewNop(),
	})
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func newRedisFacade(t *testing.T, clk *fakeClock) (*Facade, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := rdb.NewClient(&rdb.Options{Addr: mr.Addr()})
	f := NewFacade(memory.NewKV(0), cacheredis.NewFromClient(client), Options{
		Namespace: "churchgate",
		Now:       clk.Now,
		Logger:    zap.NewNop(),
	})
	t.Cleanup(func() { _ = f.Close() })
	return f, mr
}

func sample() member {
	return member{
		ID:        "u1",
		FullName:  "Maria Silva",
		AvatarURL: "https://cdn.example/avatar.png",
		Gallery:   []string{"a.png", "b.png"},
		Church:    &church{Name: "Igreja Central", LogoURL: "https://cdn.example/logo.png"},
	}
}

func TestFacade_RoundTrip(t *testing.T) {
	clk := &fakeClock{t: time.UnixMilli(1_700_000_000_000)}
	ctx := context.Background()

	for name, f := range map[string]*Facade{
		"memory": newMemoryFacade(t, clk),
		"redis":  func() *Facade { f, _ := newRedisFacade(t, clk); return f }(),
	} {
		f := f
		t.Run(name, func(t *testing.T) {
			v := sample()
			require.NoError(t, f.Write("profile:u1", v, time.Hour))
			require.NoError(t, f.Flush(ctx))

			var fast member
			require.True(t, f.Read("profile:u1", &fast))
			require.Equal(t, "Maria Silva", fast.FullName)
			require.Empty(t, fast.AvatarURL)
			require.Nil(t, fast.Gallery)
			require.NotNil(t, fast.Church)
			require.Equal(t, "Igreja Central", fast.Church.Name)
			require.Empty(t, fast.Church.LogoURL)

			var full member
			ok, err := f.ReadFull(ctx, "profile:u1", &full)
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, v, full)
		})
	}
}

func TestFacade_TTLOnlyOnFullRead(t *testing.T) {
	clk := &fakeClock{t: time.UnixMilli(1_700_000_000_000)}
	ctx := context.Background()
	f := newMemoryFacade(t, clk)

	require.NoError(t, f.Write("profile:u1", sample(), time.Minute))
	require.NoError(t, f.Flush(ctx))

	clk.Advance(time.Minute)
	var full member
	ok, err := f.ReadFull(ctx, "profile:u1", &full)
	require.NoError(t, err)
	require.True(t, ok, "exactly at ttl still valid")

	clk.Advance(time.Millisecond)
	ok, err = f.ReadFull(ctx, "profile:u1", &full)
	require.NoError(t, err)
	require.False(t, ok)

	var fast member
	require.True(t, f.Read("profile:u1", &fast), "sync path never expires")
	require.Equal(t, "Maria Silva", fast.FullName)
}

type failingBlob struct{ *memory.Blob }

func (failingBlob) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("blob down")
}

func TestFacade_StoresAreIndependentOnWrite(t *testing.T) {
	clk := &fakeClock{t: time.UnixMilli(1_700_000_000_000)}
	ctx := context.Background()

	t.Run("blob failure keeps kv copy", func(t *testing.T) {
		f := NewFacade(memory.NewKV(0), failingBlob{memory.NewBlob()}, Options{Now: clk.Now, Logger: zap.NewNop()})
		defer f.Close()

		require.NoError(t, f.Write("k", sample(), time.Hour))
		require.NoError(t, f.Flush(ctx))

		var fast member
		require.True(t, f.Read("k", &fast))
		var full member
		ok, err := f.ReadFull(ctx, "k", &full)
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("kv quota keeps blob copy", func(t *testing.T) {
		f := NewFacade(memory.NewKV(16), memory.NewBlob(), Options{Now: clk.Now, Logger: zap.NewNop()})
		defer f.Close()

		err := f.Write("k", sample(), time.Hour)
		require.ErrorIs(t, err, memory.ErrQuotaExceeded)
		require.NoError(t, f.Flush(ctx))

		var fast member
		require.False(t, f.Read("k", &fast))
		var full member
		ok, err := f.ReadFull(ctx, "k", &full)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, sample(), full)
	})
}

func TestFacade_InvalidateAllPurgesNamespace(t *testing.T) {
	clk := &fakeClock{t: time.UnixMilli(1_700_000_000_000)}
	ctx := context.Background()
	f, mr := newRedisFacade(t, clk)

	require.NoError(t, mr.Set("other:profile:u1", "keep"))
	for _, k := range []string{"profile:u1", "user:u1:notifications", "churches:c1"} {
		require.NoError(t, f.Write(k, sample(), time.Hour))
	}
	// sin Flush: el borrado debe quedar ordenado después de las escrituras pendientes
	require.NoError(t, f.InvalidateAll(ctx, ""))

	for _, k := range []string{"profile:u1", "user:u1:notifications", "churches:c1"} {
		var v member
		require.False(t, f.Read(k, &v), k)
		ok, err := f.ReadFull(ctx, k, &v)
		require.NoError(t, err)
		require.False(t, ok, k)
	}
	got, err := mr.Get("other:profile:u1")
	require.NoError(t, err)
	require.Equal(t, "keep", got)
}

func TestFacade_InvalidateSingleKey(t *testing.T) {
	clk := &fakeClock{t: time.UnixMilli(1_700_000_000_000)}
	ctx := context.Background()
	f := newMemoryFacade(t, clk)

	require.NoError(t, f.Write("a", sample(), time.Hour))
	require.NoError(t, f.Write("b", sample(), time.Hour))
	require.NoError(t, f.Invalidate(ctx, "a"))

	var v member
	require.False(t, f.Read("a", &v))
	require.True(t, f.Read("b", &v))
	ok, err := f.ReadFull(ctx, "b", &v)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestFacade_ClosedRejectsAwait(t *testing.T) {
	f := NewFacade(memory.NewKV(0), memory.NewBlob(), Options{Logger: zap.NewNop()})
	require.NoError(t, f.Close())
	require.ErrorIs(t, f.Flush(context.Background()), ErrClosed)
}

func TestEntry_Expired(t *testing.T) {
	now := time.UnixMilli(10_000)
	require.False(t, Entry{Timestamp: 0, TTL: 0}.Expired(now))
	require.False(t, Entry{Timestamp: 5_000, TTL: 5_000}.Expired(now))
	require.True(t, Entry{Timestamp: 4_999, TTL: 5_000}.Expired(now))
}

func TestNew_Drivers(t *testing.T) {
	ctx := context.Background()

	f, err := New(ctx, Config{Namespace: "churchgate", BlobDriver: "memory"}, nil, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, f.Write("k", map[string]string{"a": "b"}, time.Minute))
	require.NoError(t, f.Flush(ctx))
	var v map[string]string
	ok, err := f.ReadFull(ctx, "k", &v)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, f.Close())

	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	f, err = New(ctx, Config{Namespace: "churchgate", BlobDriver: "redis", RedisAddr: mr.Addr()}, memory.NewKV(0), zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = New(ctx, Config{BlobDriver: "memcached"}, nil, zap.NewNop())
	require.Error(t, err)
}
