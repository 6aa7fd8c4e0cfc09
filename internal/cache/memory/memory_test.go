package memory

import (
	"context"
	"testing"
	"time"

	"github.com/dropDatabas3/churchgate/internal/localstore"
	"github.com/stretchr/testify/require"
)

func TestKV_QuotaAccounting(t *testing.T) {
	kv := NewKV(20)

	require.NoError(t, kv.Set("a", []byte("1234567890"))) // 11
	require.Equal(t, 11, kv.Used())
	require.ErrorIs(t, kv.Set("b", []byte("1234567890")), ErrQuotaExceeded)

	// reemplazar la misma clave descuenta el tamaño previo
	require.NoError(t, kv.Set("a", []byte("12345678901234567")))
	require.Equal(t, 18, kv.Used())

	v, ok := kv.Get("a")
	require.True(t, ok)
	require.Equal(t, "12345678901234567", string(v))

	kv.Delete("a")
	require.Zero(t, kv.Used())
	_, ok = kv.Get("a")
	require.False(t, ok)
}

func TestKV_DeletePrefix(t *testing.T) {
	kv := NewKV(0)
	require.NoError(t, kv.Set("ns:a", []byte("1")))
	require.NoError(t, kv.Set("ns:b", []byte("2")))
	require.NoError(t, kv.Set("other:a", []byte("3")))

	require.Equal(t, 2, kv.DeletePrefix("ns:"))
	_, ok := kv.Get("other:a")
	require.True(t, ok)
	require.Equal(t, len("other:a")+1, kv.Used())
}

func TestKV_SnapshotRoundTrip(t *testing.T) {
	ls := localstore.NewMemory()
	kv := NewKV(0)
	require.NoError(t, kv.Set("ns:profile:u1", []byte(`{"data":{"id":"u1"},"timestamp":1,"ttl":2}`)))
	require.NoError(t, kv.Set("ns:raw", []byte("not json")))
	require.NoError(t, kv.SaveTo(ls, "kv_snapshot"))

	restored := NewKV(0)
	n, err := restored.LoadFrom(ls, "kv_snapshot")
	require.NoError(t, err)
	require.Equal(t, 1, n)
	v, ok := restored.Get("ns:profile:u1")
	require.True(t, ok)
	require.JSONEq(t, `{"data":{"id":"u1"},"timestamp":1,"ttl":2}`, string(v))

	n, err = NewKV(0).LoadFrom(ls, "missing")
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestBlob_Basics(t *testing.T) {
	ctx := context.Background()
	b := NewBlob()
	defer b.Close()

	require.NoError(t, b.Set(ctx, "p:1", []byte("x"), time.Hour))
	require.NoError(t, b.Set(ctx, "p:2", []byte("y"), 0))
	require.NoError(t, b.Set(ctx, "q:1", []byte("z"), 0))

	v, ok, err := b.Get(ctx, "p:1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "x", string(v))

	n, err := b.DeletePrefix(ctx, "p:")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	_, ok, err = b.Get(ctx, "p:2")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, b.Delete(ctx, "q:1"))
	_, ok, _ = b.Get(ctx, "q:1")
	require.False(t, ok)
}
