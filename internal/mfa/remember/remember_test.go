package remember

import (
	"testing"
	"time"

	"github.com/dropDatabas3/churchgate/internal/localstore"
	"github.com/stretchr/testify/require"
)

const uid = "5b0c7a8e-3f44-4c1e-9d0e-1f1b2c3d4e5f"

func TestRemember_WindowAndExpiry(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	clock := func() time.Time { return now }
	ls := localstore.NewMemory()
	s := New(ls, time.Hour, clock)

	require.False(t, s.IsRemembered(uid))
	require.NoError(t, s.Remember(uid, 0))
	require.True(t, s.IsRemembered(uid))

	exp, ok := s.Expires(uid)
	require.True(t, ok)
	require.Equal(t, now.Add(time.Hour).UnixMilli(), exp.UnixMilli())

	now = now.Add(time.Hour)
	require.False(t, s.IsRemembered(uid))
	_, stored := ls.Get(KeyPrefix + uid)
	require.False(t, stored, "expired record must be removed")

	// renovar después de vencido vuelve a valer
	require.NoError(t, s.Remember(uid, time.Minute))
	require.True(t, s.IsRemembered(uid))
}

func TestRemember_CorruptRecordIsAbsent(t *testing.T) {
	ls := localstore.NewMemory()
	require.NoError(t, ls.Set(KeyPrefix+uid, []byte(`{"expires":"soon"}`)))
	s := New(ls, 0, nil)

	require.False(t, s.IsRemembered(uid))
	_, stored := ls.Get(KeyPrefix + uid)
	require.False(t, stored)
}

func TestRemember_Forget(t *testing.T) {
	s := New(localstore.NewMemory(), 0, nil)
	require.NoError(t, s.Remember(uid, 0))
	require.NoError(t, s.Forget(uid))
	require.False(t, s.IsRemembered(uid))
}

func TestRemember_InvalidUser(t *testing.T) {
	s := New(localstore.NewMemory(), 0, nil)
	require.ErrorIs(t, s.Remember("not-a-uuid", 0), ErrInvalidUser)
	require.False(t, s.IsRemembered(""))
}
