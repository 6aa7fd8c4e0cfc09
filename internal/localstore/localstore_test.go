package localstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "local.json")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Set("mfa_remember:u1", []byte(`{"expires":1}`)))
	require.NoError(t, s.Set("auth_session", []byte(`{"access_token":"x"}`)))

	again, err := Open(path)
	require.NoError(t, err)
	v, ok := again.Get("mfa_remember:u1")
	require.True(t, ok)
	require.JSONEq(t, `{"expires":1}`, string(v))
	require.Equal(t, []string{"mfa_remember:u1"}, again.Keys("mfa_remember:"))

	require.NoError(t, again.Delete("mfa_remember:u1"))
	require.NoError(t, again.Delete("missing"))
	_, ok = again.Get("mfa_remember:u1")
	require.False(t, ok)
}

func TestRejectsInvalidJSON(t *testing.T) {
	s := NewMemory()
	require.Error(t, s.Set("k", []byte("not json")))
}
