package cache

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStripper_DropsLargeFieldsRecursively(t *testing.T) {
	in := `{"id":"1","avatar_url":"x","Photo_URL":"y","nested":{"logo_url":"z","name":"n"},
		"items":[{"image_url":"i","title":"t"},3,"s"],"galeria":["a"]}`
	out, err := NewStripper().Strip([]byte(in))
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(out, &got))
	require.Equal(t, map[string]any{
		"id":     "1",
		"nested": map[string]any{"name": "n"},
		"items":  []any{map[string]any{"title": "t"}, float64(3), "s"},
	}, got)
}

func TestStripper_StrippedIsSubsetOfFull(t *testing.T) {
	full := map[string]any{"a": 1.0, "cover_url": "c", "b": map[string]any{"images": []any{"x"}, "c": true}}
	raw, _ := json.Marshal(full)
	out, err := NewStripper().Strip(raw)
	require.NoError(t, err)

	var stripped map[string]any
	require.NoError(t, json.Unmarshal(out, &stripped))
	requireSubset(t, stripped, full)
}

func requireSubset(t *testing.T, sub, full map[string]any) {
	t.Helper()
	for k, v := range sub {
		fv, ok := full[k]
		require.True(t, ok, "key %q missing in full copy", k)
		if m, ok := v.(map[string]any); ok {
			requireSubset(t, m, fv.(map[string]any))
		}
	}
}

func TestStripper_ScalarsPassThrough(t *testing.T) {
	out, err := NewStripper().Strip([]byte(`"hola"`))
	require.NoError(t, err)
	require.Equal(t, `"hola"`, string(out))

	_, err = NewStripper().Strip([]byte(`{`))
	require.Error(t, err)
}

func TestStripper_CustomFields(t *testing.T) {
	out, err := NewStripper("secret").Strip([]byte(`{"secret":1,"avatar_url":"a"}`))
	require.NoError(t, err)
	require.JSONEq(t, `{"avatar_url":"a"}`, string(out))
}

func TestStripper_PreservesLargeIntegers(t *testing.T) {
	in := `{"id":9007199254740993,"total":12345678901234567890,"ratio":0.1,"avatar_url":"x"}`
	out, err := NewStripper().Strip([]byte(in))
	require.NoError(t, err)
	require.JSONEq(t, `{"id":9007199254740993,"total":12345678901234567890,"ratio":0.1}`, string(out))
	require.Contains(t, string(out), `"id":9007199254740993`)
}

func TestStripper_RejectsTrailingData(t *testing.T) {
	_, err := NewStripper().Strip([]byte(`{"id":1} {"id":2}`))
	require.Error(t, err)
}
