package identity

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseAuthRedirect_ImplicitFragment(t *testing.T) {
	tok, err := ParseAuthRedirect("https://app.example/dashboard#access_token=at&refresh_token=rt&expires_in=3600&expires_at=1700003600&token_type=bearer&type=signup")
	require.NoError(t, err)
	require.Equal(t, "at", tok.AccessToken)
	require.Equal(t, "rt", tok.RefreshToken)
	require.Equal(t, 3600, tok.ExpiresIn)
	require.EqualValues(t, 1700003600, tok.ExpiresAt)
	require.Equal(t, "signup", tok.ProviderType)
	require.False(t, tok.IsCode())
}

func TestParseAuthRedirect_PKCECode(t *testing.T) {
	tok, err := ParseAuthRedirect("https://app.example/auth/callback?code=abc123&next=%2Fmembros")
	require.NoError(t, err)
	require.True(t, tok.IsCode())
	require.Equal(t, "abc123", tok.Code)
}

func TestParseAuthRedirect_Error(t *testing.T) {
	_, err := ParseAuthRedirect("https://app.example/#error=access_denied&error_code=otp_expired&error_description=Email+link+is+invalid+or+has+expired")
	var ae *AuthError
	require.True(t, errors.As(err, &ae))
	require.Equal(t, "otp_expired", ae.Code)
	require.Equal(t, "Email link is invalid or has expired", ae.Message)
}

func TestParseAuthRedirect_Nothing(t *testing.T) {
	for _, u := range []string{
		"https://app.example/dashboard",
		"https://app.example/dashboard#section-2",
		"https://app.example/?tab=1",
		"::not a url",
	} {
		_, err := ParseAuthRedirect(u)
		require.ErrorIs(t, err, ErrNoAuthRedirect, u)
		require.False(t, HasAuthRedirect(u), u)
	}
	require.True(t, HasAuthRedirect("https://app.example/?code=x"))
}

func TestStripAuthRedirect(t *testing.T) {
	require.Equal(t, "https://app.example/dashboard",
		StripAuthRedirect("https://app.example/dashboard#access_token=at&refresh_token=rt&expires_in=3600"))
	require.Equal(t, "https://app.example/auth/callback?next=%2Fmembros",
		StripAuthRedirect("https://app.example/auth/callback?code=abc&next=%2Fmembros"))
	// fragmentos que no son de auth se conservan
	require.Equal(t, "https://app.example/page#section-2",
		StripAuthRedirect("https://app.example/page#section-2"))

	stripped := StripAuthRedirect("https://app.example/#error=access_denied&error_description=x")
	require.False(t, HasAuthRedirect(stripped))
}
