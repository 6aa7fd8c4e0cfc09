package identity

import (
	"errors"
	"net/url"
	"strconv"
	"strings"
)

var redirectParams = []string{
	"access_token", "refresh_token", "expires_in", "expires_at", "token_type", "type",
	"provider_token", "provider_refresh_token",
	"error", "error_code", "error_description",
}

// ParseAuthRedirect lee un redirect OAuth de rawURL. Fragmento con tokens
// (flujo implícito) o ?code= (PKCE). Un error en el fragmento o en el query
// se retorna como *AuthError.
func ParseAuthRedirect(rawURL string) (*AuthTokens, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, ErrNoAuthRedirect
	}
	frag, _ := url.ParseQuery(u.Fragment)
	query := u.Query()

	for _, vals := range []url.Values{frag, query} {
		if e := vals.Get("error"); e != "" || vals.Get("error_description") != "" {
			return nil, &AuthError{
				Code:    firstNonEmpty(vals.Get("error_code"), e),
				Message: vals.Get("error_description"),
			}
		}
	}

	if at := frag.Get("access_token"); at != "" {
		t := &AuthTokens{
			AccessToken:  at,
			RefreshToken: frag.Get("refresh_token"),
			TokenType:    frag.Get("token_type"),
			ProviderType: frag.Get("type"),
		}
		t.ExpiresIn, _ = strconv.Atoi(frag.Get("expires_in"))
		t.ExpiresAt, _ = strconv.ParseInt(frag.Get("expires_at"), 10, 64)
		return t, nil
	}
	if code := query.Get("code"); code != "" {
		return &AuthTokens{Code: code}, nil
	}
	return nil, ErrNoAuthRedirect
}

// HasAuthRedirect reporta si rawURL trae algo que ParseAuthRedirect consumiría.
func HasAuthRedirect(rawURL string) bool {
	_, err := ParseAuthRedirect(rawURL)
	return !errors.Is(err, ErrNoAuthRedirect)
}

// StripAuthRedirect elimina los parámetros del redirect OAuth de rawURL.
// Otros parámetros del query o fragmento se conservan.
func StripAuthRedirect(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	q.Del("code")
	for _, p := range redirectParams {
		q.Del(p)
	}
	u.RawQuery = q.Encode()

	if u.Fragment != "" {
		frag, err := url.ParseQuery(u.Fragment)
		if err == nil && isRedirectFragment(frag) {
			for _, p := range redirectParams {
				frag.Del(p)
			}
			u.Fragment = frag.Encode()
			u.RawFragment = ""
		}
	}
	return u.String()
}

func isRedirectFragment(v url.Values) bool {
	for _, p := range redirectParams {
		if v.Has(p) {
			return true
		}
	}
	return false
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
