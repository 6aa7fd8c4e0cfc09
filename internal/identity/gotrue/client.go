// Package gotrue implementa identity.Provider contra una API compatible con GoTrue.
//
// La sesión se persiste en el área local (localstore) bajo StorageKey y se
// refresca en GetSession cuando está por vencer. Los cambios se notifican a
// los listeners registrados con OnSessionChange.
package gotrue

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dropDatabas3/churchgate/internal/domain/repository"
	"github.com/dropDatabas3/churchgate/internal/identity"
	"github.com/dropDatabas3/churchgate/internal/observability/logger"
	"go.uber.org/zap"
)

const (
	DefaultStorageKey = "churchgate-auth-token"
	refreshMargin     = 30 * time.Second
	maxBody           = 1 << 20
)

// Storage es el área persistida.
type Storage interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte) error
	Delete(key string) error
}

// Config del cliente.
type Config struct {
	BaseURL    string
	APIKey     string
	StorageKey string
	Timeout    time.Duration
	HTTPClient *http.Client
	Now        func() time.Time
	Logger     *zap.Logger
}

// Client es seguro para uso concurrente.
type Client struct {
	base   *url.URL
	apiKey string
	key    string
	http   *http.Client
	store  Storage
	now    func() time.Time
	log    *zap.Logger

	mu      sync.Mutex
	session *identity.Session
	loaded  bool

	lmu       sync.Mutex
	listeners map[int]func(identity.SessionChange)
	nextID    int
}

var _ identity.Provider = (*Client)(nil)

// New crea el cliente. Con BaseURL o APIKey vacíos todas las operaciones
// retornan identity.ErrMisconfigured.
func New(cfg Config, store Storage) *Client {
	c := &Client{
		apiKey:    strings.TrimSpace(cfg.APIKey),
		key:       cfg.StorageKey,
		http:      cfg.HTTPClient,
		store:     store,
		now:       cfg.Now,
		log:       logger.OrNamed(cfg.Logger, "identity"),
		listeners: make(map[int]func(identity.SessionChange)),
	}
	if raw := strings.TrimSpace(cfg.BaseURL); raw != "" {
		if u, err := url.Parse(raw); err == nil && u.Scheme != "" && u.Host != "" {
			c.base = u
		}
	}
	if c.key == "" {
		c.key = DefaultStorageKey
	}
	if c.http == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		c.http = &http.Client{Timeout: timeout}
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

func (c *Client) configured() error {
	if c.base == nil || c.apiKey == "" {
		return identity.ErrMisconfigured
	}
	return nil
}

// ─── Sesión ───

func (c *Client) GetSession(ctx context.Context) (*identity.Session, error) {
	if err := c.configured(); err != nil {
		return nil, err
	}
	s := c.current()
	if s == nil {
		return nil, nil
	}
	if !s.Expired(c.now(), refreshMargin) {
		return s, nil
	}
	return c.refresh(ctx, s)
}

func (c *Client) SetSession(ctx context.Context, tokens identity.AuthTokens) (*identity.Session, error) {
	if err := c.configured(); err != nil {
		return nil, err
	}
	if tokens.AccessToken == "" {
		return nil, &identity.AuthError{Code: "invalid_tokens", Message: "access token required"}
	}
	var user identity.Identity
	if err := c.do(ctx, http.MethodGet, "/user", nil, nil, tokens.AccessToken, &user); err != nil {
		return nil, err
	}
	s := &identity.Session{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		TokenType:    firstNonEmpty(tokens.TokenType, "bearer"),
		ExpiresAt:    c.expiry(tokens.ExpiresAt, tokens.ExpiresIn, tokens.AccessToken),
		User:         user,
	}
	c.save(s)
	c.emit(identity.EventSignedIn, s)
	return s, nil
}

func (c *Client) ExchangeCode(ctx context.Context, code string) (*identity.Session, error) {
	if err := c.configured(); err != nil {
		return nil, err
	}
	verifier, ok := c.loadVerifier()
	if !ok {
		return nil, &identity.AuthError{Code: "pkce_verifier_missing", Message: "no code verifier for this device"}
	}
	var tr tokenResponse
	q := url.Values{"grant_type": {"pkce"}}
	body := map[string]string{"auth_code": code, "code_verifier": verifier}
	if err := c.do(ctx, http.MethodPost, "/token", q, body, "", &tr); err != nil {
		return nil, err
	}
	_ = c.store.Delete(c.verifierKey())
	return c.signedIn(identity.EventSignedIn, tr, nil)
}

func (c *Client) OnSessionChange(fn func(identity.SessionChange)) func() {
	c.lmu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.lmu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.lmu.Lock()
			delete(c.listeners, id)
			c.lmu.Unlock()
		})
	}
}

// ─── Credenciales ───

func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*identity.Session, error) {
	if err := c.configured(); err != nil {
		return nil, err
	}
	var tr tokenResponse
	q := url.Values{"grant_type": {"password"}}
	body := map[string]string{"email": strings.TrimSpace(email), "password": password}
	if err := c.do(ctx, http.MethodPost, "/token", q, body, "", &tr); err != nil {
		return nil, err
	}
	return c.signedIn(identity.EventSignedIn, tr, nil)
}

func (c *Client) SignUp(ctx context.Context, email, password string, metadata identity.UserMetadata) (*identity.Session, error) {
	if err := c.configured(); err != nil {
		return nil, err
	}
	var tr tokenResponse
	body := map[string]any{"email": strings.TrimSpace(email), "password": password, "data": metadata}
	if err := c.do(ctx, http.MethodPost, "/signup", nil, body, "", &tr); err != nil {
		return nil, err
	}
	if tr.AccessToken == "" {
		// confirmación de email pendiente
		return nil, nil
	}
	return c.signedIn(identity.EventSignedIn, tr, nil)
}

// SignOut limpia la sesión local aunque el backend falle.
func (c *Client) SignOut(ctx context.Context) error {
	if err := c.configured(); err != nil {
		return err
	}
	if s := c.current(); s != nil {
		if err := c.do(ctx, http.MethodPost, "/logout", nil, nil, s.AccessToken, nil); err != nil && !identity.IsAuthError(err) {
			c.log.Warn("remote logout failed", logger.Err(err))
		}
	}
	c.clear()
	c.emit(identity.EventSignedOut, nil)
	return nil
}

func (c *Client) ResetPassword(ctx context.Context, email, redirectTo string) error {
	if err := c.configured(); err != nil {
		return err
	}
	var q url.Values
	if redirectTo != "" {
		q = url.Values{"redirect_to": {redirectTo}}
	}
	return c.do(ctx, http.MethodPost, "/recover", q, map[string]string{"email": strings.TrimSpace(email)}, "", nil)
}

// SignInWithOAuth arma la URL de /authorize con PKCE S256 y guarda el verifier.
func (c *Client) SignInWithOAuth(ctx context.Context, provider, redirectTo string) (string, error) {
	if err := c.configured(); err != nil {
		return "", err
	}
	if strings.TrimSpace(provider) == "" {
		return "", &identity.AuthError{Code: "validation_failed", Message: "provider required"}
	}
	verifier, err := newVerifier()
	if err != nil {
		return "", err
	}
	vb, _ := json.Marshal(verifier)
	if err := c.store.Set(c.verifierKey(), vb); err != nil {
		return "", fmt.Errorf("identity: persist verifier: %w", err)
	}
	sum := sha256.Sum256([]byte(verifier))

	u := c.endpoint("/authorize")
	q := url.Values{}
	q.Set("provider", provider)
	if redirectTo != "" {
		q.Set("redirect_to", redirectTo)
	}
	q.Set("code_challenge", base64.RawURLEncoding.EncodeToString(sum[:]))
	q.Set("code_challenge_method", "s256")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) MFA() identity.MFA { return mfa{c: c} }

// ─── internos ───

type tokenResponse struct {
	AccessToken  string             `json:"access_token"`
	TokenType    string             `json:"token_type"`
	ExpiresIn    int                `json:"expires_in"`
	ExpiresAt    int64              `json:"expires_at"`
	RefreshToken string             `json:"refresh_token"`
	User         *identity.Identity `json:"user"`
}

func (c *Client) signedIn(ev identity.Event, tr tokenResponse, prev *identity.Session) (*identity.Session, error) {
	if tr.AccessToken == "" {
		return nil, &identity.AuthError{Code: "invalid_response", Message: "token response without access_token"}
	}
	s := &identity.Session{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		TokenType:    firstNonEmpty(tr.TokenType, "bearer"),
		ExpiresAt:    c.expiry(tr.ExpiresAt, tr.ExpiresIn, tr.AccessToken),
	}
	switch {
	case tr.User != nil:
		s.User = *tr.User
	case prev != nil:
		s.User = prev.User
	}
	c.save(s)
	c.emit(ev, s)
	return s, nil
}

func (c *Client) refresh(ctx context.Context, s *identity.Session) (*identity.Session, error) {
	var tr tokenResponse
	q := url.Values{"grant_type": {"refresh_token"}}
	err := c.do(ctx, http.MethodPost, "/token", q, map[string]string{"refresh_token": s.RefreshToken}, "", &tr)
	if identity.IsAuthError(err) {
		c.log.Info("refresh token rejected, clearing session", logger.UserID(s.User.ID), logger.Err(err))
		c.clear()
		c.emit(identity.EventSignedOut, nil)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c.signedIn(identity.EventTokenRefreshed, tr, s)
}

func (c *Client) expiry(expiresAt int64, expiresIn int, accessToken string) time.Time {
	switch {
	case expiresAt > 0:
		return time.Unix(expiresAt, 0)
	case expiresIn > 0:
		return c.now().Add(time.Duration(expiresIn) * time.Second)
	}
	if cl, err := identity.ParseAccessClaims(accessToken); err == nil && cl.ExpiresAt != nil {
		return cl.ExpiresAt.Time
	}
	return time.Time{}
}

func (c *Client) current() *identity.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded {
		c.loaded = true
		if raw, ok := c.store.Get(c.key); ok {
			var s identity.Session
			if err := json.Unmarshal(raw, &s); err == nil && s.AccessToken != "" {
				c.session = &s
			} else {
				c.log.Warn("discarding unreadable persisted session", logger.Key(c.key))
				_ = c.store.Delete(c.key)
			}
		}
	}
	if c.session == nil {
		return nil
	}
	cp := *c.session
	return &cp
}

func (c *Client) save(s *identity.Session) {
	cp := *s
	c.mu.Lock()
	c.session = &cp
	c.loaded = true
	c.mu.Unlock()

	b, err := json.Marshal(s)
	if err == nil {
		err = c.store.Set(c.key, b)
	}
	if err != nil {
		c.log.Warn("persist session failed", logger.Err(err))
	}
}

func (c *Client) clear() {
	c.mu.Lock()
	c.session = nil
	c.loaded = true
	c.mu.Unlock()
	_ = c.store.Delete(c.key)
	_ = c.store.Delete(c.verifierKey())
}

func (c *Client) emit(ev identity.Event, s *identity.Session) {
	c.lmu.Lock()
	fns := make([]func(identity.SessionChange), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.lmu.Unlock()

	var cp *identity.Session
	if s != nil {
		v := *s
		cp = &v
	}
	for _, fn := range fns {
		fn(identity.SessionChange{Event: ev, Session: cp})
	}
}

func (c *Client) verifierKey() string { return c.key + "-code-verifier" }

func (c *Client) loadVerifier() (string, bool) {
	raw, ok := c.store.Get(c.verifierKey())
	if !ok {
		return "", false
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil || v == "" {
		return "", false
	}
	return v, true
}

func newVerifier() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("identity: verifier: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func (c *Client) endpoint(path string) *url.URL {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	return &u
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body any, bearer string, out any) error {
	u := c.endpoint(path)
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("identity: encode request: %w", err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rdr)
	if err != nil {
		return err
	}
	if bearer == "" {
		bearer = c.apiKey
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: identity %s %s: %v", repository.ErrUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return fmt.Errorf("%w: identity read body: %v", repository.ErrUnavailable, err)
	}
	if resp.StatusCode >= 400 {
		return decodeError(resp.StatusCode, raw)
	}
	if out != nil && len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("identity: decode %s: %w", path, err)
		}
	}
	return nil
}

func decodeError(status int, raw []byte) error {
	var e struct {
		Error            string `json:"error"`
		ErrorCode        string `json:"error_code"`
		ErrorDescription string `json:"error_description"`
		Msg              string `json:"msg"`
		Message          string `json:"message"`
	}
	_ = json.Unmarshal(raw, &e)
	if status >= 500 {
		return fmt.Errorf("%w: identity status %d %s", repository.ErrUnavailable, status, firstNonEmpty(e.Msg, e.Message))
	}
	return &identity.AuthError{
		Status:  status,
		Code:    firstNonEmpty(e.ErrorCode, e.Error),
		Message: firstNonEmpty(e.ErrorDescription, e.Msg, e.Message),
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
