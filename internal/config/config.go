package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App struct {
		// dev | staging | prod
		Env string `yaml:"env"`
	} `yaml:"app"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	Server struct {
		Addr string `yaml:"addr"`
		// URL pública del dashboard; base de /auth/callback.
		PublicURL string `yaml:"public_url"`
	} `yaml:"server"`

	Identity struct {
		BaseURL    string        `yaml:"base_url"`
		APIKey     string        `yaml:"api_key"`
		Timeout    time.Duration `yaml:"timeout"`
		StorageKey string        `yaml:"storage_key"`
	} `yaml:"identity"`

	Storage struct {
		DSN             string        `yaml:"dsn"`
		MaxConns        int           `yaml:"max_conns"`
		MinConns        int           `yaml:"min_conns"`
		ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	} `yaml:"storage"`

	Cache struct {
		Namespace string `yaml:"namespace"`
		KV        struct {
			MaxBytes int `yaml:"max_bytes"`
		} `yaml:"kv"`
		Blob struct {
			// redis | memory
			Driver    string `yaml:"driver"`
			Addr      string `yaml:"addr"`
			Password  string `yaml:"password"`
			DB        int    `yaml:"db"`
			QueueSize int    `yaml:"queue_size"`
		} `yaml:"blob"`
		ProfileTTL time.Duration `yaml:"profile_ttl"`
	} `yaml:"cache"`

	Session struct {
		HydrateTimeout   time.Duration `yaml:"hydrate_timeout"`
		AuthEventTimeout time.Duration `yaml:"auth_event_timeout"`
	} `yaml:"session"`

	MFA struct {
		MandatoryRoles []string      `yaml:"mandatory_roles"`
		RememberTTL    time.Duration `yaml:"remember_ttl"`
	} `yaml:"mfa"`

	LocalState struct {
		Path string `yaml:"path"`
	} `yaml:"local_state"`

	Realtime struct {
		// postgres | none
		Driver  string `yaml:"driver"`
		Channel string `yaml:"channel"`
	} `yaml:"realtime"`
}

// Load lee path (si no está vacío), aplica defaults y luego el entorno.
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	c.applyEnvOverrides()
	c.applyDefaults()
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.PublicURL == "" {
		c.Server.PublicURL = "http://localhost" + c.Server.Addr
	}
	if c.Identity.Timeout == 0 {
		c.Identity.Timeout = 10 * time.Second
	}
	if c.Identity.StorageKey == "" {
		c.Identity.StorageKey = "churchgate-auth-token"
	}
	if c.Storage.MaxConns == 0 {
		c.Storage.MaxConns = 10
	}
	if c.Cache.Namespace == "" {
		c.Cache.Namespace = "churchgate"
	}
	if c.Cache.KV.MaxBytes == 0 {
		c.Cache.KV.MaxBytes = 5 << 20
	}
	if c.Cache.Blob.Driver == "" {
		c.Cache.Blob.Driver = "memory"
		if c.Cache.Blob.Addr != "" {
			c.Cache.Blob.Driver = "redis"
		}
	}
	if c.Cache.Blob.QueueSize == 0 {
		c.Cache.Blob.QueueSize = 256
	}
	if c.Cache.ProfileTTL == 0 {
		c.Cache.ProfileTTL = time.Hour
	}
	if c.Session.HydrateTimeout == 0 {
		c.Session.HydrateTimeout = 8 * time.Second
	}
	if c.Session.AuthEventTimeout == 0 {
		c.Session.AuthEventTimeout = 5 * time.Second
	}
	if c.MFA.MandatoryRoles == nil {
		c.MFA.MandatoryRoles = []string{"super_admin", "pastor_chefe", "admin", "financeiro"}
	}
	if c.MFA.RememberTTL == 0 {
		c.MFA.RememberTTL = 30 * 24 * time.Hour
	}
	if c.LocalState.Path == "" {
		c.LocalState.Path = "data/local_state.json"
	}
	if c.Realtime.Driver == "" {
		c.Realtime.Driver = "none"
		if c.Storage.DSN != "" {
			c.Realtime.Driver = "postgres"
		}
	}
	if c.Realtime.Channel == "" {
		c.Realtime.Channel = "row_changes"
	}
}

// ---- Helpers env ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}
func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}
func getEnvDur(key string) (time.Duration, bool) {
	if s, ok := getEnvStr(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(s)); err == nil {
			return d, true
		}
	}
	return 0, false
}
func getEnvCSV(key string) ([]string, bool) {
	if s, ok := getEnvStr(key); ok {
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				out = append(out, p)
			}
		}
		return out, true
	}
	return nil, false
}

// applyEnvOverrides: pisa config.yaml con variables de entorno.
func (c *Config) applyEnvOverrides() {
	// APP
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}
	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.Log.Level = strings.ToLower(v)
	}

	// SERVER
	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvStr("SERVER_PUBLIC_URL"); ok {
		c.Server.PublicURL = v
	}

	// IDENTITY
	if v, ok := getEnvStr("IDENTITY_URL"); ok {
		c.Identity.BaseURL = v
	}
	if v, ok := getEnvStr("IDENTITY_API_KEY"); ok {
		c.Identity.APIKey = v
	}
	if v, ok := getEnvDur("IDENTITY_TIMEOUT"); ok {
		c.Identity.Timeout = v
	}

	// STORAGE
	if v, ok := getEnvStr("STORAGE_DSN"); ok {
		c.Storage.DSN = v
	}
	if v, ok := getEnvInt("STORAGE_MAX_CONNS"); ok {
		c.Storage.MaxConns = v
	}

	// CACHE
	if v, ok := getEnvStr("CACHE_NAMESPACE"); ok {
		c.Cache.Namespace = v
	}
	if v, ok := getEnvStr("CACHE_BLOB_DRIVER"); ok {
		c.Cache.Blob.Driver = strings.ToLower(v)
	}
	if v, ok := getEnvStr("REDIS_ADDR"); ok {
		c.Cache.Blob.Addr = v
	}
	if v, ok := getEnvStr("REDIS_PASSWORD"); ok {
		c.Cache.Blob.Password = v
	}
	if v, ok := getEnvInt("REDIS_DB"); ok {
		c.Cache.Blob.DB = v
	}
	if v, ok := getEnvInt("CACHE_KV_MAX_BYTES"); ok {
		c.Cache.KV.MaxBytes = v
	}

	// SESSION
	if v, ok := getEnvDur("SESSION_HYDRATE_TIMEOUT"); ok {
		c.Session.HydrateTimeout = v
	}
	if v, ok := getEnvDur("SESSION_AUTH_EVENT_TIMEOUT"); ok {
		c.Session.AuthEventTimeout = v
	}

	// MFA
	if v, ok := getEnvCSV("MFA_MANDATORY_ROLES"); ok {
		c.MFA.MandatoryRoles = v
	}
	if v, ok := getEnvDur("MFA_REMEMBER_TTL"); ok {
		c.MFA.RememberTTL = v
	}

	if v, ok := getEnvStr("LOCAL_STATE_PATH"); ok {
		c.LocalState.Path = v
	}
	if v, ok := getEnvStr("REALTIME_DRIVER"); ok {
		c.Realtime.Driver = strings.ToLower(v)
	}
}

// Validate rechaza timeouts/TTLs no positivos y drivers desconocidos.
func (c *Config) Validate() error {
	var errs []error
	positive := map[string]time.Duration{
		"identity.timeout":           c.Identity.Timeout,
		"cache.profile_ttl":          c.Cache.ProfileTTL,
		"session.hydrate_timeout":    c.Session.HydrateTimeout,
		"session.auth_event_timeout": c.Session.AuthEventTimeout,
		"mfa.remember_ttl":           c.MFA.RememberTTL,
	}
	for name, d := range positive {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	switch c.Cache.Blob.Driver {
	case "memory":
	case "redis":
		if c.Cache.Blob.Addr == "" {
			errs = append(errs, errors.New("cache.blob.addr is required for the redis driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown cache.blob.driver %q", c.Cache.Blob.Driver))
	}
	switch c.Realtime.Driver {
	case "none":
	case "postgres":
		if c.Storage.DSN == "" {
			errs = append(errs, errors.New("realtime.driver=postgres requires storage.dsn"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown realtime.driver %q", c.Realtime.Driver))
	}
	if c.Cache.KV.MaxBytes < 0 {
		errs = append(errs, errors.New("cache.kv.max_bytes must not be negative"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
