// Package app arma el Container con todos los componentes del core a partir
// de la configuración. Lo usan cmd/dashboard y cmd/churchctl.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dropDatabas3/churchgate/internal/cache"
	cachemem "github.com/dropDatabas3/churchgate/internal/cache/memory"
	"github.com/dropDatabas3/churchgate/internal/config"
	"github.com/dropDatabas3/churchgate/internal/domain/repository"
	"github.com/dropDatabas3/churchgate/internal/domain/types"
	"github.com/dropDatabas3/churchgate/internal/gate"
	"github.com/dropDatabas3/churchgate/internal/identity/gotrue"
	"github.com/dropDatabas3/churchgate/internal/localstore"
	"github.com/dropDatabas3/churchgate/internal/mfa/remember"
	"github.com/dropDatabas3/churchgate/internal/observability/logger"
	"github.com/dropDatabas3/churchgate/internal/profile"
	"github.com/dropDatabas3/churchgate/internal/realtime"
	"github.com/dropDatabas3/churchgate/internal/session"
	memstore "github.com/dropDatabas3/churchgate/internal/store/memory"
	"github.com/dropDatabas3/churchgate/internal/store/pg"
	"go.uber.org/zap"
)

// SnapshotKey es la clave de LocalState donde se vuelca el KV al cerrar.
const SnapshotKey = "kv_cache_snapshot"

type Container struct {
	Config *config.Config
	Log    *zap.Logger

	Local    *localstore.Store
	KV       *cachemem.KV
	Cache    *cache.Facade
	DB       *pg.Store // nil sin DSN
	Profiles repository.ProfileStore
	Channel  repository.RealtimeChannel // nil con realtime.driver=none y Postgres
	Identity *gotrue.Client
	Remember *remember.Store
	Profile  *profile.Service
	Policy   gate.Policy
	Routes   gate.Routes

	pgRealtime *pg.Realtime
}

// Build arma el container. Sin storage.dsn usa el store en memoria (modo dev).
func Build(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Container, error) {
	log = logger.OrNamed(log, "app")
	c := &Container{Config: cfg, Log: log, Routes: gate.DefaultRoutes()}

	policy, err := policyFrom(cfg)
	if err != nil {
		return nil, err
	}
	if err := policy.Validate(c.Routes); err != nil {
		return nil, fmt.Errorf("app: route policy: %w", err)
	}
	c.Policy = policy

	local, err := localstore.Open(cfg.LocalState.Path)
	if err != nil {
		return nil, fmt.Errorf("app: local state: %w", err)
	}
	c.Local = local

	// ─── cache ───
	c.KV = cachemem.NewKV(cfg.Cache.KV.MaxBytes)
	if n, err := c.KV.LoadFrom(local, SnapshotKey); err != nil {
		log.Warn("kv snapshot unreadable", logger.Err(err))
	} else if n > 0 {
		log.Info("kv snapshot restored", logger.Count(n))
	}
	c.Cache, err = cache.New(ctx, cache.Config{
		Namespace:  cfg.Cache.Namespace,
		BlobDriver: cfg.Cache.Blob.Driver,
		RedisAddr:  cfg.Cache.Blob.Addr,
		RedisPass:  cfg.Cache.Blob.Password,
		RedisDB:    cfg.Cache.Blob.DB,
		QueueSize:  cfg.Cache.Blob.QueueSize,
	}, c.KV, log.Named("cache"))
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	// ─── profiles + realtime ───
	if cfg.Storage.DSN != "" {
		db, err := pg.New(ctx, pg.Config{
			DSN:             cfg.Storage.DSN,
			MaxConns:        cfg.Storage.MaxConns,
			MinConns:        cfg.Storage.MinConns,
			ConnMaxLifetime: cfg.Storage.ConnMaxLifetime,
		}, log.Named("pg"))
		if err != nil {
			if cerr := c.Close(ctx); cerr != nil {
				log.Warn("close after storage failure", logger.Err(cerr))
			}
			return nil, fmt.Errorf("app: storage: %w", err)
		}
		c.DB = db
		c.Profiles = db
		if cfg.Realtime.Driver == "postgres" {
			c.pgRealtime = pg.NewRealtime(db.Pool(), cfg.Realtime.Channel, log.Named("realtime"))
			c.Channel = c.pgRealtime
		}
	} else {
		log.Warn("storage.dsn empty: using in-memory profile store")
		broker := memstore.NewBroker()
		c.Profiles = memstore.NewProfiles(broker)
		c.Channel = broker
	}

	c.Identity = gotrue.New(gotrue.Config{
		BaseURL:    cfg.Identity.BaseURL,
		APIKey:     cfg.Identity.APIKey,
		StorageKey: cfg.Identity.StorageKey,
		Timeout:    cfg.Identity.Timeout,
		Logger:     log.Named("identity"),
	}, local)
	c.Remember = remember.New(local, cfg.MFA.RememberTTL, nil)
	c.Profile = profile.NewService(c.Profiles, c.Cache, profile.Options{
		TTL:    cfg.Cache.ProfileTTL,
		Logger: log.Named("profile"),
	})
	return c, nil
}

// NewSession arma el SessionManager. replaceURL recibe la URL ya limpia del
// redirect OAuth.
func (c *Container) NewSession(replaceURL func(string), counter *session.Counter) *session.Manager {
	opts := session.Options{
		Cache:            c.Cache,
		Remember:         c.Remember,
		Counter:          counter,
		Policy:           c.Policy,
		URLReplacer:      replaceURL,
		HydrateTimeout:   c.Config.Session.HydrateTimeout,
		AuthEventTimeout: c.Config.Session.AuthEventTimeout,
		RememberTTL:      c.Config.MFA.RememberTTL,
		Logger:           c.Log.Named("session"),
	}
	if c.Channel != nil {
		opts.Realtime = realtime.New(c.Channel, realtime.Options{Logger: c.Log.Named("realtime")})
	}
	return session.New(c.Identity, c.Profile, opts)
}

// Close vuelca el KV a LocalState y libera cache, realtime y pool.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	if err := c.Cache.Flush(ctx); err != nil {
		errs = append(errs, fmt.Errorf("cache flush: %w", err))
	}
	if err := c.KV.SaveTo(c.Local, SnapshotKey); err != nil {
		errs = append(errs, fmt.Errorf("kv snapshot: %w", err))
	}
	if err := c.Cache.Close(); err != nil {
		errs = append(errs, fmt.Errorf("cache close: %w", err))
	}
	if c.pgRealtime != nil {
		c.pgRealtime.Close()
	}
	if c.DB != nil {
		c.DB.Close()
	}
	return errors.Join(errs...)
}

func policyFrom(cfg *config.Config) (gate.Policy, error) {
	p := gate.DefaultPolicy()
	roles := make([]types.Role, 0, len(cfg.MFA.MandatoryRoles))
	for _, raw := range cfg.MFA.MandatoryRoles {
		r := types.Role(strings.ToLower(strings.TrimSpace(raw)))
		if !r.Valid() {
			return p, fmt.Errorf("app: mfa.mandatory_roles: unknown role %q", raw)
		}
		roles = append(roles, r)
	}
	p.MandatoryMFA = roles
	return p, nil
}
