package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dropDatabas3/churchgate/internal/app"
	"github.com/dropDatabas3/churchgate/internal/config"
	"github.com/dropDatabas3/churchgate/internal/domain/types"
	"github.com/dropDatabas3/churchgate/internal/gate"
	"github.com/dropDatabas3/churchgate/internal/identity"
	"github.com/dropDatabas3/churchgate/internal/observability/logger"
	"github.com/dropDatabas3/churchgate/internal/store/pg"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

type cli struct {
	cfgPath string
	out     string
	timeout time.Duration
}

func main() {
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &cli{
		cfgPath: envOr("CONFIG_PATH", ""),
		out:     envOr("CHURCHCTL_OUT", "text"),
		timeout: 30 * time.Second,
	}

	root := &cobra.Command{
		Use:           "churchctl",
		Short:         "CLI operativo del dashboard (perfiles, cache, gate, migraciones)",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&c.cfgPath, "config", c.cfgPath, "Ruta al config.yaml (env CONFIG_PATH)")
	root.PersistentFlags().StringVar(&c.out, "out", c.out, "Formato de salida: json|text")
	root.PersistentFlags().DurationVar(&c.timeout, "timeout", c.timeout, "Timeout total del comando")

	root.AddCommand(c.migrateCmd(), c.profileCmd(), c.cacheCmd(), c.gateCmd())
	return root
}

func (c *cli) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(c.cfgPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.Log.Level, ServiceName: "churchctl"})
	return cfg, nil
}

// withContainer arma el container, corre fn y lo cierra (vuelca el snapshot del KV).
func (c *cli) withContainer(cmd *cobra.Command, fn func(ctx context.Context, ct *app.Container) error) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), c.timeout)
	defer cancel()

	ct, err := app.Build(ctx, cfg, logger.Named("churchctl"))
	if err != nil {
		return err
	}
	runErr := fn(ctx, ct)
	return errors.Join(runErr, ct.Close(ctx))
}

func (c *cli) print(w io.Writer, v any, text string) {
	if c.out == "json" {
		b, _ := json.MarshalIndent(v, "", "  ")
		fmt.Fprintln(w, string(b))
		return
	}
	fmt.Fprintln(w, text)
}

func (c *cli) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Aplica las migraciones de Postgres (profiles + trigger de realtime)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			if cfg.Storage.DSN == "" {
				return fmt.Errorf("storage.dsn es requerido (env STORAGE_DSN)")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), c.timeout)
			defer cancel()

			db, err := pg.New(ctx, pg.Config{DSN: cfg.Storage.DSN, MaxConns: 2}, logger.Named("pg"))
			if err != nil {
				return err
			}
			defer db.Close()
			n, err := db.Migrate(ctx)
			if err != nil {
				return err
			}
			c.print(cmd.OutOrStdout(), map[string]int{"applied": n}, fmt.Sprintf("migraciones aplicadas: %d", n))
			return nil
		},
	}
}

func (c *cli) profileCmd() *cobra.Command {
	profileCmd := &cobra.Command{Use: "profile", Short: "Operaciones sobre perfiles"}

	getCmd := &cobra.Command{
		Use:   "get <user-id>",
		Short: "Muestra el perfil guardado",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withContainer(cmd, func(ctx context.Context, ct *app.Container) error {
				p, err := ct.Profiles.Get(ctx, args[0])
				if err != nil {
					return err
				}
				if p == nil {
					return fmt.Errorf("perfil %s no existe", args[0])
				}
				c.print(cmd.OutOrStdout(), p, fmt.Sprintf("%s  %s  role=%s status=%s", p.ID, p.FullName, p.Role, p.Status))
				return nil
			})
		},
	}

	var healName, healEmail, healAvatar string
	healCmd := &cobra.Command{
		Use:   "heal <user-id>",
		Short: "Completa nombre/avatar faltantes con los datos de la identidad",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withContainer(cmd, func(ctx context.Context, ct *app.Container) error {
				p, err := ct.Profiles.Get(ctx, args[0])
				if err != nil {
					return err
				}
				if p == nil {
					return fmt.Errorf("perfil %s no existe", args[0])
				}
				meta := identity.UserMetadata{}
				if healName != "" {
					meta["full_name"] = healName
				}
				if healAvatar != "" {
					meta["avatar_url"] = healAvatar
				}
				id := identity.Identity{ID: p.ID, Email: healEmail, Metadata: meta}
				if id.Email == "" {
					id.Email = p.Email
				}
				healed, changed, err := ct.Profile.SelfHeal(ctx, id, p)
				if err != nil {
					return err
				}
				msg := "sin cambios"
				if changed {
					msg = fmt.Sprintf("actualizado: %s", healed.FullName)
				}
				c.print(cmd.OutOrStdout(), map[string]any{"changed": changed, "profile": healed}, msg)
				return nil
			})
		},
	}
	healCmd.Flags().StringVar(&healName, "name", "", "Nombre completo de la identidad")
	healCmd.Flags().StringVar(&healEmail, "email", "", "Email de la identidad (default: el del perfil)")
	healCmd.Flags().StringVar(&healAvatar, "avatar", "", "URL de avatar de la identidad")

	profileCmd.AddCommand(getCmd, healCmd)
	return profileCmd
}

func (c *cli) cacheCmd() *cobra.Command {
	cacheCmd := &cobra.Command{Use: "cache", Short: "Operaciones sobre el cache de dos niveles"}

	var prefix string
	purgeCmd := &cobra.Command{
		Use:   "purge",
		Short: "Invalida las entradas del namespace (o solo las de --prefix)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withContainer(cmd, func(ctx context.Context, ct *app.Container) error {
				if err := ct.Cache.InvalidateAll(ctx, prefix); err != nil {
					return err
				}
				c.print(cmd.OutOrStdout(), map[string]string{"namespace": ct.Cache.Namespace(), "prefix": prefix},
					fmt.Sprintf("cache %q purgado (prefix=%q)", ct.Cache.Namespace(), prefix))
				return nil
			})
		},
	}
	purgeCmd.Flags().StringVar(&prefix, "prefix", "", "Prefijo dentro del namespace (ej. profile:)")

	cacheCmd.AddCommand(purgeCmd)
	return cacheCmd
}

func (c *cli) gateCmd() *cobra.Command {
	gateCmd := &cobra.Command{Use: "gate", Short: "Herramientas del access gate"}

	var (
		role, path, aal       string
		anonymous, remembered bool
		factor, loading       bool
	)
	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Evalúa el veredicto del gate para un rol y una ruta",
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				return fmt.Errorf("--path es requerido")
			}
			st := gate.State{Loading: loading, Authenticated: !anonymous}
			if !anonymous && role != "" {
				r := types.Role(strings.ToLower(role))
				if !r.Valid() {
					return fmt.Errorf("rol desconocido %q", role)
				}
				st.HasProfile = true
				st.Role = r
			}
			st.MFA = gate.MFA{Remembered: remembered, HasVerifiedFactor: factor, AAL: identity.AAL(aal)}

			policy := gate.DefaultPolicy()
			routes := gate.DefaultRoutes()
			v := gate.Decide(routes.Match(path), st, policy)

			text := string(v.Kind)
			if v.Path != "" {
				text += " -> " + v.Path
			}
			if v.Reason != "" {
				text += " (" + v.Reason + ")"
			}
			c.print(cmd.OutOrStdout(), v, text)
			return nil
		},
	}
	checkCmd.Flags().StringVar(&role, "role", "", "Rol del perfil (vacío: autenticado sin perfil)")
	checkCmd.Flags().StringVar(&path, "path", "", "Ruta a evaluar (ej. /financeiro)")
	checkCmd.Flags().StringVar(&aal, "aal", string(identity.AAL1), "Nivel de la sesión: aal1|aal2")
	checkCmd.Flags().BoolVar(&anonymous, "anonymous", false, "Sin sesión")
	checkCmd.Flags().BoolVar(&loading, "loading", false, "Sesión todavía hidratando")
	checkCmd.Flags().BoolVar(&remembered, "remembered", false, "Dispositivo dentro de la ventana MFA recordada")
	checkCmd.Flags().BoolVar(&factor, "factor", false, "La identidad tiene un factor verificado")

	gateCmd.AddCommand(checkCmd)
	return gateCmd
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
