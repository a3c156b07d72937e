package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"opsdesk/internal/app"
	"opsdesk/internal/config"
	"opsdesk/internal/db"
	"opsdesk/internal/domain"
	"opsdesk/internal/engine"
	"opsdesk/internal/engine/auth"
	"opsdesk/internal/logging"
	"opsdesk/internal/migrate"
	"opsdesk/internal/repo"
	"opsdesk/internal/server"
)

const lockTimeout = 10 * time.Second

var rootCmd = &cobra.Command{
	Use:   "od",
	Short: "opsdesk CLI",
	Long: `opsdesk routes chat messages into checklist-driven tasks.
- Portal: one team's directory of groups, members, departments and work types, stored in .opsdesk.
- Intake: a received chat message waits until a lead assigns it or transfers it away.
- Tasks: move todo -> doing -> need_to_verified -> finished; leads may finish straight from doing.
- Checklists: cloned from the work type's template variant when the task is created.
- Event log: every change is recorded, view it with 'od log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		slog.SetDefault(logging.New(viper.GetString("log-level"), viper.GetString("log-format"), os.Stderr))
		_, err := db.EnsureWorkspace(viper.GetString("workspace"))
		return err
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("OPSDESK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	pf := rootCmd.PersistentFlags()
	pf.StringP("workspace", "w", ".", "workspace directory")
	pf.Bool("json", false, "output JSON")
	pf.String("actor-id", "", "acting member id")
	pf.String("portal", "", "portal id (overrides the workspace default)")
	pf.String("log-level", "warn", "log level: debug, info, warn, error")
	pf.String("log-format", "text", "log format: text or json")
	for _, name := range []string{"workspace", "json", "actor-id", "portal", "log-level", "log-format"} {
		_ = viper.BindPFlag(name, pf.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(portalCmd())
	rootCmd.AddCommand(directoryCmd())
	rootCmd.AddCommand(templateCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(intakeCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func portalCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "portal", Short: "Manage the portal"}
	cmd.AddCommand(portalInitCmd())
	cfg := &cobra.Command{Use: "config", Short: "Portal configuration"}
	cfg.AddCommand(portalConfigImportCmd())
	cfg.AddCommand(portalConfigShowCmd())
	cmd.AddCommand(cfg)
	return cmd
}

func portalInitCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create opsdesk.yml if missing, store the config and import its directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			if cfg == nil {
				if id == "" {
					return fmt.Errorf("--id required when %s does not exist", config.Path(workspace))
				}
				if err := os.WriteFile(config.Path(workspace), []byte(config.GenerateDefault(id)), 0o644); err != nil {
					return err
				}
				cfg = config.Default(id)
			} else if id != "" {
				cfg.Portal.ID = id
			}
			lock, err := db.LockWorkspace(cmd.Context(), workspace, lockTimeout)
			if err != nil {
				return err
			}
			defer lock.Unlock()
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Run(cmd.Context(), conn, slog.Default()); err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			e.Logger = slog.Default()
			if err := e.Repo.UpsertPortalConfig(cmd.Context(), cfg.Portal.ID, cfg); err != nil {
				return err
			}
			res, err := e.ImportDirectory(cmd.Context(), cfg, viper.GetString("actor-id"))
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"portal_id": cfg.Portal.ID, "import": res})
			}
			fmt.Printf("Portal %s ready in %s\n", cfg.Portal.ID, db.Path(workspace))
			printImportResult(res)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "portal id")
	return cmd
}

func portalConfigImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import portal config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(filePath)
			if err != nil {
				return err
			}
			return withMutation(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				portalID := cfg.Portal.ID
				if portalID == "" {
					portalID = rt.PortalID
				}
				if err := rt.Engine.Repo.UpsertPortalConfig(ctx, portalID, cfg); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cfg)
				}
				fmt.Printf("Imported config for portal %s; run 'od directory import' to apply the directory\n", portalID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func portalConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the stored portal config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if viper.GetBool("json") {
					return printJSON(rt.Config)
				}
				out, err := rt.Config.ToYAML()
				if err != nil {
					return err
				}
				fmt.Print(string(out))
				return nil
			})
		},
	}
}

func directoryCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "directory", Short: "Groups, members, departments and work types"}
	cmd.AddCommand(directoryImportCmd())
	cmd.AddCommand(directoryShowCmd())
	return cmd
}

func directoryImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Upsert the directory from the stored config or a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMutation(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				cfg := rt.Config
				if filePath != "" {
					fileCfg, err := config.FromFile(filePath)
					if err != nil {
						return err
					}
					cfg = fileCfg
				}
				res, err := rt.Engine.ImportDirectory(ctx, cfg, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				printImportResult(res)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "YAML config whose directory section is imported")
	return cmd
}

func directoryShowCmd() *cobra.Command {
	var groupID string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "List groups, or show one group's members and work types",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if groupID == "" {
					groups, err := rt.Engine.Repo.ListGroups(ctx)
					if err != nil {
						return err
					}
					if viper.GetBool("json") {
						return printJSON(groups)
					}
					tw := newTable()
					tw.AppendHeader(table.Row{"ID", "Name"})
					for _, g := range groups {
						tw.AppendRow(table.Row{g.ID, g.Name})
					}
					tw.Render()
					return nil
				}
				dir, err := rt.Engine.GroupDirectory(ctx, groupID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(dir)
				}
				fmt.Printf("Group %s (%s)\n", dir.Group.ID, dir.Group.Name)
				members := newTable()
				members.AppendHeader(table.Row{"Member", "Name", "Role"})
				for _, m := range dir.Members {
					members.AppendRow(table.Row{m.ID, m.Name, m.Role})
				}
				members.Render()
				wts := newTable()
				wts.AppendHeader(table.Row{"Work type", "Name", "Variants", "Default"})
				for _, wt := range dir.WorkTypes {
					names := make([]string, 0, len(wt.ChecklistVariants))
					for _, v := range wt.ChecklistVariants {
						names = append(names, v.ID)
					}
					def := ""
					if v, ok := engine.ResolveVariant(wt, ""); ok {
						def = v.ID
					}
					wts.AppendRow(table.Row{wt.ID, wt.Name, strings.Join(names, ", "), def})
				}
				wts.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&groupID, "group", "", "group id")
	return cmd
}

func templateCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "template", Short: "Checklist templates"}
	cmd.AddCommand(templateShowCmd())
	cmd.AddCommand(templateSaveCmd())
	return cmd
}

func templateShowCmd() *cobra.Command {
	var workTypeID, variantID string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the template of a work type variant",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				items, err := rt.Engine.GetTemplate(ctx, workTypeID, variantID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				printTemplate(items)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&workTypeID, "work-type", "", "work type id")
	cmd.Flags().StringVar(&variantID, "variant", "", "checklist variant id")
	_ = cmd.MarkFlagRequired("work-type")
	_ = cmd.MarkFlagRequired("variant")
	return cmd
}

func templateSaveCmd() *cobra.Command {
	var workTypeID, variantID string
	var items []string
	cmd := &cobra.Command{
		Use:   "save",
		Short: "Replace the template of a work type variant (lead only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			tpl := make([]domain.ChecklistTemplateItem, 0, len(items))
			for i, raw := range items {
				id, label := splitItem(raw)
				tpl = append(tpl, domain.ChecklistTemplateItem{ID: id, Label: label, Order: i})
			}
			return withMutation(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				saved, err := rt.Engine.SaveTemplate(ctx, currentActor(ctx, rt), workTypeID, variantID, tpl)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(saved)
				}
				printTemplate(saved)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&workTypeID, "work-type", "", "work type id")
	cmd.Flags().StringVar(&variantID, "variant", "", "checklist variant id")
	cmd.Flags().StringArrayVar(&items, "item", nil, "template item label, or id=label to keep an id (repeatable, in order)")
	_ = cmd.MarkFlagRequired("work-type")
	_ = cmd.MarkFlagRequired("variant")
	return cmd
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "log", Short: "Event log"}
	cmd.AddCommand(logTailCmd())
	return cmd
}

func logTailCmd() *cobra.Command {
	var n int
	var f repo.EventFilters
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				f.Limit = n
				evts, err := rt.Engine.Repo.LatestEvents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(evts)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Group", "Entity", "Actor", "Payload"})
				for _, evt := range evts {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.GroupID, evt.EntityKind + ":" + evt.EntityID, evt.ActorID, evt.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&n, "limit", "n", 20, "number of events")
	cmd.Flags().StringVar(&f.GroupID, "group", "", "group filter")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind filter")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id filter")
	return cmd
}

func apiKeyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "apikey", Short: "API keys for the HTTP API"}
	cmd.AddCommand(apiKeyCreateCmd())
	cmd.AddCommand(apiKeyListCmd())
	cmd.AddCommand(apiKeyRevokeCmd())
	return cmd
}

func apiKeyCreateCmd() *cobra.Command {
	var actorID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for a member; the key is shown once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMutation(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if _, err := rt.Engine.Auth.LookupActor(ctx, actorID); err != nil {
					return fmt.Errorf("actor %s: %w", actorID, err)
				}
				secret, err := newAPIKeySecret()
				if err != nil {
					return err
				}
				key := domain.APIKey{
					ID:        uuid.NewString(),
					ActorID:   actorID,
					Name:      name,
					KeyHash:   repo.HashAPIKey(secret),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := rt.Engine.Repo.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				out := map[string]string{"id": key.ID, "actor_id": key.ActorID, "key": secret}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("API key %s for %s\n%s\n", key.ID, key.ActorID, secret)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "member id the key acts as")
	cmd.Flags().StringVar(&name, "name", "", "label")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func apiKeyListCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				keys, err := rt.Engine.Repo.ListAPIKeys(ctx, actorID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor filter")
	return cmd
}

func apiKeyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMutation(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if err := rt.Engine.Repo.DeleteAPIKey(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("Revoked %s\n", args[0])
				return nil
			})
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowActorHeader, devLogin bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("OPSDESK_JWT_SECRET is required for bearer auth")
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				logger := rt.Logger.With("component", "server")
				handler, err := server.New(server.Config{
					Engine:   rt.Engine,
					BasePath: basePath,
					Auth: server.AuthConfig{
						JWTSecret:              secret,
						AllowLegacyActorHeader: allowActorHeader,
						EnableDevLogin:         devLogin,
						Logger:                 logger,
					},
					Messages: &rt.Convo,
					Logger:   logger,
				})
				if err != nil {
					return err
				}
				server.StartWebhooks(ctx, rt.Engine, rt.Logger)
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
				logger.Info("listening", "addr", addr, "base_path", basePath, "portal", rt.PortalID)
				fmt.Printf("Serving opsdesk API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().String("jwt-secret", "", "HS256 secret for bearer tokens (env OPSDESK_JWT_SECRET)")
	cmd.Flags().BoolVar(&allowActorHeader, "allow-actor-header", false, "trust an unauthenticated X-Actor-Id header (local use only)")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "expose POST /auth/dev/login to mint tokens (local use only)")
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	return cmd
}

func withRuntime(ctx context.Context, fn func(context.Context, *app.Runtime) error) error {
	rt, err := app.Open(ctx, app.Options{
		Workspace: viper.GetString("workspace"),
		Portal:    viper.GetString("portal"),
		Logger:    slog.Default(),
	})
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}

// withMutation holds the workspace lock for the duration of fn.
func withMutation(ctx context.Context, fn func(context.Context, *app.Runtime) error) error {
	lock, err := db.LockWorkspace(ctx, viper.GetString("workspace"), lockTimeout)
	if err != nil {
		return err
	}
	defer lock.Unlock()
	return withRuntime(ctx, fn)
}

func currentActor(ctx context.Context, rt *app.Runtime) auth.Actor {
	id := viper.GetString("actor-id")
	a := rt.Engine.Auth.ResolveActor(ctx, id)
	if a.ID == "" {
		rt.Logger.Debug("actor not in directory", "actor_id", id)
	}
	return a
}

func newAPIKeySecret() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "od_" + hex.EncodeToString(buf), nil
}

// splitItem parses "id=label" or a bare label.
func splitItem(raw string) (string, string) {
	if id, label, ok := strings.Cut(raw, "="); ok && !strings.ContainsAny(id, " \t") && id != "" {
		return id, label
	}
	return "", raw
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	return tw
}

func printTemplate(items []domain.ChecklistTemplateItem) {
	tw := newTable()
	tw.AppendHeader(table.Row{"#", "ID", "Label"})
	for _, it := range items {
		tw.AppendRow(table.Row{it.Order, it.ID, it.Label})
	}
	tw.Render()
}

func printImportResult(res engine.ImportResult) {
	fmt.Printf("Imported %d members, %d departments, %d groups, %d work types, %d templates\n",
		res.Members, res.Departments, res.Groups, res.WorkTypes, res.Templates)
	for _, w := range res.Warnings {
		fmt.Println("warning:", w)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
