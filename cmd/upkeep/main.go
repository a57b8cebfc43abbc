package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"upkeep/internal/app"
	"upkeep/internal/config"
	"upkeep/internal/db"
	"upkeep/internal/domain"
	"upkeep/internal/engine"
	"upkeep/internal/migrate"
	"upkeep/internal/repo"
	"upkeep/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "upkeep",
	Short: "Upkeep CLI",
	Long: `Upkeep tracks maintenance work across buildings.
Core concepts:
- Workspace: the .upkeep directory holding the SQLite database; upkeep.yml next to it configures the server and seed data.
- Buildings: each user belongs to exactly one building.
- Users: owners may open tasks for their building; employees work on them.
- Tasks: maintenance items that move open -> in_progress -> completed/rejected, with an append-only comment thread.
- Event log: diary of task changes, view with 'upkeep log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("UPKEEP")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor", "", "acting user email for task commands")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor", rootCmd.PersistentFlags().Lookup("actor"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(buildingCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default upkeep.yml to the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := config.WriteDefault(path); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	return cmd
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Apply the seed section of upkeep.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				b, err := app.EnsureSeed(ctx, e, e.Config)
				if err != nil {
					return err
				}
				if b.ID == "" {
					fmt.Println("nothing to seed")
					return nil
				}
				return printJSONOrTable(b)
			})
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate upkeep.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err == nil {
				err = cfg.Validate()
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func statusCmd() *cobra.Command {
	var buildingID string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show task counts per status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				counts, err := r.CountTasksByStatus(ctx, buildingID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(counts)
				}
				fmt.Println("Tasks:")
				for _, status := range []string{"open", "in_progress", "completed", "rejected"} {
					fmt.Printf("  %s: %d\n", status, counts[status])
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&buildingID, "building", "", "building id filter")
	return cmd
}

func buildingCmd() *cobra.Command {
	b := &cobra.Command{Use: "building", Short: "Manage buildings"}
	b.AddCommand(buildingListCmd())
	b.AddCommand(buildingCreateCmd())
	return b
}

func buildingListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List buildings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListBuildings(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Created"})
				for _, b := range items {
					tw.AppendRow(table.Row{b.ID, b.Name, b.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func buildingCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a building",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(name) == "" {
				return fmt.Errorf("--name required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if _, err := r.GetBuildingByName(ctx, name); err == nil {
					return fmt.Errorf("building %q already exists", name)
				} else if !errors.Is(err, repo.ErrNotFound) {
					return err
				}
				b := domain.Building{
					ID:        uuid.New().String(),
					Name:      name,
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := r.InsertBuilding(ctx, b); err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "building name")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func userCmd() *cobra.Command {
	u := &cobra.Command{Use: "user", Short: "Manage users"}
	u.AddCommand(userListCmd())
	u.AddCommand(userCreateCmd())
	return u
}

func userListCmd() *cobra.Command {
	var buildingID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListUsers(ctx, buildingID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Email", "Role", "Building"})
				for _, u := range items {
					tw.AppendRow(table.Row{u.ID, u.Name, u.Email, u.Role, u.BuildingID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&buildingID, "building", "", "building id filter")
	return cmd
}

func userCreateCmd() *cobra.Command {
	var name, email, role, buildingID string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			parsedRole, err := domain.ParseRole(role)
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if _, err := r.GetBuilding(ctx, buildingID); err != nil {
					return fmt.Errorf("building %s: %w", buildingID, err)
				}
				u := domain.User{
					ID:         uuid.New().String(),
					BuildingID: buildingID,
					Name:       name,
					Email:      email,
					Role:       parsedRole,
					CreatedAt:  time.Now().UTC().Format(time.RFC3339),
				}
				if err := r.InsertUser(ctx, u); err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "full name")
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&role, "role", "employee", "role (owner, employee)")
	cmd.Flags().StringVar(&buildingID, "building", "", "building id")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("building")
	return cmd
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
		Long:  "Tasks are maintenance items. They start open and move through in_progress to completed or rejected. Task commands act on behalf of the user given with --actor.",
	}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskGetCmd())
	task.AddCommand(taskUpdateCmd())
	task.AddCommand(taskCommentCmd())
	task.AddCommand(taskDeleteCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActingUser(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.User) error {
				if opts.BuildingID == "" {
					opts.BuildingID = actor.BuildingID
				}
				t, err := e.CreateTask(ctx, actor, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.BuildingID, "building", "", "building id (defaults to the actor's)")
	cmd.Flags().StringVar(&opts.Summary, "summary", "", "summary")
	cmd.Flags().StringVar(&opts.AssigneeID, "assignee", "", "assignee user id")
	_ = cmd.MarkFlagRequired("summary")
	return cmd
}

func taskListCmd() *cobra.Command {
	var f engine.TaskFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActingUser(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.User) error {
				tasks, err := e.ListTasks(ctx, actor, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Summary", "Status", "Assignee", "Created"})
				for _, t := range tasks {
					assignee := ""
					if t.Assignee != nil {
						assignee = *t.Assignee
					}
					tw.AppendRow(table.Row{t.ID, t.Summary, t.Status, assignee, t.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.AssigneeID, "assignee", "", "assignee filter")
	cmd.Flags().StringVar(&f.DateFrom, "date-from", "", "created on or after (RFC 3339)")
	cmd.Flags().StringVar(&f.DateTo, "date-to", "", "created on or before (RFC 3339)")
	return cmd
}

func taskGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withActingUser(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.User) error {
				t, err := e.GetTask(ctx, actor, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskUpdateCmd() *cobra.Command {
	var status, assignee string
	var clearAssignee bool
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update task status or assignee",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			var opts engine.TaskUpdateOptions
			if cmd.Flags().Changed("status") {
				parsed, err := domain.ParseTaskStatus(status)
				if err != nil {
					return err
				}
				opts.Status = &parsed
			}
			if clearAssignee {
				empty := ""
				opts.Assignee = &empty
			} else if cmd.Flags().Changed("assignee") {
				opts.Assignee = &assignee
			}
			return withActingUser(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.User) error {
				t, err := e.UpdateTask(ctx, actor, id, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "new status (open, in_progress, completed, rejected)")
	cmd.Flags().StringVar(&assignee, "assignee", "", "assignee user id")
	cmd.Flags().BoolVar(&clearAssignee, "clear-assignee", false, "remove the assignee")
	return cmd
}

func taskCommentCmd() *cobra.Command {
	var text string
	cmd := &cobra.Command{
		Use:   "comment <id>",
		Short: "Add a comment to a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withActingUser(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.User) error {
				t, err := e.AddComment(ctx, actor, id, text)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "comment text")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}

func taskDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withActingUser(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.User) error {
				return e.DeleteTask(ctx, actor, id)
			})
		},
	}
	return cmd
}

func apikeyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	cmd.AddCommand(apikeyCreateCmd())
	cmd.AddCommand(apikeyListCmd())
	cmd.AddCommand(apikeyDeleteCmd())
	return cmd
}

func apikeyCreateCmd() *cobra.Command {
	var email, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				u, err := r.GetUserByEmail(ctx, email)
				if err != nil {
					return fmt.Errorf("user %s: %w", email, err)
				}
				raw := "uk_" + strings.ReplaceAll(uuid.New().String(), "-", "")
				key := domain.APIKey{
					ID:        uuid.New().String(),
					UserID:    u.ID,
					Name:      name,
					KeyHash:   repo.HashAPIKey(raw),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := r.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": key.ID, "user_id": key.UserID, "key": raw})
				}
				fmt.Printf("API key %s created for %s\n", key.ID, u.Email)
				fmt.Printf("Key (shown once): %s\n", raw)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "user email")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, userID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "User", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.UserID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id filter")
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func tokenCmd() *cobra.Command {
	var email string
	var hours int
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a JWT for a user (requires UPKEEP_JWT_SECRET)",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := jwtSecret(nil)
			if secret == "" {
				return fmt.Errorf("UPKEEP_JWT_SECRET or auth.jwt_secret in upkeep.yml is required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				u, err := r.GetUserByEmail(ctx, email)
				if err != nil {
					return fmt.Errorf("user %s: %w", email, err)
				}
				now := time.Now().UTC()
				claims := jwt.RegisteredClaims{
					Subject:   u.ID,
					IssuedAt:  jwt.NewNumericDate(now),
					ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(hours) * time.Hour)),
				}
				token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"token": token})
				}
				fmt.Println(token)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "user email")
	cmd.Flags().IntVar(&hours, "hours", 12, "token lifetime in hours")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var buildingID, evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, n, buildingID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&buildingID, "building", "", "building id filter")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			if _, err := app.EnsureSeed(cmd.Context(), e, cfg); err != nil {
				return err
			}
			authCfg := server.AuthConfig{
				JWTSecret:     jwtSecret(cfg),
				EnableDevAuth: cfg.Auth.DevLogin,
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("UPKEEP_JWT_SECRET or auth.jwt_secret in upkeep.yml is required for bearer auth")
			}
			if !cmd.Flags().Changed("addr") && cfg.Server.Addr != "" {
				addr = cfg.Server.Addr
			}
			if !cmd.Flags().Changed("base-path") && cfg.Server.BasePath != "" {
				basePath = cfg.Server.BasePath
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			server.StartWebhookDispatcher(e)
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Upkeep API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}

// --- helpers ---

func jwtSecret(cfg *config.Config) string {
	if secret := os.Getenv("UPKEEP_JWT_SECRET"); secret != "" {
		return secret
	}
	if cfg == nil {
		loaded, err := config.LoadOptional(viper.GetString("workspace"))
		if err != nil || loaded == nil {
			return ""
		}
		cfg = loaded
	}
	return cfg.Auth.JWTSecret
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	return fn(ctx, engine.New(conn, cfg))
}

func withActingUser(ctx context.Context, fn func(context.Context, engine.Engine, domain.User) error) error {
	email := strings.TrimSpace(viper.GetString("actor"))
	if email == "" {
		return fmt.Errorf("--actor <email> is required for task commands")
	}
	return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
		actor, err := e.Repo.GetUserByEmail(ctx, email)
		if err != nil {
			return fmt.Errorf("actor %s: %w", email, err)
		}
		return fn(ctx, e, actor)
	})
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
