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

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"workchain/internal/config"
	"workchain/internal/db"
	"workchain/internal/domain"
	"workchain/internal/engine"
	"workchain/internal/migrate"
	"workchain/internal/repo"
	"workchain/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "wch",
	Short: "Workchain CLI",
	Long: `Workchain is a task marketplace backend with a verifiable proof trail.
Core concepts:
- Templates: JSON schemas that describe a task; the schema drives the form,
  the validation rules and the difficulty multiplier.
- Submissions: filled-in forms moving draft -> in_review -> approved/rejected.
- Proof events: an append-only log; every event carries a SHA-256 content
  hash, and the TASK_SUBMITTED hash doubles as the submission receipt.
- Rewards: approved work earns base x difficulty x quality x timeliness
  points; rejected work earns a flat consolation amount.
- Users: points are always recomputable from their submissions.`,
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
	viper.SetEnvPrefix("WORKCHAIN")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "acting user identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(templateCmd())
	rootCmd.AddCommand(submissionCmd())
	rootCmd.AddCommand(proofCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(serveCmd())
}

// --- templates ---

func templateCmd() *cobra.Command {
	tmpl := &cobra.Command{Use: "template", Short: "Manage task templates"}
	tmpl.AddCommand(templateListCmd())
	tmpl.AddCommand(templateCreateCmd())
	tmpl.AddCommand(templateShowCmd())
	tmpl.AddCommand(templateFieldsCmd())
	tmpl.AddCommand(templateUpdateCmd())
	tmpl.AddCommand(templateDeleteCmd())
	return tmpl
}

func templateListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List task templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r *repo.Repo) error {
				items, err := r.ListTemplates(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Deadline", "Updated"})
				for _, t := range items {
					deadline := ""
					if t.Deadline != nil {
						deadline = *t.Deadline
					}
					tw.AppendRow(table.Row{t.ID, t.Name, deadline, t.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func templateCreateCmd() *cobra.Command {
	var name, schemaArg, deadline string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create task template",
		RunE: func(cmd *cobra.Command, args []string) error {
			schemaJSON, err := readJSONArg(schemaArg)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				t, err := e.CreateTemplate(ctx, engine.TemplateOptions{
					Name:       name,
					SchemaJSON: schemaJSON,
					Deadline:   optionalString(deadline),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "template name")
	cmd.Flags().StringVar(&schemaArg, "schema", "", "schema JSON or @file")
	cmd.Flags().StringVar(&deadline, "deadline", "", "deadline (RFC3339)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("schema")
	return cmd
}

func templateShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <template-id>",
		Short: "Show task template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r *repo.Repo) error {
				t, err := r.GetTemplate(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func templateFieldsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fields <template-id>",
		Short: "Show the form fields a template's schema produces",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				fields, err := e.TemplateFields(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(fields)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Name", "Label", "Type", "Required", "Options"})
				for _, f := range fields {
					tw.AppendRow(table.Row{f.Name, f.Label, f.Kind, f.Required, strings.Join(f.Options, ", ")})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func templateUpdateCmd() *cobra.Command {
	var name, schemaArg, deadline string
	cmd := &cobra.Command{
		Use:   "update <template-id>",
		Short: "Update task template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			schemaJSON := ""
			if schemaArg != "" {
				var err error
				schemaJSON, err = readJSONArg(schemaArg)
				if err != nil {
					return err
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				opts := engine.TemplateOptions{ID: args[0], Name: name, SchemaJSON: schemaJSON}
				if cmd.Flags().Changed("deadline") {
					opts.Deadline = &deadline
				}
				t, err := e.UpdateTemplate(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "template name")
	cmd.Flags().StringVar(&schemaArg, "schema", "", "schema JSON or @file")
	cmd.Flags().StringVar(&deadline, "deadline", "", "deadline (RFC3339, empty clears)")
	return cmd
}

func templateDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <template-id>",
		Short: "Delete task template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r *repo.Repo) error {
				return r.DeleteTemplate(ctx, args[0])
			})
		},
	}
	return cmd
}

// --- submissions ---

func submissionCmd() *cobra.Command {
	sub := &cobra.Command{Use: "submission", Short: "Manage submissions"}
	sub.AddCommand(submissionCreateCmd())
	sub.AddCommand(submissionUpdateCmd())
	sub.AddCommand(submissionListCmd())
	sub.AddCommand(submissionShowCmd())
	sub.AddCommand(submissionSubmitCmd())
	sub.AddCommand(submissionValidateCmd())
	sub.AddCommand(submissionReviewCmd())
	sub.AddCommand(submissionDeleteCmd())
	return sub
}

func submissionCreateCmd() *cobra.Command {
	var templateID, dataArg, filesArg string
	var draft bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a submission (draft or direct submit)",
		RunE: func(cmd *cobra.Command, args []string) error {
			form, err := decodeJSONMap(dataArg)
			if err != nil {
				return fmt.Errorf("invalid --data: %w", err)
			}
			files, err := decodeFiles(filesArg)
			if err != nil {
				return fmt.Errorf("invalid --files: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				s, err := e.CreateSubmission(ctx, engine.SubmissionOptions{
					TemplateID:  templateID,
					FormData:    form,
					Files:       files,
					SubmittedBy: viper.GetString("actor-id"),
					Draft:       draft,
				})
				if err != nil {
					return reportValidation(err)
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&templateID, "template", "", "template id")
	cmd.Flags().StringVar(&dataArg, "data", "", "form data JSON or @file")
	cmd.Flags().StringVar(&filesArg, "files", "", "files JSON or @file (field -> {name,size,type})")
	cmd.Flags().BoolVar(&draft, "draft", false, "save as draft without validating")
	_ = cmd.MarkFlagRequired("template")
	return cmd
}

func submissionUpdateCmd() *cobra.Command {
	var dataArg, filesArg string
	cmd := &cobra.Command{
		Use:   "update <submission-id>",
		Short: "Replace the form data of a draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			form, err := decodeJSONMap(dataArg)
			if err != nil {
				return fmt.Errorf("invalid --data: %w", err)
			}
			files, err := decodeFiles(filesArg)
			if err != nil {
				return fmt.Errorf("invalid --files: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				s, err := e.UpdateDraft(ctx, args[0], form, files)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&dataArg, "data", "", "form data JSON or @file")
	cmd.Flags().StringVar(&filesArg, "files", "", "files JSON or @file")
	return cmd
}

func submissionListCmd() *cobra.Command {
	var status, templateID, submittedBy string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List submissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r *repo.Repo) error {
				items, err := r.ListSubmissions(ctx, repo.SubmissionFilter{
					Status:      status,
					TemplateID:  templateID,
					SubmittedBy: submittedBy,
					Limit:       limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Template", "Status", "By", "Points"})
				for _, s := range items {
					points := ""
					if s.PointsAwarded != nil {
						points = fmt.Sprintf("%d", *s.PointsAwarded)
					}
					tw.AppendRow(table.Row{s.ID, s.TemplateName, s.Status, s.SubmittedBy, points})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&templateID, "template", "", "template filter")
	cmd.Flags().StringVar(&submittedBy, "by", "", "submitter filter")
	cmd.Flags().IntVar(&limit, "limit", 0, "max rows")
	return cmd
}

func submissionShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <submission-id>",
		Short: "Show submission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r *repo.Repo) error {
				s, err := r.GetSubmission(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	return cmd
}

func submissionSubmitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit <submission-id>",
		Short: "Validate a draft and move it into review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				s, err := e.SubmitDraft(ctx, args[0])
				if err != nil {
					return reportValidation(err)
				}
				return printJSONOrTable(s)
			})
		},
	}
	return cmd
}

func submissionValidateCmd() *cobra.Command {
	var templateID, dataArg, filesArg string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Preflight form data against a template",
		RunE: func(cmd *cobra.Command, args []string) error {
			form, err := decodeJSONMap(dataArg)
			if err != nil {
				return fmt.Errorf("invalid --data: %w", err)
			}
			files, err := decodeFiles(filesArg)
			if err != nil {
				return fmt.Errorf("invalid --files: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				result, err := e.Preflight(ctx, templateID, form, files)
				if err != nil {
					return err
				}
				return printJSONOrTable(result)
			})
		},
	}
	cmd.Flags().StringVar(&templateID, "template", "", "template id")
	cmd.Flags().StringVar(&dataArg, "data", "", "form data JSON or @file")
	cmd.Flags().StringVar(&filesArg, "files", "", "files JSON or @file")
	_ = cmd.MarkFlagRequired("template")
	return cmd
}

func submissionReviewCmd() *cobra.Command {
	var decision, notes string
	var quality float64
	cmd := &cobra.Command{
		Use:   "review <submission-id>",
		Short: "Approve or reject a submission in review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				opts := engine.ReviewOptions{
					SubmissionID: args[0],
					Decision:     decision,
					Notes:        optionalString(notes),
					ReviewedBy:   viper.GetString("actor-id"),
				}
				if cmd.Flags().Changed("quality") {
					opts.QualityScore = &quality
				}
				s, err := e.Review(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&decision, "decision", "", "approved or rejected")
	cmd.Flags().Float64Var(&quality, "quality", 1.0, "quality score (approved only)")
	cmd.Flags().StringVar(&notes, "notes", "", "review notes")
	_ = cmd.MarkFlagRequired("decision")
	return cmd
}

func submissionDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <submission-id>",
		Short: "Delete a submission; its proof events remain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				return e.DeleteSubmission(ctx, args[0])
			})
		},
	}
	return cmd
}

// --- proof trail ---

func proofCmd() *cobra.Command {
	proof := &cobra.Command{Use: "proof", Short: "Proof trail and receipts"}
	proof.AddCommand(proofTrailCmd())
	proof.AddCommand(proofVerifyCmd())
	proof.AddCommand(proofLookupCmd())
	return proof
}

func proofTrailCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trail <submission-id>",
		Short: "Show the proof events for a submission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r *repo.Repo) error {
				events, err := r.EventsForSubmission(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Hash"})
				for _, e := range events {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, shortHash(e.Hash)})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func proofVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify <submission-id>",
		Short: "Recompute every event hash for a submission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				valid, checks, err := e.VerifyTrail(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"valid": valid, "events": checks})
				}
				for _, c := range checks {
					mark := "ok"
					if !c.Valid {
						mark = "TAMPERED"
					}
					fmt.Printf("%-6d %-20s %s %s\n", c.Event.ID, c.Event.Type, shortHash(c.Event.Hash), mark)
				}
				if !valid {
					return errors.New("proof trail verification failed")
				}
				fmt.Println("proof trail verified")
				return nil
			})
		},
	}
	return cmd
}

func proofLookupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lookup <receipt-hash>",
		Short: "Resolve a receipt hash to its event and submission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				ev, sub, err := e.LookupReceipt(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"event": ev, "submission": sub})
			})
		},
	}
	return cmd
}

// --- users ---

func userCmd() *cobra.Command {
	user := &cobra.Command{Use: "user", Short: "Users and points"}
	user.AddCommand(userListCmd())
	user.AddCommand(userShowCmd())
	user.AddCommand(userRecalcCmd())
	return user
}

func userListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List users ordered by points",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r *repo.Repo) error {
				items, err := r.ListUsers(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Role", "Points"})
				for _, u := range items {
					tw.AppendRow(table.Row{u.ID, u.Name, u.Role, u.Points})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func userShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <user-id>",
		Short: "Show user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r *repo.Repo) error {
				u, err := r.GetUser(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	return cmd
}

func userRecalcCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recalc <user-id>",
		Short: "Rebuild a user's points from their submissions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				u, err := e.RecalculateUserPoints(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	return cmd
}

// --- log ---

func logCmd() *cobra.Command {
	logc := &cobra.Command{
		Use:   "log",
		Short: "Proof event log",
	}
	logc.AddCommand(logTailCmd())
	return logc
}

func logTailCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Latest proof events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r *repo.Repo) error {
				events, err := r.LatestEvents(ctx, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Submission", "Type", "Hash"})
				for _, e := range events {
					tw.AppendRow(table.Row{e.ID, e.TS, e.SubmissionID, e.Type, shortHash(e.Hash)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	return cmd
}

// --- config / seed / serve ---

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Workspace configuration"}
	cfg.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the default workchain.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	})
	return cfg
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create the reference templates and demo users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				if err := e.Seed(ctx); err != nil {
					return err
				}
				fmt.Println("seeded 3 templates and 3 users")
				return nil
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacy bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("WORKCHAIN_JWT_SECRET"),
				AllowLegacyActorHeader: allowLegacy,
			}
			if authCfg.JWTSecret == "" && !allowLegacy {
				return fmt.Errorf("WORKCHAIN_JWT_SECRET is required for bearer auth (or pass --allow-legacy-actor-header)")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Workchain API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().BoolVar(&allowLegacy, "allow-legacy-actor-header", false, "accept X-Actor-Id without auth (dev only)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, *engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, *repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.New(conn))
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

// readJSONArg accepts inline JSON or @path to a file.
func readJSONArg(arg string) (string, error) {
	data := []byte(arg)
	if strings.HasPrefix(arg, "@") {
		var err error
		data, err = os.ReadFile(strings.TrimPrefix(arg, "@"))
		if err != nil {
			return "", err
		}
	}
	if !json.Valid(data) {
		return "", fmt.Errorf("not valid JSON")
	}
	return string(data), nil
}

func decodeJSONMap(arg string) (map[string]any, error) {
	if arg == "" {
		return map[string]any{}, nil
	}
	raw, err := readJSONArg(arg)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func decodeFiles(arg string) (map[string]domain.SubmissionFile, error) {
	if arg == "" {
		return nil, nil
	}
	raw, err := readJSONArg(arg)
	if err != nil {
		return nil, err
	}
	out := map[string]domain.SubmissionFile{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// reportValidation prints the structured result before surfacing the error.
func reportValidation(err error) error {
	var ve *engine.ValidationError
	if errors.As(err, &ve) {
		_ = printJSON(ve.Result)
	}
	return err
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
