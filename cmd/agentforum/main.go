// agentforum - agent activity engine for a mixed human/agent forum
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	_ "time/tzdata"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/agentforum/agentforum/internal/api"
	"github.com/agentforum/agentforum/internal/config"
	"github.com/agentforum/agentforum/internal/core"
	"github.com/agentforum/agentforum/internal/personas"
	"github.com/agentforum/agentforum/internal/runlog"
	"github.com/agentforum/agentforum/internal/storage"
)

var (
	version = "0.1.0"

	configPath string
	dataDir    string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "agentforum",
		Short: "Agent activity engine for the forum",
		Long: `agentforum drives the AI personas of a mixed human/agent forum.

Each tick picks one persona, checks its schedule and daily quota, chooses
a task (reply, new thread or summary) and writes at most one post.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: <data-dir>/config.json)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Data directory (overrides config)")

	rootCmd.AddCommand(
		serveCmd(),
		tickCmd(),
		runsCmd(),
		personasCmd(),
		hashTokenCmd(),
		versionCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads .env files, the config file and the --data-dir override
func loadConfig() (*config.Config, error) {
	if err := config.LoadEnv("."); err != nil {
		return nil, err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	return cfg, nil
}

// openDatabase opens and migrates the forum database
func openDatabase(ctx context.Context, cfg *config.Config) (*storage.DB, error) {
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := storage.Open(storage.Config{Path: cfg.DatabasePath()})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.MigrateContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return db, nil
}

// tickCmd runs a single tick in the foreground
func tickCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tick <persona-slug>",
		Short: "Run one agent tick for a persona",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := openDatabase(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			app := newApp(cfg, db, nil)
			result := app.engine.RunAgentTick(cmd.Context(), args[0])

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
}

// runsCmd lists recent run log entries
func runsCmd() *cobra.Command {
	var (
		persona string
		status  string
		limit   int
		since   time.Duration
		summary bool
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show the agent run log",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := openDatabase(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx := cmd.Context()
			store := runlog.NewStore(db.Conn())
			out := cmd.OutOrStdout()

			var from time.Time
			if since > 0 {
				from = time.Now().Add(-since)
			}

			if summary {
				s, err := store.GetSummary(ctx, from)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(s)
			}

			if persona != "" {
				// Accept a slug as well as an ID
				if p, err := storage.NewPersonaStore(db).FindBySlug(ctx, persona); err == nil {
					persona = string(p.ID)
				}
			}

			runs, err := store.Query(ctx, runlog.QueryOptions{
				PersonaID: core.PersonaID(persona),
				Status:    core.RunStatus(status),
				Since:     from,
				Limit:     limit,
			})
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tPERSONA\tTASK\tSTATUS\tDURATION\tDETAIL")
			for _, r := range runs {
				detail := r.Error
				if reason, ok := r.Metadata["reason"].(string); ok && detail == "" {
					detail = reason
				}
				if detail == "" && r.PostID != "" {
					detail = "post " + r.PostID
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%dms\t%s\n",
					r.CreatedAt.Local().Format("2006-01-02 15:04:05"),
					r.PersonaID, r.TaskType, r.Status, r.DurationMs, detail)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&persona, "persona", "", "Filter by persona slug or ID")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (success, skipped, error)")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum entries")
	cmd.Flags().DurationVar(&since, "since", 0, "Only entries newer than this (e.g. 24h)")
	cmd.Flags().BoolVar(&summary, "summary", false, "Print aggregated counters instead of entries")
	return cmd
}

// personasCmd manages personas
func personasCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "personas",
		Short: "Persona operations",
	}

	importCmd := &cobra.Command{
		Use:   "import <file-or-dir>",
		Short: "Import personas from YAML manifests",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := personas.LoadPath(args[0])
			if err != nil {
				return err
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := openDatabase(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			result, err := personas.Import(cmd.Context(), storage.NewPersonaStore(db), m)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, slug := range result.Created {
				fmt.Fprintf(out, "   + %s\n", slug)
			}
			for _, slug := range result.Updated {
				fmt.Fprintf(out, "   ~ %s\n", slug)
			}
			fmt.Fprintf(out, "✅ %d created, %d updated\n", len(result.Created), len(result.Updated))
			return nil
		},
	}

	var activeOnly bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List personas",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := openDatabase(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			list, err := storage.NewPersonaStore(db).List(cmd.Context(), activeOnly)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintln(out, "No personas. Import some with 'agentforum personas import'.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "\tSLUG\tNAME\tROLE\tPOSTS/DAY\tSCHEDULES")
			for _, p := range list {
				status := "✓"
				if !p.IsActive {
					status = "○"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\n",
					status, p.Slug, p.DisplayName, p.Role, p.Activity.MaxDailyPosts, len(p.Schedules))
			}
			return w.Flush()
		},
	}
	listCmd.Flags().BoolVar(&activeOnly, "active", false, "Only active personas")

	cmd.AddCommand(importCmd, listCmd)
	return cmd
}

// hashTokenCmd prints the bcrypt hash to put in server.admin_token_hash
func hashTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-token",
		Short: "Hash an admin token for the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := readToken(cmd)
			if err != nil {
				return err
			}
			hash, err := api.HashToken(token)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func readToken(cmd *cobra.Command) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("read token: %w", err)
		}
		return strings.TrimSpace(line), nil
	}

	fmt.Fprint(cmd.ErrOrStderr(), "🔐 Admin token: ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return "", fmt.Errorf("failed to read token: %w", err)
	}
	fmt.Fprint(cmd.ErrOrStderr(), "🔐 Confirm token: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return "", fmt.Errorf("failed to read token: %w", err)
	}
	if string(first) != string(second) {
		return "", fmt.Errorf("tokens do not match")
	}
	return string(first), nil
}

// versionCmd shows version
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show agentforum version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "agentforum %s\n", version)
		},
	}
}

