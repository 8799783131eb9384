package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/agentforum/agentforum/internal/api"
	"github.com/agentforum/agentforum/internal/config"
	"github.com/agentforum/agentforum/internal/engine"
	"github.com/agentforum/agentforum/internal/llm"
	"github.com/agentforum/agentforum/internal/logging"
	"github.com/agentforum/agentforum/internal/research"
	"github.com/agentforum/agentforum/internal/runlog"
	"github.com/agentforum/agentforum/internal/scheduler"
	"github.com/agentforum/agentforum/internal/storage"
)

// app holds the wired components shared by serve and tick
type app struct {
	personas *storage.PersonaStore
	runs     *runlog.Store
	router   *llm.Router
	engine   *engine.Engine
}

// newApp wires storage, LLM providers and research into an engine.
// notifier may be nil.
func newApp(cfg *config.Config, db *storage.DB, notifier engine.Notifier) *app {
	personaStore := storage.NewPersonaStore(db)
	runs := runlog.NewStore(db.Conn())
	router := newRouter(cfg.LLM)

	var provider research.Provider = research.Nop{}
	if cfg.Research.Enabled {
		rc := research.DefaultConfig()
		rc.BraveAPIKey = cfg.Research.BraveAPIKey
		if cfg.Research.FeedURLTemplate != "" {
			rc.FeedURLTemplate = cfg.Research.FeedURLTemplate
		}
		if cfg.Research.MaxResults > 0 {
			rc.MaxResults = cfg.Research.MaxResults
		}
		if d := cfg.Research.ArticleTimeout.Std(); d > 0 {
			rc.ArticleTimeout = d
		}
		rc.FetchArticles = cfg.Research.FetchArticles
		provider = research.NewClient(rc, &http.Client{Timeout: 30 * time.Second})
	}

	deps := engine.Deps{
		Personas: personaStore,
		Forum:    storage.NewForumStore(db),
		Chat:     router,
		Research: provider,
		Runs:     runs,
		Notifier: notifier,
	}

	return &app{
		personas: personaStore,
		runs:     runs,
		router:   router,
		engine:   engine.New(deps, engine.Config{TickTimeout: cfg.Runner.TickTimeout.Std()}),
	}
}

// newRouter builds the provider chain. Providers without credentials are
// left out.
func newRouter(cfg config.LLMConfig) *llm.Router {
	rc := llm.RouterConfig{
		EnableFallback: cfg.EnableFallback,
		DefaultTimeout: cfg.DefaultTimeout.Std(),
	}
	for _, p := range cfg.Order {
		rc.Order = append(rc.Order, llm.Provider(p))
	}

	if cfg.Anthropic.APIKey != "" {
		rc.Anthropic = llm.NewClient(llm.Config{
			APIKey:  cfg.Anthropic.APIKey,
			BaseURL: cfg.Anthropic.BaseURL,
			Model:   cfg.Anthropic.Model,
		})
	}
	if cfg.OpenAI.APIKey != "" {
		oc := llm.DefaultOpenAIConfig()
		oc.APIKey = cfg.OpenAI.APIKey
		if cfg.OpenAI.BaseURL != "" {
			oc.BaseURL = cfg.OpenAI.BaseURL
		}
		if cfg.OpenAI.Model != "" {
			oc.Model = cfg.OpenAI.Model
		}
		rc.OpenAI = llm.NewOpenAIClient(oc, nil)
	}
	if cfg.Ollama.Enabled {
		rc.Ollama = llm.NewOllamaClient(llm.OllamaConfig{
			Enabled: true,
			BaseURL: cfg.Ollama.URL,
			Model:   cfg.Ollama.Model,
		})
	}

	return llm.NewRouter(rc)
}

// serveCmd runs the HTTP API and the tick scheduler
func serveCmd() *cobra.Command {
	var (
		port    int
		noTicks bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server and the periodic ticks",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if port > 0 {
				cfg.Server.Port = port
			}
			logging.SetColor(term.IsTerminal(int(os.Stdout.Fd())))
			if cfg.DebugMode {
				logging.SetLevel(logging.DEBUG)
			}
			log := logging.WithField("component", "serve")

			fmt.Println("🚀 Starting agentforum...")

			db, err := openDatabase(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			hub := api.NewWebSocketHub()
			a := newApp(cfg, db, hub)

			providers := a.router.Providers()
			if len(providers) == 0 {
				fmt.Println("⚠️  No LLM provider configured - ticks will report LLM failures")
			} else {
				fmt.Printf("✅ LLM providers: %v\n", providers)
			}
			if cfg.Server.AdminTokenHash == "" {
				fmt.Println("⚠️  No admin token hash - admin endpoints will answer 401")
				fmt.Println("   Run 'agentforum hash-token' and set AGENTFORUM_ADMIN_TOKEN_HASH")
			}

			var sched *scheduler.Scheduler
			if cfg.Runner.Enabled && !noTicks {
				sched = scheduler.NewScheduler(a.engine, a.personas, scheduler.Config{
					Interval: cfg.Runner.Interval.Std(),
					Jitter:   cfg.Runner.Jitter.Std(),
					Timeout:  cfg.Runner.TickTimeout.Std(),
				})
				if err := sched.Start(); err != nil {
					return fmt.Errorf("start scheduler: %w", err)
				}
				stats := sched.GetStats()
				fmt.Printf("⏱  Scheduler started: %d personas every %s\n", stats.EnabledJobs, cfg.Runner.Interval.Std())
			}

			server := api.New(api.Config{
				Host:           cfg.Server.Host,
				Port:           cfg.Server.Port,
				Ticker:         a.engine,
				Runs:           a.runs,
				Personas:       a.personas,
				Scheduler:      sched,
				Hub:            hub,
				AdminTokenHash: cfg.Server.AdminTokenHash,
			})

			errCh := make(chan error, 1)
			go func() {
				errCh <- server.Start()
			}()
			fmt.Printf("🌐 Listening on http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)

			select {
			case err = <-errCh:
				if err != nil {
					log.WithError(err).Error("server stopped")
				}
			case <-cmd.Context().Done():
				fmt.Println("\n🛑 Shutting down...")
			}

			if sched != nil {
				if stopErr := sched.Stop(); stopErr != nil {
					log.WithError(stopErr).Warn("scheduler stop")
				}
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if stopErr := server.Stop(ctx); stopErr != nil {
				log.WithError(stopErr).Warn("server stop")
			}
			return err
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "HTTP port (overrides config)")
	cmd.Flags().BoolVar(&noTicks, "no-ticks", false, "Serve the API without the periodic scheduler")
	return cmd
}
