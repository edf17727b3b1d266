package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/crewsched/crewsched/internal/agent/runtime"
	"github.com/crewsched/crewsched/internal/config"
	"github.com/crewsched/crewsched/internal/orchestrator"
	"github.com/crewsched/crewsched/internal/otel"
	"github.com/crewsched/crewsched/internal/provider"
	"github.com/crewsched/crewsched/internal/store"
)

func newRunCmd() *cobra.Command {
	var (
		configPath  string
		mergeTasks  bool
		logLevel    string
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the orchestrator loop until a stop condition fires",
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(logLevel)
			ctx := cmd.Context()

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			dir := config.MustDirFrom(ctx)
			st, err := store.Open(dir)
			if err != nil {
				return err
			}
			if tasks := cfg.BootstrapTasks(); len(tasks) > 0 {
				if err := st.BootstrapTasks(ctx, tasks, mergeTasks); err != nil {
					return fmt.Errorf("bootstrap tasks: %w", err)
				}
			}

			if metricsAddr != "" {
				handler, err := otel.InitMeterProvider(ctx, "crewsched")
				if err != nil {
					return fmt.Errorf("init metrics: %w", err)
				}
				if err := otel.InitMetrics(ctx); err != nil {
					return fmt.Errorf("init metrics: %w", err)
				}
				mux := http.NewServeMux()
				mux.Handle("/metrics", handler)
				srv := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
				go func() {
					if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						slog.Warn("metrics server failed", "addr", metricsAddr, "err", err)
					}
				}()
				defer func() { _ = srv.Close() }()
			}

			adapter, err := buildAdapter(cfg)
			if err != nil {
				return err
			}
			prov, err := buildProvider(cfg)
			if err != nil {
				return err
			}

			o, err := orchestrator.New(orchestrator.Options{
				Store:                   st,
				Lead:                    cfg.Lead,
				Teammates:               cfg.Teammates,
				Personas:                cfg.Personas,
				PersonaDefaults:         cfg.PersonaDefaults,
				Adapter:                 adapter,
				Adapters:                personaAdapters(cfg),
				Provider:                prov,
				MaxRounds:               cfg.MaxRounds,
				MaxIdleRounds:           cfg.MaxIdleRounds,
				MaxIdleSeconds:          cfg.MaxIdleSeconds,
				NoProgressEventInterval: cfg.NoProgressEventInterval,
				TaskProgressLogLimit:    cfg.TaskProgressLogLimit,
				MaxCommentsPerEvent:     cfg.MaxCommentsPerEvent,
				HumanApproval:           cfg.HumanApproval,
				AutoApproveFallback:     cfg.AutoApproveFallback,
			})
			if err != nil {
				return err
			}

			result, err := o.Run(ctx)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "crewsched.yaml", "Run configuration file")
	cmd.Flags().BoolVar(&mergeTasks, "merge-tasks", false, "Merge bootstrap tasks into existing state instead of replacing it")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9137)")
	return cmd
}

func buildAdapter(cfg *config.RunConfig) (runtime.Adapter, error) {
	switch cfg.Adapter.Kind {
	case "", "stub":
		return runtime.StubAdapter{}, nil
	case "subprocess":
		return runtime.SubprocessAdapter{
			Command: cfg.Adapter.Command,
			Args:    cfg.Adapter.Args,
			Timeout: time.Duration(cfg.Adapter.TimeoutSec) * time.Second,
		}, nil
	default:
		return nil, fmt.Errorf("unknown adapter kind %q", cfg.Adapter.Kind)
	}
}

// personaAdapters binds each executable persona with a command_ref to its own
// subprocess adapter. Personas without one use the run-wide adapter.
func personaAdapters(cfg *config.RunConfig) map[string]runtime.Adapter {
	adapters := map[string]runtime.Adapter{}
	for _, p := range cfg.Personas {
		if !p.Executable() || p.Execution.CommandRef == "" {
			continue
		}
		var env []string
		if p.Execution.Sandbox {
			env = append(env, "CREWSCHED_SANDBOX=1")
		}
		adapters[p.ID] = runtime.SubprocessAdapter{
			Command: p.Execution.CommandRef,
			Timeout: time.Duration(p.Execution.TimeoutSec) * time.Second,
			Env:     env,
		}
	}
	return adapters
}

func buildProvider(cfg *config.RunConfig) (provider.Provider, error) {
	switch cfg.Provider.Kind {
	case "", "mock":
		return provider.MockProvider{}, nil
	case "llm":
		apiKey := cfg.Provider.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("CREWSCHED_API_KEY")
		}
		return provider.NewLLMProvider(provider.LLMOpts{
			BaseURL: cfg.Provider.BaseURL,
			APIKey:  apiKey,
			Model:   cfg.Provider.Model,
		})
	default:
		return nil, fmt.Errorf("unknown provider kind %q", cfg.Provider.Kind)
	}
}

func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}
