package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/atlasagent/atlas/internal/agent"
	"github.com/atlasagent/atlas/internal/config"
	"github.com/atlasagent/atlas/internal/integrations"
	"github.com/atlasagent/atlas/internal/llm"
	"github.com/atlasagent/atlas/internal/memory"
	"github.com/atlasagent/atlas/internal/observability"
	"github.com/atlasagent/atlas/internal/ratelimit"
	"github.com/atlasagent/atlas/internal/scheduler"
	"github.com/atlasagent/atlas/internal/tools"
)

func buildChatCmd(configPath *string) *cobra.Command {
	var sessionID string
	var userID string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation",
		Long: `Start an interactive conversation with the agent.

Type a message and press enter. Commands:
  /clear   drop the stored conversation and start fresh
  /exit    quit`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(resolveConfigPath(*configPath))
			if err != nil {
				return err
			}
			if sessionID == "" {
				sessionID = uuid.NewString()
			}
			return runChat(cmd, cfg, sessionID, userID)
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "Session ID to resume (default: new session)")
	cmd.Flags().StringVar(&userID, "user", "local", "User ID for conversation memory")
	return cmd
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// buildAgent assembles the full stack from config. The returned cleanup
// closes network clients, stores, and the trace exporter.
func buildAgent(ctx context.Context, cfg *config.Config) (*agent.Orchestrator, *tools.Registry, func(), error) {
	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	metrics := observability.NewMetrics()

	traceCfg := observability.TraceConfig{ServiceName: cfg.Tracing.ServiceName}
	if cfg.Tracing.Enabled {
		traceCfg.Endpoint = cfg.Tracing.Endpoint
		traceCfg.SamplingRate = cfg.Tracing.SampleRate
		traceCfg.Insecure = cfg.Tracing.Insecure
	}
	tracer, shutdownTracer := observability.NewTracer(traceCfg)

	registry := tools.NewRegistry()
	sink := agent.NewLogSink(logger)
	emitter := agent.NewEmitter(sink, logger)
	registry.Use(
		tools.TracingMiddleware(tracer),
		tools.LoggingMiddleware(logger),
		tools.MetricsMiddleware(metrics),
		tools.RateLimitMiddleware(ratelimit.NewLimiter(cfg.Tools.RateLimit)),
		tools.EventsMiddleware(emitter),
	)

	closeTracer := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(shutdownCtx)
	}

	loaded, closeIntegrations, err := integrations.FromConfig(ctx, cfg.Integrations)
	if err != nil {
		closeTracer()
		return nil, nil, nil, err
	}
	if err := integrations.Load(ctx, registry, logger, loaded...); err != nil {
		closeIntegrations()
		closeTracer()
		return nil, nil, nil, err
	}

	var tasks *scheduler.Scheduler
	var taskStore scheduler.Store
	if cfg.Scheduler.Enabled {
		taskStore, err = scheduler.NewStore(cfg.Scheduler)
		if err != nil {
			closeIntegrations()
			closeTracer()
			return nil, nil, nil, err
		}
		tasks, err = scheduler.New(taskStore, registry,
			scheduler.WithLogger(logger),
			scheduler.WithPublisher(emitter),
			scheduler.WithTickInterval(cfg.Scheduler.TickInterval),
		)
		if err != nil {
			_ = taskStore.Close()
			closeIntegrations()
			closeTracer()
			return nil, nil, nil, err
		}
		if err := tasks.RegisterTools(registry); err != nil {
			_ = taskStore.Close()
			closeIntegrations()
			closeTracer()
			return nil, nil, nil, err
		}
	}
	registry.Freeze()

	closeTaskStore := func() {
		if taskStore != nil {
			_ = taskStore.Close()
		}
	}

	provider, err := llm.New(cfg.LLM, logger, metrics, tracer)
	if err != nil {
		closeTaskStore()
		closeIntegrations()
		closeTracer()
		return nil, nil, nil, err
	}

	store, err := memory.New(cfg.Memory)
	if err != nil {
		closeTaskStore()
		closeIntegrations()
		closeTracer()
		return nil, nil, nil, err
	}

	orchestrator, err := agent.New(agent.Options{
		Provider: provider,
		Registry: registry,
		Store:    store,
		Emitter:  emitter,
		Logger:   logger,
		Metrics:  metrics,
		Tracer:   tracer,
		Config:   cfg.Agent,
	})
	if err != nil {
		closeTaskStore()
		closeIntegrations()
		closeTracer()
		_ = store.Close()
		return nil, nil, nil, err
	}

	if tasks != nil {
		tasks.SetTurnRunner(orchestrator)
		if err := tasks.Start(ctx); err != nil {
			closeTaskStore()
			closeIntegrations()
			closeTracer()
			_ = store.Close()
			return nil, nil, nil, err
		}
	}

	cleanup := func() {
		if tasks != nil {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = tasks.Stop(stopCtx)
			cancel()
		}
		closeTaskStore()
		closeIntegrations()
		_ = store.Close()
		closeTracer()
	}
	return orchestrator, registry, cleanup, nil
}

func runChat(cmd *cobra.Command, cfg *config.Config, sessionID, userID string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orchestrator, registry, cleanup, err := buildAgent(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "session %s — %d tools loaded. /exit to quit.\n", sessionID, registry.Len())

	scanner := bufio.NewScanner(cmd.InOrStdin())
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/exit", line == "/quit":
			return nil
		case line == "/clear":
			if err := orchestrator.ClearSession(ctx, sessionID, userID); err != nil {
				fmt.Fprintf(out, "clear failed: %v\n", err)
				continue
			}
			fmt.Fprintln(out, "conversation cleared")
			continue
		}

		reply, err := orchestrator.HandleTurn(ctx, sessionID, userID, line)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		fmt.Fprintf(out, "\n%s\n\n", reply)
	}
	return scanner.Err()
}
