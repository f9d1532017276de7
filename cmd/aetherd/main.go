// Aetherd is the AetherOS orchestration daemon.
//
// It runs the 72-hour ATO cycle: phase scheduling, agent activation,
// access-mediated information brokering, context provisioning, and
// process-improvement logging, with optional doctrine knowledge base, LLM
// adapter, and external policy evaluator integrations.
//
// Configuration is loaded from ~/.config/aetherd/config.yaml with
// environment-variable overrides. See internal/config for details.
//
// Usage:
//
//	# Start the daemon with defaults
//	aetherd
//
//	# Point at an explicit config file
//	aetherd -config /etc/aetherd/config.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/project-aether/aetheros/internal/access"
	"github.com/project-aether/aetheros/internal/agent"
	"github.com/project-aether/aetheros/internal/broker"
	"github.com/project-aether/aetheros/internal/config"
	"github.com/project-aether/aetheros/internal/doctrine"
	"github.com/project-aether/aetheros/internal/embeddings"
	"github.com/project-aether/aetheros/internal/kernel"
	"github.com/project-aether/aetheros/internal/llm"
	"github.com/project-aether/aetheros/internal/logging"
	"github.com/project-aether/aetheros/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default ~/.config/aetherd/config.yaml)")
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  aetherd           Start the aetherd daemon\n")
			fmt.Fprintf(os.Stderr, "  aetherd version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("aetherd error: %v", err)
	}
	log.Println("Shutdown complete")
}

func printVersion() {
	fmt.Printf("aetherd\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run wires the kernel from configuration and drives the cycle clock until
// the context is cancelled.
func run(ctx context.Context, configPath string) error {
	if err := config.EnsureConfigDir(); err != nil {
		return err
	}
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	tel, err := telemetry.New(ctx, &cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Telemetry.Shutdown.Timeout)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn(shutdownCtx, "telemetry shutdown failed", zap.Error(err))
		}
	}()

	logger.Info(ctx, "starting aetherd",
		zap.String("version", version),
		zap.Duration("tick_interval", cfg.Cycle.TickInterval),
		zap.Bool("doctrine", cfg.Doctrine.Enabled),
		zap.Bool("policy_evaluator", cfg.Policy.Enabled),
		zap.Int("llm_providers", len(cfg.LLM.Providers)))

	opts := kernel.Options{
		Logger:   logger,
		Schedule: cfg.Schedule(),
		Policies: cfg.PolicySet(),
	}

	if cfg.Doctrine.Enabled {
		embedder, err := embeddings.NewService(embeddings.Config{
			BaseURL: cfg.Embedding.BaseURL,
			Model:   cfg.Embedding.Model,
			APIKey:  cfg.Embedding.APIKey,
		})
		if err != nil {
			return fmt.Errorf("failed to create embedding service: %w", err)
		}
		kb, err := doctrine.New(cfg.Doctrine.Store(), embedder,
			doctrine.WithLogger(logger.Named("doctrine")))
		if err != nil {
			return fmt.Errorf("failed to open doctrine knowledge base: %w", err)
		}
		opts.KB = kb
		opts.Embedder = embedder
		logger.Info(ctx, "doctrine knowledge base ready",
			zap.String("path", cfg.Doctrine.Path),
			zap.Int("documents", kb.Count()))
	}

	if client := cfg.Policy.Client(); client != nil {
		opts.PolicyEvaluator = client
		logger.Info(ctx, "external policy evaluator enabled",
			zap.String("url", cfg.Policy.URL),
			zap.String("package", cfg.Policy.Package))
	}

	if adapter, err := buildAdapter(cfg, logger); err != nil {
		return err
	} else if adapter != nil {
		opts.LLM = adapter
	}

	k, err := kernel.New(opts)
	if err != nil {
		return fmt.Errorf("failed to build kernel: %w", err)
	}
	defer k.Close()

	for _, profile := range cfg.Profiles {
		if _, err := k.RegisterAgent(profile, defaultHandler(profile)); err != nil {
			return fmt.Errorf("failed to register agent %s: %w", profile.ID, err)
		}
	}
	registerBackends(k)

	if cfg.Cycle.AutoStart {
		summary, err := k.StartCycle(ctx, "")
		if err != nil {
			return fmt.Errorf("failed to start cycle: %w", err)
		}
		logger.Info(ctx, "cycle started",
			zap.String("cycle_id", summary.CycleID),
			zap.Time("start", summary.StartTime))
	}

	ticker := time.NewTicker(cfg.Cycle.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logFinalStatus(logger, k)
			return nil
		case now := <-ticker.C:
			events, err := k.Tick(ctx, now)
			if err != nil {
				logger.Error(ctx, "tick failed", zap.Error(err))
				continue
			}
			for _, ev := range events {
				logger.Info(ctx, "phase transition",
					zap.String("kind", string(ev.Kind)),
					zap.String("phase", string(ev.Phase)),
					zap.String("cycle_id", ev.CycleID))
			}
		}
	}
}

// registerBackends wires in-memory stores for the categories that have no
// external system behind them. Deployments with real feeds replace these
// through the kernel API.
func registerBackends(k *kernel.Kernel) {
	k.RegisterBackend(access.CategoryThreatData, &broker.ThreatBackend{
		Store: broker.NewMemThreatStore(),
	})
	k.RegisterBackend(access.CategorySpectrumAllocation, &broker.SpectrumBackend{
		Store: broker.NewMemSpectrumStore(),
	})
	k.RegisterBackend(access.CategoryAssetStatus, &broker.AssetBackend{
		Store: broker.NewMemAssetStore(),
	})
}

// defaultHandler acknowledges inbound coordination messages. Deployments
// embed real agent logic by registering their own handlers.
func defaultHandler(profile access.Profile) agent.Handler {
	return func(_ context.Context, msg agent.Message) (agent.Reply, error) {
		return agent.Reply{
			OK: true,
			Payload: map[string]any{
				"agent":   profile.ID,
				"ack":     msg.Type,
				"message": msg.ID,
			},
		}, nil
	}
}

// buildAdapter constructs the LLM adapter from the configured provider
// chain. No providers means no adapter.
func buildAdapter(cfg *config.Config, logger *logging.Logger) (*llm.Adapter, error) {
	if len(cfg.LLM.Providers) == 0 {
		return nil, nil
	}
	providers := make([]llm.Provider, 0, len(cfg.LLM.Providers))
	for _, pc := range cfg.LLM.Providers {
		p, err := llm.NewOpenAIProvider(llm.OpenAIConfig{
			Name:    pc.Name,
			BaseURL: pc.BaseURL,
			Model:   pc.Model,
			APIKey:  pc.APIKey,
			Timeout: pc.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("llm provider %s: %w", pc.Name, err)
		}
		providers = append(providers, p)
	}
	return llm.New(providers,
		llm.WithMaxTries(cfg.LLM.MaxTries),
		llm.WithInitialInterval(cfg.LLM.InitialInterval),
		llm.WithLogger(logger.Named("llm"))), nil
}

func logFinalStatus(logger *logging.Logger, k *kernel.Kernel) {
	status := k.SystemStatus()
	logger.Info(context.Background(), "final status",
		zap.Int("registered_agents", len(status.RegisteredAgents)),
		zap.Int("flags", status.Flags.TotalFlags),
		zap.Int("escalations", status.Escalations))
}
