package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kestrelhq/kestrel/internal/agent"
	"github.com/kestrelhq/kestrel/internal/config"
	"github.com/kestrelhq/kestrel/internal/gateway"
	"github.com/kestrelhq/kestrel/internal/llm"
	"github.com/kestrelhq/kestrel/internal/orchestrator"
	"github.com/kestrelhq/kestrel/internal/sessions"
	"github.com/kestrelhq/kestrel/internal/stt"
	"github.com/kestrelhq/kestrel/internal/summarizer"
	"github.com/kestrelhq/kestrel/internal/telemetry"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway server",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Options{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		Insecure:    cfg.Telemetry.Insecure,
	})
	if err != nil {
		slog.Error("telemetry setup failed", "error", err)
		os.Exit(1)
	}

	client := llm.NewClient(cfg.LLM.APIBase, cfg.LLM.APIKey, cfg.LLM.Model,
		time.Duration(cfg.LLM.TimeoutSec)*time.Second)

	sessionManager := sessions.NewManager(cfg.WorkspacePath())

	coder := agent.NewCoder(client, cfg.Agents.MaxSteps)
	manager := agent.NewManager(client, coder, cfg.ManagerModel(), cfg.Agents.MaxRetries).
		WithController(cfg.Agents.ControllerEnabled)
	summ := summarizer.New(client, cfg.SummarizerModel())
	orch := orchestrator.New(manager, summ)

	sttClient := stt.NewClient(cfg.STT.ProxyURL, cfg.STT.APIKey, cfg.STT.TimeoutSec)

	server := gateway.NewServer(cfg, sessionManager, orch, sttClient, summ)

	// Graceful shutdown on SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig.String())
		cancel()
	}()

	err = server.Start(ctx)

	sessionManager.Shutdown()
	if terr := shutdownTelemetry(context.Background()); terr != nil {
		slog.Warn("telemetry shutdown failed", "error", terr)
	}
	if err != nil {
		slog.Error("gateway stopped with error", "error", err)
		os.Exit(1)
	}
}
