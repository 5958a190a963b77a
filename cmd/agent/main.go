package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"crewfleet.hub/internal/agent"
	"crewfleet.hub/internal/config"
	"crewfleet.hub/internal/core/domain"
	"crewfleet.hub/internal/core/logger"
	"crewfleet.hub/internal/core/tracing"
)

type options struct {
	agentID    string
	configPath string
	host       string
	port       int
	managerURL string
	dummy      bool
	command    string
	logLevel   string
	logFormat  string
	otlp       string
}

func main() {
	var opts options

	rootCmd := &cobra.Command{
		Use:   "crewfleet-agent",
		Short: "Run one agent as a standalone HTTP service",
		Long: `Runs a single agent behind the worker HTTP surface
(/health, /info, /execute, /status, /action, /logs), registers it with
the manager and keeps it alive there with heartbeats.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}

	flags := rootCmd.Flags()
	flags.StringVar(&opts.agentID, "agent-id", "", "Agent id (planner|executor|reviewer or any catalog id)")
	flags.StringVar(&opts.configPath, "config", "config/agents.config.json", "Path to the agents catalog")
	flags.StringVar(&opts.host, "host", "0.0.0.0", "Host to bind")
	flags.IntVar(&opts.port, "port", 8100, "Port to bind")
	flags.StringVar(&opts.managerURL, "manager-url", "http://127.0.0.1:8000", "Manager base URL; empty disables registration")
	flags.BoolVar(&opts.dummy, "dummy", false, "Run the lightweight echo agent")
	flags.StringVar(&opts.command, "command", "", "Command run per execute request; defaults to the catalog entryPoint")
	flags.StringVar(&opts.logLevel, "log-level", "info", "Log level (debug|info|warn|error)")
	flags.StringVar(&opts.logFormat, "log-format", "text", "Log format (text|json)")
	flags.StringVar(&opts.otlp, "otlp-endpoint", os.Getenv("OTLP_ENDPOINT"), "OTLP/gRPC collector; empty disables tracing")
	_ = rootCmd.MarkFlagRequired("agent-id")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	cat, err := config.LoadCatalog(opts.configPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "warning: %v; using built-in catalog\n", err)
		}
		cat = config.DefaultCatalog()
	}

	logDir := cat.LogDirectory()
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}
	logFile, err := os.OpenFile(agent.LogFile(logDir, opts.agentID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	defer logFile.Close()

	logger.InitWithWriter(logger.ParseLevel(opts.logLevel), opts.logFormat, io.MultiWriter(os.Stdout, logFile))
	log := logger.Component("agent-main")

	shutdownTracing, err := tracing.Init(ctx, tracing.Settings{
		ServiceName: "crewfleet-agent",
		Role:        tracing.RoleAgent,
		InstanceID:  opts.agentID,
		Endpoint:    opts.otlp,
	})
	if err != nil {
		log.Error("Failed to initialize tracing", "error", err)
	} else {
		defer func() {
			if err := shutdownTracing(context.Background()); err != nil {
				log.Error("Failed to shutdown tracing", "error", err)
			}
		}()
	}

	entry, _, known := cat.Lookup(opts.agentID)
	executor, err := buildExecutor(opts, entry, known)
	if err != nil {
		return err
	}

	name := entry.Name
	model := entry.DefaultModel
	if opts.dummy {
		name = "dummy-" + opts.agentID
		model = "dummy"
	}

	// Bind-all addresses are not reachable URLs for the manager.
	advertised := opts.host
	if advertised == "0.0.0.0" || advertised == "" {
		advertised = "127.0.0.1"
	}
	serviceURL := "http://" + net.JoinHostPort(advertised, strconv.Itoa(opts.port))

	client := &http.Client{Transport: tracing.HTTPTransport(http.DefaultTransport)}
	notifier := agent.NewNotifier(opts.managerURL, domain.RegisterRequest{
		ID:         opts.agentID,
		ServiceURL: serviceURL,
		Metadata:   map[string]any{"defaultModel": model},
	}, client, logger.Get())

	drain := config.ResolveDrainTimeout(os.Getenv(config.DrainTimeoutEnv), cat)
	a := agent.New(agent.Config{
		ID:           opts.agentID,
		Name:         name,
		DefaultModel: model,
		LogDir:       logDir,
		DrainTimeout: drain,
		Args:         os.Args,
	}, executor, notifier, agent.OSProcess{}, logger.Get())

	log.Info("Starting agent service",
		"agent_id", opts.agentID,
		"service_url", serviceURL,
		"manager_url", opts.managerURL,
		"drain_timeout", drain,
		"dummy", opts.dummy,
	)
	return a.Run(ctx, net.JoinHostPort(opts.host, strconv.Itoa(opts.port)))
}

func buildExecutor(opts options, entry domain.CatalogAgent, known bool) (agent.Executor, error) {
	if opts.dummy {
		return agent.EchoExecutor{}, nil
	}
	command := opts.command
	if command == "" {
		if !known {
			return nil, fmt.Errorf("unknown agent id %q: not in catalog, pass --command or --dummy", opts.agentID)
		}
		command = entry.EntryPoint
	}
	if command == "" {
		return nil, fmt.Errorf("agent %q has no entryPoint, pass --command or --dummy", opts.agentID)
	}
	return agent.NewCommandExecutor(command, "")
}
