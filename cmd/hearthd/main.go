// Hearthd is a conversational smart-home bridge for Home Assistant.
//
// It accepts user utterances over a small HTTP API, forwards them to a
// chat-completion model together with tool schemas describing the
// household's devices, executes the tool calls the model requests
// through Home Assistant's service-call API, and returns spoken-style
// Chinese replies. Configuration is loaded from a single YAML file
// discovered automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	hearthd serve              Start the API server
//	hearthd ask <utterance>    Run a single turn (for testing)
//	hearthd version            Print version and build information
//	hearthd -o json version    Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/wrenly/hearth/internal/agent"
	"github.com/wrenly/hearth/internal/api"
	"github.com/wrenly/hearth/internal/buildinfo"
	"github.com/wrenly/hearth/internal/catalog"
	"github.com/wrenly/hearth/internal/config"
	"github.com/wrenly/hearth/internal/connwatch"
	"github.com/wrenly/hearth/internal/glm"
	"github.com/wrenly/hearth/internal/homeassistant"
	"github.com/wrenly/hearth/internal/resolve"
	"github.com/wrenly/hearth/internal/session"
	"github.com/wrenly/hearth/internal/statestream"
	"github.com/wrenly/hearth/internal/summarizer"
	"github.com/wrenly/hearth/internal/tools"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run], keeping
// os.Exit, os.Stdout, and os.Args out of the application logic so the
// full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the hearthd command. All OS-level
// dependencies are injected as parameters:
//
//   - ctx controls the lifetime of the process. Cancelling it triggers
//     graceful shutdown of the server and background goroutines.
//   - stdout and stderr receive all program output. Structured logs go
//     to stdout; fatal error messages go to stderr.
//   - args is os.Args[1:] — the command-line arguments after the
//     program name. We parse these manually rather than using the flag
//     package to avoid global state that interferes with parallel
//     tests.
//
// run returns nil on clean shutdown and a non-nil error for any
// failure. The caller (main) is responsible for printing the error and
// exiting.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	// Parse arguments by hand. The flag package relies on package-level
	// globals (flag.CommandLine), which makes it impossible to call
	// run() concurrently from tests. The argument surface is small
	// enough that manual parsing is clearer than a CLI framework.
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++ // skip the value
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: hearthd ask <utterance>")
		}
		return runAsk(ctx, stdout, stderr, configPath, strings.Join(cmdArgs, " "))
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runServe wires the full pipeline and serves the HTTP API until the
// context is cancelled (SIGINT/SIGTERM) or the listener fails.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting Hearth",
		"version", buildinfo.Version,
		"commit", buildinfo.GitCommit,
		"built", buildinfo.BuildTime,
	)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Reconfigure the logger now that the desired level and format are
	// known. The initial Info-level text logger covers only the startup
	// banner and config errors.
	{
		level := slog.LevelInfo
		if cfg.LogLevel != "" {
			// Already validated by config.Validate.
			level, _ = config.ParseLogLevel(cfg.LogLevel)
		}
		logger = newLogger(stdout, level, cfg.LogFormat)
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"model", cfg.Model.Name,
		"homeassistant", cfg.HomeAssistant.URL,
	)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Home Assistant ---
	// REST for service calls and history; WebSocket for the live state
	// feed that keeps entity resolution off the HA API hot path.
	ha := homeassistant.NewClient(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token, logger)
	haWS := homeassistant.NewWSClient(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token, logger)
	cache := homeassistant.NewStateCache(logger)
	cached := &homeassistant.CachedStates{
		Cache:  cache,
		Client: ha,
		MaxAge: 10 * time.Minute,
	}

	// The watcher owns connection recovery: every up transition (the
	// first connect included) re-establishes the WebSocket feed and
	// re-primes the cache, covering state changes missed while down.
	// Until then the cached state source falls back to REST per call.
	var feedOnce sync.Once
	watcher := connwatch.Start(ctx, connwatch.Options{
		Probe:  ha.Ping,
		Logger: logger,
		OnUp: func() {
			upCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()

			if err := haWS.Reconnect(upCtx); err != nil {
				logger.Error("WebSocket connect failed", "error", err)
				return
			}
			// Reconnects restore subscriptions automatically; only the
			// first connection subscribes and starts the cache feed.
			feedOnce.Do(func() {
				if err := haWS.Subscribe(upCtx, "state_changed"); err != nil {
					logger.Error("subscribe to state_changed failed", "error", err)
					return
				}
				go cache.Run(ctx, haWS.Events())
			})

			if states, err := ha.GetStates(upCtx); err != nil {
				logger.Warn("state snapshot failed", "error", err)
			} else {
				cache.Prime(states)
				cached.Touch()
			}
		},
		OnDown: func(err error) {
			logger.Warn("Home Assistant unreachable, serving from cache", "error", err)
		},
	})
	defer watcher.Stop()
	defer haWS.Close()

	// --- Optional MQTT statestream mirror ---
	var mirror *statestream.Mirror
	if cfg.MQTT.Enabled {
		mirror = statestream.New(cfg.MQTT, cache, logger)
		if err := mirror.Start(ctx); err != nil {
			return fmt.Errorf("start statestream mirror: %w", err)
		}
	}

	// --- Transcript archive ---
	var archive *session.Archive
	if cfg.ArchivePath != "" {
		archive, err = session.OpenArchive(cfg.ArchivePath)
		if err != nil {
			return fmt.Errorf("open transcript archive %s: %w", cfg.ArchivePath, err)
		}
		defer archive.Close()
		logger.Info("transcript archive opened", "path", cfg.ArchivePath)
	}

	orch, err := newOrchestrator(cfg, logger, ha, cached, cache, archive)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", cfg.Listen.Address, cfg.Listen.Port)
	server := api.NewServer(addr, orch, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		if mirror != nil {
			_ = mirror.Stop(shutdownCtx)
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("Hearth stopped")
	return nil
}

// runAsk wires a one-shot pipeline (no WebSocket feed, no MQTT, no
// archive) and prints the speech for a single utterance.
func runAsk(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath, utterance string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Logs go to stderr so stdout carries only the reply.
	logger := newLogger(stderr, slog.LevelWarn, "text")

	ha := homeassistant.NewClient(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token, logger)
	cache := homeassistant.NewStateCache(logger)
	cached := &homeassistant.CachedStates{Cache: cache, Client: ha}

	if _, err := cached.States(ctx, ""); err != nil {
		logger.Warn("initial state snapshot failed", "error", err)
	}

	orch, err := newOrchestrator(cfg, logger, ha, cached, cache, nil)
	if err != nil {
		return err
	}

	resp := orch.Converse(ctx, agent.Request{Text: utterance})
	fmt.Fprintln(stdout, resp.Speech)
	return nil
}

// newOrchestrator builds the conversation pipeline shared by serve and
// ask: model client, feature catalog, entity resolver, tool registry,
// and session store.
func newOrchestrator(
	cfg *config.Config,
	logger *slog.Logger,
	ha *homeassistant.Client,
	states resolve.StateSource,
	cache *homeassistant.StateCache,
	archive *session.Archive,
) (*agent.Orchestrator, error) {
	var modelOpts []glm.Option
	if cfg.Model.BaseURL != "" {
		modelOpts = append(modelOpts, glm.WithBaseURL(cfg.Model.BaseURL))
	}
	modelOpts = append(modelOpts,
		glm.WithTimeout(time.Duration(cfg.Model.TimeoutSec)*time.Second),
		glm.WithLogger(logger),
	)
	model := glm.NewClient(cfg.Model.APIKey, modelOpts...)

	cat, err := catalog.New()
	if err != nil {
		return nil, fmt.Errorf("load feature catalog: %w", err)
	}

	resolver := resolve.NewResolver(states, logger)
	summaries := summarizer.New(ha, model, cfg.Model.Name, logger)

	registry := tools.NewRegistry(tools.Deps{
		Services:     ha,
		Resolver:     resolver,
		Vision:       model,
		VisionModel:  cfg.Model.VisionName,
		Search:       model,
		SearchEngine: cfg.Model.SearchEngine,
		Summarizer:   summaries,
		Logger:       logger,
	})

	deps := agent.Deps{
		Model:      model,
		Catalog:    cat,
		Dispatcher: tools.NewDispatcher(registry, logger),
		Runner:     &tools.ServiceRunner{Services: ha, Resolver: resolver, Logger: logger},
		Fallback:   ha,
		Sessions:   session.NewStore(cfg.Agent.MaxHistory),
		Context:    promptContext(cfg, cache),
		Logger:     logger,
	}
	// A typed nil in the interface would defeat the nil check.
	if archive != nil {
		deps.Transcript = archive
	}

	return agent.New(agent.Config{
		ModelID:       cfg.Model.Name,
		MaxTokens:     cfg.Model.MaxTokens,
		Temperature:   cfg.Model.Temperature,
		TopP:          cfg.Model.TopP,
		MaxIterations: cfg.Agent.MaxToolIterations,
		Cooldown:      time.Duration(cfg.Agent.CooldownSec) * time.Second,
	}, deps), nil
}

// promptContext builds the per-turn system prompt variables from the
// state cache: the configured home and user names plus the exposed
// device list, sorted for stable prompts and capped so the device list
// cannot crowd out conversation history.
func promptContext(cfg *config.Config, cache *homeassistant.StateCache) agent.ContextFunc {
	exposed := make(map[string]bool, len(cfg.Prompt.ExposedDomains))
	for _, d := range cfg.Prompt.ExposedDomains {
		exposed[d] = true
	}
	limit := cfg.Prompt.MaxEntities

	return func(context.Context) (agent.PromptContext, error) {
		entities := make([]homeassistant.State, 0, limit)
		for _, s := range cache.Snapshot("") {
			if !exposed[s.Domain()] {
				continue
			}
			entities = append(entities, s)
		}
		sort.Slice(entities, func(i, j int) bool {
			return entities[i].EntityID < entities[j].EntityID
		})
		if limit > 0 && len(entities) > limit {
			entities = entities[:limit]
		}
		return agent.PromptContext{
			HostName: cfg.Prompt.HomeName,
			UserName: cfg.Prompt.UserName,
			Entities: entities,
		}, nil
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	// Print fields in a stable order for human readability.
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Hearth - Conversational Home Assistant Bridge")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: hearthd [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the API server")
	fmt.Fprintln(w, "  ask          Run a single turn (for testing)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	for _, p := range config.DefaultSearchPaths() {
		fmt.Fprintf(w, "  %s\n", p)
	}
	return nil
}

// newLogger creates a structured logger writing to w at the given level
// and format. Format must be "text" or "json"; anything else defaults
// to text. All log output goes through slog; this helper standardizes
// the handler configuration across subcommands.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loadConfig locates and parses the YAML configuration file. If
// explicit is non-empty, that exact path is used (and must exist).
// Returns the parsed config, the path loaded, and any error.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, "", fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}
