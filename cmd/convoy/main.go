// Convoy is an autonomous conversation orchestrator.
//
// It runs goal-driven agent conversations against local (Ollama) or
// Anthropic models: re-injecting the goal every turn, parsing and
// executing tool calls, deciding completion, and tracking every
// conversation in a registry that a monitoring API exposes over HTTP.
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	convoy serve                 Start the monitor server
//	convoy run <goal>            Run a single conversation
//	convoy run -persona memory-keeper <observation>
//	convoy version               Print version and build information
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mthorsley/convoy/internal/buildinfo"
	"github.com/mthorsley/convoy/internal/completion"
	"github.com/mthorsley/convoy/internal/config"
	"github.com/mthorsley/convoy/internal/convlog"
	"github.com/mthorsley/convoy/internal/events"
	"github.com/mthorsley/convoy/internal/llm"
	"github.com/mthorsley/convoy/internal/notes"
	"github.com/mthorsley/convoy/internal/orchestrator"
	"github.com/mthorsley/convoy/internal/personas"
	"github.com/mthorsley/convoy/internal/protocol"
	"github.com/mthorsley/convoy/internal/registry"
	"github.com/mthorsley/convoy/internal/store"
	"github.com/mthorsley/convoy/internal/tools"
	"github.com/mthorsley/convoy/internal/web"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run] so the full
// lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the convoy command. Arguments are
// parsed by hand: the flag package relies on package-level globals,
// which makes it impossible to call run() concurrently from tests, and
// the argument surface here is small.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var model string
	var persona string
	var turns int
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case args[i] == "-model" && i+1 < len(args):
			model = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-model="):
			model = strings.TrimPrefix(args[i], "-model=")
		case args[i] == "-persona" && i+1 < len(args):
			persona = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-persona="):
			persona = strings.TrimPrefix(args[i], "-persona=")
		case args[i] == "-turns" && i+1 < len(args):
			n, err := strconv.Atoi(args[i+1])
			if err != nil {
				return fmt.Errorf("invalid -turns value: %q", args[i+1])
			}
			turns = n
			i++
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

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "run":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: convoy run [-model m] [-persona p] [-turns n] <goal>")
		}
		return runOne(ctx, stdout, stderr, configPath, strings.Join(cmdArgs, " "), model, persona, turns)
	case "version":
		fmt.Fprintln(stdout, buildinfo.String())
		return nil
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Convoy - Autonomous Conversation Orchestrator")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: convoy [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the monitor server")
	fmt.Fprintln(w, "  run <goal>   Run a single conversation and print the transcript")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -model <name>     Model override for run")
	fmt.Fprintln(w, "  -persona <name>   Persona for run: memory-keeper, interactive-programming, instruction-selector")
	fmt.Fprintln(w, "  -turns <n>        Turn budget override for run")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./convoy.yaml, ~/.config/convoy/config.yaml, /etc/convoy/config.yaml")
	return nil
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

// loadConfig locates and parses the YAML configuration file. If explicit
// is non-empty, that exact path is used (and must exist). Otherwise
// [config.FindConfig] searches the default locations.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}

// createLLMClient builds the provider-routing LLM client. Ollama is the
// fallback for everything; Anthropic models route by "claude-" prefix
// when an API key is configured.
func createLLMClient(cfg *config.Config, logger *slog.Logger) llm.Client {
	ollama := llm.NewOllamaClient(cfg.Models.OllamaURL)

	multi := llm.NewMultiClient(ollama)
	multi.AddProvider("ollama", ollama)
	if cfg.Anthropic.APIKey != "" {
		multi.AddProvider("anthropic", llm.NewAnthropicClient(cfg.Anthropic.APIKey, logger))
		logger.Info("Anthropic provider configured")
	}
	return multi
}

// buildRunner wires the shared pieces every mode needs: tool registry,
// transcript sink, conversation registry, and the turn loop runner.
func buildRunner(cfg *config.Config, logger *slog.Logger, noteStore *notes.Store, sinkOut io.Writer) *orchestrator.Runner {
	toolReg := tools.NewRegistry(logger)
	toolReg.RegisterBuiltins(cfg.Workspace.Path, noteStore)

	return &orchestrator.Runner{
		LLM:      createLLMClient(cfg, logger),
		Tools:    toolReg,
		Registry: registry.New(),
		Sink:     convlog.NewSink(sinkOut),
		Logger:   logger,
		Signals:  completion.HeuristicSignals{},
		System:   protocol.ToolCallInstructions(),
		ToolDefs: toolReg.Definitions(),
	}
}

// openNotes opens the configured note store, or returns nil when notes
// are not configured.
func openNotes(cfg *config.Config, logger *slog.Logger) *notes.Store {
	if cfg.NotesDir == "" {
		return nil
	}
	ns, err := notes.NewStore(cfg.NotesDir)
	if err != nil {
		logger.Warn("notes disabled", "error", err)
		return nil
	}
	return ns
}

// runOne handles "convoy run <goal>": a single conversation printed to
// stdout, with the persona deliverable (if any) extracted at the end.
func runOne(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath, goal, model, personaName string, turns int) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	level := slog.LevelWarn // keep run-mode output readable
	if cfg.LogLevel != "" {
		level, _ = config.ParseLogLevel(cfg.LogLevel)
	}
	logger := newLogger(stderr, level)
	logger.Debug("config loaded", "path", cfgPath)

	if model == "" {
		model = cfg.Models.Default
	}
	if turns <= 0 {
		turns = cfg.MaxTurns
	}

	var p personas.Persona
	if personaName != "" {
		p, err = personas.ByName(personaName)
		if err != nil {
			return err
		}
		goal = p.BuildGoal(goal)
		turns = p.MaxTurns
	}

	noteStore := openNotes(cfg, logger)
	runner := buildRunner(cfg, logger, noteStore, stdout)

	var archive orchestrator.Archiver
	if cfg.DataDir != "" {
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
		}
		a, err := store.NewArchive(cfg.DataDir + "/convoy.db")
		if err != nil {
			return fmt.Errorf("open archive: %w", err)
		}
		defer a.Close()
		archive = a
	}

	monitor := orchestrator.NewMonitor(runner, logger, archive, nil)

	// Forward SIGINT as cooperative cancellation so the current turn
	// finishes cleanly and the conversation archives as cancelled.
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	id, done := monitor.Start(ctx, orchestrator.Spec{
		Goal:     goal,
		Caller:   "CLI",
		Model:    model,
		MaxTurns: turns,
	})

	var result orchestrator.Result
	select {
	case result = <-done:
	case <-sigCtx.Done():
		monitor.Cancel(id)
		result = <-done
	}

	fmt.Fprintf(stdout, "\nFinished: %s\n", result.Reason)
	if result.Err != nil {
		return result.Err
	}

	if personaName != "" && p.HasDeliverable() {
		ex := p.ExtractDeliverable(result.History)
		if ex.Failed {
			fmt.Fprintln(stdout, "No structured result found in output.")
		} else {
			fmt.Fprintf(stdout, "\n%s\n", ex.Content)
		}
	}
	return nil
}

// runServe handles "convoy serve": the monitor server plus optional
// MQTT status mirroring, blocking until a shutdown signal arrives.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo)
	logger.Info("starting Convoy", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger = newLogger(stdout, level)
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"model", cfg.Models.Default,
		"ollama_url", cfg.Models.OllamaURL,
	)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	noteStore := openNotes(cfg, logger)
	runner := buildRunner(cfg, logger, noteStore, nil)

	var archive *store.Archive
	if cfg.DataDir != "" {
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
		}
		archive, err = store.NewArchive(cfg.DataDir + "/convoy.db")
		if err != nil {
			return fmt.Errorf("open archive: %w", err)
		}
		defer archive.Close()
		logger.Info("archive database opened", "path", cfg.DataDir+"/convoy.db")
	}

	// Optional MQTT mirroring of registry state; the publisher's
	// PublishAll doubles as the monitor refresh hook.
	var refresh func()
	var publisher *events.Publisher
	if cfg.MQTT.Broker != "" {
		publisher = events.NewPublisher(cfg.MQTT, runner.Registry, logger)
		if err := publisher.Start(ctx); err != nil {
			logger.Warn("mqtt publisher disabled", "error", err)
			publisher = nil
		} else {
			refresh = publisher.PublishAll
			defer func() {
				stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				publisher.Stop(stopCtx)
			}()
		}
	}

	var monitorArchive orchestrator.Archiver
	if archive != nil {
		monitorArchive = archive
	}
	monitor := orchestrator.NewMonitor(runner, logger, monitorArchive, refresh)

	server := web.NewServer(cfg.Listen.Address, cfg.Listen.Port, monitor, logger)
	server.SetDefaults(cfg.Models.Default, cfg.MaxTurns)
	if archive != nil {
		server.SetArchive(archive)
	}
	if noteStore != nil {
		server.SetNotes(noteStore)
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("monitor server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
