// Taskmind is a conversational task-management backend.
//
// Users talk to it in natural language; an LLM agent translates each
// message into task operations (create, list, complete, update, delete)
// against a per-user SQLite store. Configuration is loaded from a single
// YAML file discovered automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	taskmind serve              Start the API server
//	taskmind init [dir]         Initialize a workspace with an example config
//	taskmind token <user>       Mint an access token for a user
//	taskmind version            Print version and build information
//	taskmind -o json version    Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/taskmind/taskmind/internal/agent"
	"github.com/taskmind/taskmind/internal/api"
	"github.com/taskmind/taskmind/internal/auth"
	"github.com/taskmind/taskmind/internal/buildinfo"
	"github.com/taskmind/taskmind/internal/config"
	"github.com/taskmind/taskmind/internal/conversation"
	"github.com/taskmind/taskmind/internal/llm"
	"github.com/taskmind/taskmind/internal/tasks"
	"github.com/taskmind/taskmind/internal/tools"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so that
// the full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the taskmind command. All OS-level
// dependencies are injected as parameters:
//
//   - ctx controls the lifetime of the process. Cancelling it triggers
//     graceful shutdown of the server.
//   - stdout and stderr receive all program output. Structured logs go
//     to stdout; fatal error messages go to stderr.
//   - args is os.Args[1:] — the command-line arguments after the program
//     name. We parse these manually rather than using the flag package
//     to avoid global state that interferes with parallel tests.
//
// run returns nil on clean shutdown and a non-nil error for any failure.
// The caller (main) is responsible for printing the error and exiting.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	// Parse arguments by hand. The flag package relies on package-level
	// globals (flag.CommandLine), which makes it impossible to call run()
	// concurrently from tests. Our argument surface is small enough that
	// manual parsing is clearer than bringing in a CLI framework.
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
				// Collect remaining args as subcommand arguments.
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	// Default to human-readable text output.
	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, stderr, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "token":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: taskmind token <user>")
		}
		return runToken(stdout, configPath, cmdArgs[0], outputFmt)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
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

// printUsage writes the top-level help text to w. It is called when
// taskmind is invoked with no arguments, or with -h / --help.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Taskmind - Conversational Task Management Backend")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: taskmind [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve         Start the API server")
	fmt.Fprintln(w, "  init [dir]    Initialize a workspace with an example config (default: .)")
	fmt.Fprintln(w, "  token <user>  Mint an access token for a user")
	fmt.Fprintln(w, "  version       Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./taskmind.yaml, ~/.config/taskmind/config.yaml, /etc/taskmind/config.yaml")
	return nil
}

// runToken handles the "taskmind token <user>" subcommand. It mints a
// signed access token for the given user ID using the configured secret,
// for handing out to API clients and for local testing with curl.
func runToken(stdout io.Writer, configPath, userID, outputFmt string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	mgr, err := auth.NewManager(cfg.Auth.Secret, cfg.Auth.Issuer, time.Duration(cfg.Auth.TokenTTLSec)*time.Second)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	token, err := mgr.Sign(userID)
	if err != nil {
		return fmt.Errorf("sign token: %w", err)
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		return enc.Encode(map[string]any{
			"user_id":    userID,
			"token":      token,
			"expires_in": cfg.Auth.TokenTTLSec,
		})
	}
	fmt.Fprintln(stdout, token)
	return nil
}

// runServe handles the "taskmind serve" subcommand. It is the primary
// operating mode: loads config, opens the database, initializes the
// agent loop with the task tools and LLM providers, starts the API
// server, and blocks until a shutdown signal arrives.
//
// The shutdown sequence is:
//  1. SIGINT or SIGTERM cancels the context
//  2. The HTTP server drains in-flight requests
//  3. The database connection is closed via defer
func runServe(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting taskmind", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Reconfigure logger now that we know the desired level and format.
	// The initial Info-level text logger is used only for the startup
	// banner; everything after this point uses the configured settings.
	{
		level := slog.LevelInfo
		if cfg.LogLevel != "" {
			level, err = config.ParseLogLevel(cfg.LogLevel)
			if err != nil {
				return err
			}
		}
		logger = newLogger(stdout, level, cfg.LogFormat)
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"model", cfg.Models.Default,
	)

	// --- Data directory ---
	// All persistent state (conversations, messages, tasks) lives in a
	// single SQLite database under this directory.
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	// --- Stores ---
	// Conversations and tasks share one database file so a user's whole
	// state travels together (one file to back up, one WAL).
	dbPath := filepath.Join(cfg.DataDir, "taskmind.db")
	convStore, err := conversation.NewStore(dbPath)
	if err != nil {
		return fmt.Errorf("open database %s: %w", dbPath, err)
	}
	defer convStore.Close()

	taskStore, err := tasks.NewStoreWithDB(convStore.DB())
	if err != nil {
		return fmt.Errorf("create task store: %w", err)
	}
	logger.Info("database opened", "path", dbPath)

	// --- Tool registry ---
	registry, err := tools.NewRegistry(taskStore)
	if err != nil {
		return fmt.Errorf("create tool registry: %w", err)
	}

	// --- LLM client ---
	// Multi-provider client that routes each model name to its configured
	// provider. Unknown models fall back to the OpenAI-compatible provider.
	llmClient := createLLMClient(cfg, logger)

	// --- Agent loop ---
	// The core conversation engine. Receives messages, invokes task tools,
	// and produces the assistant reply.
	loop := agent.New(logger, llmClient, registry,
		agent.WithModel(cfg.Models.Default),
		agent.WithMaxIterations(cfg.Agent.MaxIterations),
	)

	// --- Auth ---
	authMgr, err := auth.NewManager(cfg.Auth.Secret, cfg.Auth.Issuer, time.Duration(cfg.Auth.TokenTTLSec)*time.Second)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	// --- API server ---
	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, loop, convStore, authMgr, logger)
	server.SetHistoryLimit(cfg.Agent.HistoryLimit)
	server.SetFetchLimit(cfg.Conversations.FetchLimit)

	// --- Signal handling and graceful shutdown ---
	// NotifyContext wraps the parent context so that SIGINT/SIGTERM
	// cancellation flows through the same ctx used by all components.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		_ = server.Shutdown(context.Background())
	}()

	// Start the API server. This blocks until the server is shut down
	// (via context cancellation or fatal error).
	if err := server.Start(ctx); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("taskmind stopped")
	return nil
}

// newLogger creates a structured logger that writes to w at the given level
// and format. Format must be "text" or "json"; any other value defaults to
// text. All log output in taskmind goes through slog; this helper
// standardizes the handler configuration across subcommands.
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

// loadConfig locates and parses the YAML configuration file. If explicit
// is non-empty, that exact path is used (and must exist). Otherwise,
// [config.FindConfig] searches the default locations. Returns the parsed
// config, the path that was loaded, and any error.
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

// createLLMClient builds a multi-provider LLM client from the
// configuration. Each model listed under models.providers is mapped to
// its provider ("openai" or "anthropic"). Unmapped models fall through
// to the OpenAI-compatible provider, which acts as the default backend
// and works with OpenRouter and other compatible gateways.
func createLLMClient(cfg *config.Config, logger *slog.Logger) llm.Client {
	timeout := time.Duration(cfg.Models.RequestTimeoutSec) * time.Second

	openaiClient := llm.NewOpenAIClient(cfg.OpenAI.BaseURL, cfg.OpenAI.APIKey, logger)
	openaiClient.SetTimeout(timeout)

	multi := llm.NewMultiClient(openaiClient)
	multi.AddProvider("openai", openaiClient)

	if cfg.Anthropic.APIKey != "" {
		anthropicClient := llm.NewAnthropicClient(cfg.Anthropic.APIKey, logger)
		anthropicClient.SetTimeout(timeout)
		multi.AddProvider("anthropic", anthropicClient)
		logger.Info("anthropic provider configured")
	}

	for model, provider := range cfg.Models.Providers {
		multi.AddModel(model, provider)
	}

	logger.Info("llm client initialized", "default_model", cfg.Models.Default, "base_url", cfg.OpenAI.BaseURL)
	return multi
}
