// qna-agent is a question-answering service backed by a local
// knowledge base.
//
// It exposes an HTTP API for chat sessions: messages sent to a chat
// are answered by an LLM that searches the knowledge base through
// tool calls. Live updates flow to clients over SSE or WebSocket.
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	qna-agent serve              Start the API server
//	qna-agent ask <question>     Ask a single question (for testing)
//	qna-agent init               Write an example config to the current directory
//	qna-agent version            Print version and build information
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

	"github.com/nugget/qna-agent/examples"
	"github.com/nugget/qna-agent/internal/agent"
	"github.com/nugget/qna-agent/internal/api"
	"github.com/nugget/qna-agent/internal/buildinfo"
	"github.com/nugget/qna-agent/internal/config"
	"github.com/nugget/qna-agent/internal/hub"
	"github.com/nugget/qna-agent/internal/knowledge"
	"github.com/nugget/qna-agent/internal/llm"
	"github.com/nugget/qna-agent/internal/store"
	"github.com/nugget/qna-agent/internal/tools"
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

// run is the real entry point for the qna-agent command. All OS-level
// dependencies are injected as parameters so tests can drive the full
// lifecycle. Arguments are parsed by hand: the flag package relies on
// package-level globals, and our argument surface is small enough that
// manual parsing is clearer than bringing in a CLI framework.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
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
			return fmt.Errorf("usage: qna-agent ask <question>")
		}
		return runAsk(ctx, stdout, configPath, cmdArgs)
	case "init":
		return runInit(stdout)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runInit writes the embedded example config to ./config.yaml. It
// refuses to overwrite an existing file.
func runInit(w io.Writer) error {
	const path = "config.yaml"
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists, refusing to overwrite", path)
	}
	if err := os.WriteFile(path, examples.ConfigYAML, 0600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(w, "Wrote %s. Set your OpenAI API key and run: qna-agent serve\n", path)
	return nil
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.RuntimeInfo()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	// Print fields in a stable order for human readability.
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "qna-agent - Knowledge Base QnA Agent")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: qna-agent [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the API server")
	fmt.Fprintln(w, "  ask          Ask a single question (for testing)")
	fmt.Fprintln(w, "  init         Write an example config to the current directory")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/qna-agent/config.yaml, /etc/qna-agent/config.yaml")
	return nil
}

// buildAgent wires the store, knowledge base, LLM client, and tool
// registry into an agent service. Shared by serve and ask.
func buildAgent(cfg *config.Config, logger *slog.Logger) (*agent.Service, *store.Store, llm.Client, error) {
	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, nil, nil, fmt.Errorf("create data directory %s: %w", dir, err)
		}
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open database %s: %w", cfg.DatabasePath, err)
	}

	kb := knowledge.NewService(cfg.KnowledgeDir, logger)
	logger.Info("knowledge base loaded", "dir", cfg.KnowledgeDir, "documents", len(kb.ListDocuments()))

	client := llm.NewOpenAIClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Model, logger)

	reg := tools.NewRegistry()
	tools.RegisterSearch(reg, kb)

	retry := llm.RetryPolicy{
		MaxAttempts: cfg.Agent.MaxRetries,
		BaseDelay:   cfg.Agent.RetryBaseDelay,
	}

	svc := agent.New(logger, st, client, reg, retry, cfg.Agent.MaxIterations)
	return svc, st, client, nil
}

// runServe starts the API server and blocks until shutdown. The
// shutdown sequence is:
//  1. SIGINT or SIGTERM cancels the context
//  2. The HTTP server drains in-flight requests
//  3. The database connection is closed via defer
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting qna-agent", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}

	// Reconfigure the logger now that the desired level and format are
	// known. The initial Info-level text logger covers only the startup
	// banner and config errors.
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
		"model", cfg.OpenAI.Model,
		"knowledge_dir", cfg.KnowledgeDir,
	)

	svc, st, client, err := buildAgent(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	h := hub.New()
	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, st, svc, h, client, logger)

	// SIGINT/SIGTERM cancellation flows through the same ctx used by
	// all components.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		_ = server.Shutdown(context.Background())
	}()

	if err := server.Start(ctx); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("qna-agent stopped")
	return nil
}

// runAsk handles the "qna-agent ask <question>" subcommand. It creates
// a throwaway chat in the configured database, processes the single
// question through the full agent loop, and prints the answer.
func runAsk(ctx context.Context, stdout io.Writer, configPath string, args []string) error {
	logger := newLogger(stdout, slog.LevelWarn, "text")

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	svc, st, _, err := buildAgent(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	conv, err := st.CreateConversation(nil)
	if err != nil {
		return fmt.Errorf("create chat: %w", err)
	}

	question := strings.Join(args, " ")
	_, answer, err := svc.ProcessMessage(ctx, conv.ID, question)
	if err != nil {
		return fmt.Errorf("process question: %w", err)
	}

	if answer.Content != nil {
		fmt.Fprintln(stdout, *answer.Content)
	}
	return nil
}

// newLogger creates a structured logger that writes to w at the given
// level and format. Format must be "text" or "json"; any other value
// defaults to text.
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
