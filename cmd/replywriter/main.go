// Replywriter drafts professional email replies with Gemini.
//
// It exposes a small HTTP API for the browser frontend and a CLI for
// one-shot replies. Configuration is loaded from a single YAML file
// discovered automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	replywriter serve                      Start the API server
//	replywriter reply [-tone t] [file|-]   Draft a reply to an email body
//	replywriter reply -raw message.eml     Draft a reply to a raw RFC 5322 message
//	replywriter version                    Print version and build information
//	replywriter -o json version            Output version information as JSON
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
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/govi/replywriter/internal/api"
	"github.com/govi/replywriter/internal/buildinfo"
	"github.com/govi/replywriter/internal/config"
	"github.com/govi/replywriter/internal/email"
	"github.com/govi/replywriter/internal/gemini"
	"github.com/govi/replywriter/internal/reply"
	"github.com/govi/replywriter/internal/usage"
)

// shutdownTimeout bounds how long in-flight requests may drain.
const shutdownTimeout = 15 * time.Second

// main constructs the OS-level environment and delegates to [run], so
// the whole lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. ctx controls the process lifetime,
// stdin feeds "reply" when no file is given, and args is os.Args[1:].
//
// Arguments are parsed by hand. The flag package relies on
// package-level globals, which makes concurrent run calls from tests
// impossible.
func run(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
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
	case "reply":
		opts, err := parseReplyArgs(cmdArgs)
		if err != nil {
			return err
		}
		return runReply(ctx, stdin, stdout, stderr, configPath, outputFmt, opts)
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
	info := buildinfo.BuildInfo()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Replywriter - professional email replies with Gemini")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: replywriter [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve                         Start the API server")
	fmt.Fprintln(w, "  reply [-tone t] [-raw] [file] Draft a reply (reads stdin when file is omitted or -)")
	fmt.Fprintln(w, "  version                       Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/replywriter/config.yaml, /etc/replywriter/config.yaml")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "GEMINI_API_KEY overrides gemini.api_key from the config file.")
	return nil
}

// runServe handles "replywriter serve". It blocks until SIGINT or
// SIGTERM, then drains in-flight requests before closing the usage
// ledger.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := config.NewLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting replywriter", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "branch", buildinfo.GitBranch, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger = configuredLogger(stdout, cfg)

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"model", cfg.Gemini.Model,
		"usage", cfg.Usage.Enabled,
		"cors_origins", cfg.CORS.AllowedOrigins,
	)

	gen, store, err := newGenerator(cfg, logger)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, gen, logger)
	server.SetAllowedOrigins(cfg.CORS.AllowedOrigins)
	if store != nil {
		server.SetUsageReporter(store)
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	if err := server.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		cancel()
		<-shutdownDone
		return fmt.Errorf("server failed: %w", err)
	}
	<-shutdownDone

	logger.Info("replywriter stopped")
	return nil
}

// replyOptions are the arguments of "replywriter reply".
type replyOptions struct {
	tone string
	raw  bool
	path string // "" or "-" reads stdin
}

func parseReplyArgs(args []string) (replyOptions, error) {
	var opts replyOptions
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-tone" && i+1 < len(args):
			opts.tone = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-tone="):
			opts.tone = strings.TrimPrefix(args[i], "-tone=")
		case args[i] == "-raw":
			opts.raw = true
		case args[i] == "-" || !strings.HasPrefix(args[i], "-"):
			if opts.path != "" {
				return opts, fmt.Errorf("usage: replywriter reply [-tone t] [-raw] [file|-]")
			}
			opts.path = args[i]
		default:
			return opts, fmt.Errorf("unknown reply flag: %s", args[i])
		}
	}
	return opts, nil
}

// runReply handles "replywriter reply". Logs go to stderr so stdout
// carries only the reply.
func runReply(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, configPath, outputFmt string, opts replyOptions) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := configuredLogger(stderr, cfg)

	in := stdin
	if opts.path != "" && opts.path != "-" {
		f, err := os.Open(opts.path)
		if err != nil {
			return fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		in = f
	}

	var content string
	if opts.raw {
		msg, err := email.Parse(in, logger)
		if err != nil {
			return fmt.Errorf("parse message: %w", err)
		}
		content = msg.Content()
	} else {
		data, err := io.ReadAll(in)
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		content = string(data)
	}

	gen, store, err := newGenerator(cfg, logger)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	text, err := gen.Generate(reply.WithRequestID(ctx, "cli"), reply.EmailRequest{
		EmailContent: content,
		Tone:         opts.tone,
	})
	if err != nil {
		return err
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]string{
			"reply": text,
			"model": cfg.Gemini.Model,
		})
	}
	fmt.Fprintln(stdout, text)
	return nil
}

// newGenerator wires the Gemini client, the orchestrator, and the
// optional usage ledger. The returned store is nil when usage tracking
// is disabled; the caller owns closing it.
func newGenerator(cfg *config.Config, logger *slog.Logger) (*reply.Generator, *usage.Store, error) {
	if !cfg.Gemini.Configured() {
		return nil, nil, fmt.Errorf("gemini.api_key is not set (config file or GEMINI_API_KEY)")
	}

	client := gemini.NewClient(gemini.OptionsFromConfig(cfg.Gemini), logger)
	gen := reply.NewGenerator(client, client.Model(), logger)

	if !cfg.Usage.Enabled {
		return gen, nil, nil
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create data directory: %w", err)
	}
	store, err := usage.Open(filepath.Join(cfg.DataDir, "usage.db"))
	if err != nil {
		return nil, nil, err
	}
	gen.SetRecorder(store)
	logger.Info("usage ledger enabled", "path", filepath.Join(cfg.DataDir, "usage.db"))
	return gen, store, nil
}

// configuredLogger builds the logger for the configured level and
// format. The level was already validated by config.Validate.
func configuredLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	return config.NewLogger(w, level, cfg.LogFormat)
}

// loadConfig locates and parses the YAML configuration file. If explicit
// is non-empty, that exact path is used (and must exist).
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
