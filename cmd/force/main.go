// Command force serves a schema-validated component registry and execution
// runtime over MCP. It also ships maintenance subcommands for initializing,
// validating, and fixing a component tree without starting a server.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/Mindburn-Labs/force/core/pkg/config"
	"github.com/Mindburn-Labs/force/core/pkg/engine"
	"github.com/Mindburn-Labs/force/core/pkg/force"
	"github.com/Mindburn-Labs/force/core/pkg/mcp"
	"github.com/Mindburn-Labs/force/core/pkg/schema"
)

const version = "0.1.0"

// Exit codes.
const (
	exitOK            = 0
	exitError         = 1
	exitSchemaMissing = 2
	exitBlocked       = 3
	exitTransport     = 4
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return runServe(nil, stderr)
	}

	switch args[1] {
	case "serve", "server":
		return runServe(args[2:], stderr)
	case "init":
		return runInit(args[2:], stdout, stderr)
	case "validate":
		return runValidate(args[2:], stdout, stderr)
	case "fix":
		return runFix(args[2:], stdout, stderr)
	case "version", "--version":
		fmt.Fprintf(stdout, "force %s\n", version)
		return exitOK
	case "help", "--help", "-h":
		printUsage(stdout)
		return exitOK
	default:
		if args[1][0] == '-' {
			return runServe(args[1:], stderr)
		}
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return exitError
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: force <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve      Serve the component registry over MCP (default)")
	fmt.Fprintln(w, "  init       Initialize a component root with schemas and subtrees")
	fmt.Fprintln(w, "  validate   Load and validate components, print the report")
	fmt.Fprintln(w, "  fix        Run the auto-fixer over invalid component files")
	fmt.Fprintln(w, "  version    Show version information")
	fmt.Fprintln(w, "  help       Show this help")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Configuration comes from FORCE_* environment variables, optionally")
	fmt.Fprintln(w, "layered over the YAML file named by FORCE_CONFIG.")
}

// newLogger writes structured logs to stderr so the stdio transport keeps
// stdout clean for JSON-RPC.
func newLogger(stderr io.Writer, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
}

func exitCodeFor(err error) int {
	switch force.KindOf(err) {
	case force.KindSchemaMissing:
		return exitSchemaMissing
	case force.KindPreconditionFailed:
		return exitBlocked
	case force.KindTransportError:
		return exitTransport
	}
	return exitError
}

func runServe(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	root := fs.String("root", "", "component root directory (overrides FORCE_ROOT)")
	if err := fs.Parse(args); err != nil {
		return exitError
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "force: %v\n", err)
		return exitError
	}
	if *root != "" {
		cfg.Root = *root
	}

	logger := newLogger(stderr, cfg.Debug)
	slog.SetDefault(logger)

	eng, err := engine.New(cfg, logger)
	if err != nil {
		logger.Error("engine init failed", "error", err)
		return exitCodeFor(err)
	}
	defer eng.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := eng.Start(ctx); err != nil {
		logger.Error("startup gate failed", "error", err, "mode", cfg.Mode)
		return exitCodeFor(err)
	}

	if cfg.AutoReload {
		go func() {
			if err := eng.Watch(ctx); err != nil && ctx.Err() == nil {
				logger.Error("watcher stopped", "error", err)
			}
		}()
	}

	server := mcp.NewServer(eng, mcp.ServerInfo{Name: "force", Version: version}, logger)

	switch cfg.Transport {
	case config.TransportHTTP:
		return serveHTTP(ctx, cfg, server, logger)
	default:
		if err := server.Run(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
			logger.Error("stdio transport failed", "error", err)
			return exitTransport
		}
	}
	return exitOK
}

func serveHTTP(ctx context.Context, cfg config.Config, server *mcp.Server, logger *slog.Logger) int {
	httpServer := mcp.NewHTTPServer(server, "*", logger)
	addr := net.JoinHostPort(cfg.HTTP.Host, strconv.Itoa(cfg.HTTP.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("mcp http transport listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", "error", err)
		}
		return exitOK
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("http transport failed", "error", err)
			return exitTransport
		}
		return exitOK
	}
}

func runInit(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	fs.SetOutput(stderr)
	root := fs.String("root", ".force", "component root directory to create")
	extended := fs.Bool("extended", true, "also write the extended schema")
	if err := fs.Parse(args); err != nil {
		return exitError
	}

	for _, kind := range force.Kinds {
		dir := filepath.Join(*root, force.DirFor(kind))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fmt.Fprintf(stderr, "force init: %v\n", err)
			return exitError
		}
	}
	if err := schema.WriteDefaults(*root, *extended); err != nil {
		fmt.Fprintf(stderr, "force init: %v\n", err)
		return exitError
	}

	starter := filepath.Join(*root, "tools", "hello_world.json")
	if _, err := os.Stat(starter); os.IsNotExist(err) {
		if err := os.WriteFile(starter, []byte(starterTool), 0o644); err != nil {
			fmt.Fprintf(stderr, "force init: %v\n", err)
			return exitError
		}
	}

	fmt.Fprintf(stdout, "Initialized component root at %s\n", *root)
	return exitOK
}

const starterTool = `{
  "id": "hello_world",
  "name": "Hello World",
  "category": "testing",
  "description": "Starter tool that does nothing, safely.",
  "parameters": {
    "required": [],
    "optional": []
  },
  "execution": {
    "strategy": "sequential",
    "commands": [
      {
        "action": "noop",
        "description": "Prove the pipeline works end to end."
      }
    ]
  },
  "metadata": {
    "version": "1.0.0",
    "created": "2025-01-01T00:00:00Z",
    "updated": "2025-01-01T00:00:00Z"
  }
}
`

func runValidate(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	root := fs.String("root", "", "component root directory (overrides FORCE_ROOT)")
	jsonOut := fs.Bool("json", false, "print the full report as JSON")
	if err := fs.Parse(args); err != nil {
		return exitError
	}

	eng, cfg, code := buildEngine(*root, stderr)
	if eng == nil {
		return code
	}
	defer eng.Close()

	report, err := eng.Reload(context.Background())
	if err != nil {
		fmt.Fprintf(stderr, "force validate: %v\n", err)
		return exitCodeFor(err)
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(report, "", "  ")
		fmt.Fprintln(stdout, string(data))
	} else {
		total := 0
		for _, n := range report.Admitted {
			total += n
		}
		fmt.Fprintf(stdout, "schema: %s  mode: %s  admitted: %d  quarantined: %d\n",
			report.SchemaType, cfg.Mode, total, len(report.Quarantined))
		for _, q := range report.Quarantined {
			fmt.Fprintf(stdout, "  %s %s (%s)\n", q.Kind, q.ID, q.Path)
			for _, issue := range q.Issues {
				fmt.Fprintf(stdout, "    %s %s: %s\n", issue.Kind, issue.Path, issue.Message)
			}
		}
	}

	if report.State == engine.StateBlocked {
		return exitBlocked
	}
	if len(report.Quarantined) > 0 {
		return exitError
	}
	return exitOK
}

func runFix(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("fix", flag.ContinueOnError)
	fs.SetOutput(stderr)
	root := fs.String("root", "", "component root directory (overrides FORCE_ROOT)")
	dryRun := fs.Bool("dry-run", false, "report fixes without writing")
	if err := fs.Parse(args); err != nil {
		return exitError
	}

	eng, _, code := buildEngine(*root, stderr)
	if eng == nil {
		return code
	}
	defer eng.Close()

	report, err := eng.FixComponents(context.Background(), *dryRun)
	if err != nil {
		fmt.Fprintf(stderr, "force fix: %v\n", err)
		return exitCodeFor(err)
	}

	data, _ := json.MarshalIndent(report, "", "  ")
	fmt.Fprintln(stdout, string(data))
	if report.Failed > 0 {
		return exitError
	}
	return exitOK
}

// buildEngine loads configuration and constructs an engine for one-shot
// subcommands. On failure the engine is nil and the int is the exit code.
func buildEngine(root string, stderr io.Writer) (*engine.Engine, config.Config, int) {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "force: %v\n", err)
		return nil, cfg, exitError
	}
	if root != "" {
		cfg.Root = root
	}

	logger := newLogger(stderr, cfg.Debug)
	eng, err := engine.New(cfg, logger)
	if err != nil {
		fmt.Fprintf(stderr, "force: %v\n", err)
		return nil, cfg, exitCodeFor(err)
	}
	eng.Actions().Seal()
	return eng, cfg, exitOK
}
