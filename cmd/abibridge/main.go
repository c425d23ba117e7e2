package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/woxQAQ/wasm-abi-bridge/internal/binding"
	"github.com/woxQAQ/wasm-abi-bridge/internal/config"
	"github.com/woxQAQ/wasm-abi-bridge/internal/wasm"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type options struct {
	configPath  string
	logLevel    string
	bindingDir  string
	bindingName string
	call        string
	list        bool
}

func main() {
	// Handle shutdown signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func parseFlags(args []string, stderr io.Writer) (*options, []string, error) {
	fs := pflag.NewFlagSet("abibridge", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: abibridge [flags] [--] [arg ...]")
		fmt.Fprintln(stderr, "Arguments are YAML literals, e.g. 7 or '{x: 1, y: 2}'. Prefix with & to read the value back after the call.")
		fs.PrintDefaults()
	}

	opts := &options{}
	fs.StringVar(&opts.configPath, "config", "", "Path to configuration file")
	fs.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides log_level")
	fs.StringVar(&opts.bindingDir, "binding", "", "Binding directory to load instead of binding_paths")
	fs.StringVar(&opts.bindingName, "name", "", "Binding to use when several are loaded")
	fs.StringVar(&opts.call, "call", "", "Symbol to invoke")
	fs.BoolVar(&opts.list, "list", false, "Print the binding's types and symbols")

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	return opts, fs.Args(), nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if level == "debug" {
		cfg = zap.NewDevelopmentConfig()
	}

	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	cfg.Level = lvl

	return cfg.Build()
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, rest, err := parseFlags(args, stderr)
	if err != nil {
		return 2
	}
	if opts.call == "" && !opts.list {
		fmt.Fprintln(stderr, "one of --call or --list is required")
		return 2
	}

	// Load configuration
	cfg, err := config.LoadBridgeConfig(opts.configPath)
	if err != nil {
		fmt.Fprintf(stderr, "failed to load configuration: %v\n", err)
		return 1
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}

	// Initialize logger
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(stderr, "invalid log level %q: %v\n", cfg.LogLevel, err)
		return 1
	}
	defer logger.Sync()

	logger.Info("Starting abibridge",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("date", date),
	)

	callArgs, err := parseArgs(rest)
	if err != nil {
		logger.Error("Invalid call arguments", zap.Error(err))
		return 2
	}

	runtime, err := wasm.NewRuntime(ctx, logger, cfg.RuntimeConfig())
	if err != nil {
		logger.Error("Failed to create Wasm runtime", zap.Error(err))
		return 1
	}

	manager := binding.NewManager(cfg, runtime, wasm.NewHostFunctions(logger), logger)
	defer func() {
		if err := manager.Shutdown(context.Background()); err != nil {
			logger.Warn("Shutdown failed", zap.Error(err))
		}
	}()

	b, err := selectBinding(ctx, manager, opts)
	if err != nil {
		logger.Error("Failed to load binding", zap.Error(err))
		return 1
	}

	session, err := manager.Open(ctx, b.Name())
	if err != nil {
		logger.Error("Failed to open binding", zap.Error(err))
		return 1
	}
	defer session.Close(context.Background())

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")

	if opts.list {
		if err := enc.Encode(bindingReport(b, session)); err != nil {
			logger.Error("Failed to write report", zap.Error(err))
			return 1
		}
	}
	if opts.call == "" {
		return 0
	}

	report := invoke(ctx, session, opts.call, callArgs)
	if err := enc.Encode(report); err != nil {
		logger.Error("Failed to write report", zap.Error(err))
		return 1
	}
	if report.Error != nil {
		return 1
	}
	return 0
}

// selectBinding loads --binding when given, otherwise every binding under
// binding_paths, and picks the one to call.
func selectBinding(ctx context.Context, manager *binding.Manager, opts *options) (*binding.Binding, error) {
	if opts.bindingDir != "" {
		return manager.Load(ctx, opts.bindingDir)
	}

	if err := manager.LoadAll(ctx); err != nil {
		return nil, err
	}
	if opts.bindingName != "" {
		return manager.GetBinding(opts.bindingName)
	}

	bindings := manager.Registry().List()
	switch len(bindings) {
	case 0:
		return nil, fmt.Errorf("no bindings loaded")
	case 1:
		return bindings[0], nil
	default:
		return nil, fmt.Errorf("%d bindings loaded; choose one with --name", len(bindings))
	}
}
