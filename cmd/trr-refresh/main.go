package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/therealityreport/trr-app-sub006/internal/backend"
	"github.com/therealityreport/trr-app-sub006/internal/config"
	"github.com/therealityreport/trr-app-sub006/internal/logging"
	"github.com/therealityreport/trr-app-sub006/internal/runstore"
	"github.com/therealityreport/trr-app-sub006/internal/service"
)

// CLI flags parsed from command line.
type cliFlags struct {
	Config    string
	Backend   string
	Profile   string
	Target    string
	Serve     bool
	Listen    string
	ServeMCP  bool
	LogLevel  string
	LogFormat string
	Verbose   bool
	Plain     bool
	List      bool
	Version   bool
}

// version is set by goreleaser at build time.
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := run(ctx, os.Args[1:], os.Stdout)
	logging.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string, stderr io.Writer) (cliFlags, error) {
	var flags cliFlags

	fs := flag.NewFlagSet("trr-refresh", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&flags.Config, "config", ".", "config file, or directory holding refresh.yml / refresh.toml")
	fs.StringVar(&flags.Backend, "backend", "", "admin backend base URL (overrides config)")
	fs.StringVar(&flags.Profile, "profile", "", "refresh profile to run once")
	fs.StringVar(&flags.Target, "target", "", "show or person id the profile refreshes")
	fs.BoolVar(&flags.Serve, "serve", false, "serve the HTTP API")
	fs.StringVar(&flags.Listen, "listen", "", "HTTP listen address (overrides config)")
	fs.BoolVar(&flags.ServeMCP, "serve-mcp", false, "run as MCP server on stdio")
	fs.StringVar(&flags.LogLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	fs.StringVar(&flags.LogFormat, "log-format", "", "log format: console or json (overrides config)")
	fs.BoolVar(&flags.Verbose, "verbose", false, "shorthand for -log-level debug")
	fs.BoolVar(&flags.Plain, "plain", false, "disable terminal styling")
	fs.BoolVar(&flags.List, "list", false, "list refresh profiles and exit")
	fs.BoolVar(&flags.Version, "version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		return flags, err
	}
	if fs.NArg() > 0 {
		return flags, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	modes := 0
	for _, on := range []bool{flags.Serve, flags.ServeMCP, flags.Profile != ""} {
		if on {
			modes++
		}
	}
	if modes > 1 {
		return flags, errors.New("-serve, -serve-mcp and -profile are mutually exclusive")
	}
	if flags.Profile != "" && flags.Target == "" {
		return flags, errors.New("-profile requires -target")
	}
	return flags, nil
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	flags, err := parseFlags(args, os.Stderr)
	if err != nil {
		return err
	}

	if flags.Version {
		fmt.Fprintln(stdout, version)
		return nil
	}

	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}

	logger, err := logging.Init(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		return err
	}

	if flags.List {
		printProfiles(stdout, cfg)
		return nil
	}

	client := backend.New(cfg.BackendURL, cfg.RequestTimeout(), logger.Named("backend"))
	svc := service.New(service.Options{
		Profiles:    cfg.Profiles,
		Builder:     client,
		Store:       runstore.New(),
		Logger:      logger.Named("service"),
		MaxLogLines: cfg.MaxLogLines,
	})

	logger.Debug("main: configured",
		zap.String("backend", cfg.BackendURL),
		zap.Strings("profiles", cfg.ProfileNames()))

	switch {
	case flags.Serve:
		return serveHTTP(ctx, cfg, svc, logger)
	case flags.ServeMCP:
		return serveMCP(ctx, svc, logger)
	case flags.Profile != "":
		return runOnce(ctx, svc, flags, stdout)
	default:
		return errors.New("nothing to do: pass -profile and -target, -serve, -serve-mcp or -list")
	}
}

// loadConfig reads the config and applies flag overrides.
func loadConfig(flags cliFlags) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if info, statErr := os.Stat(flags.Config); statErr == nil && !info.IsDir() {
		cfg, err = config.LoadFile(flags.Config)
	} else {
		cfg, err = config.Load(flags.Config)
	}
	if err != nil {
		return nil, err
	}

	if flags.Backend != "" {
		cfg.BackendURL = flags.Backend
	}
	if flags.Listen != "" {
		cfg.Listen = flags.Listen
	}
	if flags.LogLevel != "" {
		cfg.LogLevel = flags.LogLevel
	}
	if flags.Verbose {
		cfg.LogLevel = "debug"
	}
	if flags.LogFormat != "" {
		cfg.LogFormat = flags.LogFormat
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func printProfiles(w io.Writer, cfg *config.Config) {
	for i, name := range cfg.ProfileNames() {
		if i > 0 {
			fmt.Fprintln(w)
		}
		p := cfg.Profiles[name]
		fmt.Fprintf(w, "Profile: %s", name)
		if p.Label != "" {
			fmt.Fprintf(w, " (%s)", p.Label)
		}
		fmt.Fprintln(w)
		for _, ph := range p.Phases {
			timeout := "none"
			if ph.TimeoutMs > 0 {
				timeout = ph.Timeout().String()
			}
			fmt.Fprintf(w, "  %-22s %-8s %s\n", ph.ID, timeout, ph.Path)
		}
	}
}
