package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/lightkeeper/lightkeeper/internal/config"
	"github.com/lightkeeper/lightkeeper/internal/daemon"
	"github.com/lightkeeper/lightkeeper/internal/registry"
	"github.com/lightkeeper/lightkeeper/internal/types"
	"github.com/lightkeeper/lightkeeper/internal/version"
)

const defaultConfigPath = "/etc/lightkeeper/config.yaml"

func usage() {
	fmt.Fprintf(os.Stderr, `Lightkeeper %s

Usage: lightkeeper <command> [flags]

Commands:
  run        Run the daemon until interrupted
  validate   Load and validate the configuration, then exit
  watchers   List configured watchers
  trigger    Run one watcher's check immediately and print the outcome
  notify     Send a test notification through a configured notifier
  genkey     Generate a webhook API key
  version    Print version information

Run 'lightkeeper <command> -h' for command flags.
`, version.GetFullVersion())
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	// Credentials may live in a local .env during development; a
	// missing file is fine.
	_ = godotenv.Load()

	var err error
	switch os.Args[1] {
	case "run":
		err = cmdRun(os.Args[2:])
	case "validate":
		err = cmdValidate(os.Args[2:])
	case "watchers":
		err = cmdWatchers(os.Args[2:])
	case "trigger":
		err = cmdTrigger(os.Args[2:])
	case "notify":
		err = cmdNotify(os.Args[2:])
	case "genkey":
		err = cmdGenkey(os.Args[2:])
	case "version":
		fmt.Println(version.GetFullVersion())
	case "-h", "--help", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newLogger(level string) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
	return zerolog.New(os.Stdout).With().
		Timestamp().
		Str("version", version.GetVersion()).
		Logger()
}

func cmdRun(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to configuration file")
	logLevel := fs.String("log-level", "info", "Log level (debug, info, warn, error)")
	fs.Parse(args)

	logger := newLogger(*logLevel)
	logger.Info().Msg("Starting Lightkeeper")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("loading %s: %w", *configPath, err)
	}
	logger.Info().
		Int("watcher_count", len(cfg.Watchers)).
		Str("state_dir", cfg.StateDir).
		Msg("Configuration loaded")

	d, err := daemon.New(cfg, registry.New(), logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return d.Run(ctx)
}

func cmdValidate(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to configuration file")
	fs.Parse(args)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	// Build everything so plugin option errors surface too.
	logger := zerolog.New(os.Stderr).Level(zerolog.ErrorLevel)
	if _, err := daemon.New(cfg, registry.New(), logger); err != nil {
		return err
	}
	fmt.Printf("%s: OK (%d watchers, %d notifiers)\n", *configPath, len(cfg.Watchers), len(cfg.Notifiers))
	return nil
}

func cmdWatchers(args []string) error {
	fs := flag.NewFlagSet("watchers", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to configuration file")
	fs.Parse(args)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	for _, wc := range cfg.Watchers {
		fmt.Printf("%-24s observer=%s trigger=%s evaluator=%s notifiers=%s\n",
			wc.Name, wc.Observer.Type, wc.Trigger.Type, wc.Evaluator.Type,
			strings.Join(wc.Notifiers, ","))
	}
	return nil
}

func cmdTrigger(args []string) error {
	fs := flag.NewFlagSet("trigger", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to configuration file")
	logLevel := fs.String("log-level", "warn", "Log level (debug, info, warn, error)")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: lightkeeper trigger [flags] <watcher>")
	}
	name := fs.Arg(0)

	logger := newLogger(*logLevel)
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	d, err := daemon.New(cfg, registry.New(), logger)
	if err != nil {
		return err
	}
	coord, ok := d.Coordinator(name)
	if !ok {
		return fmt.Errorf("unknown watcher %q", name)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	decision, gate, err := coord.CheckOnce(ctx)
	if err != nil {
		return err
	}
	if !decision.ShouldAlert {
		fmt.Printf("%s: no alert\n", name)
		return nil
	}
	fmt.Printf("%s: alert [%s] %s (delivery: %s)\n", name, decision.Severity, decision.Message, gate.Reason)
	return nil
}

func cmdNotify(args []string) error {
	fs := flag.NewFlagSet("notify", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to configuration file")
	name := fs.String("notifier", "", "Notifier name from the configuration")
	title := fs.String("title", "Lightkeeper test", "Notification title")
	message := fs.String("message", "Test notification", "Notification message")
	severity := fs.String("severity", "medium", "Severity (low, medium, high, critical)")
	fs.Parse(args)
	if *name == "" {
		return fmt.Errorf("-notifier is required")
	}

	logger := newLogger("warn")
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	d, err := daemon.New(cfg, registry.New(), logger)
	if err != nil {
		return err
	}
	n, ok := d.Notifier(*name)
	if !ok {
		return fmt.Errorf("unknown notifier %q", *name)
	}

	sev, err := types.ParseSeverity(*severity)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := n.Send(ctx, *title, *message, sev); err != nil {
		return err
	}
	fmt.Printf("sent via %s\n", *name)
	return nil
}

func cmdGenkey(args []string) error {
	fs := flag.NewFlagSet("genkey", flag.ExitOnError)
	keyFile := fs.String("file", "", "Append the key to this file instead of printing only")
	fs.Parse(args)

	key := strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
	fmt.Println(key)
	if *keyFile == "" {
		return nil
	}
	f, err := os.OpenFile(*keyFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := fmt.Fprintln(f, key); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "appended to %s\n", *keyFile)
	return nil
}
