package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ghalamif/TensileFlow"
	"github.com/ghalamif/TensileFlow/internal/adapters/observability"
)

func main() {
	logger := observability.NewLogger(os.Getenv("TENSILE_LOG_LEVEL"), os.Stderr)
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	var err error
	switch cmd {
	case "run":
		err = runCommand(os.Args[2:])
	case "validate":
		err = validateCommand(os.Args[2:])
	case "stats":
		err = statsCommand(os.Args[2:])
	case "sessions":
		err = sessionsCommand(os.Args[2:])
	case "export":
		err = exportCommand(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		printUsage()
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil {
		logger.Fatal().Err(err).Str("command", cmd).Msg("tensile-bench failed")
	}
}

func runCommand(args []string) error {
	fs := newFlagSet("run")
	cfgPath := fs.String("config", "./data/config.yaml", "Path to bench configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	flow, err := tensileflow.Conf(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return flow.Run(ctx)
}

func validateCommand(args []string) error {
	fs := newFlagSet("validate")
	cfgPath := fs.String("config", "./data/config.yaml", "Path to configuration file to validate")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := tensileflow.LoadConfig(*cfgPath)
	if err != nil {
		return err
	}
	pairing := "unsynchronized"
	if cfg.Channels.Synchronized() {
		pairing = "synchronized"
	}
	fmt.Printf("config %s is valid: x=%s y=%s pairing=%s nodes=%d\n",
		*cfgPath, cfg.Channels.X, cfg.Channels.Y, pairing, len(cfg.OPCUA.Nodes))
	return nil
}

func printUsage() {
	fmt.Print(`tensile-bench

Usage:
  tensile-bench <command> [flags]

Commands:
  run        Start the bench runtime using the provided config
  validate   Load and validate a config file without starting the runtime
  stats      Poll the Prometheus metrics endpoint and print live counters
  sessions   List the sessions of a running bench
  export     Export a finished session of a running bench to CSV

Examples:
  tensile-bench run -config ./data/config.yaml
  tensile-bench validate -config ./data/config.yaml
  tensile-bench stats -url http://localhost:9100/metrics -interval 1s
  tensile-bench sessions -url ws://localhost:9100/ws
  tensile-bench export -url ws://localhost:9100/ws -session <uuid>
`)
}
