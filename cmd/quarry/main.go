package main

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/hpungsan/quarry/internal/config"
	"github.com/hpungsan/quarry/internal/db"
	"github.com/hpungsan/quarry/internal/events"
	"github.com/hpungsan/quarry/internal/extract"
	"github.com/hpungsan/quarry/internal/logging"
	"github.com/hpungsan/quarry/internal/mcp"
	"github.com/hpungsan/quarry/internal/training"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"project": true, "source": true, "train": true, "status": true,
	"files": true, "reference": true, "serve": true,
	"help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	if cliCommands[arg] {
		return true
	}
	if arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" {
		return true
	}
	return false
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
   __ _ _  _ __ _ _ _ _ _ _  _
  / _' | || / _' | '_| '_| || |
  \__, |\_,_\__,_|_| |_|  \_, |
     |_|                  |__/

  Connect documentation sources and train them into a file store

  Usage: quarry <command> [options]
         quarry serve
         quarry --help

  MCP server mode requires piped input.`)
}

// newController builds the training controller shared by every surface of
// one process.
func newController(database *sql.DB, cfg *config.Config, bus *events.Bus, logger *zap.Logger) *training.Controller {
	registry := extract.NewRegistry(extract.OptionsFromConfig(cfg, logger))
	return training.NewController(database, registry, training.Options{
		Concurrency: cfg.TrainConcurrency,
		Bus:         bus,
		Logger:      logger,
	})
}

// warnUnknownNames logs disabled_tools / disabled_types entries that match nothing.
func warnUnknownNames(cfg *config.Config, logger *zap.Logger) {
	if unknown := mcp.ValidateDisabledTools(cfg.DisabledTools); len(unknown) > 0 {
		logger.Warn("unknown tools in disabled_tools", zap.Strings("tools", unknown))
	}
	if unknown := mcp.ValidateDisabledTypes(cfg.DisabledTypes); len(unknown) > 0 {
		logger.Warn("unknown types in disabled_types", zap.Strings("types", unknown))
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	// No args + interactive terminal → show banner and exit
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// Handle --help/--version before DB init (no DB needed)
	if isHelpOrVersion() {
		app := newCLIApp(nil, nil, nil)
		if err := app.Run(os.Args); err != nil {
			fatal("%v", err)
		}
		return
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		fatal("could not determine home directory: %v", err)
	}
	baseDir := filepath.Join(homeDir, ".quarry")

	cwd, err := os.Getwd()
	if err != nil {
		cwd = baseDir
	}
	cfg, err := config.LoadWithRepo(baseDir, cwd)
	if err != nil {
		fatal("failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, os.Getenv("QUARRY_DEV") != "")
	if err != nil {
		fatal("%v", err)
	}
	defer func() { _ = logger.Sync() }()

	database, err := db.Init(baseDir)
	if err != nil {
		fatal("failed to initialize database: %v", err)
	}
	defer database.Close()
	db.ConfigurePool(database, cfg)

	// CLI mode: known subcommand
	if isCLIMode() {
		app := newCLIApp(database, cfg, logger)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	if len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'quarry --help' for usage.\n")
		os.Exit(1)
	}

	warnUnknownNames(cfg, logger)
	controller := newController(database, cfg, events.NewBus(), logger)
	if err := mcp.Run(database, cfg, controller, Version, logger); err != nil {
		logger.Error("mcp server stopped", zap.Error(err))
		os.Exit(1)
	}
}
