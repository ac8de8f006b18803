package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"

	"github.com/hpungsan/quotedesk/internal/config"
	"github.com/hpungsan/quotedesk/internal/db"
	"github.com/hpungsan/quotedesk/internal/mcp"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"stage": true, "confirm": true, "db": true,
	"list": true, "show": true, "report": true,
	"mcp":  true,
	"help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false // No args → MCP server
	}
	arg := os.Args[1]
	if cliCommands[arg] {
		return true
	}
	if arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" {
		return true
	}
	// Global flags before the subcommand, e.g. --verbose stage
	return len(os.Args) > 2 && (arg == "--verbose" || arg == "-V") && cliCommands[os.Args[2]]
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
	color.New(color.FgCyan, color.Bold).Println(`
   __ _ _   _  ___ | |_ ___  __| | ___  ___| | __
  / _' | | | |/ _ \| __/ _ \/ _' |/ _ \/ __| |/ /
 | (_| | |_| | (_) | ||  __/ (_| |  __/\__ \   <
  \__, |\__,_|\___/ \__\___|\__,_|\___||___/_|\_\
     |_|`)
	fmt.Println(`
  Inquiry quoting desk

  Usage: quotedesk <command> [options]
         quotedesk --help

  MCP server mode requires piped input.`)
}

func fail(format string, args ...any) {
	color.New(color.FgRed).Fprintf(os.Stderr, "error: "+format+"\n", args...)
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
		app := newCLIApp(&deps{})
		if err := app.Run(os.Args); err != nil {
			fail("%v", err)
		}
		return
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		fail("could not determine home directory: %v", err)
	}
	baseDir := filepath.Join(homeDir, ".quotedesk")

	cwd, err := os.Getwd()
	if err != nil {
		fail("could not determine working directory: %v", err)
	}
	cfg, err := config.LoadWithRepo(baseDir, cwd)
	if err != nil {
		fail("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		fail("invalid config: %v", err)
	}
	if unknown := mcp.ValidateDisabledTools(cfg.DisabledTools); len(unknown) > 0 {
		color.New(color.FgYellow).Fprintf(os.Stderr, "warning: unknown disabled_tools: %v\n", unknown)
	}

	mail, err := config.LoadMailEnv(filepath.Join(baseDir, ".env"), ".env")
	if err != nil {
		fail("failed to read mail environment: %v", err)
	}

	database, err := db.Init(baseDir)
	if err != nil {
		fail("failed to initialize database: %v", err)
	}
	defer database.Close()
	db.ConfigurePool(database, cfg)

	d := &deps{db: database, cfg: cfg, mail: mail, baseDir: baseDir}

	// CLI mode: known subcommand
	if isCLIMode() {
		app := newCLIApp(d)
		if err := app.Run(os.Args); err != nil {
			database.Close()
			fail("%v", err)
		}
		return
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	if len(os.Args) >= 2 && isTerminal() {
		database.Close()
		fail("unknown command %q\nRun 'quotedesk --help' for usage.", os.Args[1])
	}

	// MCP server mode (default)
	if err := mcp.Run(database, cfg, Version); err != nil {
		database.Close()
		fail("%v", err)
	}
}
