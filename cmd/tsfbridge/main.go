// tsfbridge - text input protocol bridge tools
//
//	tsfbridge replay <script|dir>...   Replay input scenarios against the text store
//	tsfbridge compat                   Show the processor compatibility table
//	tsfbridge journal <action>         Inspect the session journal
//	tsfbridge config <action>          Show, check or create the configuration
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"tsfbridge/internal/config"
	"tsfbridge/internal/logging"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]

	switch cmd {
	case "replay":
		cmdReplay()
	case "compat":
		cmdCompat()
	case "journal":
		cmdJournal()
	case "config":
		cmdConfig()
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`tsfbridge - Text Input Protocol Bridge

USAGE:
    tsfbridge <command> [options]

COMMANDS:
    replay <script|dir>...   Replay YAML input scenarios and check expectations
    compat                   List processors with known quirks
    journal <action>         Inspect the session journal (list, show, prune)
    config <action>          Configuration (show, check, init, path)
    help                     Show this help message

COMMON OPTIONS:
    -config <file>           Configuration file (default: search . and the
                             user config directory)

PRIVACY NOTE:
    The journal stores keyed digests of committed text, never the text.
    Logs redact document text unless logging.log_text is set.`)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func configFlag(fs *flag.FlagSet) *string {
	return fs.String("config", "", "Configuration file")
}

// loadConfig loads the configuration through a loader so callers can watch
// it. Validation findings are printed before exiting.
func loadConfig(path string) (*config.Loader, *config.Config) {
	if path == "" {
		path = config.ConfigPath()
	}
	loader := config.NewLoader(path)
	cfg, err := loader.Load()
	if err != nil {
		var verrs config.ValidationErrors
		if errors.As(err, &verrs) {
			fmt.Fprintf(os.Stderr, "Invalid configuration %s:\n", path)
			printFindings(os.Stderr, verrs)
			os.Exit(1)
		}
		fatal("loading config: %v", err)
	}
	return loader, cfg
}

func setupLogging(cfg *config.Config, verbose bool) *logging.Logger {
	lc, err := cfg.Logging.LoggerConfig()
	if err != nil {
		fatal("logging config: %v", err)
	}
	if verbose {
		lc.Level = logging.LevelDebug
	}
	logger, err := logging.New(lc)
	if err != nil {
		fatal("logging: %v", err)
	}
	logging.SetDefault(logger)
	return logger
}
