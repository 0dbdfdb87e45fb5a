// Command ironpostd is the ironpost daemon: it loads configuration,
// initialises logging, builds the module orchestrator and runs until
// SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/dongwonkwak/ironpost/engine"
	"github.com/dongwonkwak/ironpost/engine/config"
	"github.com/dongwonkwak/ironpost/engine/models"
	"github.com/dongwonkwak/ironpost/engine/telemetry/logging"
)

var version = "0.1.0"

func main() {
	var (
		configPath  string
		pidFile     string
		showVersion bool
	)
	flag.StringVar(&configPath, "config", "", "Path to the ironpost TOML configuration file")
	flag.StringVar(&pidFile, "pid-file", "", "Write the daemon pid to this path (overrides config)")
	flag.BoolVar(&showVersion, "version", false, "Show version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("ironpost %s\n", version)
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ironpost: invalid configuration: %v\n", err)
		exitForError(err)
	}
	if pidFile != "" {
		cfg.General.PidFile = pidFile
	}

	logger, err := logging.Setup(logging.Options{
		Level:  cfg.General.LogLevel,
		Format: cfg.General.LogFormat,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "ironpost: logging setup: %v\n", err)
		os.Exit(1)
	}

	orch, err := engine.New(cfg, logger)
	if err != nil {
		logger.Error("failed to build daemon", slog.String("error", err.Error()))
		exitForError(err)
	}

	if err := orch.Run(context.Background()); err != nil {
		logger.Error("daemon exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// exitForError maps the error taxonomy onto process exit codes.
func exitForError(err error) {
	if kind, ok := models.KindOf(err); ok && kind == models.ErrKindConfig {
		os.Exit(2)
	}
	os.Exit(1)
}
