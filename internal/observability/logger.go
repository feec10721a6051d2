// Package observability holds the process-wide logging and telemetry
// handles. They are initialized once by the CLI layer and read by every
// other package; nil checks at the call sites keep tests runnable without
// initialization.
package observability

import (
	"fmt"
	"os"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/logging"
)

var (
	// CLILogger serves cobra commands with human-readable output.
	CLILogger *logging.Logger

	// ServerLogger serves the gateway with structured JSON output. Request
	// log lines carry a correlation id so traffic can be cross-referenced
	// with usage records and provider-side logs.
	ServerLogger *logging.Logger
)

// InitCLILogger sets up the command-line logger.
func InitCLILogger(serviceName string, verbose bool) {
	logger, err := logging.NewCLI(serviceName)
	if err != nil {
		fatalInit("Failed to initialize CLI logger", err)
	}
	if verbose {
		logger.SetLevel(logging.DEBUG)
	}
	CLILogger = logger
}

// InitServerLogger sets up the structured gateway logger at the given level.
func InitServerLogger(serviceName, logLevel string) {
	logger, err := logging.New(serverLoggerConfig(serviceName, logLevel))
	if err != nil {
		fatalInit("Failed to initialize server logger", err)
	}
	ServerLogger = logger
}

func serverLoggerConfig(serviceName, logLevel string) *logging.LoggerConfig {
	return &logging.LoggerConfig{
		Profile:      logging.ProfileStructured,
		DefaultLevel: normalizeLevel(logLevel),
		Service:      serviceName,
		Environment:  "production",
		Middleware: []logging.MiddlewareConfig{
			{
				Name:    "correlation",
				Enabled: true,
				Order:   100,
				Config:  make(map[string]any),
			},
		},
		Sinks: []logging.SinkConfig{
			{
				Type:   "console",
				Format: "json",
				Console: &logging.ConsoleSinkConfig{
					Stream:   "stderr",
					Colorize: false,
				},
			},
		},
		EnableCaller:     true,
		EnableStacktrace: true,
	}
}

func normalizeLevel(level string) string {
	switch strings.ToLower(level) {
	case "trace", "debug", "info", "error":
		return strings.ToUpper(level)
	case "warn", "warning":
		return "WARN"
	default:
		return "INFO"
	}
}

// fatalInit aborts before any logger exists. Config-invalid is the only
// failure mode here.
func fatalInit(msg string, err error) {
	fmt.Fprintf(os.Stderr, "FATAL: %s: %v\n", msg, err)
	if info, ok := foundry.GetExitCodeInfo(foundry.ExitConfigInvalid); ok {
		fmt.Fprintf(os.Stderr, "Exit Code: %d (%s) - %s\n", info.Code, info.Name, info.Description)
		os.Exit(info.Code)
	}
	os.Exit(int(foundry.ExitConfigInvalid))
}
