// cmd/memgate is the entry point for the memgate MCP (Model Context Protocol)
// memory server.
//
// Startup sequence:
//  1. Resolve configuration (defaults, first-found config file, env overrides)
//     and fail fast on the first validation violation.
//  2. Build the Redis-backed store and the connection manager around it.
//  3. Create the MCP server on top of the memory facade.
//  4. Serve JSON-RPC 2.0 requests from stdin, writing responses to stdout.
//
// CRITICAL: ALL logging MUST go to stderr. Any bytes written to stdout that
// are not valid JSON-RPC 2.0 response frames will corrupt the protocol.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/memgate-io/memgate/internal/api/mcp"
	"github.com/memgate-io/memgate/internal/config"
	"github.com/memgate-io/memgate/internal/memory"
)

var version = "1.0.0"

var (
	cfgPath        string
	logLevelFlag   string
	createConfig   bool
	forceCreate    bool
	validatePath   string
	sampleConfigTo string
)

var rootCmd = &cobra.Command{
	Use:           "memgate",
	Short:         "MCP memory server backed by Redis",
	Long:          "memgate serves the Model Context Protocol over stdin/stdout,\nexposing add_memory, get_memory, and delete_memory tools backed by Redis.",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if createConfig {
			return runCreateConfig()
		}
		if validatePath != "" {
			return runValidateConfig()
		}
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file (default: search ./config.json, ./memgate.json, ~/.memgate/config.json, /etc/memgate/config.json)")
	rootCmd.Flags().StringVar(&logLevelFlag, "log-level", "", "override the resolved log level (DEBUG, INFO, WARNING, ERROR, CRITICAL)")
	rootCmd.Flags().BoolVar(&createConfig, "create-config", false, "write a sample config file and exit")
	rootCmd.Flags().StringVar(&sampleConfigTo, "output", "config.json", "destination for --create-config")
	rootCmd.Flags().BoolVar(&forceCreate, "force", false, "overwrite an existing file with --create-config")
	rootCmd.Flags().StringVar(&validatePath, "validate-config", "", "validate a config file, report every violation, and exit")
}

// runCreateConfig writes a fully populated sample configuration.
func runCreateConfig() error {
	if err := config.WriteSampleConfig(sampleConfigTo, forceCreate); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "wrote sample config to %s\n", sampleConfigTo)
	return nil
}

// runValidateConfig runs the collect-all validator so an operator sees every
// problem in one pass, unlike the fail-fast validation used at startup.
func runValidateConfig() error {
	report, err := config.ValidateFile(validatePath)
	if err != nil {
		return err
	}
	if !report.OK() {
		fmt.Fprint(os.Stderr, report.String())
		return fmt.Errorf("%s: %d validation error(s)", validatePath, len(report.Violations))
	}
	fmt.Fprintf(os.Stderr, "%s: configuration is valid\n", validatePath)
	return nil
}

// runServe resolves the configuration, wires the memory service, and serves
// MCP over stdio until the process is signalled or stdin closes. SIGHUP
// triggers a configuration reload; a rejected reload keeps the prior
// configuration active.
func runServe(ctx context.Context) error {
	resolveOpts := config.Options{Path: cfgPath}
	cfg, err := config.Resolve(resolveOpts)
	if err != nil {
		return err
	}

	applyLogLevel(cfg.Server.LogLevel)

	svc, err := memory.NewService(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			log.Warn("closing memory service", "err", err)
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		for sig := range sigCh {
			if sig == syscall.SIGHUP {
				log.Info("reload requested")
				if err := svc.Reload(resolveOpts); err != nil {
					log.Error("reload rejected, keeping previous configuration", "err", err)
				} else {
					applyLogLevel(svc.Config().Server.LogLevel)
				}
				continue
			}
			log.Info("received shutdown signal", "signal", sig.String())
			cancel()
			return
		}
	}()

	srv := mcp.NewServer(svc, mcp.WithServerInfo(cfg.Server.Name, cfg.Server.Version))
	transport := mcp.NewStdioTransport(srv, os.Stdin, os.Stdout)

	log.Info("ready, serving JSON-RPC 2.0 on stdin/stdout",
		"server", cfg.Server.Name,
		"redis_url", cfg.Redis.URL,
		"collection", cfg.Redis.CollectionName)

	if err := transport.Serve(ctx); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

// applyLogLevel maps the configured level names onto the logger. The
// --log-level flag wins over the resolved configuration.
func applyLogLevel(configured string) {
	level := configured
	if logLevelFlag != "" {
		level = logLevelFlag
	}
	log.SetLevel(parseLevel(level))
}

func parseLevel(level string) log.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return log.DebugLevel
	case "INFO":
		return log.InfoLevel
	case "WARNING":
		return log.WarnLevel
	case "ERROR":
		return log.ErrorLevel
	case "CRITICAL":
		return log.FatalLevel
	}
	return log.InfoLevel
}

func main() {
	// The default logger must target stderr so that incidental log calls
	// never pollute the stdout JSON-RPC stream.
	log.SetOutput(os.Stderr)
	log.SetPrefix("memgate")
	log.SetReportTimestamp(true)

	if err := rootCmd.Execute(); err != nil {
		log.Error("fatal", "err", err)
		os.Exit(1)
	}
}
