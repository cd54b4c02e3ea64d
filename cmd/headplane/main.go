package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/lapnd/headplane/internal/config"
	"github.com/lapnd/headplane/internal/daemon"
)

// Version information (set via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// Global flags
var (
	configFile string
	logLevel   string
	logFormat  string
)

// Exit codes
const (
	ExitSuccess = 0
	ExitError   = 1
	ExitConfig  = 3
)

var rootCmd = &cobra.Command{
	Use:   "headplane",
	Short: "Headplane - Headscale admin login service",
	Long: `Headplane authenticates administrators against an OpenID Connect
identity provider (authorization code flow with PKCE) and mints a
Headscale API key for each successful login.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the login service",
	Long: `Start the HTTP service that handles OIDC login flows.

The service:
  - Redirects users to the identity provider with a PKCE challenge
  - Validates the provider's callback and exchanges the code for tokens
  - Mints a Headscale API key bound to the ID token's lifetime
  - Tracks browser sessions in memory`,
	RunE: runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Display version information",
	Long:  `Display version, commit hash, and build date.`,
	Run:   runVersion,
}

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate configuration file",
	Long: `Load and validate the configuration file without starting the service.

Checks for:
  - Valid YAML syntax
  - Required fields present
  - Valid URLs and paths

Exit codes:
  0 = Configuration is valid
  3 = Configuration error`,
	RunE: runCheckConfig,
}

// overrideExitCode is set by subcommands so main() can call os.Exit() after
// cobra finishes, letting deferred functions run. -1 means "use default".
var overrideExitCode = -1

func init() {
	// Global flags (available to all commands)
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "/etc/headplane/config.yaml",
		"Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level (debug, info, warn, error) - overrides config file")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "",
		"Log format (json, text) - overrides config file")

	// Add subcommands
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(checkConfigCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitError)
	}

	if overrideExitCode >= 0 {
		os.Exit(overrideExitCode)
	}
}

// runServe starts the login service
func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Override log settings from flags if provided
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}

	config.SetupLogging(&cfg.Log)

	slog.Info("starting headplane",
		"version", version,
		"commit", commit,
		"build_date", buildDate,
		"config", configFile,
	)

	d, err := daemon.New(cfg, version)
	if err != nil {
		slog.Error("failed to create daemon", "error", err)
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	return d.Run()
}

// runCheckConfig validates the configuration file
func runCheckConfig(cmd *cobra.Command, args []string) error {
	if _, err := config.Load(configFile); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration invalid: %v\n", err)
		overrideExitCode = ExitConfig
		return nil
	}

	fmt.Printf("Configuration valid: %s\n", configFile)
	return nil
}

// runVersion prints version information
func runVersion(cmd *cobra.Command, args []string) {
	fmt.Printf("headplane %s\n", version)
	fmt.Printf("  commit:     %s\n", commit)
	fmt.Printf("  build date: %s\n", buildDate)
	fmt.Printf("  go version: %s\n", runtime.Version())
	fmt.Printf("  platform:   %s/%s\n", runtime.GOOS, runtime.GOARCH)
}
