package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/danmuck/stompctl/internal/config"
	"github.com/danmuck/stompctl/internal/logging"
	"github.com/danmuck/stompctl/internal/observability"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type rootFlags struct {
	configPath string
	logLevel   string
	host       string
	port       int
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "stompctl: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	rootCmd := &cobra.Command{
		Use:   "stompctl",
		Short: "Minimal STOMP client: listen, send, inspect",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logging.ConfigureRuntime()
			if flags.logLevel != "" {
				level, ok := logging.ParseLevel(flags.logLevel)
				if !ok {
					return fmt.Errorf("unknown log level %q", flags.logLevel)
				}
				zerolog.SetGlobalLevel(level)
			}
			observability.InitLogger("stompctl")
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "path to a stompctl TOML config")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level override (trace|debug|info|warn|error)")
	pf.StringVar(&flags.host, "host", "", "broker host (overrides config)")
	pf.IntVar(&flags.port, "port", 0, "broker port (overrides config)")

	rootCmd.AddCommand(
		listenCmd(flags),
		sendCmd(flags),
		configCmd(),
		versionCmd(),
	)
	return rootCmd
}

// loadConfig resolves the config file (if any) and applies flag overrides.
func (f *rootFlags) loadConfig() (config.Config, error) {
	cfg := config.Default()
	if path := strings.TrimSpace(f.configPath); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}
	if f.host != "" {
		cfg.Endpoint.Host = f.host
	}
	if f.port != 0 {
		cfg.Endpoint.Port = f.port
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}
