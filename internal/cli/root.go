// Package cli implements the custodian command line: the API server, one-off
// compliance sweeps and schema migrations.
package cli

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/bigdegenenergy/open-cloud-ops/custodian/pkg/config"
)

// Version is the build version, overridden with -ldflags at release time.
var Version = "1.0.0"

var (
	configFile string
	settings   = config.NewViper()
)

var rootCommand = &cobra.Command{
	Use:   "custodian",
	Short: "Custodian: backup compliance and SLA monitor",
	Long: `Custodian checks backup jobs against the 3-2-1-1-0 rule, tracks
execution SLAs and summarizes backup health over time.

Settings are read from custodian.yaml, CUSTODIAN_* environment variables
and the flags below, in increasing order of precedence.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configFile != "" {
			settings.SetConfigFile(configFile)
		}
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCommand.Execute()
}

func init() {
	flags := rootCommand.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "Path to a custodian.yaml config file")
	flags.String("log-level", "info", "Logging level (debug, info, warn, error)")
	flags.String("log-format", "console", "Log output format (console, json)")
	flags.String("store", config.StorePostgres, "Persistence backend (postgres, memory)")
	flags.String("database-url", "", "PostgreSQL connection URL")

	// Flags that are not set fall back to the environment, the config file,
	// then the defaults from config.NewViper.
	_ = settings.BindPFlag("log_level", flags.Lookup("log-level"))
	_ = settings.BindPFlag("log_format", flags.Lookup("log-format"))
	_ = settings.BindPFlag("store", flags.Lookup("store"))
	_ = settings.BindPFlag("database_url", flags.Lookup("database-url"))

	rootCommand.AddCommand(versionCommand)
}

var versionCommand = &cobra.Command{
	Use:   "version",
	Short: "Print the custodian version",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Println("custodian " + Version)
	},
}

// loadConfig reads and validates the configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(settings)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}
