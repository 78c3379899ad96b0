// Package cmd implements the splendid command line.
package cmd

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"splendid-controller/internal/config"
)

// rootOptions holds the persistent flags and the configuration they resolve to.
type rootOptions struct {
	configPath string
	mock       bool
	logLevel   string

	cfg *config.Config
}

// NewRootCommand builds the command tree.
func NewRootCommand(version string) *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "splendid",
		Version:       version,
		Short:         "Control the Splendid colour modes and dimming of an ASUS laptop panel",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "config.json", "path to the JSON configuration file")
	flags.BoolVar(&opts.mock, "mock", false, "use an in-memory display instead of the vendor service")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level (overrides the configuration)")

	root.AddCommand(
		newAgentCommand(opts),
		newStateCommand(opts),
		newModeCommand(opts),
		newDimmingCommand(opts),
		newEReadingCommand(opts),
		newSyncCommand(opts),
	)
	return root
}

func (o *rootOptions) load(cmd *cobra.Command) error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("mock") {
		cfg.Device.Mock = o.mock
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	log.SetLevel(level)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	o.cfg = cfg
	return nil
}

// Execute runs the command line and exits non-zero on error.
func Execute(version string) {
	if err := NewRootCommand(version).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
