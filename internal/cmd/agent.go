package cmd

import (
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"splendid-controller/internal/agent"
)

func newAgentCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "agent",
		Short: "Run the agent with its web UI, REST API, MQTT bridge, schedules and routines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			display, err := agent.OpenDisplay(opts.cfg.Device)
			if err != nil {
				return err
			}
			a, err := agent.NewAgent(opts.cfg, display)
			if err != nil {
				return err
			}

			go a.Run()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit

			log.Info("shutting down agent")
			if err := a.Shutdown(); err != nil {
				return err
			}
			log.Info("agent shut down gracefully")
			return nil
		},
	}
}
