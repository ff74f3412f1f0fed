package main

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/agentworkforce/fieldsync/internal/background"
	"github.com/agentworkforce/fieldsync/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newAgentCommand(root *RootOptions) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Run sync intents registered in the spool directory",
		Long: `Run sync intents registered in the spool directory.

The agent outlives the serve process: a dispatch made just before serve
exits still drains. Run it under a service manager next to serve.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(root, appOptions{assumeOnline: true})
			if err != nil {
				return err
			}
			defer a.Close()
			if a.cfg.Background.SpoolDir == "" {
				return errors.New("background.spool_dir is required to run the agent")
			}

			agent, err := background.NewAgent(background.AgentOptions{
				Dir:    a.cfg.Background.SpoolDir,
				Drain:  drainFunc(a.engine),
				Logger: logging.Printf(a.logger, "agent"),
			})
			if err != nil {
				return err
			}
			if once {
				n := agent.RunPending(cmd.Context())
				a.logger.Info("processed sync intents", zap.Int("count", n))
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			a.logger.Info("sync agent watching spool", zap.String("dir", a.cfg.Background.SpoolDir))
			return agent.Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "process the intents already spooled and exit")
	return cmd
}
