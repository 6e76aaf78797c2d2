package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/temporal"
)

var replayCmd = &cobra.Command{
	Use:   "replay <history.json>...",
	Short: "Check workflow code against recorded Temporal histories",
	Long: `Replay exported workflow histories against the workflow compiled into this
binary. A failure means the workflow changed in a non-deterministic way and
running threads would break on upgrade.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := zap.NewDevelopment()
		if err != nil {
			return err
		}
		defer logger.Sync()
		for _, path := range args {
			if err := temporal.ReplayHistoryFile(path, logger); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "replay ok: %s\n", path)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(replayCmd)
}
