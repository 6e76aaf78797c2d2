package commands

import (
	"context"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/config"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/server"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/session"
)

var localVerbose bool

var localCmd = &cobra.Command{
	Use:   "local [question]",
	Short: "Chat against an in-process pipeline instead of a server",
	Long: `Build the pipeline from the service configuration inside this process and
chat with it. Checkpoints go to the configured store, so threads started here
can be continued by a server sharing that store.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fail(err, "load config")
		}
		zc := zap.NewDevelopmentConfig()
		zc.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
		if localVerbose {
			zc.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		}
		logger, err := zc.Build()
		if err != nil {
			return fail(err, "logger")
		}
		defer logger.Sync()

		app, err := server.Build(cmd.Context(), cfg, logger)
		if err != nil {
			return fail(err, "build pipeline")
		}
		defer app.Close()

		send := func(ctx context.Context, thread, msg string) (*session.Reply, error) {
			return app.Sessions.StartOrContinue(ctx, thread, msg)
		}
		return chatLoop(cmd.Context(), send, strings.Join(args, " "), os.Stdin, cmd.OutOrStdout())
	},
}

func init() {
	localCmd.Flags().BoolVarP(&localVerbose, "verbose", "v", false, "log pipeline progress")
	localCmd.Flags().StringVar(&chatThread, "thread", "", "continue an existing thread")
	rootCmd.AddCommand(localCmd)
}
