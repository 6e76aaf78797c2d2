package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/session"
)

var decideCmd = &cobra.Command{
	Use:   "decide <thread-id> <approved|rejected>",
	Short: "Approve or reject the answer waiting on a thread",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := newClient().Decide(cmd.Context(), args[0], args[1])
		if err != nil {
			return fail(err, "decide")
		}
		if ws.AwaitingReview() {
			printMarkdown(cmd.OutOrStdout(), session.RenderReview(session.RewrittenHeader, ws.Answer(), ws.EvaluationReport))
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "thread %s %s\n", ws.ThreadID, ws.Status)
		return nil
	},
}

var stateCmd = &cobra.Command{
	Use:   "state <thread-id>",
	Short: "Print the checkpointed state of a thread",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := newClient().Thread(cmd.Context(), args[0])
		if err != nil {
			return fail(err, "state")
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(ws)
	},
}

var examplesCmd = &cobra.Command{
	Use:   "examples",
	Short: "List example questions",
	Run: func(cmd *cobra.Command, _ []string) {
		for i, q := range session.ExampleQuestions {
			fmt.Fprintf(cmd.OutOrStdout(), "%d. %s\n", i+1, q)
		}
	},
}
