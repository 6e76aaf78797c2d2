package temporal

import (
	"fmt"

	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/workflows"
)

// ReplayHistoryFile replays an exported workflow history (temporal workflow show
// --output json) against the current workflow code. It fails on any
// non-deterministic change.
func ReplayHistoryFile(path string, logger *zap.Logger) error {
	replayer := worker.NewWorkflowReplayer()
	replayer.RegisterWorkflow(workflows.LegalQAWorkflow)
	if err := replayer.ReplayWorkflowHistoryFromJSONFile(NewZapAdapter(logger), path); err != nil {
		return fmt.Errorf("replay %s: %w", path, err)
	}
	return nil
}
