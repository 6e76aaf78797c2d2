package temporal

import (
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/activities"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/workflows"
)

// NewWorker registers the legal QA workflow and its activities on taskQueue.
// The caller starts and stops it.
func NewWorker(c client.Client, taskQueue string, acts *activities.Activities, logger *zap.Logger) worker.Worker {
	w := worker.New(c, taskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize: 32,
	})
	w.RegisterWorkflow(workflows.LegalQAWorkflow)
	w.RegisterActivity(acts)
	logger.Info("Temporal worker configured", zap.String("task_queue", taskQueue))
	return w
}
