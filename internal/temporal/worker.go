package temporal

import (
	"fmt"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

// StartWorker creates and starts a Temporal worker.
func StartWorker(c client.Client, taskQueue string) (worker.Worker, error) {
	w := worker.New(c, taskQueue, worker.Options{
		// Loads hold a sink connection and saturate the CPU; run one at a time.
		MaxConcurrentActivityExecutionSize: 1,
	})

	w.RegisterWorkflow(IngestWorkflow)
	w.RegisterActivity(LoadActivity)
	w.RegisterActivity(PrebuildCacheActivity)

	if err := w.Start(); err != nil {
		return nil, fmt.Errorf("starting worker: %w", err)
	}
	return w, nil
}
