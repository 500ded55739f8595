package recon

import (
	"context"

	"golang.org/x/sync/errgroup"

	"reconagent/internal/logging"
)

// RunBatch runs tasks with at most concurrency in flight and returns their
// reports in input order. Tasks share the orchestrator's reflection memory.
// concurrency <= 0 uses the configured batch concurrency.
func (o *Orchestrator) RunBatch(ctx context.Context, tasks []Task, concurrency int) []*Report {
	if concurrency <= 0 {
		concurrency = o.cfg.Pipeline.BatchConcurrency
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	timer := logging.StartTimer(logging.CategoryOrchestrator, "batch")
	defer timer.StopWithInfo()
	logging.Orchestrator("batch of %d tasks, concurrency %d", len(tasks), concurrency)

	reports := make([]*Report, len(tasks))
	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, task := range tasks {
		g.Go(func() error {
			// Run always returns a report; cancellation ends each task in
			// its Report stage rather than failing the group.
			reports[i] = o.Run(ctx, task)
			return nil
		})
	}
	_ = g.Wait()

	ok := 0
	for _, r := range reports {
		if r.CompletionStatus == StatusSuccess {
			ok++
		}
	}
	logging.Orchestrator("batch finished: %d/%d succeeded", ok, len(tasks))
	return reports
}
