// Package orchestrator drives tasks through the analysis and execution phases.
//
// A Loop owns one phase and handles one task at a time:
//   - Selection: the next eligible task by priority and dependencies, resuming
//     the loop's own interrupted work first
//   - Invocation: a registered process, a worker started with the phase
//     payload, heartbeats and activity recorded as the worker streams
//   - Recovery: rate limits are waited out and retried on the same task;
//     other failures are retried up to loop.max_attempts with the previous
//     error in the payload, then left or skipped per loop.failure_policy
//   - Control: pause and stop signals are honored between steps, and a stop
//     terminates the running worker
//
// Example usage:
//
//	loop, err := orchestrator.NewLoop(orchestrator.Options{
//		Phase:      orchestrator.PhaseAnalysis,
//		Mode:       orchestrator.ModeBatch,
//		Store:      store,
//		Supervisor: sup,
//		Worker:     agent.NewRunner(agent.RunnerOptions{}),
//		RepoPath:   repo,
//	})
//	summary, err := loop.Run(ctx)
package orchestrator
