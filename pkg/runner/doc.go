/*
Package runner executes compiled graphs as durable threads.

A thread advances node by node. After every node the merged state and the next node are written
to a CheckpointSaver, so a thread can always be picked up from its latest checkpoint: after a
suspension, after a crash, or from another process sharing the same backend.

	r := runner.New(g, saver, runner.WithLogger(logger))
	res, err := r.Start(ctx, "", map[string]any{"input": "hello"})
	if res.Suspended() {
		res, err = r.Resume(ctx, res.ThreadID, "my answer")
	}

Start and Resume are idempotent with respect to the stored history: calling Start on an existing
thread returns or continues what was stored, and replaying a Resume that was already recorded
continues the thread without injecting the value twice.
*/
package runner
