/*
Package stepflow is a controller for multi-step wizard flows such as onboarding and guided
revision sessions.

A flow is an ordered list of steps. The controller tracks the current step, the answers
recorded so far and the path the user took, so going back always returns to the step the
user actually came from, even when conditional steps were skipped on the way. Steps can be
required, can demand typed fields in a structured answer, can be skipped by a condition
over earlier answers, and can jump ahead through option shortcuts.

When every required step is answered the flow is completed with one call to a backend RPC.
Backend failures are reported as "message | details | hint" and leave the flow intact so
the user can retry.

# Concept

The controller owns no I/O. Hosts (the terminal runner, the HTTP API, the MCP server) take
snapshots, persist them through a ports.StateStore and send calls through a ports.Caller.
The session package hosts many instances at once and serializes access to each.

# Usage

	ctrl, err := stepflow.New(flow.Onboarding(), caller)
	if err != nil {
		log.Fatal(err)
	}
	ctx := context.Background()
	if err := ctrl.Start(ctx); err != nil {
		log.Fatal(err)
	}

	_ = ctrl.RecordAnswer("child", map[string]any{"first_name": "Ada", "year_group": 9})
	if err := ctrl.Advance(ctx); err != nil {
		var vErr *domain.ValidationError
		if errors.As(err, &vErr) {
			fmt.Println("missing:", vErr.Fields)
		}
	}

	// ... answer the remaining steps, then:
	result, err := ctrl.Complete(ctx)
*/
package stepflow
