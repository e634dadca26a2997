package stepflow_test

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/aretw0/stepflow"
	"github.com/aretw0/stepflow/pkg/adapters/memory"
	"github.com/aretw0/stepflow/pkg/domain"
	"github.com/aretw0/stepflow/pkg/flow"
	"github.com/aretw0/stepflow/pkg/schema"
)

// ExampleNew walks a small custom flow from the first step to completion.
func ExampleNew() {
	def := &flow.Definition{
		Name: "survey",
		Steps: []domain.Step{
			{ID: "name", Required: true, Fields: schema.Schema{"first_name": schema.Text()}},
			{ID: "mood", Options: []string{"good", "bad"}, Required: true, AutoAdvance: true},
		},
		Completion: flow.Completion{Operation: "rpc_submit_survey"},
	}

	backend := memory.NewBackend()
	backend.Handle("rpc_submit_survey", func(_ context.Context, params map[string]any) (any, error) {
		return map[string]any{"thanks": params["first_name"]}, nil
	})

	ctrl, err := stepflow.New(def, backend)
	if err != nil {
		log.Fatal(err)
	}
	ctx := context.Background()
	if err := ctrl.Start(ctx); err != nil {
		log.Fatal(err)
	}

	var vErr *domain.ValidationError
	if err := ctrl.Advance(ctx); errors.As(err, &vErr) {
		fmt.Println("missing:", vErr.Fields)
	}

	_ = ctrl.RecordAnswer("name", map[string]any{"first_name": "Ada"})
	_ = ctrl.Advance(ctx)
	fmt.Println("now at:", ctrl.CurrentStep().ID)

	_ = ctrl.Choose(ctx, "mood", "good")
	result, err := ctrl.Complete(ctx)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(string(result))

	// Output:
	// missing: [first_name]
	// now at: mood
	// {"thanks":"Ada"}
}

// ExampleRestore resumes a flow from a snapshot.
func ExampleRestore() {
	ctx := context.Background()
	backend := memory.NewDefaultBackend()

	ctrl, _ := stepflow.New(flow.Session(), backend, stepflow.WithContext(map[string]any{"session_id": "s-1"}))
	_ = ctrl.Start(ctx)
	_ = ctrl.Advance(ctx)
	snapshot := ctrl.Snapshot()

	resumed, err := stepflow.Restore(flow.Session(), snapshot, backend)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(resumed.CurrentStep().ID)
	_ = resumed.Retreat(ctx)
	fmt.Println(resumed.CurrentStep().ID)

	// Output:
	// recall
	// preview
}
