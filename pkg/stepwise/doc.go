// Package stepwise records browser interactions into replayable workflows.
//
// Quick start:
//
//	rec := stepwise.New(stepwise.WithWorkflowName("Checkout"))
//	defer rec.Close()
//
//	rec.Start(ctx)
//	rec.Record(ctx, tabID, &stepwise.ClickRecord{...})
//	rec.Stop(ctx)
//
//	wf := rec.Workflow()
//	fmt.Println(len(wf.Steps))
//
// A Recorder is safe for concurrent use. Convert turns already captured
// per-tab logs into a workflow without a recording session.
package stepwise
