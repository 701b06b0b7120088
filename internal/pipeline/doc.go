// Package pipeline turns a queued issue into a pull request.
//
// [Fixer.Process] runs one job through a fixed sequence of stages: load the
// issue, look for an existing pull request, check the budget, prepare a
// worktree, parse the issue into instructions, run the coding agent, verify
// it produced commits, publish the pull request and comment on the issue.
// The run record in the store is updated after every stage so that the
// API and CLI can show where a run is.
//
// Token usage from the parse and patch stages is recorded through the
// usage ledger whether or not the stage succeeds.
//
// # Usage
//
//	f := pipeline.New(pipeline.Deps{
//	    Tracker:   client,
//	    Worktrees: wt,
//	    Parser:    parser,
//	    Agent:     runner,
//	    Runs:      repo,
//	    Ledger:    ledger,
//	    Budget:    monitor,
//	}, cfg)
//	run, err := f.Process(ctx, job)
package pipeline
