// Package logging provides structured JSON logging for fixit.
//
// It wraps log/slog with persistent attributes so every line emitted while
// processing an issue carries the run ID, the issue number, and the pipeline
// stage. Logs go to stderr by default or to a file rotated by lumberjack.
//
//	logger, err := logging.New(logging.Options{Level: "INFO", File: "/var/log/fixit.log", MaxSizeMB: 50})
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	runLog := logger.WithRun(run.ID).WithIssue(42)
//	runLog.WithStage("parse").Info("plan extracted", "instructions", 3)
package logging
