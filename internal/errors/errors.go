// Package errors provides the error types shared across fixit. It defines
// sentinel errors for each subsystem, domain error types that carry the
// context a run needs to report a failure (issue, branch, model, command),
// semantic error types, and classification helpers used by the task queue
// and the pipeline to decide whether a failure is retried or reported on the
// originating issue.
//
// # Error Types
//
// Domain-specific errors:
//   - TrackerError: failures talking to the issue tracker (GitHub)
//   - GitError: failures from git operations (worktrees, branches, pushes)
//   - LLMError: failures from the task-parsing model provider
//   - AgentError: failures from the pair-programming CLI
//   - BudgetError: token or cost limits reached
//
// Semantic errors:
//   - NotFoundError, AlreadyExistsError, ValidationError, TimeoutError
//
// # Classification
//
//	if errors.IsRetryable(err) { requeue(job) }
//	if errors.IsUserFacing(err) { comment(issue, err.Error()) }
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions so callers only import this package.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarning
	SeverityError
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Tracker-related sentinel errors
var (
	// ErrIssueNotFound indicates that the issue does not exist in the repository.
	ErrIssueNotFound = New("issue not found")
	// ErrIssueClosed indicates that the issue was closed before the run started.
	ErrIssueClosed = New("issue is closed")
	// ErrRateLimited indicates the tracker API rejected the call because of rate limits.
	ErrRateLimited = New("rate limited")
	// ErrInvalidSignature indicates a webhook payload failed signature verification.
	ErrInvalidSignature = New("invalid webhook signature")
	// ErrUnsupportedEvent indicates a webhook event type fixit does not handle.
	ErrUnsupportedEvent = New("unsupported webhook event")
	// ErrMissingToken indicates no tracker token was configured.
	ErrMissingToken = New("GITHUB_TOKEN not set")
)

// Task-parsing sentinel errors
var (
	// ErrMissingAPIKey indicates that no model provider key was configured.
	ErrMissingAPIKey = New("API key not set")
	// ErrUnparsableResponse indicates the model answer held no usable JSON.
	ErrUnparsableResponse = New("model response could not be parsed")
	// ErrNoInstructions indicates the issue produced no actionable instructions.
	ErrNoInstructions = New("no instructions found in issue")
	// ErrUnknownProvider indicates an unsupported model provider name.
	ErrUnknownProvider = New("unknown llm provider")
)

// Agent-related sentinel errors
var (
	// ErrUnknownBackend indicates an unsupported pair-programming backend.
	ErrUnknownBackend = New("unknown agent backend")
	// ErrAgentFailed indicates the CLI exited unsuccessfully.
	ErrAgentFailed = New("agent run failed")
	// ErrNoChanges indicates the agent finished without producing commits.
	ErrNoChanges = New("agent produced no changes")
)

// Git-related sentinel errors
var (
	// ErrNotGitRepository indicates that the directory is not a git repository.
	ErrNotGitRepository = New("not a git repository")
	// ErrBranchExists indicates that a branch already exists.
	ErrBranchExists = New("branch already exists")
	// ErrPushRejected indicates the remote rejected a push.
	ErrPushRejected = New("push rejected")
)

// Budget sentinel errors
var (
	// ErrTokenLimit indicates a per-run token limit was reached.
	ErrTokenLimit = New("token limit reached")
	// ErrCostLimit indicates a per-run or daily cost limit was reached.
	ErrCostLimit = New("cost limit reached")
)

// Queue sentinel errors
var (
	// ErrJobNotFound indicates that a job id is unknown to the queue.
	ErrJobNotFound = New("job not found")
	// ErrQueueClosed indicates the queue no longer accepts or hands out jobs.
	ErrQueueClosed = New("queue closed")
	// ErrQueueFull indicates the queue reached its capacity.
	ErrQueueFull = New("queue full")
	// ErrAlreadyQueued indicates the queue already holds an unfinished job for the issue.
	ErrAlreadyQueued = New("issue already queued")
)

// General sentinel errors
var (
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrCanceled indicates that an operation was canceled.
	ErrCanceled = New("operation canceled")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// FixitError is implemented by every error type in this package.
type FixitError interface {
	error
	Unwrap() error
	Is(target error) bool
	Severity() Severity

	// IsRetryable returns true if the failure is transient and the run
	// may succeed when the job is attempted again.
	IsRetryable() bool

	// IsUserFacing returns true if the message may be posted on the issue.
	IsUserFacing() bool
}

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsRetryable returns whether the error is retryable.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

// IsUserFacing returns whether the error is safe to show users.
func (e *baseError) IsUserFacing() bool {
	return e.userFacing
}

func newBase(message string, cause error) baseError {
	return baseError{
		message:    message,
		cause:      cause,
		severity:   SeverityError,
		userFacing: true,
	}
}

// formatDomain renders "<kind> [k=v, ...]: message: cause".
func formatDomain(kind string, parts []string, message string, cause error) string {
	prefix := kind
	if len(parts) > 0 {
		prefix = fmt.Sprintf("%s [%s]", kind, strings.Join(parts, ", "))
	}
	if cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, message, cause)
	}
	return fmt.Sprintf("%s: %s", prefix, message)
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// TrackerError represents failures talking to the issue tracker.
//
// Example:
//
//	err := errors.NewTrackerError("create pull request", cause).
//		WithRepo("acme/api").WithIssue(42).WithStatus(502)
type TrackerError struct {
	baseError
	Repo       string
	Issue      int
	StatusCode int
}

// NewTrackerError creates a new TrackerError.
func NewTrackerError(message string, cause error) *TrackerError {
	return &TrackerError{baseError: newBase(message, cause)}
}

// WithRepo adds the owner/name repository to the error context.
func (e *TrackerError) WithRepo(repo string) *TrackerError {
	e.Repo = repo
	return e
}

// WithIssue adds the issue number to the error context.
func (e *TrackerError) WithIssue(number int) *TrackerError {
	e.Issue = number
	return e
}

// WithStatus records the HTTP status. Rate limits and server errors are retryable.
func (e *TrackerError) WithStatus(code int) *TrackerError {
	e.StatusCode = code
	if code == 429 || code >= 500 {
		e.retryable = true
	}
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *TrackerError) WithRetryable(r bool) *TrackerError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *TrackerError) Error() string {
	var parts []string
	if e.Repo != "" {
		parts = append(parts, fmt.Sprintf("repo=%s", e.Repo))
	}
	if e.Issue > 0 {
		parts = append(parts, fmt.Sprintf("issue=%d", e.Issue))
	}
	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	return formatDomain("tracker error", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *TrackerError) Is(target error) bool {
	if _, ok := target.(*TrackerError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// GitError represents errors related to git operations.
//
// Example:
//
//	err := errors.NewGitError("failed to create worktree", errors.ErrBranchExists)
//	err = err.WithBranch("fixit/42-crash").WithWorktree("/tmp/wt")
type GitError struct {
	baseError
	Branch     string
	Worktree   string
	Repository string
	GitOutput  string
}

// NewGitError creates a new GitError.
func NewGitError(message string, cause error) *GitError {
	return &GitError{baseError: newBase(message, cause)}
}

// WithBranch adds a branch name to the error context.
func (e *GitError) WithBranch(branch string) *GitError {
	e.Branch = branch
	return e
}

// WithWorktree adds a worktree path to the error context.
func (e *GitError) WithWorktree(path string) *GitError {
	e.Worktree = path
	return e
}

// WithRepository adds a repository path to the error context.
func (e *GitError) WithRepository(path string) *GitError {
	e.Repository = path
	return e
}

// WithGitOutput adds git command output to the error context.
func (e *GitError) WithGitOutput(output string) *GitError {
	e.GitOutput = output
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *GitError) WithRetryable(r bool) *GitError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *GitError) Error() string {
	var parts []string
	if e.Branch != "" {
		parts = append(parts, fmt.Sprintf("branch=%s", e.Branch))
	}
	if e.Worktree != "" {
		parts = append(parts, fmt.Sprintf("worktree=%s", e.Worktree))
	}
	if e.Repository != "" {
		parts = append(parts, fmt.Sprintf("repo=%s", e.Repository))
	}

	prefix := "git error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("git error [%s]", strings.Join(parts, ", "))
	}

	msg := e.message
	if e.cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.cause)
	}
	if e.GitOutput != "" {
		msg = fmt.Sprintf("%s\ngit output: %s", msg, e.GitOutput)
	}
	return fmt.Sprintf("%s: %s", prefix, msg)
}

// Is checks if this error matches the target.
func (e *GitError) Is(target error) bool {
	if _, ok := target.(*GitError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// LLMError represents failures from the task-parsing model provider.
type LLMError struct {
	baseError
	Provider   string
	Model      string
	StatusCode int
}

// NewLLMError creates a new LLMError.
func NewLLMError(message string, cause error) *LLMError {
	return &LLMError{baseError: newBase(message, cause)}
}

// WithProvider adds the provider name to the error context.
func (e *LLMError) WithProvider(provider string) *LLMError {
	e.Provider = provider
	return e
}

// WithModel adds the model name to the error context.
func (e *LLMError) WithModel(model string) *LLMError {
	e.Model = model
	return e
}

// WithStatus records the HTTP status. Rate limits and overloads are retryable.
func (e *LLMError) WithStatus(code int) *LLMError {
	e.StatusCode = code
	if code == 429 || code == 529 || code >= 500 {
		e.retryable = true
	}
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *LLMError) WithRetryable(r bool) *LLMError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *LLMError) Error() string {
	var parts []string
	if e.Provider != "" {
		parts = append(parts, fmt.Sprintf("provider=%s", e.Provider))
	}
	if e.Model != "" {
		parts = append(parts, fmt.Sprintf("model=%s", e.Model))
	}
	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	return formatDomain("llm error", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *LLMError) Is(target error) bool {
	if _, ok := target.(*LLMError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// AgentError represents failures from the pair-programming CLI.
type AgentError struct {
	baseError
	Backend  string
	ExitCode int
	Output   string // tail of the captured output
}

// NewAgentError creates a new AgentError.
func NewAgentError(message string, cause error) *AgentError {
	return &AgentError{baseError: newBase(message, cause), ExitCode: -1}
}

// WithBackend adds the backend name to the error context.
func (e *AgentError) WithBackend(name string) *AgentError {
	e.Backend = name
	return e
}

// WithExitCode adds the process exit code to the error context.
func (e *AgentError) WithExitCode(code int) *AgentError {
	e.ExitCode = code
	return e
}

// WithOutput adds the tail of the CLI output to the error context.
func (e *AgentError) WithOutput(output string) *AgentError {
	e.Output = output
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *AgentError) WithRetryable(r bool) *AgentError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *AgentError) Error() string {
	var parts []string
	if e.Backend != "" {
		parts = append(parts, fmt.Sprintf("backend=%s", e.Backend))
	}
	if e.ExitCode >= 0 {
		parts = append(parts, fmt.Sprintf("exit=%d", e.ExitCode))
	}
	msg := formatDomain("agent error", parts, e.message, e.cause)
	if e.Output != "" {
		msg = fmt.Sprintf("%s\noutput: %s", msg, e.Output)
	}
	return msg
}

// Is checks if this error matches the target.
func (e *AgentError) Is(target error) bool {
	if _, ok := target.(*AgentError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// BudgetError reports a token or cost limit that stopped a run.
//
// Example:
//
//	err := errors.NewBudgetError(errors.ErrCostLimit, "run", 5.12, 5.00)
//	fmt.Println(err) // "budget error [scope=run]: cost limit reached (5.12 of 5.00)"
type BudgetError struct {
	baseError
	Scope string
	Used  float64
	Limit float64
}

// NewBudgetError creates a new BudgetError.
func NewBudgetError(cause error, scope string, used, limit float64) *BudgetError {
	return &BudgetError{
		baseError: baseError{
			message:    "budget exceeded",
			cause:      cause,
			severity:   SeverityWarning,
			userFacing: true,
		},
		Scope: scope,
		Used:  used,
		Limit: limit,
	}
}

// Error returns the formatted error message.
func (e *BudgetError) Error() string {
	reason := e.message
	if e.cause != nil {
		reason = e.cause.Error()
	}
	used := fmt.Sprintf("%.2f of %.2f", e.Used, e.Limit)
	if Is(e.cause, ErrTokenLimit) {
		used = fmt.Sprintf("%.0f of %.0f", e.Used, e.Limit)
	}
	return fmt.Sprintf("budget error [scope=%s]: %s (%s)", e.Scope, reason, used)
}

// Is checks if this error matches the target.
func (e *BudgetError) Is(target error) bool {
	if _, ok := target.(*BudgetError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError represents a resource that could not be found.
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message:    fmt.Sprintf("%s '%s' not found", resourceType, resourceID),
			severity:   SeverityWarning,
			userFacing: true,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithCause adds a cause to the error.
func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *NotFoundError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s '%s' not found: %v", e.ResourceType, e.ResourceID, e.cause)
	}
	return fmt.Sprintf("%s '%s' not found", e.ResourceType, e.ResourceID)
}

// Is checks if this error matches the target.
func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// AlreadyExistsError represents a resource that already exists.
type AlreadyExistsError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewAlreadyExistsError creates a new AlreadyExistsError.
func NewAlreadyExistsError(resourceType, resourceID string) *AlreadyExistsError {
	return &AlreadyExistsError{
		baseError: baseError{
			message:    fmt.Sprintf("%s '%s' already exists", resourceType, resourceID),
			severity:   SeverityWarning,
			userFacing: true,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithCause adds a cause to the error.
func (e *AlreadyExistsError) WithCause(cause error) *AlreadyExistsError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *AlreadyExistsError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s '%s' already exists: %v", e.ResourceType, e.ResourceID, e.cause)
	}
	return fmt.Sprintf("%s '%s' already exists", e.ResourceType, e.ResourceID)
}

// Is checks if this error matches the target.
func (e *AlreadyExistsError) Is(target error) bool {
	if _, ok := target.(*AlreadyExistsError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ValidationError represents invalid input or state.
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:    message,
			severity:   SeverityWarning,
			userFacing: true,
		},
	}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// WithCause adds a cause to the error.
func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field=%s", e.Field))
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", e.Value))
	}
	return formatDomain("validation error", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	if errors.Is(target, ErrInvalidInput) {
		return true
	}
	return e.baseError.Is(target)
}

// TimeoutError represents an operation that timed out.
//
// Example:
//
//	err := errors.NewTimeoutError("aider run", 30*time.Minute)
//	fmt.Println(err) // "timeout error: aider run (timeout: 30m0s)"
type TimeoutError struct {
	baseError
	Operation string
	Duration  time.Duration
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		baseError: baseError{
			message:    operation,
			severity:   SeverityWarning,
			retryable:  true,
			userFacing: true,
		},
		Operation: operation,
		Duration:  duration,
	}
}

// WithCause adds a cause to the error.
func (e *TimeoutError) WithCause(cause error) *TimeoutError {
	e.cause = cause
	return e
}

// WithRetryable sets whether the error is retryable (default true for timeouts).
func (e *TimeoutError) WithRetryable(r bool) *TimeoutError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *TimeoutError) Error() string {
	base := fmt.Sprintf("timeout error: %s (timeout: %s)", e.Operation, e.Duration)
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", base, e.cause)
	}
	return base
}

// Is checks if this error matches the target.
func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	if errors.Is(target, ErrTimeout) {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error represents a transient condition.
// Errors implementing FixitError decide for themselves; otherwise only
// ErrTimeout and ErrRateLimited are treated as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var fixitErr FixitError
	if As(err, &fixitErr) {
		return fixitErr.IsRetryable()
	}

	return Is(err, ErrTimeout) || Is(err, ErrRateLimited)
}

// IsUserFacing returns true if the error message is safe to post on an issue.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}

	var fixitErr FixitError
	if As(err, &fixitErr) {
		return fixitErr.IsUserFacing()
	}
	return false
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement FixitError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	var fixitErr FixitError
	if As(err, &fixitErr) {
		return fixitErr.Severity()
	}
	return SeverityError
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
