package turbotask

import (
	"log/slog"
)

// TransitionLogger is the ambient observation hook for the engine,
// narrowed from the teacher's Extension/BaseExtension pattern down to the
// engine's own lifecycle events: start-exec, finish-exec, invalidate,
// activate, deactivate and promote, plus invariant violations.
type TransitionLogger interface {
	// Transition reports a task moving from one state to another because
	// of the named event.
	Transition(task TaskId, event string, from, to TaskState)
	// InvariantViolation reports a fail-stop condition immediately before
	// the engine panics.
	InvariantViolation(task TaskId, operation, detail string)
	// Promoted reports a completed root-promotion.
	Promoted(task TaskId, newRoot ScopeId, oldScopes int)
}

// SilentLogger discards every event. It is the default TransitionLogger so
// the engine stays quiet unless a caller attaches one, matching the
// teacher's NewSilentHandler default.
type SilentLogger struct{}

func (SilentLogger) Transition(TaskId, string, TaskState, TaskState) {}
func (SilentLogger) InvariantViolation(TaskId, string, string)       {}
func (SilentLogger) Promoted(TaskId, ScopeId, int)                  {}

// SlogLogger adapts a *slog.Logger to TransitionLogger, emitting structured
// attrs rather than formatted strings, matching the teacher's
// extensions/logging.go register.
type SlogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger wraps logger (or slog.Default() if nil) as a TransitionLogger.
func NewSlogLogger(logger *slog.Logger) *SlogLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogLogger{logger: logger}
}

func (l *SlogLogger) Transition(task TaskId, event string, from, to TaskState) {
	l.logger.Debug("task transition",
		"task", uint64(task),
		"event", event,
		"from", from.String(),
		"to", to.String(),
	)
}

func (l *SlogLogger) InvariantViolation(task TaskId, operation, detail string) {
	l.logger.Error("invariant violation",
		"task", uint64(task),
		"operation", operation,
		"detail", detail,
	)
}

func (l *SlogLogger) Promoted(task TaskId, newRoot ScopeId, oldScopes int) {
	l.logger.Info("task promoted to root scope",
		"task", uint64(task),
		"new_root", uint64(newRoot),
		"old_scopes", oldScopes,
	)
}
