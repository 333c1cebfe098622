package domain

import "errors"

// ErrorKind is a stable category for programmatic error handling.
// Callers should branch on Kind rather than matching error strings.
type ErrorKind string

const (
	// KindConfiguration is fatal at process start (missing oracle credential).
	KindConfiguration ErrorKind = "configuration"
	// KindOracle covers transport failures, service errors and responses that
	// do not match the declared schema.
	KindOracle ErrorKind = "oracle"
	// KindNormalization is never returned by a stage; it is the Kind of
	// every recorded Warning.
	KindNormalization ErrorKind = "normalization"
)

// Error is the pipeline's structured error type. Use errors.As to extract it.
type Error struct {
	Kind    ErrorKind
	Stage   Stage
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return e.Message
	}
	return e.Message + ": " + e.Cause.Error()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// StageFailure wraps cause with the stage's message prefix.
func StageFailure(stage Stage, cause error) error {
	if cause == nil {
		return nil
	}
	var existing *Error
	if errors.As(cause, &existing) && existing.Stage == stage && existing.Kind == KindOracle {
		return cause
	}
	return &Error{Kind: KindOracle, Stage: stage, Message: FailurePrefix(stage), Cause: cause}
}

// FailurePrefix is the human-readable prefix used when a stage fails.
func FailurePrefix(stage Stage) string {
	switch stage {
	case StageScope:
		return "failed to generate scope"
	case StageProposal:
		return "failed to propose features"
	case StageAnalysis:
		return "failed to analyze scope"
	case StageTestPlan:
		return "failed to generate test plan"
	}
	return "stage " + string(stage) + " failed"
}

// ConfigurationError reports a fatal setup problem.
func ConfigurationError(msg string) error {
	return &Error{Kind: KindConfiguration, Message: msg}
}

// IsKind reports whether err carries a *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
