package dispatcher

import (
	"github.com/BaSui01/casegate/session"
	"github.com/BaSui01/casegate/types"
)

// Operation names a dispatcher operation.
type Operation string

const (
	OpLoadTask               Operation = "load_task"
	OpGetChallenge           Operation = "get_challenge"
	OpSubmitVerification     Operation = "submit_verification"
	OpRevealSensitiveDetails Operation = "reveal_sensitive_details"
	OpRecordResolution       Operation = "record_resolution"
)

// Mutating reports whether the operation may change session or repository state.
// Mutating operations are refused once a session is complete.
func (o Operation) Mutating() bool {
	switch o {
	case OpLoadTask, OpSubmitVerification, OpRecordResolution:
		return true
	}
	return false
}

// ResultStatus classifies a Result.
type ResultStatus string

const (
	// StatusOK means the operation's effect was applied.
	StatusOK ResultStatus = "ok"
	// StatusRefused means a precondition failed and nothing changed.
	StatusRefused ResultStatus = "refused"
	// StatusDegraded means the decision was applied in-session but could not be persisted.
	StatusDegraded ResultStatus = "degraded"
)

// Result is the typed outcome of every dispatcher operation.
// Normal control flow (not found, not verified, mismatch) is expressed here, never as a Go error.
type Result struct {
	Operation Operation         `json:"operation"`
	Status    ResultStatus      `json:"status"`
	Code      types.ErrorCode   `json:"code,omitempty"`
	Message   string            `json:"message"`
	Stage     session.Stage     `json:"stage"`
	Details   map[string]string `json:"details,omitempty"`

	cause error
}

// OK reports whether the effect was fully applied.
func (r Result) OK() bool { return r.Status == StatusOK }

// Refused reports whether a precondition failed.
func (r Result) Refused() bool { return r.Status == StatusRefused }

// Degraded reports whether the decision stands but persistence failed.
func (r Result) Degraded() bool { return r.Status == StatusDegraded }

// Err returns a *types.Error for refused and degraded results, nil otherwise.
func (r Result) Err() error {
	if r.Code == "" {
		return nil
	}
	return types.NewError(r.Code, r.Message).WithCause(r.cause)
}

func ok(message string) Result {
	return Result{Status: StatusOK, Message: message}
}

func refused(code types.ErrorCode, message string) Result {
	return Result{Status: StatusRefused, Code: code, Message: message}
}

func degraded(message string, cause error) Result {
	return Result{Status: StatusDegraded, Code: types.ErrPersistence, Message: message, cause: cause}
}

func (r Result) with(key, value string) Result {
	if r.Details == nil {
		r.Details = make(map[string]string, 2)
	}
	r.Details[key] = value
	return r
}
