// Package session holds the per-conversation state record of the case workflow.
//
// A State moves NoTask -> TaskLoaded -> Verified -> Resolved through named
// transitions (SetTask, MarkVerified, Resolve). Each transition checks its own
// invariant and returns ErrInvalidTransition when it does not hold. State is not
// safe for concurrent use; the dispatcher serializes access per session.
package session
