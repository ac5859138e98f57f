package runtime

// Exit codes of the ingest and repair commands.
const (
	ExitCodeOK           = 0 // every type processed
	ExitCodeFailed       = 1 // a type failed; retry the batch
	ExitCodePrecondition = 2 // batch rejected before any write
	ExitCodeFatalVersion = 3 // an item carried the fatal version
)

// Outcome names the result of an invocation.
type Outcome string

// Outcome values.
const (
	OutcomeSuccess      Outcome = "success"
	OutcomeFailed       Outcome = "failed"
	OutcomePrecondition Outcome = "precondition_failed"
	OutcomeFatalVersion Outcome = "fatal_version"
	OutcomeCanceled     Outcome = "canceled"
)

// DetermineOutcome maps an invocation error to its outcome and exit code.
// Cancellation exits like a failed type: the batch must be retried.
func DetermineOutcome(err error) (Outcome, int) {
	if err == nil {
		return OutcomeSuccess, ExitCodeOK
	}
	switch kindOf(err) {
	case InvocationErrorPrecondition:
		return OutcomePrecondition, ExitCodePrecondition
	case InvocationErrorFatalVersion:
		return OutcomeFatalVersion, ExitCodeFatalVersion
	case InvocationErrorCanceled:
		return OutcomeCanceled, ExitCodeFailed
	default:
		return OutcomeFailed, ExitCodeFailed
	}
}
