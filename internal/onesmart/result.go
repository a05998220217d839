package onesmart

import "fmt"

// ResultStatus distinguishes the outcomes of a command round trip.
type ResultStatus int

// Command outcomes.
const (
	// ResultOK means a response arrived without an error field.
	ResultOK ResultStatus = iota
	// ResultTimeout means no response arrived within the command timeout.
	ResultTimeout
	// ResultError means the gateway answered with an error field.
	ResultError
	// ResultFailed means the command could not be sent or the channel broke
	// while waiting.
	ResultFailed
)

// String returns a readable name for the status.
func (s ResultStatus) String() string {
	switch s {
	case ResultOK:
		return "ok"
	case ResultTimeout:
		return "timeout"
	case ResultError:
		return "error"
	case ResultFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is the outcome of CommandWait.
//
// Callers must check Status: a timeout means "not available this cycle",
// which is different from a gateway answer without data.
type Result struct {
	Status      ResultStatus
	Command     Command
	Transaction uint32
	Message     Message
	Err         error
}

// OK reports whether the command succeeded.
func (r Result) OK() bool { return r.Status == ResultOK }

// Value returns the response's result payload, or nil.
func (r Result) Value() any { return r.Message.Result }

// Field returns a top-level field of a mapping result.
func (r Result) Field(name string) (any, bool) {
	m, ok := r.Message.Result.(map[string]any)
	if !ok {
		return nil, false
	}
	v, ok := m[name]
	return v, ok
}

func resultFromMessage(cmd Command, id uint32, msg Message) Result {
	if msg.Failed() {
		return Result{
			Status:      ResultError,
			Command:     cmd,
			Transaction: id,
			Message:     msg,
			Err:         fmt.Errorf("%w: %s: %v", ErrGatewayError, cmd, msg.Error),
		}
	}
	return Result{Status: ResultOK, Command: cmd, Transaction: id, Message: msg}
}

func failedResult(cmd Command, err error) Result {
	return Result{Status: ResultFailed, Command: cmd, Err: err}
}
