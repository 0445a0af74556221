package workflow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ternarybob/opsdeck/internal/models"
)

// ErrControllerClosed is returned by every action on a controller that was closed
var ErrControllerClosed = errors.New("workflow controller is closed")

// ValidationError blocks a user action because required input is missing or invalid.
// No side effects have happened when it is returned.
type ValidationError struct {
	Fields []string
	Err    error
}

func (e *ValidationError) Error() string {
	if len(e.Fields) > 0 {
		return fmt.Sprintf("validation failed: missing or invalid fields: %s", strings.Join(e.Fields, ", "))
	}
	return fmt.Sprintf("validation failed: %v", e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// newValidationError converts validator output into a ValidationError listing JSON field names
func newValidationError(err error) *ValidationError {
	verr := &ValidationError{Err: err}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		for _, fe := range fieldErrs {
			verr.Fields = append(verr.Fields, fe.Field())
		}
	}
	return verr
}

// ConnectionError blocks an action because the relay connection is not ready
type ConnectionError struct {
	Action string
	Status models.ConnectionStatus
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("cannot %s: relay connection is %s", e.Action, e.Status)
}

// OperationError reports a backend failure: a rejected job-start call or a job that finished unsuccessfully
type OperationError struct {
	Slot    models.Slot
	JobID   string
	Message string
	Err     error
}

func (e *OperationError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Slot))
	b.WriteString(" operation failed")
	if e.JobID != "" {
		b.WriteString(" (job ")
		b.WriteString(e.JobID)
		b.WriteString(")")
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// GuardError blocks a user action that the current phase or check summary does not allow
type GuardError struct {
	Action string
	Phase  models.Phase
	Reason string
}

func (e *GuardError) Error() string {
	return fmt.Sprintf("cannot %s in phase %s: %s", e.Action, e.Phase, e.Reason)
}
