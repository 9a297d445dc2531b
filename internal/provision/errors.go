package provision

import (
	"errors"
	"fmt"
)

// ErrProvisioning is matched by every *Error.
var ErrProvisioning = errors.New("tenant provisioning failed")

// Provisioning steps, in order.  The caller retries only the failed one.
const (
	StepCreate  = "create"
	StepMigrate = "migrate"
	StepSeed    = "seed"
)

// Error reports which step failed for which tenant.
type Error struct {
	Step string
	Slug string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provision %s: step %s: %v", e.Slug, e.Step, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrProvisioning }

func stepErr(step, slug string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Step: step, Slug: slug, Err: err}
}
