package compose

import (
	"errors"
	"fmt"
)

// ErrFixture marks failures of the harness to reach a baseline state. They
// are distinct from scenario assertion failures.
var ErrFixture = errors.New("fixture")

// ErrNoWelcome is the cause recorded when registration never produced 001.
var ErrNoWelcome = errors.New("no welcome reply within budget")

// Fixture steps.
const (
	StepConnect  = "connect"
	StepRegister = "register"
	StepWelcome  = "welcome"
	StepServer   = "server"
)

// FixtureError identifies which baseline step failed and for which nick.
type FixtureError struct {
	Step string
	Nick string
	Err  error
}

func (e *FixtureError) Error() string {
	if e.Nick == "" {
		return fmt.Sprintf("fixture %s: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("fixture %s (%s): %v", e.Step, e.Nick, e.Err)
}

func (e *FixtureError) Unwrap() []error { return []error{ErrFixture, e.Err} }
