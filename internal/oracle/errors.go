package oracle

import (
	"errors"
	"fmt"
	"strings"
)

// ErrAssertion marks a server behaviour that does not match the oracle.
var ErrAssertion = errors.New("assertion")

// AssertionError describes one failed expectation. Observed holds the raw
// lines seen while waiting, oldest first, capped at maxObserved.
type AssertionError struct {
	Scenario    string
	Step        int
	Expectation string
	Observed    []string
	Err         error
}

const maxObserved = 8

func (e *AssertionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: step %d: expected %s", e.Scenario, e.Step, e.Expectation)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if len(e.Observed) > 0 {
		fmt.Fprintf(&b, "; observed %q", e.Observed)
	}
	return b.String()
}

func (e *AssertionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrAssertion}
	}
	return []error{ErrAssertion, e.Err}
}

// observed keeps the most recent maxObserved lines.
type observed []string

func (o *observed) add(line string) {
	*o = append(*o, line)
	if len(*o) > maxObserved {
		*o = (*o)[len(*o)-maxObserved:]
	}
}
