package rules

import (
	"fmt"
	"strings"
)

// ValidationError names the offending rule index, mirroring the
// field-named ValidationError pattern used elsewhere in the corpus for
// configuration errors.
type ValidationError struct {
	Index   int // -1 when the error is not tied to a specific rule
	Message string
}

func (e *ValidationError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("rules: %s", e.Message)
	}
	return fmt.Sprintf("rules: entry %d: %s", e.Index, e.Message)
}

// ValidationErrors aggregates every ValidationError found while parsing a
// rule set, so a single bad config file reports all of its problems at once.
type ValidationErrors []*ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

func (e ValidationErrors) asError() error {
	if len(e) == 0 {
		return nil
	}
	return e
}
