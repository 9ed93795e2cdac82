package policy

import (
	"errors"
	"fmt"

	"github.com/jonwraymond/toolgate/auth"
)

var (
	// ErrInvalidDocument is returned by New for a document that cannot be
	// compiled. It is a configuration error.
	ErrInvalidDocument = fmt.Errorf("policy: invalid document: %w", auth.ErrConfiguration)

	// ErrPolicyEvaluation is returned when an evaluator cannot reach a
	// verdict. Callers must treat it as a denial.
	ErrPolicyEvaluation = errors.New("policy: evaluation failed")
)

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidDocument, fmt.Sprintf(format, args...))
}

func evaluationError(err error) error {
	return fmt.Errorf("%w: %w", ErrPolicyEvaluation, err)
}

var errNilInput = errors.New("nil input")
