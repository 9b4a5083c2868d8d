package training

import (
	"errors"
	"strings"
)

var (
	ErrJobNotFound      = errors.New("training job not found")
	ErrJobImmutable     = errors.New("training job is in a terminal state")
	ErrDatasetNotFound  = errors.New("dataset not found")
	ErrDatasetForbidden = errors.New("dataset not owned by user")
)

// UnexpectedExitMessage is recorded when the worker disappears without
// reporting completion or an error of its own.
const UnexpectedExitMessage = "worker exited unexpectedly without reporting completion"

// ValidationError lists every rule a submission violated.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid training request: " + strings.Join(e.Problems, "; ")
}
