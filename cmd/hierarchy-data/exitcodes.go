package main

import (
	"errors"

	"github.com/iota-uz/orgtree/modules/hierarchy/services"
)

type cliError struct {
	code int
	err  error
}

func (e *cliError) Error() string {
	return e.err.Error()
}

func (e *cliError) Unwrap() error {
	return e.err
}

const (
	exitOK         = 0
	exitValidation = 2
	exitUsage      = 3
	exitDB         = 4
	exitDBWrite    = 5
	exitConflict   = 6
)

func withCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &cliError{code: code, err: err}
}

// withServiceCode picks the exit code from the kind of a service error.
// Store failures get fallback.
func withServiceCode(err error, fallback int) error {
	if err == nil {
		return nil
	}
	switch services.KindOf(err) {
	case services.KindConcurrentModification:
		return withCode(exitConflict, err)
	case services.KindInternal:
		return withCode(fallback, err)
	default:
		return withCode(exitValidation, err)
	}
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ce *cliError
	if errors.As(err, &ce) {
		return ce.code
	}
	return 1
}
