package main

import "github.com/kaelbrook/episodeid/pkg/errs"

// usageError wraps a flag-validation complaint as an InvalidInput error
// so it carries the same exit code (2) as a malformed configuration.
func usageError(message string) error {
	return errs.New(errs.InvalidInput, message)
}
