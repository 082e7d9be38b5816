package main

import (
	"errors"
	"fmt"
)

// configError marks a configuration failure:
// missing/unparseable host config, a missing zone row, or an absent layout
// descriptor. It is surfaced immediately and maps to exit code 2, distinct
// from the generic exit code 1 used for everything else (ShmInvalid,
// StaleMapping, watchdog expiry, detector failures).
type configError struct {
	err error
}

func (e *configError) Error() string {
	return e.err.Error()
}

func (e *configError) Unwrap() error {
	return e.err
}

func wrapConfigErrorf(format string, args ...any) error {
	return &configError{err: fmt.Errorf(format, args...)}
}

func wrapConfigError(err error) error {
	if err == nil {
		return nil
	}
	return &configError{err: err}
}

// exitCode maps a setup/run error to the process exit code: 0 success,
// 1 generic failure, 2 config error.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ce *configError
	if errors.As(err, &ce) {
		return 2
	}
	return 1
}
