package runner

import (
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
)

// Exit codes used when the wrapped program could not be started, as shells do
const (
	ExitNotExecutable = 126
	ExitNotFound      = 127
)

// InvocationError is returned when the wrapped program could not be started.
// No output exists for it, so it is never cached.
type InvocationError struct {
	Program string
	Err     error
}

func (e *InvocationError) Error() string {
	if e.NotFound() {
		return fmt.Sprintf("%s: command not found", e.Program)
	}
	return fmt.Sprintf("cannot execute %s: %v", e.Program, e.Err)
}

func (e *InvocationError) Unwrap() error {
	return e.Err
}

// NotFound reports whether the program does not exist
func (e *InvocationError) NotFound() bool {
	return errors.Is(e.Err, exec.ErrNotFound) || errors.Is(e.Err, fs.ErrNotExist)
}

// ExitCode maps the failure to a shell-style exit code
func (e *InvocationError) ExitCode() int {
	if e.NotFound() {
		return ExitNotFound
	}
	return ExitNotExecutable
}
