package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Streams are where the wrapped program's output is written
type Streams struct {
	Stdout io.Writer
	Stderr io.Writer
}

// StdStreams returns the process's own stdout and stderr
func StdStreams() Streams {
	return Streams{Stdout: os.Stdout, Stderr: os.Stderr}
}

// Result is the captured outcome of one execution
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Invoker runs a program, relaying its output live while capturing it
type Invoker interface {
	Invoke(ctx context.Context, program string, args []string, streams Streams) (*Result, error)
}

// ExecInvoker runs programs as child processes
type ExecInvoker struct {
	// Stdin is given to the child. Defaults to os.Stdin.
	Stdin io.Reader

	// WaitDelay bounds how long to wait for the child after ctx is done.
	WaitDelay time.Duration
}

// NewExecInvoker creates an invoker wired to the process's stdin
func NewExecInvoker() *ExecInvoker {
	return &ExecInvoker{Stdin: os.Stdin, WaitDelay: 5 * time.Second}
}

func (e *ExecInvoker) Invoke(ctx context.Context, program string, args []string, streams Streams) (*Result, error) {
	cmd := exec.CommandContext(ctx, program, args...)
	cmd.Stdin = e.Stdin
	if cmd.Stdin == nil {
		cmd.Stdin = os.Stdin
	}
	// Give the child a chance to exit cleanly when we are interrupted
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = e.WaitDelay

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("interrupted before starting %s: %w", program, ctxErr)
		}
		return nil, &InvocationError{Program: program, Err: err}
	}
	logrus.Debugf("Started %s (pid %d)", program, cmd.Process.Pid)

	var stdout, stderr bytes.Buffer
	var g errgroup.Group
	g.Go(func() error {
		_, err := io.Copy(&relay{live: streams.Stdout, capture: &stdout, name: "stdout"}, stdoutPipe)
		return err
	})
	g.Go(func() error {
		_, err := io.Copy(&relay{live: streams.Stderr, capture: &stderr, name: "stderr"}, stderrPipe)
		return err
	})

	// Pipes must be drained before Wait closes them
	copyErr := g.Wait()
	waitErr := cmd.Wait()

	exitCode, err := exitCodeOf(waitErr)
	if err != nil {
		return nil, fmt.Errorf("failed waiting for %s: %w", program, err)
	}
	if copyErr != nil && !errors.Is(copyErr, os.ErrClosed) {
		return nil, fmt.Errorf("failed reading output of %s: %w", program, copyErr)
	}

	return &Result{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		ExitCode: exitCode,
	}, nil
}

// exitCodeOf extracts the child's exit code from the error returned by Wait.
// Children killed by a signal report 128+signal, as shells do.
func exitCodeOf(waitErr error) (int, error) {
	if waitErr == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if !errors.As(waitErr, &exitErr) {
		return 0, waitErr
	}

	if code := exitErr.ExitCode(); code >= 0 {
		return code, nil
	}
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return 128 + int(status.Signal()), nil
	}
	return 1, nil
}

// relay copies into capture and, best effort, to live. A failing live writer
// (e.g. a closed pipe) must not stop the capture or block the child.
type relay struct {
	live    io.Writer
	capture *bytes.Buffer
	name    string
	broken  bool
}

func (r *relay) Write(p []byte) (int, error) {
	r.capture.Write(p)
	if r.live != nil && !r.broken {
		if _, err := r.live.Write(p); err != nil {
			logrus.Debugf("Stopped relaying %s: %v", r.name, err)
			r.broken = true
		}
	}
	return len(p), nil
}
