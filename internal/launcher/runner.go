package launcher

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"time"
)

var ErrEmptyCommand = errors.New("empty command")

// StderrFunc receives captured stderr line by line once the process ended.
type StderrFunc func(ctx context.Context, line string)

type Command struct {
	Path string
	Args []string
	Env  []string
	Unit string
}

type Result struct {
	Path    string
	Args    []string
	Unit    string
	Started time.Time
	Stopped time.Time
	State   *os.ProcessState
	Stdout  *bytes.Buffer
	Stderr  *bytes.Buffer
	// StartErr is set when the process could not be spawned at all.
	StartErr error
	// Err is the error returned from Wait; an *exec.ExitError when the
	// process ran and exited with a non-zero status or a signal.
	Err error
}

// Exited reports whether the process was started and terminated on its own
// terms, whatever its exit status.
func (r Result) Exited() bool {
	if r.StartErr != nil || r.State == nil {
		return false
	}
	if r.Err == nil {
		return true
	}
	var exitErr *exec.ExitError
	return errors.As(r.Err, &exitErr)
}

// Output returns the captured stdout and stderr, nil for an empty stream.
func (r Result) Output() (stdout, stderr []byte) {
	if r.Stdout != nil && r.Stdout.Len() > 0 {
		stdout = r.Stdout.Bytes()
	}
	if r.Stderr != nil && r.Stderr.Len() > 0 {
		stderr = r.Stderr.Bytes()
	}
	return stdout, stderr
}

// ExitCode returns the exit status or -1 if the process did not exit
// normally.
func (r Result) ExitCode() int {
	if r.State == nil {
		return -1
	}
	return r.State.ExitCode()
}

// Run starts the command and blocks until it terminates. There is no
// timeout, ctx cancellation kills the process.
func Run(ctx context.Context, proto Command, stderrFunc StderrFunc) Result {
	result := Result{
		Path:   proto.Path,
		Args:   append([]string(nil), proto.Args...),
		Unit:   proto.Unit,
		Stdout: &bytes.Buffer{},
		Stderr: &bytes.Buffer{},
	}

	if proto.Path == "" {
		now := time.Now().UTC()
		result.Started, result.Stopped = now, now
		result.StartErr = ErrEmptyCommand
		return result
	}

	cmd := exec.CommandContext(ctx, result.Path, result.Args...)
	if len(proto.Env) > 0 {
		cmd.Env = append(os.Environ(), proto.Env...)
	}
	cmd.Stdout = result.Stdout
	cmd.Stderr = result.Stderr

	result.Started = time.Now().UTC()
	if err := cmd.Start(); err != nil {
		result.Stopped = time.Now().UTC()
		result.StartErr = err
		return result
	}
	slog.DebugContext(ctx, "process started", "path", result.Path, "pid", cmd.Process.Pid)

	result.Err = cmd.Wait()
	result.Stopped = time.Now().UTC()
	result.State = cmd.ProcessState

	if stderrFunc != nil {
		processStderr(ctx, result.Stderr.Bytes(), stderrFunc)
	}
	return result
}

func processStderr(ctx context.Context, stderr []byte, stderrFunc StderrFunc) {
	scanner := bufio.NewScanner(bytes.NewReader(stderr))
	for scanner.Scan() {
		stderrFunc(ctx, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		slog.ErrorContext(ctx, "processing stderr", "error", err)
	}
}
