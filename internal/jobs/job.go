package jobs

import (
	"bytes"
	"fmt"
	"slices"
	"strings"
	"time"
)

type Status int

const (
	StatusNew Status = iota
	StatusRunning
	StatusSucceeded
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusNew:
		return "New"
	case StatusRunning:
		return "Running"
	case StatusSucceeded:
		return "Succeeded"
	case StatusFailed:
		return "Failed"
	default:
		return "Unknown(" + fmt.Sprint(int(s)) + ")"
	}
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// CanAdvance reports whether s -> to is a legal forward step:
// New -> Running -> {Succeeded, Failed}.
func (s Status) CanAdvance(to Status) bool {
	switch s {
	case StatusNew:
		return to == StatusRunning
	case StatusRunning:
		return to.Terminal()
	default:
		return false
	}
}

// Job is one requested unit of work. The Table owns every Job; callers
// only ever see copies returned by Table.Get.
type Job struct {
	ID       uint64
	Argv     []string
	Status   Status
	Stdout   []byte
	Stderr   []byte
	ExitCode int32
	Err      string
	Unit     string
	Created  time.Time
	Started  time.Time
	Finished time.Time
}

// Advance moves the job forward to the given status.
// Backward or skipping transitions return ErrInvalidTransition.
func (j *Job) Advance(to Status) error {
	if !j.Status.CanAdvance(to) {
		return fmt.Errorf("job %d: %s -> %s: %w", j.ID, j.Status, to, ErrInvalidTransition)
	}
	j.Status = to
	now := time.Now().UTC()
	switch {
	case to == StatusRunning:
		j.Started = now
	case to.Terminal():
		j.Finished = now
	}
	return nil
}

func (j Job) clone() Job {
	j.Argv = slices.Clone(j.Argv)
	j.Stdout = bytes.Clone(j.Stdout)
	j.Stderr = bytes.Clone(j.Stderr)
	return j
}

func (j Job) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "id: %d, status: %s, argv: %q", j.ID, j.Status, j.Argv)
	if j.Status.Terminal() {
		fmt.Fprintf(&sb, ", exit_code: %d, stdout: %d bytes, stderr: %d bytes", j.ExitCode, len(j.Stdout), len(j.Stderr))
	}
	if j.Err != "" {
		fmt.Fprintf(&sb, ", error: %q", j.Err)
	}
	return sb.String()
}
