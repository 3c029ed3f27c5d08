// Package launcher executes an argument vector as an isolated unit.
//
// By default the vector is handed to systemd-run, which starts it as a
// transient unit and pipes its standard streams back. Isolation, privilege
// dropping and resource limits are entirely up to systemd-run and the
// wrapper arguments configured here; this package only builds the command
// line, runs it and captures what it printed.
//
// An empty wrapper path executes the vector directly, argv[0] being the
// program. This is meant for tests and for hosts without systemd.
package launcher

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultPath       = "systemd-run"
	DefaultUnitPrefix = "betterkit"
)

// DefaultArgs make systemd-run wait for the unit, forward its stdio and
// garbage collect it afterwards.
var DefaultArgs = []string{"--pipe", "--wait", "--quiet", "--collect"}

type Config struct {
	Path       string
	Args       []string
	User       bool
	UnitPrefix string
	Env        []string
}

// Request is one invocation handed to the launcher.
type Request struct {
	JobID uint64
	Argv  []string
}

type Launcher struct {
	cfg        Config
	stderrFunc StderrFunc
}

func New(cfg Config) *Launcher {
	if cfg.UnitPrefix == "" {
		cfg.UnitPrefix = DefaultUnitPrefix
	}
	return &Launcher{cfg: cfg}
}

// Direct returns a launcher which runs argv without any wrapper.
func Direct() *Launcher {
	return New(Config{})
}

// WithStderrFunc installs a per-line stderr callback.
func (l *Launcher) WithStderrFunc(fn StderrFunc) *Launcher {
	l.stderrFunc = fn
	return l
}

// WrapCommand turns argv into the command actually spawned.
func (l *Launcher) WrapCommand(id uint64, argv []string) Command {
	if l.cfg.Path == "" {
		if len(argv) == 0 {
			return Command{Env: l.cfg.Env}
		}
		return Command{
			Path: argv[0],
			Args: append([]string(nil), argv[1:]...),
			Env:  l.cfg.Env,
		}
	}

	unit := fmt.Sprintf("%s-%d-%s", l.cfg.UnitPrefix, id, uuid.NewString())
	args := make([]string, 0, len(l.cfg.Args)+len(argv)+3)
	args = append(args, l.cfg.Args...)
	if l.cfg.User {
		args = append(args, "--user")
	}
	args = append(args, "--unit="+unit)
	args = append(args, "--")
	args = append(args, argv...)

	return Command{
		Path: l.cfg.Path,
		Args: args,
		Env:  l.cfg.Env,
		Unit: unit,
	}
}

// Launch runs the request to completion.
//
// A wrapper reports a missing program only through its own exit status, so
// with a wrapper configured argv[0] is resolved here first. A vector which
// can't be resolved never reaches the wrapper and comes back as StartErr.
func (l *Launcher) Launch(ctx context.Context, req Request) Result {
	if l.cfg.Path != "" {
		if err := lookArgv(req.Argv); err != nil {
			now := time.Now().UTC()
			return Result{
				Path:     l.cfg.Path,
				Stdout:   &bytes.Buffer{},
				Stderr:   &bytes.Buffer{},
				Started:  now,
				Stopped:  now,
				StartErr: err,
			}
		}
	}
	cmd := l.WrapCommand(req.JobID, req.Argv)
	slog.DebugContext(ctx, "launching", "job_id", req.JobID, "path", cmd.Path, "args", cmd.Args, "unit", cmd.Unit)
	return Run(ctx, cmd, l.stderrFunc)
}

func lookArgv(argv []string) error {
	if len(argv) == 0 || argv[0] == "" {
		return ErrEmptyCommand
	}
	if _, err := exec.LookPath(argv[0]); err != nil {
		return fmt.Errorf("resolving %s: %w", argv[0], err)
	}
	return nil
}
