package launcher_test

import (
	"context"
	"os/exec"
	"testing"

	"github.com/betterkit/betterkit/internal/launcher"

	"github.com/stretchr/testify/require"
)

func TestRun(t *testing.T) {
	t.Parallel()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}

	cmd := launcher.Command{
		Path: sh,
		Args: []string{"-c", "echo stdout; echo $BETTERKIT_TEST; exit 3"},
		Env:  []string{"BETTERKIT_TEST=env"},
	}
	res := launcher.Run(t.Context(), cmd, nil)
	require.NoError(t, res.StartErr)
	require.Error(t, res.Err)
	var exitErr *exec.ExitError
	require.ErrorAs(t, res.Err, &exitErr)
	require.True(t, res.Exited())
	require.Equal(t, 3, res.ExitCode())
	require.Equal(t, "stdout\nenv\n", res.Stdout.String())
	require.Empty(t, res.Stderr.String())
	require.NotZero(t, res.Started)
	require.False(t, res.Stopped.Before(res.Started))
}

func TestOutputEmpty(t *testing.T) {
	t.Parallel()
	tru, err := exec.LookPath("true")
	if err != nil {
		t.Skipf("skipped, binary true not available: %v", err)
	}

	res := launcher.Run(t.Context(), launcher.Command{Path: tru}, nil)
	require.True(t, res.Exited())
	stdout, stderr := res.Output()
	require.Nil(t, stdout)
	require.Nil(t, stderr)

	require.NotPanics(t, func() {
		stdout, stderr = launcher.Result{}.Output()
	})
	require.Nil(t, stdout)
	require.Nil(t, stderr)
}

func TestRunStartError(t *testing.T) {
	t.Parallel()
	var testCases = []struct {
		scenario string
		given    launcher.Command
	}{
		{"missing from PATH", launcher.Command{Path: "does not exist"}},
		{"missing absolute", launcher.Command{Path: "/nonexistent-binary"}},
		{"empty", launcher.Command{}},
	}

	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			res := launcher.Run(t.Context(), tc.given, nil)
			require.Error(t, res.StartErr)
			require.False(t, res.Exited())
			require.Equal(t, -1, res.ExitCode())
			require.Nil(t, res.State)
		})
	}

	t.Run("exec error", func(t *testing.T) {
		t.Parallel()
		res := launcher.Run(t.Context(), launcher.Command{Path: "does not exist"}, nil)
		var execErr *exec.Error
		require.ErrorAs(t, res.StartErr, &execErr)
		require.Equal(t, "does not exist", execErr.Name)
		require.EqualError(t, execErr.Err, "executable file not found in $PATH")
	})
}

func TestStderr(t *testing.T) {
	t.Parallel()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}

	cmd := launcher.Command{
		Path: sh,
		Args: []string{"-c", "echo stdout; printf 'stderr\\nstderr\\n' 1>&2"},
	}

	var stderr []string
	handle := func(_ context.Context, line string) {
		stderr = append(stderr, line)
	}

	res := launcher.Run(t.Context(), cmd, handle)
	require.NoError(t, res.StartErr)
	require.NoError(t, res.Err)
	require.True(t, res.Exited())
	require.Equal(t, 0, res.ExitCode())
	require.Equal(t, "stdout\n", res.Stdout.String())
	require.Equal(t, "stderr\nstderr\n", res.Stderr.String())
	require.Equal(t, []string{"stderr", "stderr"}, stderr)
}

func TestRunCanceled(t *testing.T) {
	t.Parallel()
	sleep, err := exec.LookPath("sleep")
	if err != nil {
		t.Skipf("skipped, binary sleep not available: %v", err)
	}

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	res := launcher.Run(ctx, launcher.Command{Path: sleep, Args: []string{"10"}}, nil)
	// exec refuses to start with an already canceled context
	require.ErrorIs(t, res.StartErr, context.Canceled)
}
