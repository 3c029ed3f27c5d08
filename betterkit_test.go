package betterkit_test

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/betterkit/betterkit/internal/bus"
	"github.com/betterkit/betterkit/internal/jobs"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

var (
	betterkitPath string

	// tmpDir is a function used to create a tempdir
	// -test.keepdir flag says test to use os.MkdirTemp
	// default is t.TempDir, which will be cleaned up
	tmpDir func(t *testing.T) string
)

func TestMain(m *testing.M) {
	var keepTestDir bool
	flag.BoolVar(&keepTestDir, "test.keepdir", false, "use os.TempDir instead of t.TempDir to keep test artifacts")

	flag.Parse()

	if testing.Short() {
		slog.Warn("integration tests with -short are ignored")
		os.Exit(0)
	}

	if !keepTestDir {
		tmpDir = func(t *testing.T) string {
			t.Helper()
			return t.TempDir()
		}
	} else {
		tmpDir = func(t *testing.T) string {
			t.Helper()
			dir, err := os.MkdirTemp("", t.Name()+"*")
			require.NoError(t, err)
			_, err = fmt.Fprintf(t.Output(), "TEMPDIR %s: -test.keepdir used, so it won't be automatically deleted", dir)
			require.NoError(t, err)
			return dir
		}
	}

	if !isExecutable("betterkit-ci") {
		slog.Warn("integration tests skipped, cannot locate betterkit-ci binary: run go build -race -cover -covermode=atomic -o betterkit-ci ./cmd/betterkit/ first")
		os.Exit(0)
	}

	var err error
	betterkitPath, err = filepath.Abs("betterkit-ci")
	if err != nil {
		slog.Error("can't get abspath for betterkit-ci", "error", err)
		os.Exit(1)
	}
	coverDir, err := filepath.Abs("coverage")
	if err != nil {
		slog.Error("can't get value for GOCOVERDIR for betterkit-ci", "error", err)
		os.Exit(1)
	}
	err = rmRfMkdirp(coverDir)
	if err != nil {
		slog.Error("can't reset GOCOVERDIR for betterkit-ci", "error", err, "coverdir", coverDir)
		os.Exit(1)
	}

	err = os.Setenv("GOCOVERDIR", coverDir)
	if err != nil {
		slog.Error("can't set GOCOVERDIR env variable", "error", err)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

func TestDaemon(t *testing.T) {
	dir := tmpDir(t)
	address := privateBus(t)

	config := fmt.Sprintf(`
version: 0
bus:
    address: %q
launcher:
    path: ""
`, address)
	configFile := creat(t, dir, "betterkit.yaml", []byte(config))

	ctx, cancel := context.WithTimeout(t.Context(), 60*time.Second)
	t.Cleanup(cancel)
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, betterkitPath, "--config", configFile, "-vv")
	cmd.Stderr = &stderr
	require.NoError(t, cmd.Start())

	conn, err := bus.Connect(bus.Config{Address: address})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	client := bus.NewClient(conn, "")

	// the daemon answers NoSuchJob once it owns the name
	require.Eventually(t, func() bool {
		_, err := client.Get(ctx, 999)
		return errors.Is(err, jobs.ErrNotFound)
	}, 30*time.Second, 50*time.Millisecond)

	id, err := client.Run(ctx, []string{"echo", "hi"})
	require.NoError(t, err)
	require.Equal(t, uint64(0), id)
	reply, err := client.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "Succeeded", reply.Status)
	require.Equal(t, "hi\n", string(reply.Stdout))

	id, err = client.Run(ctx, []string{"/nonexistent-binary"})
	require.NoError(t, err)
	require.Equal(t, uint64(1), id)
	reply, err = client.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "Failed", reply.Status)

	require.NoError(t, cmd.Process.Signal(syscall.SIGTERM))
	err = cmd.Wait()
	if err != nil {
		t.Logf("%s", stderr.String())
		require.NoError(t, err)
	}
	require.Contains(t, stderr.String(), `"level":"TRACE"`)
	require.Contains(t, stderr.String(), `"job_id":1`)
}

func TestInvalidConfig(t *testing.T) {
	dir := tmpDir(t)
	configFile := creat(t, dir, "betterkit.yaml", []byte("version: 0\nlauncher:\n    timeout: 10s\n"))

	var stderr bytes.Buffer
	cmd := exec.CommandContext(t.Context(), betterkitPath, "--config", configFile)
	cmd.Stderr = &stderr
	err := cmd.Run()
	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	require.Equal(t, 1, exitErr.ExitCode())
	require.Contains(t, stderr.String(), "invalid config")
	require.Contains(t, stderr.String(), "launcher.timeout")
}

func TestConfigCommand(t *testing.T) {
	var stdout bytes.Buffer
	cmd := exec.CommandContext(t.Context(), betterkitPath, "config", "-u")
	cmd.Env = append(os.Environ(), "BETTERKIT_VERBOSE=1")
	cmd.Stdout = &stdout
	require.NoError(t, cmd.Run())

	var config struct {
		Bus struct {
			Kind string `yaml:"kind"`
			Name string `yaml:"name"`
		} `yaml:"bus"`
		Launcher struct {
			Path string `yaml:"path"`
		} `yaml:"launcher"`
	}
	require.NoError(t, yaml.Unmarshal(stdout.Bytes(), &config))
	require.Equal(t, "session", config.Bus.Kind)
	require.Equal(t, "org.betterkit", config.Bus.Name)
	require.Equal(t, "systemd-run", config.Launcher.Path)
}

func privateBus(t *testing.T) string {
	t.Helper()
	daemon, err := exec.LookPath("dbus-daemon")
	if err != nil {
		t.Skipf("skipped, binary dbus-daemon not available: %v", err)
	}

	cmd := exec.Command(daemon, "--session", "--nofork", "--nopidfile", "--print-address=1")
	stdout, err := cmd.StdoutPipe()
	require.NoError(t, err)
	require.NoError(t, cmd.Start())
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	})

	line, err := bufio.NewReader(stdout).ReadString('\n')
	if err != nil {
		t.Skipf("skipped, dbus-daemon did not print its address: %v", err)
	}
	return strings.TrimSpace(line)
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().Perm()&0111 != 0
}

func rmRfMkdirp(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return nil
}

func creat(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, f.Close())
	}()
	_, err = f.Write(content)
	require.NoError(t, err)
	err = f.Sync()
	require.NoError(t, err)
	return path
}
