package cli_test

import (
	"bytes"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gekkophp/gekko/internal/cli"

	"github.com/stretchr/testify/require"
)

// syncBuffer collects output written by gekko and the supervised child.
type syncBuffer struct {
	mx  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mx.Lock()
	defer b.mx.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mx.Lock()
	defer b.mx.Unlock()
	return b.buf.String()
}

func execute(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr syncBuffer
	code := cli.Execute(t.Context(), args, &stdout, &stderr, make(chan os.Signal))
	return code, stdout.String(), stderr.String()
}

func freePort(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	_, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	require.NoError(t, ln.Close())
	return port
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gekko.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestUnknownCommand(t *testing.T) {
	code, stdout, stderr := execute(t, "--config", writeConfig(t, ""), "x")
	require.Equal(t, 1, code)
	require.Empty(t, stdout)
	require.Contains(t, stderr, `unknown command "x"; available commands: nginx, php-cgi, php-server`)
	require.Equal(t, 1, strings.Count(strings.TrimSpace(stderr), "\n")+1)
}

func TestCommands(t *testing.T) {
	cfg := writeConfig(t, `
commands:
  - name: worker
    short: process the job queue
    path: php
    args: [bin/worker.php]
`)
	code, stdout, _ := execute(t, "--config", cfg, "commands")
	require.Equal(t, 0, code)
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 4)
	require.True(t, strings.HasPrefix(lines[0], "nginx"))
	require.Contains(t, lines[3], "worker")
	require.Contains(t, lines[3], "process the job queue")
}

func TestInvalidInvocation(t *testing.T) {
	cfg := writeConfig(t, "")

	testCases := []struct {
		scenario string
		args     []string
		stderr   string
	}{
		{
			scenario: "invalid port",
			args:     []string{"php-server", "--port", "99999"},
			stderr:   "invalid option --port=99999",
		},
		{
			scenario: "missing document root",
			args:     []string{"php-server", "--document-root", "/gekko/does/not/exist"},
			stderr:   "invalid option --document-root",
		},
		{
			scenario: "directive without value",
			args:     []string{"nginx", "--directive", "worker_processes"},
			stderr:   "invalid option --directive",
		},
		{
			scenario: "unknown flag",
			args:     []string{"php-cgi", "--upstream", "127.0.0.1:9000"},
			stderr:   "unknown flag: --upstream",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			args := append([]string{"--config", cfg}, tc.args...)
			code, _, stderr := execute(t, args...)
			require.Equal(t, 1, code)
			require.Contains(t, stderr, tc.stderr)
		})
	}
}

func TestBrokenConfig(t *testing.T) {
	code, _, stderr := execute(t, "--config", writeConfig(t, "log:\n  format: xml\n"), "commands")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "log.format")

	code, _, stderr = execute(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "commands")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "opening config file")
}

func TestVersion(t *testing.T) {
	code, stdout, _ := execute(t, "--config", writeConfig(t, ""), "version")
	require.Equal(t, 0, code)
	require.Contains(t, stdout, "go:")
}

// serve runs gekko until addr accepts connections, then interrupts it.
func serve(t *testing.T, addr string, args []string, whileRunning func()) (int, string) {
	t.Helper()
	signals := make(chan os.Signal, 1)
	var stderr syncBuffer
	done := make(chan int, 1)
	go func() {
		done <- cli.Execute(t.Context(), args, &syncBuffer{}, &stderr, signals)
	}()

	require.Eventually(t, func() bool {
		conn, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true
	}, 15*time.Second, 100*time.Millisecond, "gekko output: %s", stderr.String())

	whileRunning()
	signals <- os.Interrupt

	select {
	case code := <-done:
		return code, stderr.String()
	case <-time.After(30 * time.Second):
		t.Fatalf("gekko did not stop: %s", stderr.String())
		return -1, ""
	}
}

func TestPHPServer(t *testing.T) {
	if _, err := exec.LookPath("php"); err != nil {
		t.Skipf("php not found: %v", err)
	}
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.php"), []byte(`<?php echo "gekko";`), 0o644))

	port := freePort(t)
	addr := net.JoinHostPort("127.0.0.1", port)
	code, stderr := serve(t, addr, []string{
		"--config", writeConfig(t, ""),
		"php-server", "--host=127.0.0.1", "--port=" + port, "--document-root=" + root,
	}, func() {})
	require.Equal(t, 0, code, stderr)

	_, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
	require.Error(t, err)
}

func TestNginx(t *testing.T) {
	if _, err := exec.LookPath("nginx"); err != nil {
		t.Skipf("nginx not found: %v", err)
	}
	root := t.TempDir()
	confOut := filepath.Join(t.TempDir(), "t.conf")
	port := freePort(t)
	addr := net.JoinHostPort("127.0.0.1", port)

	code, stderr := serve(t, addr, []string{
		"--config", writeConfig(t, ""),
		"nginx", "--port=" + port, "--document-root=" + root,
		"--upstream=127.0.0.1:9000", "--config-out=" + confOut,
	}, func() {
		data, err := os.ReadFile(confOut)
		require.NoError(t, err)
		require.Contains(t, string(data), "server 127.0.0.1:9000;")
	})
	require.Equal(t, 0, code, stderr)
	require.NoFileExists(t, confOut)
}

func TestConfigDump(t *testing.T) {
	t.Setenv("GEKKO_GRACE_PERIOD", "2s")
	cfg := writeConfig(t, `
verbose: false
php:
  binary: /opt/php/bin/php
`)
	code, stdout, _ := execute(t, "--config", cfg, "config")
	require.Equal(t, 0, code)
	require.Contains(t, stdout, "binary: /opt/php/bin/php")
	require.Contains(t, stdout, "2s")
}

func TestReservedCommandName(t *testing.T) {
	cfg := writeConfig(t, `
commands:
  - name: version
    path: "true"
`)
	code, _, stderr := execute(t, "--config", cfg, "version")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, `"version"`)
}
