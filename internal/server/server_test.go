//go:build unix

package server_test

import (
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/gekkophp/gekko/internal/model"
	"github.com/gekkophp/gekko/internal/registry"
	"github.com/gekkophp/gekko/internal/server"

	"github.com/stretchr/testify/require"
)

func freePort(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	_, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	require.NoError(t, ln.Close())
	return port
}

func newRegistry(t *testing.T, cfg model.Config) (*registry.Registry, chan os.Signal) {
	t.Helper()
	signals := make(chan os.Signal, 2)
	env := server.NewEnv(cfg)
	env.Signals = signals
	reg := registry.New()
	require.NoError(t, server.Register(reg, env))
	reg.Freeze()
	return reg, signals
}

func command(t *testing.T, reg *registry.Registry, name string) registry.Command {
	t.Helper()
	d, err := reg.Resolve(name)
	require.NoError(t, err)
	cmd, err := d.Factory()
	require.NoError(t, err)
	return cmd
}

func TestRegister(t *testing.T) {
	t.Parallel()

	reg, _ := newRegistry(t, model.Config{
		Commands: []model.CustomCommand{{Name: "queue", Path: "sleep", Args: []string{"1"}}},
	})
	require.Equal(t, []string{"nginx", "php-cgi", "php-server", "queue"}, reg.Names())

	env := server.NewEnv(model.Config{
		Commands: []model.CustomCommand{{Name: "nginx", Path: "true"}},
	})
	err := server.Register(registry.New(), env)
	var dup *model.DuplicateCommandError
	require.ErrorAs(t, err, &dup)
	require.Equal(t, "nginx", dup.Name)
}

func TestInvalidReadyAddress(t *testing.T) {
	t.Parallel()
	reg, _ := newRegistry(t, model.Config{
		Commands: []model.CustomCommand{{Name: "bad", Path: "true", Ready: "no-port"}},
	})
	d, err := reg.Resolve("bad")
	require.NoError(t, err)
	_, err = d.Factory()
	var invalid *model.InvalidOptionError
	require.ErrorAs(t, err, &invalid)
	require.Equal(t, "ready", invalid.Key)
}

func TestCustomCommand(t *testing.T) {
	t.Parallel()
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skipf("sleep not found: %v", err)
	}

	cfg := model.Config{
		Commands: []model.CustomCommand{
			{Name: "fail", Path: "sh", Args: []string{"-c", "exit 3"}},
			{Name: "long", Path: "sleep", Args: []string{"30"}},
			{Name: "crash-early", Path: "sh", Args: []string{"-c", "exit 7"}, Ready: "127.0.0.1:" + freePort(t)},
			{Name: "stubborn", Path: "sh", Args: []string{"-c", `trap "" TERM; while true; do sleep 1; done`}},
			{Name: "never-ready", Path: "sleep", Args: []string{"30"}, Ready: "127.0.0.1:" + freePort(t)},
		},
	}

	t.Run("exit code is forwarded", func(t *testing.T) {
		t.Parallel()
		reg, _ := newRegistry(t, cfg)
		code, err := command(t, reg, "fail").Run(t.Context(), registry.Options{})
		require.NoError(t, err)
		require.Equal(t, 3, code)
	})

	t.Run("interrupt stops gracefully", func(t *testing.T) {
		t.Parallel()
		reg, signals := newRegistry(t, cfg)
		go func() {
			time.Sleep(200 * time.Millisecond)
			signals <- os.Interrupt
		}()
		start := time.Now()
		code, err := command(t, reg, "long").Run(t.Context(), registry.Options{})
		require.NoError(t, err)
		require.Equal(t, 0, code)
		require.Less(t, time.Since(start), 10*time.Second)
	})

	t.Run("exited before ready", func(t *testing.T) {
		t.Parallel()
		reg, _ := newRegistry(t, cfg)
		code, err := command(t, reg, "crash-early").Run(t.Context(), registry.Options{})
		require.NoError(t, err)
		require.Equal(t, 7, code)
	})

	t.Run("second interrupt kills", func(t *testing.T) {
		t.Parallel()
		reg, signals := newRegistry(t, cfg)
		go func() {
			time.Sleep(200 * time.Millisecond)
			signals <- os.Interrupt
			time.Sleep(300 * time.Millisecond)
			signals <- os.Interrupt
		}()
		start := time.Now()
		code, err := command(t, reg, "stubborn").Run(t.Context(), registry.Options{
			Flags: map[string]string{"grace-period": "30s"},
		})
		require.NoError(t, err)
		require.Equal(t, 0, code)
		require.Less(t, time.Since(start), 10*time.Second)
	})

	t.Run("zero ready timeout", func(t *testing.T) {
		t.Parallel()
		reg, _ := newRegistry(t, cfg)
		code, err := command(t, reg, "never-ready").Run(t.Context(), registry.Options{
			Flags: map[string]string{"ready-timeout": "0"},
		})
		var invalid *model.InvalidOptionError
		require.ErrorAs(t, err, &invalid)
		require.Equal(t, "ready-timeout", invalid.Key)
		require.Equal(t, 1, code)
	})

	t.Run("readiness timeout", func(t *testing.T) {
		t.Parallel()
		reg, _ := newRegistry(t, cfg)
		code, err := command(t, reg, "never-ready").Run(t.Context(), registry.Options{
			Flags: map[string]string{"ready-timeout": "300ms", "grace-period": "1s"},
		})
		var timeout *model.ReadinessTimeoutError
		require.ErrorAs(t, err, &timeout)
		require.Equal(t, 300*time.Millisecond, timeout.Timeout)
		require.Equal(t, 1, code)
	})
}

func TestPHPServerAddressInUse(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	_, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)

	reg, _ := newRegistry(t, model.Config{})
	code, err := command(t, reg, "php-server").Run(t.Context(), registry.Options{
		Flags: map[string]string{
			"port":          port,
			"document-root": t.TempDir(),
			"binary":        filepath.Join(t.TempDir(), "missing-binary"),
		},
	})
	var inUse *model.AddressInUseError
	require.ErrorAs(t, err, &inUse)
	require.Equal(t, "127.0.0.1:"+port, inUse.Address)
	require.Equal(t, 1, code)
}

func TestSpawnError(t *testing.T) {
	t.Parallel()
	reg, _ := newRegistry(t, model.Config{})

	testCases := []struct {
		scenario string
		name     string
		flags    map[string]string
	}{
		{
			scenario: "php-server",
			name:     "php-server",
			flags:    map[string]string{"port": freePort(t), "document-root": t.TempDir()},
		},
		{
			scenario: "php-cgi",
			name:     "php-cgi",
			flags:    map[string]string{"port": freePort(t)},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			tc.flags["binary"] = filepath.Join(t.TempDir(), "missing-binary")
			code, err := command(t, reg, tc.name).Run(t.Context(), registry.Options{Flags: tc.flags})
			var spawn *model.SpawnError
			require.ErrorAs(t, err, &spawn)
			require.Equal(t, 1, code)
		})
	}
}

func TestInvalidOption(t *testing.T) {
	t.Parallel()
	reg, _ := newRegistry(t, model.Config{})
	code, err := command(t, reg, "php-server").Run(t.Context(), registry.Options{
		Flags: map[string]string{"port": "70000"},
	})
	var invalid *model.InvalidOptionError
	require.ErrorAs(t, err, &invalid)
	require.Equal(t, "port", invalid.Key)
	require.Equal(t, 1, code)
}

func TestPHPServer(t *testing.T) {
	t.Parallel()
	if _, err := exec.LookPath("php"); err != nil {
		t.Skipf("php not found: %v", err)
	}

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.php"), []byte(`<?php echo "gekko";`), 0o644))
	port := freePort(t)

	reg, signals := newRegistry(t, model.Config{})
	type result struct {
		code int
		err  error
	}
	done := make(chan result, 1)
	go func() {
		code, err := command(t, reg, "php-server").Run(t.Context(), registry.Options{
			Flags: map[string]string{"port": port, "document-root": root},
		})
		done <- result{code, err}
	}()

	addr := net.JoinHostPort("127.0.0.1", port)
	require.Eventually(t, func() bool {
		conn, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true
	}, 10*time.Second, 100*time.Millisecond)

	signals <- os.Interrupt
	res := <-done
	require.NoError(t, res.err)
	require.Equal(t, 0, res.code)

	_, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
	require.Error(t, err, "port "+strconv.Quote(port)+" still open")
}
