package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"sdqueue/internal/config"
	"sdqueue/internal/daemon"
	"sdqueue/internal/events"
	"sdqueue/internal/ipc"
	"sdqueue/internal/jobs"
	"sdqueue/internal/logging"
	"sdqueue/internal/registry"
	"sdqueue/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	homeDir := filepath.Join(testsupport.BaseDir(cfg), "home")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", homeDir)

	configPath := filepath.Join(homeDir, ".config", "sdqueue", "config.toml")
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	writeTestConfig(t, configPath, cfg)
	return &cliTestEnv{cfg: cfg, configPath: configPath}
}

// startDaemon runs an in-process daemon with its control socket, without
// the worker, so submitted jobs stay pending.
func (e *cliTestEnv) startDaemon(t *testing.T) *daemon.Daemon {
	t.Helper()
	hub := events.NewHub(128)
	d, err := daemon.New(e.cfg, daemon.Dependencies{
		Registry: registry.New(jobs.ModelSnapshot{Name: "sd-v1-5", Architecture: "sd1", Loaded: true}),
		Events:   hub,
		Hub:      hub,
		Logger:   logging.NewNop(),
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Open(context.Background()); err != nil {
		t.Fatalf("daemon.Open: %v", err)
	}
	srv, err := ipc.NewServer(context.Background(), e.cfg.SocketPath(), d, logging.NewNop())
	if err != nil {
		_ = d.Close()
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping IPC test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(func() {
		srv.Close()
		_ = d.Close()
	})
	return d
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	content := fmt.Sprintf(
		"[paths]\nstate_dir = %q\noutput_dir = %q\nmodels_dir = %q\nlog_dir = %q\n",
		cfg.Paths.StateDir,
		cfg.Paths.OutputDir,
		cfg.Paths.ModelsDir,
		cfg.Paths.LogDir,
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

// queuedID extracts the job id from a "Queued <kind> job <id>" line.
func queuedID(t *testing.T, output string) string {
	t.Helper()
	fields := strings.Fields(strings.TrimSpace(output))
	if len(fields) == 0 {
		t.Fatalf("no job id in %q", output)
	}
	return fields[len(fields)-1]
}
