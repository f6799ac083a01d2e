package cmd

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pithecene-io/dispipe/cli/config"
	"github.com/pithecene-io/dispipe/pipe"
)

type runningApp struct {
	out    *syncBuffer
	cancel context.CancelFunc
	done   chan error
}

func startRun(t *testing.T, args ...string) *runningApp {
	t.Helper()
	ctx, cancel := context.WithCancel(t.Context())
	r := &runningApp{out: &syncBuffer{}, cancel: cancel, done: make(chan error, 1)}
	app := newTestApp(r.out)
	go func() {
		r.done <- app.RunContext(ctx, append([]string{"dispipe", "run"}, args...))
	}()
	t.Cleanup(cancel)
	return r
}

func (r *runningApp) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-r.done:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return")
		return nil
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func writePipe(t *testing.T, path, data string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	if _, err := f.WriteString(data); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close %s: %v", path, err)
	}
}

func TestRun_DryRunRelaysAndEchoes(t *testing.T) {
	root := t.TempDir()
	cfgPath := writeConfig(t, root, stubSinkBlock)

	r := startRun(t, "--config", cfgPath, "--dry-run", "--grace", "2s")

	alerts := filepath.Join(root, "alerts")
	waitFor(t, "alerts FIFO", func() bool {
		entry, _ := pipe.Inspect(alerts)
		return entry == pipe.EntryFIFO
	})
	writePipe(t, alerts, "hello\n")

	waitFor(t, "echoed line", func() bool {
		return strings.Contains(r.out.String(), "alerts|hello\n")
	})

	r.cancel()
	if err := r.wait(t); err != nil {
		t.Fatalf("run returned %v, want nil", err)
	}

	if _, err := os.Stat(filepath.Join(root, pipe.LockFileName)); err != nil {
		t.Errorf("lock file should remain on disk: %v", err)
	}
	entry, err := pipe.Inspect(filepath.Join(root, "deploys"))
	if err != nil || entry != pipe.EntryFIFO {
		t.Errorf("deploys FIFO should exist after run: %v", err)
	}
}

func TestRun_Quiet(t *testing.T) {
	root := t.TempDir()
	cfgPath := writeConfig(t, root, stubSinkBlock)
	logFile := filepath.Join(t.TempDir(), "dispipe.log")

	r := startRun(t, "--config", cfgPath, "--dry-run", "--quiet", "--log-file", logFile)

	alerts := filepath.Join(root, "alerts")
	waitFor(t, "alerts FIFO", func() bool {
		entry, _ := pipe.Inspect(alerts)
		return entry == pipe.EntryFIFO
	})
	writePipe(t, alerts, "hello\n")

	waitFor(t, "dry-run log entry", func() bool {
		data, _ := os.ReadFile(logFile)
		return strings.Contains(string(data), "dry-run: message not delivered")
	})

	r.cancel()
	if err := r.wait(t); err != nil {
		t.Fatalf("run returned %v, want nil", err)
	}
	if out := r.out.String(); out != "" {
		t.Errorf("--quiet should not echo, got %q", out)
	}

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "FIFO: "+alerts+" -> #123") {
		t.Errorf("log missing provisioning line:\n%s", data)
	}
	sum, err := config.Fingerprint(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"fingerprint":"`+sum+`"`) {
		t.Errorf("log missing config fingerprint %s:\n%s", sum, data)
	}
}

func TestRun_ExitCodes(t *testing.T) {
	t.Run("root locked", func(t *testing.T) {
		root := t.TempDir()
		lock, err := pipe.AcquireRootLock(root)
		if err != nil {
			t.Fatalf("lock: %v", err)
		}
		defer func() { _ = lock.Release() }()

		err = startRun(t, "--config", writeConfig(t, root, stubSinkBlock), "--dry-run").wait(t)
		if got := exitCodeOf(t, err); got != ExitLocked {
			t.Errorf("exit code = %d, want %d (err %v)", got, ExitLocked, err)
		}
	})

	t.Run("invalid layout", func(t *testing.T) {
		root := t.TempDir()
		if err := os.WriteFile(filepath.Join(root, "alerts"), nil, 0o644); err != nil {
			t.Fatal(err)
		}
		err := startRun(t, "--config", writeConfig(t, root, stubSinkBlock), "--dry-run").wait(t)
		if got := exitCodeOf(t, err); got != ExitConfig {
			t.Errorf("exit code = %d, want %d (err %v)", got, ExitConfig, err)
		}
	})

	t.Run("sink init", func(t *testing.T) {
		root := t.TempDir()
		sink := "  type: redis\n  url: redis://127.0.0.1:1\n  timeout: 500ms"
		err := startRun(t, "--config", writeConfig(t, root, sink)).wait(t)
		if got := exitCodeOf(t, err); got != ExitSinkInit {
			t.Errorf("exit code = %d, want %d (err %v)", got, ExitSinkInit, err)
		}
		if _, err := os.Lstat(filepath.Join(root, "alerts")); !os.IsNotExist(err) {
			t.Error("pipes should not be provisioned when the sink fails to start")
		}
	})

	t.Run("bad sink settings", func(t *testing.T) {
		root := t.TempDir()
		sink := "  type: redis\n  url: http://not-redis"
		err := startRun(t, "--config", writeConfig(t, root, sink)).wait(t)
		if got := exitCodeOf(t, err); got != ExitConfig {
			t.Errorf("exit code = %d, want %d (err %v)", got, ExitConfig, err)
		}
	})
}
