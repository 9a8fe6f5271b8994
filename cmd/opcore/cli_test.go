package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/caffeineduck/opcore/isolate"
	"github.com/caffeineduck/opcore/nativehost"
)

// executeCommand runs args against a fresh command tree so flag state never
// leaks between tests.
func executeCommand(args ...string) (string, error) {
	root := newRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestCLIHelp(t *testing.T) {
	output, err := executeCommand("--help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, phrase := range []string{"opcore", "isolate", "run", "repl", "ops", "--config"} {
		if !strings.Contains(output, phrase) {
			t.Errorf("help output should contain %q", phrase)
		}
	}
}

func TestCLIRunHelp(t *testing.T) {
	output, err := executeCommand("run", "--help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, phrase := range []string{"--arg", "--unstable", "--timeout", "--kv", "--allow-host", "--mount", "--memory", "--env"} {
		if !strings.Contains(output, phrase) {
			t.Errorf("run help output should contain %q", phrase)
		}
	}
}

func TestCLIReplHelp(t *testing.T) {
	output, err := executeCommand("repl", "--help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, phrase := range []string{"--history", "--kv", ".ops", "Command history", "Line editing"} {
		if !strings.Contains(output, phrase) {
			t.Errorf("repl help output should contain %q", phrase)
		}
	}
}

func TestCLIOps(t *testing.T) {
	output, err := executeCommand("ops", "--kv", "--allow-host", "example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, phrase := range []string{"op_start", "op_kv_get", "op_fetch", "minimal", "structured"} {
		if !strings.Contains(output, phrase) {
			t.Errorf("ops output should contain %q:\n%s", phrase, output)
		}
	}
	if strings.Contains(output, "op_fs_read") {
		t.Error("fs ops listed without mounts")
	}
}

func TestCLIRunWithoutModule(t *testing.T) {
	if _, err := executeCommand("run", "--arg", "x", "--timeout", "5s"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// exitModule is a WASI command whose _start calls proc_exit(3).
var exitModule = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	// types: (i32) -> (), () -> ()
	0x01, 0x08, 0x02, 0x60, 0x01, 0x7f, 0x00, 0x60, 0x00, 0x00,
	// import wasi_snapshot_preview1.proc_exit
	0x02, 0x24, 0x01,
	0x16, 'w', 'a', 's', 'i', '_', 's', 'n', 'a', 'p', 's', 'h', 'o', 't', '_', 'p', 'r', 'e', 'v', 'i', 'e', 'w', '1',
	0x09, 'p', 'r', 'o', 'c', '_', 'e', 'x', 'i', 't',
	0x00, 0x00,
	// func 1: () -> ()
	0x03, 0x02, 0x01, 0x01,
	// export _start
	0x07, 0x0a, 0x01, 0x06, '_', 's', 't', 'a', 'r', 't', 0x00, 0x01,
	// i32.const 3; call 0; end
	0x0a, 0x08, 0x01, 0x06, 0x00, 0x41, 0x03, 0x10, 0x00, 0x0b,
}

func TestCLIRunGuestExitCode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exit.wasm")
	if err := os.WriteFile(path, exitModule, 0o644); err != nil {
		t.Fatal(err)
	}

	// The guest only runs as a task on the host loop, so its exit code
	// proves run drove the loop.
	_, err := executeCommand("run", "--no-cache", "--timeout", "10s", path)
	var exit exitError
	if !errors.As(err, &exit) || exit.code != 3 {
		t.Fatalf("err = %v, want exit status 3", err)
	}
}

func TestCLIHelpDoesNotLeak(t *testing.T) {
	if _, err := executeCommand("run", "--help"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := executeCommand("run", filepath.Join(t.TempDir(), "missing.wasm")); err == nil {
		t.Fatal("run after --help should still execute")
	}
}

func TestCLIRunMissingModule(t *testing.T) {
	if _, err := executeCommand("run", filepath.Join(t.TempDir(), "missing.wasm")); err == nil {
		t.Fatal("expected error for missing module")
	}
}

func TestCLIInvalidMount(t *testing.T) {
	if _, err := executeCommand("ops", "--mount", "/data:./data:bad"); err == nil {
		t.Fatal("expected error for invalid mount mode")
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()

	tomlPath := filepath.Join(dir, "opcore.toml")
	os.WriteFile(tomlPath, []byte(`
args = ["a", "b"]
unstable = true
kv = true
allow_hosts = [" api.example.com ", ""]
mounts = ["/data:./data:rw"]
timeout = "5s"
`), 0o644)

	yamlPath := filepath.Join(dir, "opcore.yaml")
	os.WriteFile(yamlPath, []byte(`
debug: true
env:
  HOME: /home/x
memory: 64mb
max_concurrent_ops: 4
`), 0o644)

	badPath := filepath.Join(dir, "opcore.toml.bak")
	os.WriteFile(badPath, nil, 0o644)

	got, err := loadConfig(tomlPath)
	if err != nil {
		t.Fatalf("toml: %v", err)
	}
	if len(got.Args) != 2 || !got.Unstable || !got.KV || got.Timeout != 5*time.Second {
		t.Errorf("toml settings = %+v", got)
	}
	if len(got.AllowHosts) != 1 || got.AllowHosts[0] != "api.example.com" {
		t.Errorf("allow_hosts = %q", got.AllowHosts)
	}
	if len(got.Mounts) != 1 || got.Mounts[0].Mode != nativehost.MountReadWrite {
		t.Errorf("mounts = %+v", got.Mounts)
	}
	if got.Memory != "256mb" {
		t.Errorf("memory default lost: %q", got.Memory)
	}

	got, err = loadConfig(yamlPath)
	if err != nil {
		t.Fatalf("yaml: %v", err)
	}
	if !got.Debug || got.Env["HOME"] != "/home/x" || got.Memory != "64mb" || got.MaxConcurrentOps != 4 {
		t.Errorf("yaml settings = %+v", got)
	}
	if got.Timeout != defaultSettings().Timeout {
		t.Errorf("timeout default lost: %v", got.Timeout)
	}

	if _, err := loadConfig(badPath); err == nil {
		t.Error("unsupported extension should fail")
	}
}

func TestParseMemoryLimit(t *testing.T) {
	tests := []struct {
		in   string
		want uint32
	}{
		{"16mb", 256},
		{"64MB", 1024},
		{"256mb", 4096},
		{"huge", 0},
	}
	for _, tt := range tests {
		if got := parseMemoryLimit(tt.in); got != tt.want {
			t.Errorf("parseMemoryLimit(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func startRepl(t *testing.T) (*repl, *bytes.Buffer, *bytes.Buffer, *nativehost.Host) {
	t.Helper()
	var out, stdout bytes.Buffer
	noColor := true
	h := nativehost.New(nativehost.Config{
		NoColor:  &noColor,
		Unstable: true,
		KV:       nativehost.NewKV(nativehost.DefaultKVConfig()),
		Stdout:   &stdout,
	})
	iso := isolate.New(h)
	if err := iso.BootstrapPrimary(); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	h.Ref()
	errCh := make(chan error, 1)
	go func() { errCh <- h.Run(ctx) }()

	t.Cleanup(func() {
		h.Unref()
		if err := <-errCh; err != nil {
			t.Errorf("host Run: %v", err)
		}
		cancel()
	})
	return newRepl(h, iso, &out), &out, &stdout, h
}

func TestReplEval(t *testing.T) {
	r, out, stdout, h := startRepl(t)
	ctx := context.Background()

	tests := []struct {
		line string
		want string
	}{
		{`op_kv_set {"key":"a","value":"1"}`, `"ok"`},
		{`op_kv_get {"key":"a"}`, `"1"`},
		{`op_kv_keys`, `["a"]`},
		{`op_kv_set {"key":"a"}`, "InvalidInput"},
		{`op_kv_set {bad`, "JSON object"},
		{`op_nope {}`, "unknown op"},
		{`op_write 1 hello`, "6"},
		{`op_write 1`, "usage"},
		{`op_read x`, "invalid rid"},
		{`op_read 7`, "BadResource"},
		{".ops", "op_kv_get"},
		{".info", `"versions"`},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			out.Reset()
			if r.eval(ctx, tt.line) {
				t.Fatal("eval ended the console")
			}
			if !strings.Contains(out.String(), tt.want) {
				t.Errorf("output = %q, want %q", out.String(), tt.want)
			}
		})
	}
	if stdout.String() != "hello\n" {
		t.Errorf("stdout = %q", stdout.String())
	}

	if !r.eval(ctx, ".close") {
		t.Fatal(".close should end the console")
	}
	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("host did not stop after .close")
	}
	if !h.Exited() || h.ExitCode() != 0 {
		t.Errorf("exited = %v code = %d", h.Exited(), h.ExitCode())
	}
	if r.eval(ctx, "exit") != true {
		t.Error("exit should end the console")
	}
}
