package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[session]
stack-size = 128
mode = "chained"

[runtime]
heap-objects = 100

[log]
verbosity = 2
file = "logs/rootstack.log"

[trace]
enabled = true
database = "/tmp/trace.db"

[inspect]
addr = ":9000"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.Session.StackSize != 128 {
		t.Errorf("stack-size = %d, want 128", m.Session.StackSize)
	}
	if m.Session.Mode != "chained" {
		t.Errorf("mode = %q, want chained", m.Session.Mode)
	}
	if m.Runtime.HeapObjects != 100 {
		t.Errorf("heap-objects = %d, want 100", m.Runtime.HeapObjects)
	}
	if m.Log.Verbosity != 2 {
		t.Errorf("verbosity = %d, want 2", m.Log.Verbosity)
	}
	if !m.Trace.Enabled {
		t.Error("trace enabled = false, want true")
	}
	if got := m.TraceDatabasePath(); got != "/tmp/trace.db" {
		t.Errorf("TraceDatabasePath = %q", got)
	}
	if got, want := m.LogFilePath(), filepath.Join(m.Dir, "logs/rootstack.log"); got != want {
		t.Errorf("LogFilePath = %q, want %q", got, want)
	}
	if m.Inspect.Addr != ":9000" {
		t.Errorf("inspect addr = %q, want :9000", m.Inspect.Addr)
	}
}

func TestLoadManifestDefaults(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[trace]
enabled = true
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if m.Session.StackSize != DefaultStackSize {
		t.Errorf("stack-size = %d, want %d", m.Session.StackSize, DefaultStackSize)
	}
	if m.Session.Mode != "direct" {
		t.Errorf("mode = %q, want direct", m.Session.Mode)
	}
	if m.Runtime.HeapObjects != DefaultHeapObjects {
		t.Errorf("heap-objects = %d", m.Runtime.HeapObjects)
	}
	if got, want := m.TraceDatabasePath(), filepath.Join(m.Dir, DefaultTraceDB); got != want {
		t.Errorf("TraceDatabasePath = %q, want %q", got, want)
	}
	if m.LogFilePath() != "" {
		t.Errorf("LogFilePath = %q, want stderr", m.LogFilePath())
	}
	if m.Inspect.Addr != DefaultInspectAddr {
		t.Errorf("inspect addr = %q", m.Inspect.Addr)
	}
}

func TestDefaultMatchesEmptyManifest(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "")
	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	def := Default(loaded.Dir)
	if *def != *loaded {
		t.Errorf("Default = %+v, loaded = %+v", def, loaded)
	}
}

func TestLoadManifestInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"bad mode", `[session]
mode = "async"`, "session.mode"},
		{"negative stack", `[session]
stack-size = -1`, "stack-size"},
		{"negative verbosity", `[log]
verbosity = -3`, "verbosity"},
		{"parse error", `[session`, "parse error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeManifest(t, dir, tt.content)
			_, err := Load(dir)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Load = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadMissing(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Fatal("expected error for missing manifest")
	}
}

func TestFindAndLoad(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, `
[session]
stack-size = 16
`)
	sub := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}

	m, err := FindAndLoad(sub)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m == nil {
		t.Fatal("expected manifest, got nil")
	}
	if m.Session.StackSize != 16 {
		t.Errorf("stack-size = %d, want 16", m.Session.StackSize)
	}
	abs, _ := filepath.Abs(root)
	if m.Dir != abs {
		t.Errorf("Dir = %q, want %q", m.Dir, abs)
	}
}

func TestFindAndLoadNone(t *testing.T) {
	m, err := FindAndLoad(t.TempDir())
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m != nil {
		// A rootstack.toml above the temp dir would be picked up; only
		// flag it if it is inside the temp dir.
		if strings.HasPrefix(m.Dir, os.TempDir()) {
			t.Errorf("unexpected manifest at %s", m.Dir)
		}
	}
}
