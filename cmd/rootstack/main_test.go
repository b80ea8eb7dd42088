package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/rootstack/gcstack"
	"github.com/chazu/rootstack/trace"
)

// runCLI executes the root command with args and returns stdout.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cli := &rootCLI{out: &out, err: &errOut}
	cmd := newRootCommand(cli)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "rootstack.toml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

// The runtime can only be started once per process, so a single test
// drives every subcommand that needs it.
func TestDumpAndDecode(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[session]
stack-size = 32
`)
	file := filepath.Join(dir, "snap.cbor")

	if _, err := runCLI(t, "--dir", dir, "dump", "--values", "3", "-o", file); err != nil {
		t.Fatalf("dump: %v", err)
	}
	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatal(err)
	}
	snap, err := gcstack.UnmarshalSnapshot(data)
	if err != nil {
		t.Fatalf("UnmarshalSnapshot: %v", err)
	}
	// Static frame of 3 plus a dynamic frame that grew to 3.
	if snap.Size != 32 || len(snap.Frames) != 2 || snap.LiveRoots() != 6 {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.Offset != gcstack.ReservedCells+2*(gcstack.HeaderCells+3) {
		t.Errorf("offset = %d", snap.Offset)
	}

	out, err := runCLI(t, "--dir", dir, "dump", "--decode", file)
	if err != nil {
		t.Fatalf("dump --decode: %v", err)
	}
	for _, want := range []string{"mode direct", "6 live roots", "dynamic, 3 roots", "static, 3 roots", "prev outside"} {
		if !strings.Contains(out, want) {
			t.Errorf("decode output missing %q:\n%s", want, out)
		}
	}
}

func TestTraceSummary(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[trace]
database = "trace.db"
`)
	ctx := context.Background()
	store, err := trace.Open(ctx, filepath.Join(dir, "trace.db"))
	if err != nil {
		t.Fatal(err)
	}
	err = store.Write(ctx, "run-1", []trace.Event{
		{Seq: 1, Stack: "session", Kind: trace.KindEnter, Frame: trace.FrameStatic, Capacity: 2, Offset: 7, Depth: 1},
		{Seq: 2, Stack: "session", Kind: trace.KindOverflow, Frame: trace.FrameStatic, Capacity: 90, Offset: 7, Depth: 1},
		{Seq: 3, Stack: "session", Kind: trace.KindExit, Frame: trace.FrameStatic, Capacity: 2, Offset: 3, Depth: 0},
	})
	store.Close()
	if err != nil {
		t.Fatal(err)
	}

	out, err := runCLI(t, "--dir", dir, "trace")
	if err != nil {
		t.Fatalf("trace: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("trace output:\n%s", out)
	}
	if fields := strings.Fields(lines[1]); len(fields) != 6 || fields[0] != "run-1" || fields[1] != "3" || fields[3] != "1" {
		t.Errorf("summary row = %q", lines[1])
	}

	out, err = runCLI(t, "--dir", dir, "trace", "--run", "run-1", "--events")
	if err != nil {
		t.Fatalf("trace --events: %v", err)
	}
	if !strings.Contains(out, "overflow") || !strings.Contains(out, "cap=90") {
		t.Errorf("events output:\n%s", out)
	}
}

func TestTraceMissingDatabase(t *testing.T) {
	dir := t.TempDir()
	if _, err := runCLI(t, "--dir", dir, "trace"); err == nil {
		t.Fatal("expected error without a trace database")
	}
}

func TestInvalidManifest(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[session]
mode = "threaded"
`)
	if _, err := runCLI(t, "--dir", dir, "trace"); err == nil || !strings.Contains(err.Error(), "session.mode") {
		t.Fatalf("err = %v", err)
	}
}
