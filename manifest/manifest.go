// Package manifest handles rootstack.toml configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/chazu/rootstack/gcstack"
)

// FileName is the name of the manifest file.
const FileName = "rootstack.toml"

// Defaults applied by Load and Default.
const (
	DefaultStackSize   = 64
	DefaultHeapObjects = 4096
	DefaultTraceDB     = ".rootstack/trace.db"
	DefaultInspectAddr = "localhost:4480"
)

// Manifest represents a rootstack.toml configuration.
type Manifest struct {
	Session Session `toml:"session"`
	Runtime Runtime `toml:"runtime"`
	Log     Log     `toml:"log"`
	Trace   Trace   `toml:"trace"`
	Inspect Inspect `toml:"inspect"`

	// Dir is the directory containing the rootstack.toml file (set at load time).
	Dir string `toml:"-"`
}

// Session configures the root stack.
type Session struct {
	StackSize int    `toml:"stack-size"`
	Mode      string `toml:"mode"` // "direct" or "chained"
}

// Runtime configures the simulated runtime.
type Runtime struct {
	HeapObjects int `toml:"heap-objects"`
}

// Log configures logging.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Trace configures the frame event store.
type Trace struct {
	Enabled  bool   `toml:"enabled"`
	Database string `toml:"database"`
}

// Inspect configures the inspection service.
type Inspect struct {
	Addr string `toml:"addr"`
}

// Default returns the manifest used when no rootstack.toml exists.
func Default(dir string) *Manifest {
	m := &Manifest{Dir: dir}
	m.applyDefaults()
	return m
}

func (m *Manifest) applyDefaults() {
	if m.Session.StackSize == 0 {
		m.Session.StackSize = DefaultStackSize
	}
	if m.Session.Mode == "" {
		m.Session.Mode = gcstack.DirectName
	}
	if m.Runtime.HeapObjects == 0 {
		m.Runtime.HeapObjects = DefaultHeapObjects
	}
	if m.Trace.Database == "" {
		m.Trace.Database = DefaultTraceDB
	}
	if m.Inspect.Addr == "" {
		m.Inspect.Addr = DefaultInspectAddr
	}
}

// Validate checks the manifest's values.
func (m *Manifest) Validate() error {
	if m.Session.StackSize < 0 {
		return fmt.Errorf("session.stack-size must not be negative, got %d", m.Session.StackSize)
	}
	switch m.Session.Mode {
	case gcstack.DirectName, gcstack.ChainedName:
	default:
		return fmt.Errorf("session.mode must be %q or %q, got %q", gcstack.DirectName, gcstack.ChainedName, m.Session.Mode)
	}
	if m.Runtime.HeapObjects < 0 {
		return fmt.Errorf("runtime.heap-objects must not be negative, got %d", m.Runtime.HeapObjects)
	}
	if m.Log.Verbosity < 0 {
		return fmt.Errorf("log.verbosity must not be negative, got %d", m.Log.Verbosity)
	}
	return nil
}

// Load parses a rootstack.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	m.applyDefaults()
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &m, nil
}

// FindAndLoad walks up from startDir to find a rootstack.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// TraceDatabasePath returns the absolute path of the trace database.
func (m *Manifest) TraceDatabasePath() string {
	if filepath.IsAbs(m.Trace.Database) {
		return m.Trace.Database
	}
	return filepath.Join(m.Dir, m.Trace.Database)
}

// LogFilePath returns the absolute path of the log file, or "" to log to
// stderr.
func (m *Manifest) LogFilePath() string {
	if m.Log.File == "" || filepath.IsAbs(m.Log.File) {
		return m.Log.File
	}
	return filepath.Join(m.Dir, m.Log.File)
}
