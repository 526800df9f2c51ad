// Package pidfile persists the master and manager process ids of a running
// server so that out-of-process commands can find and signal it.
//
// The file holds a single line "<master>,<manager>".
package pidfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrNotWritable is returned by New when neither the pid file nor its parent
// directory can be written.
var ErrNotWritable = errors.New("pid file location is not writable")

// Record is the content of a pid file.
type Record struct {
	MasterPID  int `json:"master_pid" yaml:"master_pid"`
	ManagerPID int `json:"manager_pid" yaml:"manager_pid"`
}

func (r Record) String() string {
	return strconv.Itoa(r.MasterPID) + "," + strconv.Itoa(r.ManagerPID)
}

// Running reports whether both recorded processes are alive.
func (r Record) Running() bool {
	return Alive(r.MasterPID) && Alive(r.ManagerPID)
}

// File is a pid file at a fixed path.
type File struct {
	path string
}

// DefaultPath is the pid file location used when none is configured.
func DefaultPath() string {
	return filepath.Join(os.TempDir(), "go-php-runner.pid")
}

// New checks eagerly that path can be written, either because the file
// itself is writable or because its directory is.
func New(path string) (*File, error) {
	if path == "" {
		path = DefaultPath()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("pidfile: %w", err)
	}
	if !writable(abs) && !writable(filepath.Dir(abs)) {
		return nil, fmt.Errorf("pidfile %s: %w", abs, ErrNotWritable)
	}
	return &File{path: abs}, nil
}

func (f *File) Path() string { return f.path }

// Write replaces the file content with the two ids.
func (f *File) Write(master, manager int) error {
	rec := Record{MasterPID: master, ManagerPID: manager}
	if err := os.WriteFile(f.path, []byte(rec.String()), 0o644); err != nil {
		return fmt.Errorf("pidfile: write %s: %w", f.path, err)
	}
	return nil
}

// Read returns the recorded ids. It reports false when the file is missing,
// unreadable or malformed.
func (f *File) Read() (Record, bool) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return Record{}, false
	}
	return Parse(string(data))
}

// Delete removes the file. It reports false when the file could not be
// removed, including when it was never written.
func (f *File) Delete() bool {
	if !writable(filepath.Dir(f.path)) {
		return false
	}
	return os.Remove(f.path) == nil
}

// Parse decodes "<master>,<manager>". Surrounding whitespace is ignored.
func Parse(s string) (Record, bool) {
	master, manager, ok := strings.Cut(strings.TrimSpace(s), ",")
	if !ok {
		return Record{}, false
	}
	m, err := strconv.Atoi(strings.TrimSpace(master))
	if err != nil {
		return Record{}, false
	}
	g, err := strconv.Atoi(strings.TrimSpace(manager))
	if err != nil {
		return Record{}, false
	}
	return Record{MasterPID: m, ManagerPID: g}, true
}
