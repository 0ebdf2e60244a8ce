// Package debuglog implements the append-only, best-effort debug log
// sink described in spec.md §6/§9: one file per named subsystem under
// $XDG_STATE_HOME/<app>/ (falling back to $HOME/.local/state/<app>/),
// created on first use. It never influences forwarder state — a failure
// to write is logged via the stdlib log package and otherwise ignored,
// the same side-channel posture as
// original_source/socket_stdinout/src/debug.rs's debug_append.
package debuglog

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
)

const (
	xdgStateEnv     = "XDG_STATE_HOME"
	homeEnv         = "HOME"
	stateHomeSuffix = ".local/state"
)

// stateDir resolves the XDG state directory for appName, mirroring
// get_xdg_state_dir in original_source/socket_stdinout/src/debug.rs.
func stateDir(appName string) (string, error) {
	if dir := os.Getenv(xdgStateEnv); dir != "" {
		return filepath.Join(dir, appName), nil
	}
	home := os.Getenv(homeEnv)
	if home == "" {
		return "", fmt.Errorf("debuglog: neither %s nor %s is set", xdgStateEnv, homeEnv)
	}
	return filepath.Join(home, stateHomeSuffix, appName), nil
}

// Sink is a named set of append-only log files under one app directory.
// It is safe for concurrent use by multiple pumps; each named subsystem
// gets its own *os.File, opened lazily and kept open for reuse.
type Sink struct {
	appName string
	quiet   bool

	mu    sync.Mutex
	files map[string]*os.File
}

// New returns a Sink rooted at appName's XDG state directory. quiet
// suppresses nothing here (debug output is always best-effort and
// separate from the --quiet session-log toggle) — it only controls
// whether Sink itself complains to the standard logger about its own
// I/O failures.
func New(appName string, quiet bool) *Sink {
	return &Sink{appName: appName, quiet: quiet, files: make(map[string]*os.File)}
}

func (s *Sink) fileFor(subsystem string) (*os.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f, ok := s.files[subsystem]; ok {
		return f, nil
	}

	dir, err := stateDir(s.appName)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	path := filepath.Join(dir, subsystem+".log")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	s.files[subsystem] = f
	return f, nil
}

// Append writes msg, newline-terminated, to subsystem's log file.
// Failures are logged to the standard logger and swallowed: this sink
// is a collaborator the forwarder never blocks on.
func (s *Sink) Append(subsystem, format string, args ...any) {
	f, err := s.fileFor(subsystem)
	if err != nil {
		if !s.quiet {
			log.Printf("debuglog: %s: %v", subsystem, err)
		}
		return
	}
	msg := fmt.Sprintf(format, args...)
	if _, err := f.WriteString(msg + "\n"); err != nil {
		if !s.quiet {
			log.Printf("debuglog: %s: write: %v", subsystem, err)
		}
	}
}

// Close closes every open subsystem file, best-effort.
func (s *Sink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.files {
		f.Close()
	}
}
