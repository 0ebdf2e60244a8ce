// Package qrexec spawns and owns the qrexec-client-vm child process that
// forms the cross-VM byte pipe for the Listener role. It is a
// collaborator, not part of the forwarding engine core: the engine only
// needs an io.Writer/io.Reader/io.Closer triple, and doesn't know or
// care that they happen to be a child process's stdio.
package qrexec

import (
	"io"
	"os"
	"os/exec"

	"github.com/pkg/errors"
)

const (
	binaryName  = "qrexec-client-vm"
	serviceName = "qubes.SplitSSHAgent"

	// VaultVMEnv names the environment variable holding the target
	// vault VM's name, read here (not by the forwarding core) per
	// spec.md §6.
	VaultVMEnv = "SSH_VAULT_VM"
)

// Child wraps a running qrexec-client-vm process. Its Stdin/Stdout are
// the two ends of the cross-VM byte pipe; Close kills the process,
// best-effort, matching original_source/client_handler/src/qrexec.rs's
// DropChild.
type Child struct {
	cmd    *exec.Cmd
	Stdin  io.WriteCloser
	Stdout io.ReadCloser
}

// Spawn reads SSH_VAULT_VM from the environment and launches
// `qrexec-client-vm <vm> qubes.SplitSSHAgent` with piped stdin/stdout.
// Stderr is inherited so the remote side's own startup diagnostics
// surface in this process's log.
func Spawn() (*Child, error) {
	vm := os.Getenv(VaultVMEnv)
	if vm == "" {
		return nil, errors.Errorf("qrexec: %s is not set", VaultVMEnv)
	}

	cmd := exec.Command(binaryName, vm, serviceName)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Wrap(err, "qrexec: stdin pipe")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "qrexec: stdout pipe")
	}

	if err := cmd.Start(); err != nil {
		return nil, errors.Wrap(err, "qrexec: start")
	}

	return &Child{cmd: cmd, Stdin: stdin, Stdout: stdout}, nil
}

// Close kills the child process, closes this side of its stdin/stdout
// pipes (so a pump parked in a read on Stdout or a write on Stdin is
// unblocked immediately rather than waiting on Wait), and reaps it,
// swallowing errors: this is cleanup on an already-terminating daemon,
// not a path that can usefully report failure.
func (c *Child) Close() error {
	if c.cmd.Process != nil {
		c.cmd.Process.Kill()
	}
	c.Stdin.Close()
	c.Stdout.Close()
	c.cmd.Wait()
	return nil
}
