package roledriver

import (
	"os"

	"github.com/pkg/errors"

	"github.com/qvm-ssh-agent/bridge/internal/forwarder"
	"github.com/qvm-ssh-agent/bridge/internal/sockconn"
	"github.com/qvm-ssh-agent/bridge/internal/supervisor"
)

// ConnectorDriver runs the vault-VM side: it dials the real ssh-agent
// socket once and forwards it over the process's own stdin/stdout, per
// spec.md §4.5. There is no accept loop and no reconnect: a broken local
// peer is fatal, per the Connector pump policy in internal/forwarder.
type ConnectorDriver struct {
	SockPath string
	Opts     forwarder.Options
}

// Start connects to SockPath and launches the Session against os.Stdin /
// os.Stdout under a Supervisor. The caller owns the returned Supervisor
// and must Close it on shutdown.
func (d *ConnectorDriver) Start() (*supervisor.Supervisor, error) {
	conn, err := sockconn.Connect(d.SockPath)
	if err != nil {
		return nil, errors.Wrap(err, "roledriver: connect to agent socket")
	}
	d.Opts.Log("connector: connected to %s", d.SockPath)

	pipe := forwarder.PipePair{
		Writer: os.Stdout,
		Reader: os.Stdin,
		Closer: nil, // stdio outlives the session; nothing to close early
	}
	session := forwarder.NewSession(forwarder.RoleConnector, conn, pipe, d.Opts)
	sup := supervisor.New(session, closerFunc(func() error {
		return conn.Close()
	}))
	return sup, nil
}
