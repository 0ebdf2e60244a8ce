// Command bridge-vault runs the vault-VM side of the split SSH agent: it
// connects to the local ssh-agent socket named by SSH_AUTH_SOCK and
// forwards it over its own stdin/stdout, which the RPC framework has
// wired to the client VM, per SPEC_FULL.md §4/§6.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli"

	"github.com/qvm-ssh-agent/bridge/internal/debuglog"
	"github.com/qvm-ssh-agent/bridge/internal/forwarder"
	"github.com/qvm-ssh-agent/bridge/internal/roledriver"
)

// VERSION is injected by buildflags.
var VERSION = "SELFBUILD"

func main() {
	if VERSION == "SELFBUILD" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	app := cli.NewApp()
	app.Name = "bridge-vault"
	app.Usage = "vault-VM side of the split SSH agent bridge"
	app.Version = VERSION
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "log",
			Value: "",
			Usage: "specify a log file to output, default goes to stderr",
		},
		cli.BoolFlag{
			Name:  "quiet",
			Usage: "suppress per-session connect/disconnect messages",
		},
		cli.BoolFlag{
			Name:  "compress",
			Usage: "enable snappy compression of forwarded payloads",
		},
		cli.BoolFlag{
			Name:  "reconnect-frame",
			Usage: "use the 9-byte header with a reconnect-signal flag instead of the plain 8-byte one",
		},
		cli.StringFlag{
			Name:  "debug-dir",
			Value: "",
			Usage: "subsystem name for the XDG-state-dir debug log sink; empty disables it",
		},
	}
	app.Action = func(c *cli.Context) error {
		quiet := c.Bool("quiet")
		compress := c.Bool("compress")
		reconnectFrame := c.Bool("reconnect-frame")
		debugDir := c.String("debug-dir")

		if logPath := c.String("log"); logPath != "" {
			f, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
			if err != nil {
				return err
			}
			defer f.Close()
			log.SetOutput(f)
		}

		sockPath := os.Getenv("SSH_AUTH_SOCK")
		if sockPath == "" {
			return fmt.Errorf("bridge-vault: SSH_AUTH_SOCK not set")
		}

		log.Println("version:", VERSION)
		log.Println("agent socket:", sockPath)
		log.Println("quiet:", quiet)
		log.Println("compress:", compress)
		log.Println("reconnect-frame header:", reconnectFrame)

		var sink *debuglog.Sink
		var logf func(string, ...any)
		if debugDir != "" {
			sink = debuglog.New("bridge-vault", quiet)
			defer sink.Close()
			logf = func(format string, args ...any) { sink.Append(debugDir, format, args...) }
		} else if !quiet {
			logf = log.Printf
		}

		driver := &roledriver.ConnectorDriver{
			SockPath: sockPath,
			Opts: forwarder.Options{
				Compress:  compress,
				ExtHeader: reconnectFrame,
				Quiet:     quiet,
				Logf:      logf,
			},
		}

		sup, err := driver.Start()
		if err != nil {
			return err
		}

		errA, errB := sup.Wait()
		sup.Close()
		if errA != nil {
			log.Printf("pump A exited: %+v", errA)
		}
		if errB != nil {
			log.Printf("pump B exited: %+v", errB)
		}
		if errA != nil || errB != nil {
			return fmt.Errorf("bridge-vault: session ended with an error")
		}
		return nil
	}

	if err := app.Run(os.Args); err != nil {
		log.Printf("%+v\n", err)
		os.Exit(1)
	}
}
