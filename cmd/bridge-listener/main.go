// Command bridge-listener runs the client-VM side of the split SSH
// agent: it binds SSH_AUTH_SOCK, accepts the local SSH client's
// connections, and tunnels them to the vault VM over a qrexec-client-vm
// child process, per SPEC_FULL.md §4/§6.
package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/urfave/cli"

	"github.com/qvm-ssh-agent/bridge/internal/debuglog"
	"github.com/qvm-ssh-agent/bridge/internal/forwarder"
	"github.com/qvm-ssh-agent/bridge/internal/qrexec"
	"github.com/qvm-ssh-agent/bridge/internal/roledriver"
)

// VERSION is injected by buildflags.
var VERSION = "SELFBUILD"

func main() {
	if VERSION == "SELFBUILD" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	app := cli.NewApp()
	app.Name = "bridge-listener"
	app.Usage = "client-VM side of the split SSH agent bridge"
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
			color.Red("SSH_AUTH_SOCK is not set; this is the path bridge-listener will bind")
			return fmt.Errorf("bridge-listener: SSH_AUTH_SOCK not set")
		}
		if os.Getenv(qrexec.VaultVMEnv) == "" {
			color.Red("%s is not set; the qrexec child will fail to start", qrexec.VaultVMEnv)
		}

		log.Println("version:", VERSION)
		log.Println("listen socket:", sockPath)
		log.Println("quiet:", quiet)
		log.Println("compress:", compress)
		log.Println("reconnect-frame header:", reconnectFrame)

		var sink *debuglog.Sink
		var logf func(string, ...any)
		if debugDir != "" {
			sink = debuglog.New("bridge-listener", quiet)
			defer sink.Close()
			logf = func(format string, args ...any) { sink.Append(debugDir, format, args...) }
		} else if !quiet {
			logf = log.Printf
		}

		child, err := qrexec.Spawn()
		if err != nil {
			return err
		}

		driver := &roledriver.ListenerDriver{
			Path: sockPath,
			Pipe: forwarder.PipePair{
				Writer: child.Stdin,
				Reader: child.Stdout,
				Closer: child,
			},
			Opts: forwarder.Options{
				Compress:  compress,
				ExtHeader: reconnectFrame,
				Quiet:     quiet,
				Logf:      logf,
			},
		}

		sup, err := driver.Start()
		if err != nil {
			child.Close()
			return err
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		type result struct{ errA, errB error }
		done := make(chan result, 1)
		go func() {
			errA, errB := sup.Wait()
			done <- result{errA, errB}
		}()

		var res result
		select {
		case <-sigCh:
			log.Println("signal received, shutting down")
			sup.Close()
			res = <-done
		case res = <-done:
			log.Println("session ended")
		}

		sup.Close()

		if res.errA != nil {
			log.Printf("pump A exited: %+v", res.errA)
		}
		if res.errB != nil {
			log.Printf("pump B exited: %+v", res.errB)
		}
		if res.errA != nil || res.errB != nil {
			return fmt.Errorf("bridge-listener: session ended with an error")
		}
		return nil
	}

	if err := app.Run(os.Args); err != nil {
		log.Printf("%+v\n", err)
		os.Exit(1)
	}
}
