package sockconn

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestBindListenerSetsWorldPermissionsAndRejectsExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.sock")

	l, err := BindListener(path)
	if err != nil {
		t.Fatalf("BindListener: %v", err)
	}
	defer l.Close()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0777 {
		t.Fatalf("mode = %v, want 0777", info.Mode().Perm())
	}

	if _, err := BindListener(path); err != ErrAlreadyBound {
		t.Fatalf("second BindListener err = %v, want ErrAlreadyBound", err)
	}
}

func TestConnectMissingPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.sock")
	if _, err := Connect(path); err != ErrNotFound {
		t.Fatalf("Connect err = %v, want ErrNotFound", err)
	}
}

func TestConnectRejectsNonSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "regular-file")
	if err := os.WriteFile(path, []byte("not a socket"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := Connect(path); err != ErrNotSocket {
		t.Fatalf("Connect err = %v, want ErrNotSocket", err)
	}
}

// TestAcceptConnectRoundTrip exercises a happy-path accept/connect pair
// and checks Property P5 (clean socket path) after Close.
func TestAcceptConnectRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.sock")

	l, err := BindListener(path)
	if err != nil {
		t.Fatalf("BindListener: %v", err)
	}

	accepted := make(chan *Conn, 1)
	acceptErr := make(chan error, 1)
	go func() {
		c, err := l.Accept()
		if err != nil {
			acceptErr <- err
			return
		}
		accepted <- c
	}()

	client, err := Connect(path)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	select {
	case c := <-accepted:
		defer c.Close()
	case err := <-acceptErr:
		t.Fatalf("Accept: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for accept")
	}

	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("socket path still exists after Close: err=%v", err)
	}
}

func TestSetAcceptDeadlineYieldsTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.sock")
	l, err := BindListener(path)
	if err != nil {
		t.Fatalf("BindListener: %v", err)
	}
	defer l.Close()

	if err := l.SetAcceptDeadline(time.Now().Add(10 * time.Millisecond)); err != nil {
		t.Fatalf("SetAcceptDeadline: %v", err)
	}
	if _, err := l.Accept(); !IsTransient(err) {
		t.Fatalf("Accept err = %v, want a transient timeout", err)
	}
}
