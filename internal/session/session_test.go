package session

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/calmh/dirsync/internal/wire"
)

// freePort reserves an ephemeral TCP port and releases it immediately,
// relying on SO_REUSEADDR/SO_REUSEPORT (reuseaddr.go) to make it safe for
// the listener under test to rebind right away.
func freePort(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	l.Close()
	return addr
}

func waitForListener(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("listener never came up on %s", addr)
}

func TestEndToEndSyncFetchesNewRemoteFile(t *testing.T) {
	listenerRoot := t.TempDir()
	initiatorRoot := t.TempDir()

	if err := os.WriteFile(filepath.Join(listenerRoot, "foo.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	addr := freePort(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	listenErrCh := make(chan error, 1)
	go func() {
		listenErrCh <- Listen(ctx, addr, Config{
			RootPath:      listenerRoot,
			ExitAfterSync: true,
			MaxFileSize:   wire.DefaultMaxFileSize,
		})
	}()
	waitForListener(t, addr)

	if err := Connect(ctx, addr, Config{
		RootPath:    initiatorRoot,
		AutoSync:    true,
		MaxFileSize: wire.DefaultMaxFileSize,
	}); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	select {
	case err := <-listenErrCh:
		if err != nil {
			t.Fatalf("Listen: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("listener never returned after ExitAfterSync")
	}

	got, err := os.ReadFile(filepath.Join(initiatorRoot, "foo.txt"))
	if err != nil {
		t.Fatalf("fetched file missing: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("content = %q, want %q", got, "hello")
	}
}

func TestEndToEndSyncPushesNewLocalFile(t *testing.T) {
	listenerRoot := t.TempDir()
	initiatorRoot := t.TempDir()

	if err := os.WriteFile(filepath.Join(initiatorRoot, "bar.txt"), []byte("world"), 0o644); err != nil {
		t.Fatal(err)
	}

	addr := freePort(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	listenErrCh := make(chan error, 1)
	go func() {
		listenErrCh <- Listen(ctx, addr, Config{
			RootPath:      listenerRoot,
			ExitAfterSync: true,
			MaxFileSize:   wire.DefaultMaxFileSize,
		})
	}()
	waitForListener(t, addr)

	if err := Connect(ctx, addr, Config{
		RootPath:    initiatorRoot,
		AutoSync:    true,
		MaxFileSize: wire.DefaultMaxFileSize,
	}); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	select {
	case err := <-listenErrCh:
		if err != nil {
			t.Fatalf("Listen: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("listener never returned after ExitAfterSync")
	}

	got, err := os.ReadFile(filepath.Join(listenerRoot, "bar.txt"))
	if err != nil {
		t.Fatalf("pushed file missing: %v", err)
	}
	if string(got) != "world" {
		t.Fatalf("content = %q, want %q", got, "world")
	}
}

func TestDryRunExecutesNothing(t *testing.T) {
	listenerRoot := t.TempDir()
	initiatorRoot := t.TempDir()

	if err := os.WriteFile(filepath.Join(listenerRoot, "foo.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	addr := freePort(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	listenErrCh := make(chan error, 1)
	go func() {
		listenErrCh <- Listen(ctx, addr, Config{
			RootPath:      listenerRoot,
			ExitAfterSync: true,
			MaxFileSize:   wire.DefaultMaxFileSize,
		})
	}()
	waitForListener(t, addr)

	scriptPath := filepath.Join(t.TempDir(), "plan.sh")
	if err := Connect(ctx, addr, Config{
		RootPath:    initiatorRoot,
		DryRun:      true,
		ScriptPath:  scriptPath,
		MaxFileSize: wire.DefaultMaxFileSize,
	}); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	<-listenErrCh

	if _, err := os.Stat(filepath.Join(initiatorRoot, "foo.txt")); err == nil {
		t.Fatal("dry run should not have fetched foo.txt")
	}
	if _, err := os.Stat(scriptPath); err != nil {
		t.Fatalf("dry run should have written a plan script: %v", err)
	}
}

func TestRootRel(t *testing.T) {
	cases := []struct{ p, root, want string }{
		{"/a/b/c.txt", "/a/b", "c.txt"},
		{"/a/b", "/a/b", ""},
		{"/a/b/c/d.txt", "/a/b", "c/d.txt"},
	}
	for _, c := range cases {
		if got := rootRel(c.p, c.root); got != c.want {
			t.Errorf("rootRel(%q, %q) = %q, want %q", c.p, c.root, got, c.want)
		}
	}
}
