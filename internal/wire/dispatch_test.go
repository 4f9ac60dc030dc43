package wire

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"
)

func TestDispatchDirectHandlerAndTerminal(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	ctx := NewContext(server, t.TempDir(), DefaultMaxFileSize, 0)
	d := NewDispatcher(ctx)

	received := make(chan string, 1)
	d.Handle(Message, Direct, func(c *Context, h Header) (Outcome, error) {
		s, err := ReadString(c.Conn, 1<<20)
		if err != nil {
			return OutcomeFatal, err
		}
		received <- s
		return OutcomeContinue, nil
	})
	d.Handle(SyncDone, Direct, func(c *Context, h Header) (Outcome, error) {
		return OutcomeTerminal, nil
	})

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()

	var buf bytes.Buffer
	WriteString(&buf, "hello")
	if err := WriteHeader(client, Message, int64(buf.Len())); err != nil {
		t.Fatal(err)
	}
	if _, err := client.Write(buf.Bytes()); err != nil {
		t.Fatal(err)
	}

	select {
	case s := <-received:
		if s != "hello" {
			t.Fatalf("got %q", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for MESSAGE handler")
	}

	if err := WriteHeader(client, SyncDone, 0); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatcher to terminate")
	}
}
