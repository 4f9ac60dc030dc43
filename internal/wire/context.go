package wire

import (
	"context"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// semaphore is a binary semaphore implemented as a size-1 buffered
// channel — the idiomatic Go rendition of a process-global binary
// semaphore, owned per session rather than kept as package state so
// tests can run sessions in isolation.
type semaphore chan struct{}

func newSemaphore() semaphore {
	s := make(semaphore, 1)
	s <- struct{}{}
	return s
}

func (s semaphore) Acquire(ctx context.Context, quit <-chan struct{}) error {
	select {
	case <-s:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-quit:
		return context.Canceled
	}
}

func (s semaphore) Release() {
	select {
	case s <- struct{}{}:
	default:
	}
}

// Context owns the per-session shared resources the Command Protocol
// needs: the connection, the transmit/receive binary semaphores, and
// the transmit rate limiter. It is handed to every command execution
// rather than kept as global state.
type Context struct {
	Conn net.Conn

	MaxFileSize int64
	DestRoot    string

	transmit semaphore
	receive  semaphore
	limiter  *rate.Limiter

	quitOnce sync.Once
	quitCh   chan struct{}
}

// NewContext builds a session context. rateHz of 0 disables rate
// limiting, matching the wire contract's "zero disables limiting".
func NewContext(conn net.Conn, destRoot string, maxFileSize int64, rateHz float64) *Context {
	c := &Context{
		Conn:        conn,
		DestRoot:    destRoot,
		MaxFileSize: maxFileSize,
		transmit:    newSemaphore(),
		receive:     newSemaphore(),
		quitCh:      make(chan struct{}),
	}
	if rateHz > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(rateHz), 1)
	}
	return c
}

// AcquireTransmit blocks until the transmit semaphore is held and, when
// rate limiting is enabled, until the limiter allows the next transmit.
func (c *Context) AcquireTransmit(ctx context.Context) error {
	if err := c.transmit.Acquire(ctx, c.quitCh); err != nil {
		return err
	}
	if err := c.BlockTransmit(ctx); err != nil {
		c.transmit.Release()
		return err
	}
	return nil
}

// ReleaseTransmit releases the transmit semaphore.
func (c *Context) ReleaseTransmit() { c.transmit.Release() }

// AcquireReceive blocks until the receive semaphore is held.
func (c *Context) AcquireReceive(ctx context.Context) error {
	return c.receive.Acquire(ctx, c.quitCh)
}

// ReleaseReceive releases the receive semaphore.
func (c *Context) ReleaseReceive() { c.receive.Release() }

// BlockTransmit waits for the rate limiter's next available slot, if
// rate limiting is enabled.
func (c *Context) BlockTransmit(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// Quit flags the dispatch loop to exit at its next iteration and wakes
// up anything blocked acquiring either semaphore.
func (c *Context) Quit() {
	c.quitOnce.Do(func() { close(c.quitCh) })
}

// Quitting reports whether Quit has been called.
func (c *Context) Quitting() bool {
	select {
	case <-c.quitCh:
		return true
	default:
		return false
	}
}

// headerPollInterval is the read-deadline granularity the dispatch loop
// uses while waiting for the next frame header, so it can periodically
// release the receive semaphore and let the other direction make
// progress during long quiet periods.
const headerPollInterval = 10 * time.Millisecond
