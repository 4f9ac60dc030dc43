package wire

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/calmh/dirsync/internal/logger"
	"github.com/thejerf/suture/v4"
)

// HandlerClass tells the dispatcher how to run a registered handler.
type HandlerClass int

const (
	// Direct handlers run inline on the dispatch loop's own goroutine.
	Direct HandlerClass = iota
	// Worker handlers are moved to a detached goroutine so the dispatch
	// loop can return to draining incoming frames immediately. The
	// handler owns the receive semaphore until it releases it.
	Worker
	// Illegal opcodes are never valid in this role; their declared
	// payload is drained and discarded.
	Illegal
)

// Handler executes one command's body. It is responsible for reading
// any payload bytes itself (including, for PUSH_FILE and INDEX_PAYLOAD,
// the raw file-stream bytes that follow an otherwise-empty frame) and,
// for Worker-class handlers, for releasing the receive semaphore itself
// once fully drained.
type Handler func(ctx *Context, h Header) (Outcome, error)

type registration struct {
	class HandlerClass
	fn    Handler
}

// Dispatcher classifies and runs commands arriving on a Context's
// connection according to a registered handler set. Worker-class
// handlers run under a suture supervisor rather than bare goroutines,
// the same supervised-service discipline this codebase uses for its
// other long-running or fire-and-forget work.
type Dispatcher struct {
	ctx      *Context
	handlers map[Opcode]registration
	sup      *suture.Supervisor
}

// NewDispatcher builds a Dispatcher bound to ctx with no handlers
// registered; use Handle to register each opcode's behavior.
func NewDispatcher(ctx *Context) *Dispatcher {
	return &Dispatcher{
		ctx:      ctx,
		handlers: make(map[Opcode]registration),
		sup:      suture.NewSimple("wire-dispatch"),
	}
}

// oneShot adapts a single run of a Worker handler to suture.Service. It
// always reports ErrDoNotRestart: a completed command isn't a failure
// the supervisor should retry, it's finished.
type oneShot func()

func (f oneShot) Serve(ctx context.Context) error {
	f()
	return suture.ErrDoNotRestart
}

// Handle registers fn to run opcode-tagged frames with the given class.
func (d *Dispatcher) Handle(op Opcode, class HandlerClass, fn Handler) {
	d.handlers[op] = registration{class: class, fn: fn}
}

// Run drives the receive-dispatch loop until ctx is canceled, the
// connection reports a fatal error, or a handler returns OutcomeFatal or
// OutcomeTerminal.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.sup.ServeBackground(ctx)

	for {
		if d.ctx.Quitting() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		h, ok, err := d.waitForHeader(ctx)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		reg, known := d.handlers[h.Opcode]
		if !known || reg.class == Illegal {
			if err := d.drainUnknown(h); err != nil {
				return err
			}
			d.ctx.ReleaseReceive()
			continue
		}

		switch reg.class {
		case Direct:
			outcome, err := d.runHandler(reg.fn, h)
			if err != nil {
				logger.Default.Warnf("wire: %s: %v", h.Opcode, err)
			}
			switch outcome {
			case OutcomeFatal:
				return err
			case OutcomeTerminal:
				return nil
			}
		case Worker:
			fn, opcode := reg.fn, h.Opcode
			d.sup.Add(oneShot(func() {
				if _, err := fn(d.ctx, h); err != nil {
					logger.Default.Warnf("wire: %s (worker): %v", opcode, err)
				}
			}))
		}
	}
}

func (d *Dispatcher) runHandler(fn Handler, h Header) (Outcome, error) {
	defer d.ctx.ReleaseReceive()
	return fn(d.ctx, h)
}

func (d *Dispatcher) drainUnknown(h Header) error {
	n := h.PayloadLen()
	if n <= 0 {
		return nil
	}
	_, err := io.CopyN(io.Discard, d.ctx.Conn, n)
	return err
}

// waitForHeader implements the framing algorithm's receiver loop: the
// receive lock is acquired before every read attempt, including the
// very first probe byte, and released again if nothing arrived within
// headerPollInterval. This matters beyond fairness — a detached Worker
// handler (INDEX_PAYLOAD) holds the receive lock across raw,
// unframed file-stream reads for the whole duration of a sync
// round-trip, and physical conn.Read calls from this loop must never
// happen while that lock is held, or the two goroutines race for the
// same bytes on the socket. Once the first byte of a real header
// arrives, the lock is held continuously through the rest of the
// 9 bytes and handed to the caller still held — never released
// mid-header.
func (d *Dispatcher) waitForHeader(ctx context.Context) (Header, bool, error) {
	conn := d.ctx.Conn
	first := make([]byte, 1)

	for {
		if d.ctx.Quitting() {
			return Header{}, false, nil
		}
		select {
		case <-ctx.Done():
			return Header{}, false, ctx.Err()
		default:
		}

		if err := d.ctx.AcquireReceive(ctx); err != nil {
			if d.ctx.Quitting() {
				return Header{}, false, nil
			}
			return Header{}, false, err
		}

		if err := conn.SetReadDeadline(time.Now().Add(headerPollInterval)); err != nil {
			d.ctx.ReleaseReceive()
			return Header{}, false, err
		}
		n, err := conn.Read(first)
		if n == 1 {
			break
		}
		d.ctx.ReleaseReceive()
		if err != nil && !isTimeout(err) {
			return Header{}, false, err
		}
	}

	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		d.ctx.ReleaseReceive()
		return Header{}, false, err
	}

	rest := make([]byte, HeaderSize-1)
	if _, err := io.ReadFull(conn, rest); err != nil {
		d.ctx.ReleaseReceive()
		return Header{}, false, err
	}
	var raw [HeaderSize]byte
	raw[0] = first[0]
	copy(raw[1:], rest)

	h, err := parseHeaderBytes(raw)
	if err != nil {
		d.ctx.ReleaseReceive()
		return Header{}, false, err
	}
	return h, true, nil
}

func parseHeaderBytes(raw [HeaderSize]byte) (Header, error) {
	return ReadHeader(&sliceReader{b: raw[:]})
}

// sliceReader adapts a byte slice to io.Reader for parseHeaderBytes.
type sliceReader struct{ b []byte }

func (r *sliceReader) Read(p []byte) (int, error) {
	if len(r.b) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.b)
	r.b = r.b[n:]
	return n, nil
}

func isTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}
