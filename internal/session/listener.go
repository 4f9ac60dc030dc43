package session

import (
	"context"
	"io"
	"net"
	"os"
	"path/filepath"

	"github.com/calmh/dirsync/internal/index"
	"github.com/calmh/dirsync/internal/wire"
)

// Listen runs the BIND/LISTEN/ACCEPT/DISPATCH/CLOSE state machine on
// addr. ACCEPT is single-client: once a session's DISPATCH loop returns,
// control goes back to ACCEPT, unless cfg.ExitAfterSync is set, in which
// case Listen returns after the first session closes.
func Listen(ctx context.Context, addr string, cfg Config) error {
	lc := net.ListenConfig{Control: reuseAddrPort}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		err = serveOne(ctx, conn, cfg)
		conn.Close()
		if err != nil {
			cfg.logger().Warnf("session: listener: %v", err)
		}
		if cfg.ExitAfterSync {
			return nil
		}
	}
}

func serveOne(ctx context.Context, conn net.Conn, cfg Config) error {
	wctx := wire.NewContext(conn, cfg.RootPath, cfg.MaxFileSize, cfg.RateHz)
	d := wire.NewDispatcher(wctx)
	lh := &listenerHandlers{ctx: wctx, cfg: cfg}

	d.Handle(wire.IndexFolder, wire.Direct, lh.handleIndexFolder)
	d.Handle(wire.MkdirRequest, wire.Direct, lh.handleMkdir)
	d.Handle(wire.RmRequest, wire.Direct, lh.handleRm)
	d.Handle(wire.RmdirRequest, wire.Direct, lh.handleRmdir)
	d.Handle(wire.FetchFileRequest, wire.Direct, lh.handleFetchFileRequest)
	d.Handle(wire.PushFile, wire.Direct, lh.handlePushFile)
	d.Handle(wire.RemoteLocalCopy, wire.Direct, lh.handleRemoteLocalCopy)
	d.Handle(wire.Message, wire.Direct, lh.handleMessage)
	d.Handle(wire.SyncComplete, wire.Direct, lh.handleSyncComplete)
	// A listener never executes an inbound INDEX_PAYLOAD or SYNC_DONE;
	// those are the initiator's to consume.
	d.Handle(wire.IndexPayload, wire.Illegal, nil)
	d.Handle(wire.SyncDone, wire.Illegal, nil)

	return d.Run(ctx)
}

// listenerHandlers is the ground-truth mutation executor: every handler
// here applies an inbound request directly to the local filesystem at
// cfg.RootPath.
type listenerHandlers struct {
	ctx *wire.Context
	cfg Config
}

func (lh *listenerHandlers) handleIndexFolder(c *wire.Context, h wire.Header) (wire.Outcome, error) {
	framesReceived.WithLabelValues(h.Opcode.String()).Inc()

	local, err := index.Build(index.Local, lh.cfg.RootPath)
	if err != nil {
		return wire.OutcomeFatal, err
	}
	localLast, err := index.Build(index.LocalLastRun, lh.cfg.RootPath)
	if err != nil {
		return wire.OutcomeFatal, err
	}
	var deletions []string
	if localLast.Loaded() {
		deletions = index.GetDeletions(local, localLast)
	}

	if err := c.AcquireTransmit(context.Background()); err != nil {
		return wire.OutcomeFatal, err
	}
	defer c.ReleaseTransmit()

	if err := sendIndexPayload(c.Conn, lh.cfg.RootPath, deletions, local, localLast); err != nil {
		return wire.OutcomeFatal, err
	}
	framesSent.WithLabelValues(wire.IndexPayload.String()).Inc()
	return wire.OutcomeContinue, nil
}

func (lh *listenerHandlers) handleMkdir(c *wire.Context, h wire.Header) (wire.Outcome, error) {
	framesReceived.WithLabelValues(h.Opcode.String()).Inc()
	path, err := wire.ReadString(c.Conn, 1<<16)
	if err != nil {
		return wire.OutcomeFatal, err
	}
	err = os.MkdirAll(filepath.Join(lh.cfg.RootPath, path), 0o755)
	operationsExecuted.WithLabelValues("mkdir", outcomeLabel(err)).Inc()
	if err != nil {
		lh.cfg.logger().Warnf("session: mkdir %s: %v", path, err)
	}
	return wire.OutcomeContinue, nil
}

func (lh *listenerHandlers) handleRm(c *wire.Context, h wire.Header) (wire.Outcome, error) {
	framesReceived.WithLabelValues(h.Opcode.String()).Inc()
	path, err := wire.ReadString(c.Conn, 1<<16)
	if err != nil {
		return wire.OutcomeFatal, err
	}
	err = os.Remove(filepath.Join(lh.cfg.RootPath, path))
	if err != nil && !os.IsNotExist(err) {
		operationsExecuted.WithLabelValues("rm", "error").Inc()
		lh.cfg.logger().Warnf("session: rm %s: %v", path, err)
	} else {
		operationsExecuted.WithLabelValues("rm", "ok").Inc()
	}
	return wire.OutcomeContinue, nil
}

func (lh *listenerHandlers) handleRmdir(c *wire.Context, h wire.Header) (wire.Outcome, error) {
	framesReceived.WithLabelValues(h.Opcode.String()).Inc()
	path, err := wire.ReadString(c.Conn, 1<<16)
	if err != nil {
		return wire.OutcomeFatal, err
	}
	err = os.Remove(filepath.Join(lh.cfg.RootPath, path))
	if err != nil && !os.IsNotExist(err) {
		operationsExecuted.WithLabelValues("rmdir", "error").Inc()
		lh.cfg.logger().Warnf("session: rmdir %s: %v", path, err)
	} else {
		operationsExecuted.WithLabelValues("rmdir", "ok").Inc()
	}
	return wire.OutcomeContinue, nil
}

func (lh *listenerHandlers) handleFetchFileRequest(c *wire.Context, h wire.Header) (wire.Outcome, error) {
	framesReceived.WithLabelValues(h.Opcode.String()).Inc()
	path, err := wire.ReadString(c.Conn, 1<<16)
	if err != nil {
		return wire.OutcomeFatal, err
	}
	if err := c.AcquireTransmit(context.Background()); err != nil {
		return wire.OutcomeFatal, err
	}
	defer c.ReleaseTransmit()

	full := filepath.Join(lh.cfg.RootPath, path)
	err = wire.SendFile(c.Conn, full, path, lh.cfg.MaxFileSize)
	operationsExecuted.WithLabelValues("fetch", outcomeLabel(err)).Inc()
	if err != nil {
		lh.cfg.logger().Warnf("session: send %s: %v", path, err)
		return wire.OutcomeContinue, nil
	}
	if fi, statErr := os.Stat(full); statErr == nil {
		bytesTransferred.WithLabelValues("sent").Add(float64(fi.Size()))
	}
	return wire.OutcomeContinue, nil
}

func (lh *listenerHandlers) handlePushFile(c *wire.Context, h wire.Header) (wire.Outcome, error) {
	framesReceived.WithLabelValues(h.Opcode.String()).Inc()
	rf, err := wire.ReceiveFile(c.Conn, lh.cfg.RootPath, lh.cfg.MaxFileSize)
	operationsExecuted.WithLabelValues("push", outcomeLabel(err)).Inc()
	if err != nil {
		lh.cfg.logger().Warnf("session: receive %s: %v", rf.Path, err)
		return wire.OutcomeContinue, nil
	}
	bytesTransferred.WithLabelValues("received").Add(float64(rf.Size))
	return wire.OutcomeContinue, nil
}

func (lh *listenerHandlers) handleRemoteLocalCopy(c *wire.Context, h wire.Header) (wire.Outcome, error) {
	framesReceived.WithLabelValues(h.Opcode.String()).Inc()
	src, err := wire.ReadString(c.Conn, 1<<16)
	if err != nil {
		return wire.OutcomeFatal, err
	}
	dst, err := wire.ReadString(c.Conn, 1<<16)
	if err != nil {
		return wire.OutcomeFatal, err
	}
	err = copyFile(filepath.Join(lh.cfg.RootPath, src), filepath.Join(lh.cfg.RootPath, dst))
	operationsExecuted.WithLabelValues("cp", outcomeLabel(err)).Inc()
	if err != nil {
		lh.cfg.logger().Warnf("session: cp %s -> %s: %v", src, dst, err)
	}
	return wire.OutcomeContinue, nil
}

func (lh *listenerHandlers) handleMessage(c *wire.Context, h wire.Header) (wire.Outcome, error) {
	framesReceived.WithLabelValues(h.Opcode.String()).Inc()
	text, err := wire.ReadString(c.Conn, 1<<20)
	if err != nil {
		return wire.OutcomeFatal, err
	}
	lh.cfg.logger().Warnf("session: peer message: %s", text)
	return wire.OutcomeContinue, nil
}

func (lh *listenerHandlers) handleSyncComplete(c *wire.Context, h wire.Header) (wire.Outcome, error) {
	framesReceived.WithLabelValues(h.Opcode.String()).Inc()

	// Re-walk now that every inbound mutation has landed, and persist the
	// result as both the current and next run's baseline.
	if final, err := index.Build(index.Local, lh.cfg.RootPath); err != nil {
		lh.cfg.logger().Warnf("session: re-index after sync: %v", err)
	} else {
		final.MarkMutated()
		if err := final.Dump(""); err != nil {
			lh.cfg.logger().Warnf("session: dump index: %v", err)
		}
		last := index.New(index.LocalLastRun, final.Root.Name)
		last.Root = final.Root
		last.MarkMutated()
		if err := last.Dump(""); err != nil {
			lh.cfg.logger().Warnf("session: dump last-run index: %v", err)
		}
	}

	if err := c.AcquireTransmit(context.Background()); err != nil {
		return wire.OutcomeFatal, err
	}
	err := wire.WriteHeader(c.Conn, wire.SyncDone, 0)
	c.ReleaseTransmit()
	if err != nil {
		return wire.OutcomeFatal, err
	}
	framesSent.WithLabelValues(wire.SyncDone.String()).Inc()
	return wire.OutcomeTerminal, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func outcomeLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
