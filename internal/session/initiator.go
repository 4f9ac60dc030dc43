package session

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/calmh/dirsync/internal/buffer"
	"github.com/calmh/dirsync/internal/index"
	"github.com/calmh/dirsync/internal/reconcile"
	"github.com/calmh/dirsync/internal/wire"
)

// Connect runs the CONNECT/REQUEST_INDEX/DISPATCH/CLOSE state machine
// against addr. CONNECT fails fast, surfacing ECONNREFUSED and friends
// directly to the caller rather than retrying.
func Connect(ctx context.Context, addr string, cfg Config) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	wctx := wire.NewContext(conn, cfg.RootPath, cfg.MaxFileSize, cfg.RateHz)
	disp := wire.NewDispatcher(wctx)
	ih := &initiatorHandlers{ctx: wctx, cfg: cfg}

	disp.Handle(wire.Message, wire.Direct, ih.handleMessage)
	disp.Handle(wire.IndexPayload, wire.Worker, ih.handleIndexPayload)
	disp.Handle(wire.SyncDone, wire.Direct, func(c *wire.Context, h wire.Header) (wire.Outcome, error) {
		// Consumed internally by the IndexPayload worker in the normal
		// case; this is only reached if that worker never ran.
		return wire.OutcomeTerminal, nil
	})
	for _, op := range []wire.Opcode{
		wire.MkdirRequest, wire.RmRequest, wire.RmdirRequest,
		wire.FetchFileRequest, wire.PushFile, wire.RemoteLocalCopy, wire.SyncComplete,
	} {
		disp.Handle(op, wire.Illegal, nil)
	}

	if err := wctx.AcquireTransmit(ctx); err != nil {
		return err
	}
	err = wire.WriteHeader(conn, wire.IndexFolder, 0)
	wctx.ReleaseTransmit()
	if err != nil {
		return err
	}
	framesSent.WithLabelValues(wire.IndexFolder.String()).Inc()

	return disp.Run(ctx)
}

type initiatorHandlers struct {
	ctx *wire.Context
	cfg Config
}

func (ih *initiatorHandlers) handleMessage(c *wire.Context, h wire.Header) (wire.Outcome, error) {
	framesReceived.WithLabelValues(h.Opcode.String()).Inc()
	text, err := wire.ReadString(c.Conn, 1<<20)
	if err != nil {
		return wire.OutcomeFatal, err
	}
	ih.cfg.logger().Warnf("session: peer message: %s", text)
	return wire.OutcomeContinue, nil
}

// handleIndexPayload is the detached worker: it owns the receive
// semaphore from the moment it's invoked until the whole sync
// round-trip — both index streams, the reconciler run, every resulting
// operation (including the synchronous FETCH/PUSH exchanges that use
// raw unframed bytes), SYNC_COMPLETE, and the SYNC_DONE it reads back
// itself — has finished. Only then does it signal the dispatch loop to
// stop and release receive.
func (ih *initiatorHandlers) handleIndexPayload(c *wire.Context, h wire.Header) (wire.Outcome, error) {
	defer c.ReleaseReceive()
	defer c.Quit()

	framesReceived.WithLabelValues(h.Opcode.String()).Inc()

	payload, err := readIndexPayload(c.Conn, c.MaxFileSize)
	if err != nil {
		return wire.OutcomeFatal, err
	}

	remoteIdx := &index.Index{Root: payload.Current, Kind: index.Remote}
	var remoteLastIdx *index.Index
	if payload.LastRun != nil {
		remoteLastIdx = &index.Index{Root: payload.LastRun, Kind: index.RemoteLastRun}
	}
	remoteDeletions := payload.Deletions

	localIdx, err := index.Build(index.Local, ih.cfg.RootPath)
	if err != nil {
		return wire.OutcomeFatal, err
	}
	localLastBuilt, err := index.Build(index.LocalLastRun, ih.cfg.RootPath)
	if err != nil {
		return wire.OutcomeFatal, err
	}
	var localLastIdx *index.Index
	if localLastBuilt.Loaded() {
		localLastIdx = localLastBuilt
	}

	ops := reconcile.Run(localIdx, localLastIdx, remoteIdx, remoteLastIdx)
	if len(remoteDeletions) > 0 {
		ih.cfg.logger().Debugf("session: remote deletion log carried %d path(s)", len(remoteDeletions))
	}
	ih.cfg.logger().Infof("session: %d operation(s) planned", len(ops))

	physLocalRoot := localIdx.Root.Name
	physRemoteRoot := payload.RemoteRootPath

	promptShown := false
	proceed := true
	if ih.cfg.DryRun {
		proceed = false
	} else if !ih.cfg.AutoSync && len(ops) > 0 {
		promptShown = true
		if ih.cfg.Prompt != nil {
			proceed = ih.cfg.Prompt(len(ops))
		}
	}

	if ih.cfg.DryRun || promptShown {
		if err := exportScript(ih.cfg.scriptPath(), ops, physLocalRoot, physRemoteRoot); err != nil {
			ih.cfg.logger().Warnf("session: export %s: %v", ih.cfg.scriptPath(), err)
		}
	}

	if proceed {
		for _, op := range ops {
			if err := ih.execute(c, op, physLocalRoot, physRemoteRoot); err != nil {
				ih.cfg.logger().Warnf("session: %s %s: %v", op.Verb, op.Source, err)
			}
		}
	} else {
		ih.cfg.logger().Infof("session: dry run or declined, nothing executed")
	}

	if err := persistIndices(ih.cfg.RootPath, localIdx, remoteIdx); err != nil {
		ih.cfg.logger().Warnf("session: persist indices: %v", err)
	}

	if err := c.AcquireTransmit(context.Background()); err != nil {
		return wire.OutcomeFatal, err
	}
	err = wire.WriteHeader(c.Conn, wire.SyncComplete, 0)
	c.ReleaseTransmit()
	if err != nil {
		return wire.OutcomeFatal, err
	}
	framesSent.WithLabelValues(wire.SyncComplete.String()).Inc()

	done, err := wire.ReadHeader(c.Conn)
	if err != nil {
		return wire.OutcomeFatal, err
	}
	framesReceived.WithLabelValues(done.Opcode.String()).Inc()
	if done.Opcode != wire.SyncDone {
		ih.cfg.logger().Warnf("session: expected SYNC_DONE, got %s", done.Opcode)
	}

	return wire.OutcomeTerminal, nil
}

// execute applies a single planned operation: locally via the
// filesystem when op.Remote is false, or as an outbound protocol
// command when true.
func (ih *initiatorHandlers) execute(c *wire.Context, op reconcile.Operation, physLocalRoot, physRemoteRoot string) error {
	localize := func(p string) string { return filepath.Join(physLocalRoot, rootRel(p, physLocalRoot)) }
	remoteRel := func(p string) string { return rootRel(p, physRemoteRoot) }

	var err error
	switch op.Verb {
	case reconcile.Mkdir:
		if op.Remote {
			err = ih.sendPathRequest(c, wire.MkdirRequest, remoteRel(op.Source))
		} else {
			err = os.MkdirAll(localize(op.Source), 0o755)
		}
	case reconcile.Rmdir:
		if op.Remote {
			err = ih.sendPathRequest(c, wire.RmdirRequest, remoteRel(op.Source))
		} else {
			err = removeIfExists(localize(op.Source))
		}
	case reconcile.Rm:
		if op.Remote {
			err = ih.sendPathRequest(c, wire.RmRequest, remoteRel(op.Source))
		} else {
			err = removeIfExists(localize(op.Source))
		}
	case reconcile.Cp:
		if op.Remote {
			err = ih.sendRemoteLocalCopy(c, remoteRel(op.Source), remoteRel(op.Dest))
		} else {
			err = copyFile(localize(op.Source), localize(op.Dest))
		}
	case reconcile.Fetch:
		err = ih.fetch(c, remoteRel(op.Source), localize(op.Dest))
	case reconcile.Push:
		err = ih.push(c, localize(op.Source), remoteRel(op.Dest))
	case reconcile.Mv:
		if op.Remote {
			err = ih.sendRemoteLocalCopy(c, remoteRel(op.Source), remoteRel(op.Dest))
		} else {
			err = os.Rename(localize(op.Source), localize(op.Dest))
		}
	}
	operationsExecuted.WithLabelValues(op.Verb.String(), outcomeLabel(err)).Inc()
	return err
}

func (ih *initiatorHandlers) sendPathRequest(c *wire.Context, op wire.Opcode, path string) error {
	buf := buffer.New()
	if err := wire.WriteString(buf, path); err != nil {
		return err
	}
	return ih.sendFrame(c, op, buf)
}

func (ih *initiatorHandlers) sendRemoteLocalCopy(c *wire.Context, src, dst string) error {
	buf := buffer.New()
	if err := wire.WriteString(buf, src); err != nil {
		return err
	}
	if err := wire.WriteString(buf, dst); err != nil {
		return err
	}
	return ih.sendFrame(c, wire.RemoteLocalCopy, buf)
}

func (ih *initiatorHandlers) sendFrame(c *wire.Context, op wire.Opcode, buf *buffer.Buffer) error {
	if err := c.AcquireTransmit(context.Background()); err != nil {
		return err
	}
	defer c.ReleaseTransmit()
	if err := wire.WriteHeader(c.Conn, op, buf.Size()); err != nil {
		return err
	}
	if _, err := buf.Seek(0, buffer.SeekSet); err != nil {
		return err
	}
	if err := buf.DumpToFile(c.Conn, buf.Size()); err != nil {
		return err
	}
	framesSent.WithLabelValues(op.String()).Inc()
	return nil
}

// fetch requests path from the listener and reads its raw file-stream
// reply directly into destPath. Both semaphores are acquired in the
// order the wire contract prescribes: transmit to send the request,
// then (already held, for the worker's whole lifetime) receive to read
// the unframed reply that follows.
func (ih *initiatorHandlers) fetch(c *wire.Context, remotePath, destPath string) error {
	if err := ih.sendPathRequest(c, wire.FetchFileRequest, remotePath); err != nil {
		return err
	}
	// The reply names the file by remotePath, which ReceiveFile joins onto
	// the root it is given; strip that suffix so the file lands at destPath.
	destRoot := strings.TrimSuffix(destPath, filepath.FromSlash(remotePath))
	rf, err := wire.ReceiveFile(c.Conn, destRoot, c.MaxFileSize)
	if err != nil {
		return err
	}
	bytesTransferred.WithLabelValues("received").Add(float64(rf.Size))
	return nil
}

// push sends localPath's contents to the listener as a PUSH_FILE frame
// followed immediately by the raw file-stream bytes, all under one
// held transmit semaphore.
func (ih *initiatorHandlers) push(c *wire.Context, localPath, remotePath string) error {
	if err := c.AcquireTransmit(context.Background()); err != nil {
		return err
	}
	defer c.ReleaseTransmit()

	if err := wire.WriteHeader(c.Conn, wire.PushFile, 0); err != nil {
		return err
	}
	framesSent.WithLabelValues(wire.PushFile.String()).Inc()
	if err := wire.SendFile(c.Conn, localPath, remotePath, c.MaxFileSize); err != nil {
		return err
	}
	if fi, err := os.Stat(localPath); err == nil {
		bytesTransferred.WithLabelValues("sent").Add(float64(fi.Size()))
	}
	return nil
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// persistIndices writes the final, post-reconciliation state of both
// indices to disk as both the current and the next run's baseline.
func persistIndices(rootPath string, localIdx, remoteIdx *index.Index) error {
	localIdx.MarkMutated()
	if err := localIdx.Dump(""); err != nil {
		return err
	}
	localLast := index.New(index.LocalLastRun, localIdx.Root.Name)
	localLast.Root = localIdx.Root
	localLast.MarkMutated()
	if err := localLast.Dump(""); err != nil {
		return err
	}

	remoteIdx.MarkMutated()
	if err := remoteIdx.Dump(rootPath); err != nil {
		return err
	}
	remoteLast := index.New(index.RemoteLastRun, remoteIdx.Root.Name)
	remoteLast.Root = remoteIdx.Root
	remoteLast.MarkMutated()
	return remoteLast.Dump(rootPath)
}
