package session

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/calmh/dirsync/internal/reconcile"
)

// exportScript writes a human-readable shell rendering of ops to path,
// one line per operation in the order they'll execute (or would have,
// for a dry run). It's a read-only companion artifact, never replayed
// by this program itself.
func exportScript(path string, ops []reconcile.Operation, physLocalRoot, physRemoteRoot string) error {
	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	b.WriteString("# planned sync operations; local paths are under " + physLocalRoot + "\n")
	b.WriteString("# and remote paths are under " + physRemoteRoot + " on the peer\n")
	for _, op := range ops {
		who := "local"
		if op.Remote {
			who = "remote"
		}
		switch op.Verb {
		case reconcile.Mkdir:
			fmt.Fprintf(&b, "# %s: mkdir -p %q\n", who, op.Source)
		case reconcile.Rmdir:
			fmt.Fprintf(&b, "# %s: rmdir %q\n", who, op.Source)
		case reconcile.Rm:
			fmt.Fprintf(&b, "# %s: rm %q\n", who, op.Source)
		case reconcile.Cp:
			fmt.Fprintf(&b, "# %s: cp %q %q\n", who, op.Source, op.Dest)
		case reconcile.Mv:
			fmt.Fprintf(&b, "# %s: mv %q %q\n", who, op.Source, op.Dest)
		case reconcile.Push:
			fmt.Fprintf(&b, "# push %q -> remote %q\n", op.Source, op.Dest)
		case reconcile.Fetch:
			fmt.Fprintf(&b, "# fetch remote %q -> %q\n", op.Source, op.Dest)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(b.String()), 0o755)
}
