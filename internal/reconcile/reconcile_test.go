package reconcile

import (
	"testing"

	"github.com/calmh/dirsync/internal/index"
)

func newIndex(kind index.Kind, root string) *index.Index {
	return &index.Index{Root: &index.FolderEntry{Entry: index.Entry{Name: root, Type: index.TypeDirectory}}, Kind: kind}
}

func addFile(f *index.FolderEntry, name, hash, mtime string) {
	f.Files = append(f.Files, &index.FileEntry{Entry: index.Entry{Name: name, Hash: hash, ModifiedAt: mtime, Type: index.TypeRegular}})
}

func addFolder(f *index.FolderEntry, name string) *index.FolderEntry {
	sub := &index.FolderEntry{Entry: index.Entry{Name: name, Type: index.TypeDirectory}}
	f.Folders = append(f.Folders, sub)
	return sub
}

func hasOp(ops []Operation, verb Verb, src, dst string) bool {
	for _, op := range ops {
		if op.Verb == verb && op.Source == src && (dst == "" || op.Dest == dst) {
			return true
		}
	}
	return false
}

func TestRenameViaHashCopy(t *testing.T) {
	local := newIndex(index.Local, "/r")
	localSub := addFolder(local.Root, "/r/a")
	addFile(localSub, "/r/a/foo.bin", "H", "2024-01-02_10:00.00.000")
	remote := newIndex(index.Remote, "/r")
	remoteSub := addFolder(remote.Root, "/r/a")
	addFile(remoteSub, "/r/a/bar.bin", "H", "2024-01-02_10:00.00.000")

	ops := Run(local, nil, remote, nil)

	if !hasOp(ops, Cp, "/r/a/foo.bin", "/r/a/bar.bin") {
		t.Fatalf("missing cp: %+v", ops)
	}
	if !hasOp(ops, Rm, "/r/a/foo.bin", "") {
		t.Fatalf("missing rm: %+v", ops)
	}
	cpIdx, rmIdx := -1, -1
	for i, op := range ops {
		if op.Verb == Cp {
			cpIdx = i
		}
		if op.Verb == Rm && op.Source == "/r/a/foo.bin" {
			rmIdx = i
		}
	}
	if cpIdx == -1 || rmIdx == -1 || cpIdx > rmIdx {
		t.Fatalf("cp must precede rm: %+v", ops)
	}
}

func TestConflictingEditsNewerWins(t *testing.T) {
	local := newIndex(index.Local, "/r")
	addFile(local.Root, "/r/x.txt", "H1", "2024-01-02_10:00.00.000")
	remote := newIndex(index.Remote, "/r")
	addFile(remote.Root, "/r/x.txt", "H2", "2024-01-02_11:00.00.000")

	ops := Run(local, nil, remote, nil)

	if !hasOp(ops, Rm, "/r/x.txt", "") {
		t.Fatalf("missing rm: %+v", ops)
	}
	if !hasOp(ops, Fetch, "/r/x.txt", "/r/x.txt") {
		t.Fatalf("missing fetch: %+v", ops)
	}
	if local.Root.Files[0].Hash != "H2" {
		t.Fatalf("local index not updated: %+v", local.Root.Files[0])
	}
}

func TestDeletionPropagation(t *testing.T) {
	local := newIndex(index.Local, "/r")
	localLast := newIndex(index.LocalLastRun, "/r")
	addFile(localLast.Root, "/r/y.txt", "H", "2024-01-02_10:00.00.000")
	remote := newIndex(index.Remote, "/r")
	addFile(remote.Root, "/r/y.txt", "H", "2024-01-02_10:00.00.000")
	remoteLast := newIndex(index.RemoteLastRun, "/r")
	addFile(remoteLast.Root, "/r/y.txt", "H", "2024-01-02_10:00.00.000")

	ops := Run(local, localLast, remote, remoteLast)

	found := false
	for _, op := range ops {
		if op.Verb == Rm && op.Source == "/r/y.txt" && op.Remote {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected rm y.txt on remote: %+v", ops)
	}
}

func TestFolderAddition(t *testing.T) {
	local := newIndex(index.Local, "/r")
	remote := newIndex(index.Remote, "/r")
	sub := addFolder(remote.Root, "/r/sub")
	addFile(sub, "/r/sub/a.bin", "H", "2024-01-02_10:00.00.000")

	ops := Run(local, nil, remote, nil)

	if !hasOp(ops, Mkdir, "/r/sub", "") {
		t.Fatalf("missing mkdir: %+v", ops)
	}
	if !hasOp(ops, Fetch, "/r/sub/a.bin", "/r/sub/a.bin") {
		t.Fatalf("missing fetch: %+v", ops)
	}
}

func TestIdenticalIndicesEmitNothing(t *testing.T) {
	local := newIndex(index.Local, "/r")
	addFile(local.Root, "/r/same.txt", "H", "2024-01-02_10:00.00.000")
	remote := newIndex(index.Remote, "/r")
	addFile(remote.Root, "/r/same.txt", "H", "2024-01-02_10:00.00.000")
	localLast := newIndex(index.LocalLastRun, "/r")
	addFile(localLast.Root, "/r/same.txt", "H", "2024-01-02_10:00.00.000")
	remoteLast := newIndex(index.RemoteLastRun, "/r")
	addFile(remoteLast.Root, "/r/same.txt", "H", "2024-01-02_10:00.00.000")

	ops := Run(local, localLast, remote, remoteLast)
	if len(ops) != 0 {
		t.Fatalf("expected no ops, got %+v", ops)
	}
}

func TestIdenticalHashDifferentMetadataNoTransfer(t *testing.T) {
	local := newIndex(index.Local, "/r")
	addFile(local.Root, "/r/f.txt", "H", "2024-01-02_10:00.00.000")
	remote := newIndex(index.Remote, "/r")
	addFile(remote.Root, "/r/f.txt", "H", "2024-01-02_12:00.00.000")

	ops := Run(local, nil, remote, nil)
	if len(ops) != 0 {
		t.Fatalf("expected no transfer for identical hash, got %+v", ops)
	}
}

func TestMtimeLengthMismatchSkipsOperation(t *testing.T) {
	local := newIndex(index.Local, "/r")
	addFile(local.Root, "/r/f.txt", "H1", "2024-01-02_10:00.00.000")
	remote := newIndex(index.Remote, "/r")
	addFile(remote.Root, "/r/f.txt", "H2", "2024-01-02_10:00")

	ops := Run(local, nil, remote, nil)
	if len(ops) != 0 {
		t.Fatalf("expected no emitted op on mtime mismatch, got %+v", ops)
	}
}

func TestSortByPriority(t *testing.T) {
	ops := []Operation{
		{Verb: Rm, Source: "a"},
		{Verb: Mv, Source: "b"},
		{Verb: Cp, Source: "c"},
	}
	SortByPriority(ops)
	if ops[0].Verb != Cp || ops[1].Verb != Mv || ops[2].Verb != Rm {
		t.Fatalf("unexpected order: %+v", ops)
	}
}

func TestStripDeleted(t *testing.T) {
	ops := []Operation{
		{Verb: Fetch, Source: "a"},
		{Verb: Fetch, Source: "b"},
	}
	out := StripDeleted(ops, []string{"a"})
	if len(out) != 1 || out[0].Source != "b" {
		t.Fatalf("got %+v", out)
	}
}
