package reconcile

import (
	"strings"

	"github.com/calmh/dirsync/internal/index"
	"github.com/calmh/dirsync/internal/logger"
)

// Run performs both directional passes of three-way reconciliation and
// returns the merged, deletion-filtered, priority-sorted operation list.
// localNow/localLast/remoteNow/remoteLast may have their in-memory trees
// mutated in place to reflect the planned operations, exactly as the
// second pass depends on.
func Run(localNow, localLast, remoteNow, remoteLast *index.Index) []Operation {
	localDeletions := index.GetDeletions(localNow, localLast)
	remoteDeletions := index.GetDeletions(remoteNow, remoteLast)

	pass1ops, pass1Deletions := reconcilePass(false, remoteNow, localNow, localLast)
	stripFromIndices(pass1Deletions, localNow, remoteNow)

	pass2ops, pass2Deletions := reconcilePass(true, localNow, remoteNow, remoteLast)
	stripFromIndices(pass2Deletions, localNow, remoteNow)

	ops := append(pass1ops, pass2ops...)
	ops = StripDeleted(ops, localDeletions)
	ops = StripDeleted(ops, remoteDeletions)
	SortByPriority(ops)
	return ops
}

// stripFromIndices removes each pure-deletion operation's source from
// whichever in-memory index still holds it, so a later pass (and the
// final persisted index) reflects the removal. Operations paired with a
// transfer are never passed in here: they already leave the index
// correct themselves, by updating the entry in place or re-splicing it.
// A source found in neither index is logged as a structural error.
func stripFromIndices(deletions []Operation, localNow, remoteNow *index.Index) {
	for _, op := range deletions {
		if !localNow.RemovePath(op.Source) && !remoteNow.RemovePath(op.Source) {
			logger.Default.Warnf("reconcile: %s %s is in neither index", op.Verb, op.Source)
		}
	}
}

// reconcilePass runs a single directional reconciliation from remote's
// view into local's view, returning every planned operation plus the
// subset of those that are pure deletions (no accompanying transfer or
// in-place index update), safe to strip from the in-memory trees before
// the next pass reads them. localLast may be nil.
func reconcilePass(direction bool, remote, local, localLast *index.Index) ([]Operation, []Operation) {
	c := &pass{
		direction:  direction,
		local:      local,
		localLast:  localLast,
		remoteRoot: remote.Root.Name,
		localRoot:  local.Root.Name,
		l:          logger.Default,
	}
	c.reconcileFolder(remote.Root, local.Root, localLastRoot(localLast))
	return c.ops, c.deletions
}

func localLastRoot(idx *index.Index) *index.FolderEntry {
	if idx == nil {
		return nil
	}
	return idx.Root
}

type pass struct {
	direction  bool
	local      *index.Index // destination index for this pass; its tree is mutated
	localLast  *index.Index // may be nil
	remoteRoot string
	localRoot  string
	l          *logger.Logger
	ops        []Operation
	deletions  []Operation // subset of ops that are pure removals, safe to strip from the index
}

// localPathFor rewrites a path captured under the remote tree's root
// prefix to the equivalent path under the local tree's root prefix.
func (c *pass) localPathFor(remotePath string) string {
	rel := strings.TrimPrefix(remotePath, c.remoteRoot)
	return c.localRoot + rel
}

func lookupFolder(parent *index.FolderEntry, name string) *index.FolderEntry {
	if parent == nil {
		return nil
	}
	return parent.FindFolder(name)
}

func lookupFile(parent *index.FolderEntry, name string) *index.FileEntry {
	if parent == nil {
		return nil
	}
	return parent.FindFile(name)
}

// reconcileFolder walks remoteFolder's children, comparing against
// localParent (the matching folder in the destination tree, or nil if
// this subtree doesn't exist there) and localLastParent (the matching
// folder in the destination's last-run tree, or nil).
func (c *pass) reconcileFolder(remoteFolder, localParent, localLastParent *index.FolderEntry) {
	for _, remoteSub := range remoteFolder.Folders {
		localPath := c.localPathFor(remoteSub.Name)
		localSub := lookupFolder(localParent, localPath)

		if localSub != nil {
			c.reconcileFolder(remoteSub, localSub, lookupFolder(localLastParent, localPath))
			continue
		}

		localLastSub := lookupFolder(localLastParent, localPath)
		if c.localLast == nil || localLastSub == nil {
			c.emit(Operation{Verb: Mkdir, Source: localPath, Remote: c.direction})
			newSub := &index.FolderEntry{Entry: index.Entry{Name: localPath, Type: index.TypeDirectory}}
			if localParent != nil {
				localParent.Folders = append(localParent.Folders, newSub)
			}
			c.reconcileFolder(remoteSub, newSub, localLastSub)
		} else {
			// existed previously, deleted locally: drain children first
			c.reconcileFolder(remoteSub, nil, localLastSub)
			c.emitDeletion(Operation{Verb: Rmdir, Source: remoteSub.Name, Remote: !c.direction})
		}
	}

	for _, remoteFile := range remoteFolder.Files {
		c.reconcileFile(remoteFile, localParent, localLastParent)
	}
}

func (c *pass) reconcileFile(remoteFile *index.FileEntry, localParent, localLastParent *index.FolderEntry) {
	localPath := c.localPathFor(remoteFile.Name)
	localFile := lookupFile(localParent, localPath)

	if localFile != nil {
		if localFile.Hash == remoteFile.Hash {
			return
		}
		cmp, err := index.CompareMtime(localFile.ModifiedAt, remoteFile.ModifiedAt)
		if err != nil {
			c.l.Warnf("reconcile: %v, skipping %s", err, localPath)
			return
		}
		if cmp == 0 {
			c.l.Warnf("reconcile: %s has identical timestamps but different hashes, skipping", localPath)
			return
		}
		if cmp > 0 {
			// local is newer; nothing to do in this pass, the opposite
			// pass will push it the other way.
			return
		}
		verb := Fetch
		if c.direction {
			verb = Push
		}
		c.emit(Operation{Verb: Rm, Source: localPath, Remote: c.direction})
		c.emit(Operation{Verb: verb, Source: remoteFile.Name, Dest: localPath, Remote: c.direction})
		localFile.Hash = remoteFile.Hash
		localFile.ModifiedAt = remoteFile.ModifiedAt
		localFile.Perm = remoteFile.Perm
		return
	}

	// missing locally
	localLastFile := lookupFile(localLastParent, localPath)
	if c.localLast == nil || localLastFile == nil {
		// either no last-run to consult, or the file is new there too:
		// first-time acquisition, try a hash-based local copy first.
		if found := c.local.FindFileByHash(remoteFile.Hash, true); found != nil {
			c.emit(Operation{Verb: Cp, Source: found.Name, Dest: localPath, Remote: c.direction})
			c.emit(Operation{Verb: Rm, Source: found.Name, Remote: c.direction})
			c.local.RemovePath(found.Name)
			c.spliceFile(localParent, localPath, remoteFile)
			return
		}
		verb := Fetch
		if c.direction {
			verb = Push
		}
		c.emit(Operation{Verb: verb, Source: remoteFile.Name, Dest: localPath, Remote: c.direction})
		c.spliceFile(localParent, localPath, remoteFile)
		return
	}

	// exists in local-last: deliberately deleted locally
	c.emitDeletion(Operation{Verb: Rm, Source: remoteFile.Name, Remote: !c.direction})
}

func (c *pass) spliceFile(localParent *index.FolderEntry, localPath string, src *index.FileEntry) {
	if localParent == nil {
		return
	}
	fe := &index.FileEntry{Entry: index.Entry{
		Name:       localPath,
		Perm:       src.Perm,
		Type:       src.Type,
		ModifiedAt: src.ModifiedAt,
		Hash:       src.Hash,
	}}
	localParent.Files = append(localParent.Files, fe)
	c.local.MarkMutated()
}

func (c *pass) emit(op Operation) {
	c.ops = append(c.ops, op)
}

// emitDeletion records a pure removal — one not paired with a transfer
// or an in-place index update — so Run can safely strip it from the
// in-memory index afterward without losing a file that was actually
// kept, such as the rm half of a conflict overwrite or a hash-copy rename.
func (c *pass) emitDeletion(op Operation) {
	c.ops = append(c.ops, op)
	c.deletions = append(c.deletions, op)
}
