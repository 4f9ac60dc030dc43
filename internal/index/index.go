package index

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/calmh/dirsync/internal/logger"
)

// hashCacheSize bounds the memoized hash->first-match lookup the
// reconciler leans on heavily when searching for rename candidates
// across a large tree.
const hashCacheSize = 4096

// Kind names which of the four roles an Index plays.
type Kind int

const (
	Local Kind = iota
	LocalLastRun
	Remote
	RemoteLastRun
)

func (k Kind) String() string {
	switch k {
	case Local:
		return "local"
	case LocalLastRun:
		return "local-last-run"
	case Remote:
		return "remote"
	case RemoteLastRun:
		return "remote-last-run"
	default:
		return "unknown"
	}
}

// Filename returns the on-disk filename colocated with the tree root for
// this kind, or "" for a value outside the four defined kinds.
func (k Kind) Filename() string {
	switch k {
	case Local:
		return ".folderindex"
	case LocalLastRun:
		return ".folderindex.last_run"
	case Remote:
		return ".remote.folderindex"
	case RemoteLastRun:
		return ".remote.folderindex.last_run"
	default:
		return ""
	}
}

// ReservedNames lists the on-disk artifacts that must never themselves
// be indexed.
var ReservedNames = map[string]bool{
	".folderindex":                 true,
	".folderindex.last_run":        true,
	".remote.folderindex":          true,
	".remote.folderindex.last_run": true,
	"sync_commands.sh":             true,
}

// Index is a top-level folder entry plus bookkeeping about its origin.
type Index struct {
	Root    *FolderEntry
	Kind    Kind
	loaded  bool // true if deserialized from disk
	mutated bool // true if changed since load/build

	Ignores *Ignores
	l       *logger.Logger

	hashCache *lru.Cache[string, *FileEntry]
}

// commonPathLengthWarning is the threshold past which many filesystems
// start rejecting paths outright (historically the Windows MAX_PATH
// limit minus headroom for a drive letter and filename extensions).
const commonPathLengthWarning = 255

func checkPathLength(l *logger.Logger, path string) {
	if len(path) > commonPathLengthWarning {
		l.Warnf("index: path %q is %d bytes, near common filesystem limits", path, len(path))
	}
}

// New returns an empty index of the given kind rooted at path.
func New(kind Kind, rootPath string) *Index {
	return &Index{
		Root: &FolderEntry{Entry: Entry{Name: rootPath, Type: TypeDirectory}},
		Kind: kind,
		l:    logger.Default,
	}
}

// MarkMutated records that the index has changed since it was last
// loaded or serialized, so Dump knows to rewrite it. It also drops the
// memoized hash-lookup cache, since a structural change invalidates it.
func (idx *Index) MarkMutated() {
	idx.mutated = true
	idx.hashCache = nil
}

// Mutated reports whether the index has unpersisted changes.
func (idx *Index) Mutated() bool { return idx.mutated }

// Build constructs or reloads the index at rootPath. If the kind's
// on-disk file exists, it's deserialized first. Only Local is then
// walked and reconciled against that baseline against the live
// filesystem; LocalLastRun, Remote and RemoteLastRun are loaded as-is
// from their files, or left as an empty index when the file is absent,
// and are never walked.
func Build(kind Kind, rootPath string) (*Index, error) {
	abs, err := filepath.Abs(rootPath)
	if err != nil {
		return nil, err
	}
	idx := New(kind, abs)

	fname := kind.Filename()
	if fname == "" {
		return idx, nil
	}
	full := filepath.Join(abs, fname)
	if data, err := os.ReadFile(full); err == nil {
		root, err := Decode(data)
		if err != nil {
			return nil, fmt.Errorf("index: decode %s: %w", full, err)
		}
		idx.Root = root
		idx.loaded = true
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	if kind == Local {
		ig, err := LoadIgnores(abs)
		if err != nil {
			return nil, err
		}
		idx.Ignores = ig
		if err := idx.walk(abs, idx.Root); err != nil {
			return nil, err
		}
	}
	return idx, nil
}

// Loaded reports whether this index was deserialized from an existing
// on-disk file, as opposed to being a fresh empty tree. Callers treat an
// unloaded LocalLastRun/RemoteLastRun index as "no previous run exists"
// and pass nil to Run rather than an empty tree.
func (idx *Index) Loaded() bool { return idx.loaded }

// walk reconciles seed (the previously loaded subtree, possibly nil)
// against the live filesystem at dir, mutating seed in place.
func (idx *Index) walk(dir string, seed *FolderEntry) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	seenFiles := map[string]bool{}
	seenFolders := map[string]bool{}

	for _, de := range entries {
		name := de.Name()
		if ReservedNames[name] {
			continue
		}
		full := filepath.Join(dir, name)
		fullName := filepath.Join(seed.Name, name)
		checkPathLength(idx.l, fullName)

		if idx.Ignores.Match(name) {
			continue
		}

		info, perm, mtimeStr, err := captureWithRetry(full)
		if err != nil {
			idx.l.Warnf("index: stat %s: %v", full, err)
			continue
		}

		if info.IsDir() {
			seenFolders[name] = true
			sub := seed.FindFolder(fullName)
			if sub == nil {
				sub = &FolderEntry{Entry: Entry{Name: fullName, Type: TypeDirectory}}
				seed.Folders = append(seed.Folders, sub)
				idx.mutated = true
			}
			if sub.Perm != perm || sub.ModifiedAt != mtimeStr {
				sub.Perm = perm
				sub.ModifiedAt = mtimeStr
				idx.mutated = true
			}
			if err := idx.walk(full, sub); err != nil {
				return err
			}
			continue
		}

		seenFiles[name] = true
		ft := classify(info)
		fe := seed.FindFile(fullName)
		if fe == nil {
			fe = &FileEntry{Entry: Entry{Name: fullName, Type: ft}}
			seed.Files = append(seed.Files, fe)
			idx.mutated = true
		}
		if fe.Perm != perm || fe.Type != ft || fe.ModifiedAt != mtimeStr {
			fe.Perm = perm
			fe.Type = ft
			fe.ModifiedAt = mtimeStr
			if ft == TypeRegular {
				h, err := hashFile(full)
				if err != nil {
					idx.l.Warnf("index: hash %s: %v", full, err)
					continue
				}
				fe.Hash = h
			}
			idx.mutated = true
		}
	}

	if pruneMissing(seed, seenFiles, seenFolders) {
		idx.mutated = true
	}
	return nil
}

func pruneMissing(seed *FolderEntry, seenFiles, seenFolders map[string]bool) bool {
	changed := false
	keptFiles := seed.Files[:0]
	for _, fe := range seed.Files {
		if seenFiles[filepath.Base(fe.Name)] {
			keptFiles = append(keptFiles, fe)
		} else {
			changed = true
		}
	}
	seed.Files = keptFiles

	keptFolders := seed.Folders[:0]
	for _, sub := range seed.Folders {
		if seenFolders[filepath.Base(sub.Name)] {
			keptFolders = append(keptFolders, sub)
		} else {
			changed = true
		}
	}
	seed.Folders = keptFolders
	return changed
}

// captureWithRetry stats path, re-stating if the observed modified time
// is after the capture instant — a sign the file was written to while we
// were looking at it.
func captureWithRetry(path string) (os.FileInfo, uint32, string, error) {
	for {
		captureTime := time.Now()
		info, err := os.Lstat(path)
		if err != nil {
			return nil, 0, "", err
		}
		if info.ModTime().After(captureTime) {
			continue
		}
		return info, uint32(info.Mode().Perm()), FormatMtime(info.ModTime()), nil
	}
}

func classify(info os.FileInfo) FileType {
	switch {
	case info.Mode()&os.ModeSymlink != 0:
		return TypeSymlink
	case info.Mode().IsRegular():
		return TypeRegular
	case info.IsDir():
		return TypeDirectory
	default:
		return TypeOther
	}
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Dump persists the index to its kind's on-disk file if it has been
// mutated since the last load. A zero-value path argument uses the
// index's own root.
func (idx *Index) Dump(path string) error {
	if !idx.mutated {
		return nil
	}
	fname := idx.Kind.Filename()
	if fname == "" {
		return fmt.Errorf("index: kind %s has no on-disk representation", idx.Kind)
	}
	if path == "" {
		path = idx.Root.Name
	}
	data, err := Encode(idx.Root)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(path, fname), data, 0o644); err != nil {
		return err
	}
	idx.mutated = false
	return nil
}

// GetDeletions returns the paths present in lastRun but absent from idx,
// recursively. Returns nil if lastRun is nil.
func GetDeletions(current, lastRun *Index) []string {
	if lastRun == nil {
		return nil
	}
	var out []string
	collectDeletions(current.Root, lastRun.Root, &out)
	return out
}

func collectDeletions(cur, last *FolderEntry, out *[]string) {
	for _, lf := range last.Files {
		if cur == nil || cur.FindFile(lf.Name) == nil {
			*out = append(*out, lf.Name)
		}
	}
	for _, lsub := range last.Folders {
		var csub *FolderEntry
		if cur != nil {
			csub = cur.FindFolder(lsub.Name)
		}
		if csub == nil {
			*out = append(*out, lsub.Name)
			collectDeletions(nil, lsub, out)
		} else {
			collectDeletions(csub, lsub, out)
		}
	}
}

// Count returns the total number of file entries under the index root,
// to the given recursion depth (-1 for unlimited).
func (idx *Index) Count(depth int) int {
	return countFiles(idx.Root, depth)
}

func countFiles(f *FolderEntry, depth int) int {
	n := len(f.Files)
	if depth == 0 {
		return n
	}
	next := depth - 1
	for _, sub := range f.Folders {
		n += countFiles(sub, next)
	}
	return n
}

// FindFileAtPath resolves a full path (as stored in Entry.Name) to a
// FileEntry, walking from the root.
func (idx *Index) FindFileAtPath(path string) *FileEntry {
	return findFileAtPath(idx.Root, path)
}

func findFileAtPath(f *FolderEntry, path string) *FileEntry {
	if fe := f.FindFile(path); fe != nil {
		return fe
	}
	for _, sub := range f.Folders {
		if fe := findFileAtPath(sub, path); fe != nil {
			return fe
		}
	}
	return nil
}

// FindFolderByName resolves a full path to a FolderEntry.
func (idx *Index) FindFolderByName(path string) *FolderEntry {
	if idx.Root.Name == path {
		return idx.Root
	}
	return findFolderByName(idx.Root, path)
}

func findFolderByName(f *FolderEntry, path string) *FolderEntry {
	if sub := f.FindFolder(path); sub != nil {
		return sub
	}
	for _, sub := range f.Folders {
		if found := findFolderByName(sub, path); found != nil {
			return found
		}
	}
	return nil
}

// FindFileByHash searches the whole tree for a file with the given
// hash, returning the first match when stopAtFirst is set. The
// stop-at-first path is memoized in a bounded LRU, since the reconciler
// calls this repeatedly while probing rename candidates across a pass.
func (idx *Index) FindFileByHash(hash string, stopAtFirst bool) *FileEntry {
	if stopAtFirst {
		if idx.hashCache == nil {
			idx.hashCache, _ = lru.New[string, *FileEntry](hashCacheSize)
		}
		if fe, ok := idx.hashCache.Get(hash); ok {
			return fe
		}
	}

	var found *FileEntry
	var walkFn func(f *FolderEntry)
	walkFn = func(f *FolderEntry) {
		if found != nil && stopAtFirst {
			return
		}
		for _, fe := range f.Files {
			if fe.Hash == hash {
				found = fe
				if stopAtFirst {
					return
				}
			}
		}
		for _, sub := range f.Folders {
			walkFn(sub)
			if found != nil && stopAtFirst {
				return
			}
		}
	}
	walkFn(idx.Root)
	if stopAtFirst {
		idx.hashCache.Add(hash, found)
	}
	return found
}

// RemovePath removes the file or folder identified by path from the
// index, returning true if something was removed.
func (idx *Index) RemovePath(path string) bool {
	removed := removePath(idx.Root, path)
	if removed {
		idx.MarkMutated()
	}
	return removed
}

func removePath(f *FolderEntry, path string) bool {
	if f.RemoveFile(path) != nil {
		return true
	}
	if f.RemoveFolder(path) != nil {
		return true
	}
	for _, sub := range f.Folders {
		if removePath(sub, path) {
			return true
		}
	}
	return false
}
