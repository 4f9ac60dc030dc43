package session

import (
	"fmt"
	"io"
	"time"

	"github.com/calmh/dirsync/internal/buffer"
	"github.com/calmh/dirsync/internal/index"
	"github.com/calmh/dirsync/internal/wire"
)

// IndexPayload is the deserialized body of an INDEX_PAYLOAD frame.
type IndexPayload struct {
	RemoteRootPath string
	Deletions      []string
	Current        *index.FolderEntry
	LastRun        *index.FolderEntry // nil if the peer has no previous run
}

// sendIndexPayload builds and transmits an INDEX_PAYLOAD frame. The
// payload is assembled in a Buffer first so the frame's declared size is
// known before any bytes reach the wire, the same role the growing
// buffer plays for every other framed command.
func sendIndexPayload(w io.Writer, rootPath string, deletions []string, cur, last *index.Index) error {
	buf := buffer.New()
	if err := wire.WriteString(buf, rootPath); err != nil {
		return err
	}
	if err := wire.WriteUint64(buf, uint64(len(deletions))); err != nil {
		return err
	}
	for _, p := range deletions {
		if err := wire.WriteString(buf, p); err != nil {
			return err
		}
	}
	if err := writeEmbeddedIndex(buf, cur); err != nil {
		return err
	}
	if last.Loaded() {
		if err := wire.WriteUint64(buf, 1); err != nil {
			return err
		}
		if err := writeEmbeddedIndex(buf, last); err != nil {
			return err
		}
	} else {
		if err := wire.WriteUint64(buf, 0); err != nil {
			return err
		}
	}

	if err := wire.WriteHeader(w, wire.IndexPayload, buf.Size()); err != nil {
		return err
	}
	if _, err := buf.Seek(0, buffer.SeekSet); err != nil {
		return err
	}
	return buf.DumpToFile(w, buf.Size())
}

func writeEmbeddedIndex(w io.Writer, idx *index.Index) error {
	data, err := index.Encode(idx.Root)
	if err != nil {
		return err
	}
	if err := wire.WriteString(w, idx.Kind.Filename()); err != nil {
		return err
	}
	if err := wire.WriteString(w, index.FormatMtime(time.Now())); err != nil {
		return err
	}
	if err := wire.WriteUint64(w, uint64(len(data))); err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// readIndexPayload reads the body of an INDEX_PAYLOAD frame following
// the layout sendIndexPayload writes.
func readIndexPayload(r io.Reader, maxFileSize int64) (*IndexPayload, error) {
	rootPath, err := wire.ReadString(r, 1<<16)
	if err != nil {
		return nil, err
	}
	count, err := wire.ReadUint64(r)
	if err != nil {
		return nil, err
	}
	deletions := make([]string, 0, count)
	for i := uint64(0); i < count; i++ {
		p, err := wire.ReadString(r, 1<<16)
		if err != nil {
			return nil, err
		}
		deletions = append(deletions, p)
	}

	cur, err := readEmbeddedIndex(r, maxFileSize)
	if err != nil {
		return nil, err
	}

	present, err := wire.ReadUint64(r)
	if err != nil {
		return nil, err
	}
	var last *index.FolderEntry
	if present == 1 {
		last, err = readEmbeddedIndex(r, maxFileSize)
		if err != nil {
			return nil, err
		}
	}

	return &IndexPayload{RemoteRootPath: rootPath, Deletions: deletions, Current: cur, LastRun: last}, nil
}

func readEmbeddedIndex(r io.Reader, maxFileSize int64) (*index.FolderEntry, error) {
	if _, err := wire.ReadString(r, 1<<16); err != nil { // filename, informational only
		return nil, err
	}
	if _, err := wire.ReadString(r, 64); err != nil { // mtime, informational only
		return nil, err
	}
	size, err := wire.ReadUint64(r)
	if err != nil {
		return nil, err
	}
	if int64(size) > maxFileSize {
		return nil, fmt.Errorf("session: embedded index of %d bytes exceeds max file size %d", size, maxFileSize)
	}
	data := make([]byte, size)
	if size > 0 {
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, err
		}
	}
	return index.Decode(data)
}
