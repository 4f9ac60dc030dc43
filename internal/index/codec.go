package index

import (
	"bytes"
	"fmt"

	"github.com/calmh/xdr"
)

// Encode serializes root and its full subtree to the stable on-disk
// schema, using XDR primitives. (The wire frame header does not use XDR;
// it is raw little-endian bytes.)
func Encode(root *FolderEntry) ([]byte, error) {
	var buf bytes.Buffer
	xw := xdr.NewWriter(&buf)
	if err := encodeFolder(xw, root); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode deserializes a folder tree previously written by Encode.
func Decode(data []byte) (*FolderEntry, error) {
	xr := xdr.NewReader(bytes.NewReader(data))
	f, err := decodeFolder(xr)
	if err != nil {
		return nil, err
	}
	if err := xr.Error(); err != nil {
		return nil, err
	}
	return f, nil
}

func encodeEntry(xw *xdr.Writer, e Entry) error {
	if _, err := xw.WriteString(e.Name); err != nil {
		return err
	}
	if _, err := xw.WriteUint32(e.Perm); err != nil {
		return err
	}
	if _, err := xw.WriteUint32(uint32(e.Type)); err != nil {
		return err
	}
	if _, err := xw.WriteString(e.ModifiedAt); err != nil {
		return err
	}
	if _, err := xw.WriteString(e.Hash); err != nil {
		return err
	}
	return nil
}

func decodeEntry(xr *xdr.Reader) Entry {
	return Entry{
		Name:       xr.ReadString(),
		Perm:       xr.ReadUint32(),
		Type:       FileType(xr.ReadUint32()),
		ModifiedAt: xr.ReadString(),
		Hash:       xr.ReadString(),
	}
}

func encodeFolder(xw *xdr.Writer, f *FolderEntry) error {
	if err := encodeEntry(xw, f.Entry); err != nil {
		return err
	}
	if _, err := xw.WriteUint32(uint32(len(f.Folders))); err != nil {
		return err
	}
	for _, sub := range f.Folders {
		if err := encodeFolder(xw, sub); err != nil {
			return err
		}
	}
	if _, err := xw.WriteUint32(uint32(len(f.Files))); err != nil {
		return err
	}
	for _, fe := range f.Files {
		if err := encodeEntry(xw, fe.Entry); err != nil {
			return err
		}
	}
	return nil
}

func decodeFolder(xr *xdr.Reader) (*FolderEntry, error) {
	f := &FolderEntry{Entry: decodeEntry(xr)}
	nFolders := xr.ReadUint32()
	for i := uint32(0); i < nFolders; i++ {
		sub, err := decodeFolder(xr)
		if err != nil {
			return nil, err
		}
		f.Folders = append(f.Folders, sub)
	}
	nFiles := xr.ReadUint32()
	for i := uint32(0); i < nFiles; i++ {
		f.Files = append(f.Files, &FileEntry{Entry: decodeEntry(xr)})
	}
	if err := xr.Error(); err != nil {
		return nil, fmt.Errorf("index: xdr decode: %w", err)
	}
	return f, nil
}
