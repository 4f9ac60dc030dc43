package index

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCompareMtimeLengthMismatch(t *testing.T) {
	_, err := CompareMtime("2024-01-02_10:00.00.000", "2024-01-02_10:00.00")
	if err == nil {
		t.Fatal("expected error on length mismatch")
	}
}

func TestCompareMtimeOrdering(t *testing.T) {
	cmp, err := CompareMtime("2024-01-02_10:00.00.000", "2024-01-02_11:00.00.000")
	if err != nil {
		t.Fatal(err)
	}
	if cmp != -1 {
		t.Fatalf("cmp = %d, want -1", cmp)
	}
}

func TestBuildWalksAndHashes(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "sub", "b.txt"), []byte("world"), 0o644); err != nil {
		t.Fatal(err)
	}

	idx, err := Build(Local, dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(idx.Root.Files) != 1 || idx.Root.Files[0].Hash == "" {
		t.Fatalf("expected one hashed file at root, got %+v", idx.Root.Files)
	}
	if len(idx.Root.Folders) != 1 || len(idx.Root.Folders[0].Files) != 1 {
		t.Fatalf("expected one subfolder with one file")
	}
	if !idx.Mutated() {
		t.Fatal("expected fresh build to be marked mutated")
	}
}

func TestReservedNamesSkipped(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".folderindex"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	idx, err := Build(Local, dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(idx.Root.Files) != 0 {
		t.Fatalf("expected reserved file to be skipped, got %+v", idx.Root.Files)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	root := &FolderEntry{Entry: Entry{Name: "/tmp/x", Type: TypeDirectory}}
	root.Files = append(root.Files, &FileEntry{Entry: Entry{Name: "/tmp/x/a", Hash: "deadbeef", ModifiedAt: "2024-01-02_10:00.00.000"}})
	sub := &FolderEntry{Entry: Entry{Name: "/tmp/x/sub", Type: TypeDirectory}}
	sub.Files = append(sub.Files, &FileEntry{Entry: Entry{Name: "/tmp/x/sub/b"}})
	root.Folders = append(root.Folders, sub)

	data, err := Encode(root)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if got.Files[0].Hash != "deadbeef" {
		t.Fatalf("got hash %q", got.Files[0].Hash)
	}
	if len(got.Folders) != 1 || got.Folders[0].Files[0].Name != "/tmp/x/sub/b" {
		t.Fatalf("round trip lost subfolder content: %+v", got)
	}
}

func TestGetDeletions(t *testing.T) {
	cur := &Index{Root: &FolderEntry{Entry: Entry{Name: "/r"}}}
	last := &Index{Root: &FolderEntry{Entry: Entry{Name: "/r"}}}
	last.Root.Files = append(last.Root.Files, &FileEntry{Entry: Entry{Name: "/r/gone.txt"}})

	dels := GetDeletions(cur, last)
	if len(dels) != 1 || dels[0] != "/r/gone.txt" {
		t.Fatalf("got %v", dels)
	}
}

func TestFindFileByHashStopAtFirst(t *testing.T) {
	idx := &Index{Root: &FolderEntry{Entry: Entry{Name: "/r"}}}
	idx.Root.Files = append(idx.Root.Files, &FileEntry{Entry: Entry{Name: "/r/a", Hash: "H"}})
	sub := &FolderEntry{Entry: Entry{Name: "/r/sub"}}
	sub.Files = append(sub.Files, &FileEntry{Entry: Entry{Name: "/r/sub/b", Hash: "H"}})
	idx.Root.Folders = append(idx.Root.Folders, sub)

	fe := idx.FindFileByHash("H", true)
	if fe == nil || fe.Name != "/r/a" {
		t.Fatalf("got %v", fe)
	}
}
