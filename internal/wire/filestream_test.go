package wire

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestSendReceiveFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(src, []byte("hello world"), 0o644); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := SendFile(&buf, src, "a.txt", DefaultMaxFileSize); err != nil {
		t.Fatal(err)
	}

	destRoot := t.TempDir()
	rf, err := ReceiveFile(&buf, destRoot, DefaultMaxFileSize)
	if err != nil {
		t.Fatal(err)
	}
	if rf.Size != 11 {
		t.Fatalf("size = %d, want 11", rf.Size)
	}
	got, err := os.ReadFile(filepath.Join(destRoot, "a.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello world" {
		t.Fatalf("content = %q", got)
	}
}

func TestSendReceiveEmptyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "empty.txt")
	if err := os.WriteFile(src, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := SendFile(&buf, src, "empty.txt", DefaultMaxFileSize); err != nil {
		t.Fatal(err)
	}

	destRoot := t.TempDir()
	rf, err := ReceiveFile(&buf, destRoot, DefaultMaxFileSize)
	if err != nil {
		t.Fatal(err)
	}
	if rf.Size != 0 {
		t.Fatalf("size = %d, want 0", rf.Size)
	}
	if _, err := os.Stat(filepath.Join(destRoot, "empty.txt")); err != nil {
		t.Fatalf("empty file wasn't created: %v", err)
	}
}

func TestSendFileRejectsOverMax(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "big.bin")
	if err := os.WriteFile(src, make([]byte, 100), 0o644); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := SendFile(&buf, src, "big.bin", 99); err == nil {
		t.Fatal("expected error for file exceeding max size")
	}
}

func TestReceiveFileRejectsDeclaredSizeOverMax(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteString(&buf, "x.bin"); err != nil {
		t.Fatal(err)
	}
	if err := WriteString(&buf, "2024-01-02_10:00.00.000"); err != nil {
		t.Fatal(err)
	}
	if err := WriteUint64(&buf, 1000); err != nil {
		t.Fatal(err)
	}

	if _, err := ReceiveFile(&buf, t.TempDir(), 999); err == nil {
		t.Fatal("expected error for declared size exceeding max")
	}
}
