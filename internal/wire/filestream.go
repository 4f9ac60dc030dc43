package wire

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/calmh/dirsync/internal/dirsyncutil"
	"github.com/calmh/dirsync/internal/index"
	"github.com/calmh/dirsync/internal/logger"
)

// DefaultMaxFileSize is the default ceiling on a single file-stream
// payload: 64 GiB minus one byte.
const DefaultMaxFileSize = 64<<30 - 1

// progressInterval matches the cadence at which the original codebase's
// transfer loop logged human-readable progress.
const progressInterval = 200 * time.Millisecond

// SendFile writes the file-stream sub-protocol for the file at
// localPath (relative name wirePath, as known to the peer) to w:
// path_len||path||mtime_len||mtime||file_size||bytes.
func SendFile(w io.Writer, localPath, wirePath string, maxFileSize int64) error {
	info, err := os.Stat(localPath)
	if err != nil {
		return err
	}
	if info.Size() > maxFileSize {
		return fmt.Errorf("wire: %s is %d bytes, exceeds max file size %d", localPath, info.Size(), maxFileSize)
	}

	if err := WriteString(w, wirePath); err != nil {
		return err
	}
	mtime := index.FormatMtime(info.ModTime())
	if err := WriteString(w, mtime); err != nil {
		return err
	}
	if err := WriteUint64(w, uint64(info.Size())); err != nil {
		return err
	}
	if info.Size() == 0 {
		return nil
	}

	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	return copyWithProgress(w, f, info.Size(), wirePath)
}

func copyWithProgress(w io.Writer, r io.Reader, total int64, label string) error {
	buf := make([]byte, 256*1024)
	var sent int64
	last := time.Time{}
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
			sent += int64(n)
			if now := time.Now(); now.Sub(last) >= progressInterval {
				logger.Default.Debugf("wire: %s: %s / %s", label, dirsyncutil.HumanBytes(sent), dirsyncutil.HumanBytes(total))
				last = now
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}

// ReceivedFile describes a file landed by ReceiveFile.
type ReceivedFile struct {
	Path       string
	ModifiedAt string
	Size       int64
}

// ErrFileTooLarge is returned when a file-stream header declares a size
// beyond the configured maximum.
var ErrFileTooLarge = errors.New("wire: declared file size exceeds maximum")

// ReceiveFile reads the file-stream sub-protocol from r and writes the
// result under destRoot, applying the transmitted mtime on a best-effort
// basis once the bytes have landed. A size of exactly 0 creates an empty
// file without reading any payload bytes ("touch"-equivalent).
func ReceiveFile(r io.Reader, destRoot string, maxFileSize int64) (ReceivedFile, error) {
	wirePath, err := ReadString(r, 1<<16)
	if err != nil {
		return ReceivedFile{}, err
	}
	mtimeStr, err := ReadString(r, 64)
	if err != nil {
		return ReceivedFile{}, err
	}
	size, err := ReadUint64(r)
	if err != nil {
		return ReceivedFile{}, err
	}
	if int64(size) > maxFileSize {
		return ReceivedFile{}, fmt.Errorf("%w: %d > %d", ErrFileTooLarge, size, maxFileSize)
	}

	full := filepath.Join(destRoot, wirePath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return ReceivedFile{}, err
	}
	f, err := os.Create(full)
	if err != nil {
		return ReceivedFile{}, err
	}

	if size > 0 {
		if _, err := io.CopyN(f, r, int64(size)); err != nil {
			f.Close()
			return ReceivedFile{}, err
		}
	}
	if err := f.Close(); err != nil {
		return ReceivedFile{}, err
	}

	if t, err := time.Parse(index.MtimeLayout, mtimeStr); err == nil {
		if err := os.Chtimes(full, t, t); err != nil {
			logger.Default.Warnf("wire: chtimes %s: %v", full, err)
		}
	}

	return ReceivedFile{Path: wirePath, ModifiedAt: mtimeStr, Size: int64(size)}, nil
}
