// Package session implements the two state machines the wire protocol
// runs on top of: the listener, which executes every mutation a peer
// asks of it, and the initiator, which builds both indices, runs the
// reconciler, and drives execution of the resulting operations.
package session

import (
	"path/filepath"
	"strings"

	"github.com/calmh/dirsync/internal/logger"
)

// Config gathers the knobs both roles read from the CLI.
type Config struct {
	RootPath       string
	RateHz         float64
	AutoSync       bool // -y: skip the confirmation prompt
	DryRun         bool
	ExitAfterSync  bool // listener only: return after one SYNC_DONE
	MaxFileSize    int64
	ScriptPath     string // sync_commands.sh destination; defaults to RootPath/sync_commands.sh
	Prompt         func(n int) bool
	l              *logger.Logger
}

func (c *Config) logger() *logger.Logger {
	if c.l != nil {
		return c.l
	}
	return logger.Default
}

func (c *Config) scriptPath() string {
	if c.ScriptPath != "" {
		return c.ScriptPath
	}
	return filepath.Join(c.RootPath, "sync_commands.sh")
}

// rootRel strips root from p and returns the remainder with any leading
// path separator removed, so it can be rejoined under a different root
// or sent over the wire as a relative path. Entries store full paths as
// captured, so every Operation field is rooted in one of exactly two
// prefixes: the local peer's root or the path the remote peer reported
// in its INDEX_PAYLOAD.
func rootRel(p, root string) string {
	rel := strings.TrimPrefix(p, root)
	return strings.TrimPrefix(rel, string(filepath.Separator))
}
