package index

import (
	"bufio"
	"os"
	"strings"

	"github.com/gobwas/glob"
)

// Ignores is a compiled set of .syncignore glob patterns.
type Ignores struct {
	globs []glob.Glob
}

// LoadIgnores reads .syncignore from root, if present. A missing file is
// not an error; it simply yields an empty pattern set.
func LoadIgnores(root string) (*Ignores, error) {
	f, err := os.Open(root + string(os.PathSeparator) + ".syncignore")
	if err != nil {
		if os.IsNotExist(err) {
			return &Ignores{}, nil
		}
		return nil, err
	}
	defer f.Close()

	ig := &Ignores{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		g, err := glob.Compile(line, '/')
		if err != nil {
			continue
		}
		ig.globs = append(ig.globs, g)
	}
	return ig, sc.Err()
}

// Match reports whether rel matches any configured ignore pattern. The
// index walk passes each entry's base name, not its path relative to the
// indexed root, so a pattern containing '/' never matches during a walk.
func (ig *Ignores) Match(rel string) bool {
	if ig == nil {
		return false
	}
	for _, g := range ig.globs {
		if g.Match(rel) {
			return true
		}
	}
	return false
}
