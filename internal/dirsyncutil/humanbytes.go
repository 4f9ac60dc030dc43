// Package dirsyncutil holds small helpers shared across packages that
// don't warrant a home of their own.
package dirsyncutil

import "fmt"

var units = []string{"B", "KB", "MB", "GB", "TB", "PB"}

// HumanBytes renders n as a human-readable byte count, e.g. "1.23 MB".
func HumanBytes(n int64) string {
	if n < 1024 {
		return fmt.Sprintf("%d B", n)
	}
	f := float64(n)
	i := 0
	for f >= 1024 && i < len(units)-1 {
		f /= 1024
		i++
	}
	return fmt.Sprintf("%.2f %s", f, units[i])
}
