package dirsyncutil

import "testing"

func TestHumanBytes(t *testing.T) {
	cases := map[int64]string{
		0:           "0 B",
		1023:        "1023 B",
		1024:        "1.00 KB",
		1536:        "1.50 KB",
		1 << 20:     "1.00 MB",
		1<<30 + 100: "1.00 GB",
	}
	for n, want := range cases {
		if got := HumanBytes(n); got != want {
			t.Errorf("HumanBytes(%d) = %q, want %q", n, got, want)
		}
	}
}
