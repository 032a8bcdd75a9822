package storage

import "testing"

func TestFileNameFromKey(t *testing.T) {
	cases := []struct {
		key  string
		want string
	}{
		{"0/abcdef0123456789", "abcdef0123456789"},
		{"12/abcdef0123456789", "abcdef0123456789"},
		{"no-slash", "no-slash"},
	}
	for _, c := range cases {
		if got := fileNameFromKey(c.key); got != c.want {
			t.Errorf("fileNameFromKey(%q) = %q, want %q", c.key, got, c.want)
		}
	}
}
