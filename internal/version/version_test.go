package version

import (
	"strings"
	"testing"
)

func TestShortCommit(t *testing.T) {
	t.Parallel()

	if got := shortCommit("0123456789abcdef"); got != "0123456789ab" {
		t.Fatalf("got %q", got)
	}
	if got := shortCommit("abc"); got != "abc" {
		t.Fatalf("got %q", got)
	}
}

func TestResolveNeverEmpty(t *testing.T) {
	t.Parallel()

	info := Resolve()
	if info.Version == "" {
		t.Fatalf("version must fall back to a placeholder")
	}
	if !strings.HasPrefix(String(), info.Version) {
		t.Fatalf("String() = %q, want prefix %q", String(), info.Version)
	}
}
