package bam

import "testing"

func TestVersionOrdering(t *testing.T) {
	t.Parallel()

	cases := []struct {
		v, o Version
		want bool
	}{
		{Version{6, 27}, VersionStdFloat, true},
		{Version{6, 26}, VersionStdFloat, false},
		{Version{7, 0}, VersionStdFloat, true},
		{Version{5, 0}, VersionEndian, true},
		{Version{4, 99}, VersionEndian, false},
		{Version{6, 21}, VersionOpcodes, true},
		{Version{6, 20}, VersionOpcodes, false},
	}
	for _, tc := range cases {
		if got := tc.v.AtLeast(tc.o); got != tc.want {
			t.Fatalf("%s >= %s: got %v want %v", tc.v, tc.o, got, tc.want)
		}
	}
}

func TestParseVersion(t *testing.T) {
	t.Parallel()

	v, err := ParseVersion(" 6.27 ")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if v != (Version{6, 27}) {
		t.Fatalf("version mismatch: got %s", v)
	}
	for _, bad := range []string{"6", "6.x", "70000.1", ""} {
		if _, err := ParseVersion(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestHeaderSizeByTarget(t *testing.T) {
	t.Parallel()

	if got := headerSize(Version{6, 27}); got != 6 {
		t.Fatalf("6.27: got %d", got)
	}
	if got := headerSize(Version{6, 0}); got != 5 {
		t.Fatalf("6.0: got %d", got)
	}
	if got := headerSize(Version{4, 3}); got != 4 {
		t.Fatalf("4.3: got %d", got)
	}
}

func TestOpcodeString(t *testing.T) {
	t.Parallel()

	if OpFileData.String() != "file_data" || Opcode(9).String() != "opcode(9)" {
		t.Fatalf("unexpected opcode names: %s %s", OpFileData, Opcode(9))
	}
}
