package guestcore

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestWrapWords(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		width int
		want  []string
	}{
		{"empty", "", 10, []string{""}},
		{"fits", "Invalid trap", 20, []string{"Invalid trap"}},
		{"wraps", "Read 4 bytes(s) from invalid 68K address", 16, []string{"Read 4 bytes(s)", "from invalid 68K", "address"}},
		{"long word split", "0x0000000000000000 ok", 8, []string{"0x000000", "00000000", "00 ok"}},
		{"collapses spaces", "a   b\n c", 10, []string{"a b c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, wrapWords(tt.in, tt.width)); diff != "" {
				t.Errorf("wrapWords (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBoxAlert(t *testing.T) {
	got := boxAlert("Fatal Alert", "trap 0x0222 unknown", 24)
	want := strings.Join([]string{
		"+----------------------+",
		"| Fatal Alert          |",
		"+----------------------+",
		"| trap 0x0222 unknown  |",
		"+----------------------+",
		"",
	}, "\n")
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("boxAlert (-want +got):\n%s", diff)
	}
	for _, line := range strings.Split(strings.TrimSuffix(got, "\n"), "\n") {
		if len(line) != 24 {
			t.Errorf("line %q is %d wide", line, len(line))
		}
	}
}

func TestWriterAlerter(t *testing.T) {
	var buf bytes.Buffer
	a := NewWriterAlerter(&buf)
	a.FatalAlert("first")
	a.FatalAlert("second")
	want := "FATAL ALERT: first\nFATAL ALERT: second\n"
	if buf.String() != want {
		t.Errorf("output = %q, want %q", buf.String(), want)
	}
}
