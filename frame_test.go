package unwind

import "testing"

func TestFormatFrameWithSymbol(t *testing.T) {
	got := formatFrame("/usr/bin/true", "main", 0x12, 0x1012)
	want := " > /usr/bin/true(main+0x12) [0x1012]\n"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestFormatFrameWithoutSymbol(t *testing.T) {
	got := formatFrame("/lib/libc.so", "", 0, 0xabcd)
	want := " > /lib/libc.so() [0xabcd]\n"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestFormatErrorWithOffset(t *testing.T) {
	got := formatError("backtracing_error", 0x7fff0000)
	want := " > backtracing_error [0x7fff0000]\n"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestFormatErrorWithoutOffset(t *testing.T) {
	got := formatError("too many stack frames", 0)
	want := " > too many stack frames [0x0]\n"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
