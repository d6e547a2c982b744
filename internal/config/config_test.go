package config

import (
	"testing"
	"time"
)

func TestFirstNonEmptySkipsBlank(t *testing.T) {
	if got := FirstNonEmpty("  ", "", "x", "y"); got != "x" {
		t.Fatalf("FirstNonEmpty = %q, want %q", got, "x")
	}
	if got := FirstNonEmpty("  ", ""); got != "" {
		t.Fatalf("FirstNonEmpty = %q, want empty", got)
	}
}

func TestDurationSecondsFallsBackOnInvalid(t *testing.T) {
	if got := DurationSeconds("not-a-number", 5*time.Second); got != 5*time.Second {
		t.Fatalf("DurationSeconds = %v, want 5s", got)
	}
	if got := DurationSeconds("10", 5*time.Second); got != 10*time.Second {
		t.Fatalf("DurationSeconds = %v, want 10s", got)
	}
}

func TestBool(t *testing.T) {
	for _, v := range []string{"1", "true", "TRUE", "yes", "on"} {
		if !Bool(v) {
			t.Fatalf("Bool(%q) = false, want true", v)
		}
	}
	for _, v := range []string{"", "0", "false", "nah"} {
		if Bool(v) {
			t.Fatalf("Bool(%q) = true, want false", v)
		}
	}
}

func TestUint64FallsBackOnInvalid(t *testing.T) {
	if got := Uint64("not-a-number", 7); got != 7 {
		t.Fatalf("Uint64 = %d, want 7", got)
	}
	if got := Uint64("42", 7); got != 42 {
		t.Fatalf("Uint64 = %d, want 42", got)
	}
}

func TestServerConfigListenAddressNormalizes(t *testing.T) {
	c := ServerConfig{ServerPort: "3000"}
	if got := c.ListenAddress(); got != ":3000" {
		t.Fatalf("ListenAddress = %q, want :3000", got)
	}
	c2 := ServerConfig{ServerPort: ":3000"}
	if got := c2.ListenAddress(); got != ":3000" {
		t.Fatalf("ListenAddress = %q, want :3000", got)
	}
}
