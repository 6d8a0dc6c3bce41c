package safeio

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestSafePath_Valid(t *testing.T) {
	base := "/data/work"
	got, err := SafePath(base, "abc123/abc123.db")
	if err != nil {
		t.Fatalf("SafePath: %v", err)
	}
	want := filepath.Join(base, "abc123", "abc123.db")
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestSafePath_Traversal(t *testing.T) {
	for _, input := range []string{"../etc/passwd", "a/../../b", "..", "a/..%2f"} {
		if _, err := SafePath("/data/work", input); !errors.Is(err, ErrPathTraversal) {
			t.Errorf("SafePath(%q): err = %v, want ErrPathTraversal", input, err)
		}
	}
}

func TestSafePath_AbsoluteInputStaysUnderBase(t *testing.T) {
	got, err := SafePath("/data/work", "/abs/path.db")
	if err != nil {
		t.Fatalf("SafePath: %v", err)
	}
	if !strings.HasPrefix(got, "/data/work/") {
		t.Fatalf("escaped base: %q", got)
	}
}

func TestValidateIdentifier(t *testing.T) {
	tests := []struct {
		in string
		ok bool
	}{
		{"file_123", true},
		{"abc-def.v2", true},
		{"ABC123", true},
		{"", false},
		{".", false},
		{"..", false},
		{"a/b", false},
		{"a b", false},
		{"a;DROP", false},
		{strings.Repeat("x", 257), false},
	}
	for _, tt := range tests {
		err := ValidateIdentifier(tt.in)
		if (err == nil) != tt.ok {
			t.Errorf("ValidateIdentifier(%q): err = %v, want ok=%v", tt.in, err, tt.ok)
		}
	}
}

func TestLimitedReadAll(t *testing.T) {
	data, err := LimitedReadAll(strings.NewReader("hello"), 10)
	if err != nil {
		t.Fatalf("LimitedReadAll: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("data = %q", data)
	}

	if _, err := LimitedReadAll(strings.NewReader("hello world"), 5); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("err = %v, want ErrTooLarge", err)
	}
}
