package version

import (
	"strings"
	"testing"
)

func TestInfo(t *testing.T) {
	v, c, d := Info()
	switch {
	case v == "":
		t.Error("version should not be empty")
	case c == "":
		t.Error("commit should not be empty")
	case d == "":
		t.Error("date should not be empty")
	}
}

func TestVersionMatchesInfo(t *testing.T) {
	v, _, _ := Info()
	if Version() != v {
		t.Errorf("Version() = %q, want %q", Version(), v)
	}
}

func TestFields(t *testing.T) {
	fields := Fields()
	for _, key := range []string{"version", "commit", "date"} {
		if fields[key] == "" || fields[key] == nil {
			t.Errorf("field %q should be set", key)
		}
	}
}

func TestString(t *testing.T) {
	s := String()
	for _, part := range []string{"version=", "commit=", "date="} {
		if !strings.Contains(s, part) {
			t.Errorf("String() = %q, missing %q", s, part)
		}
	}
}
