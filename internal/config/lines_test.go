package config

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLinesAppendRemove(t *testing.T) {
	l := NewLines("BR2_PACKAGE_FOO=y\n# BR2_PACKAGE_BAR is not set\n")
	l.Append("BR2_PACKAGE_BAZ=y")
	removed := l.Remove(func(s string) bool { return s == "BR2_PACKAGE_FOO=y" })
	if removed != 1 {
		t.Fatalf("Remove: got %d removed, want 1", removed)
	}
	got := l.String()
	want := "# BR2_PACKAGE_BAR is not set\nBR2_PACKAGE_BAZ=y\n"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("String() mismatch (-want +got):\n%s", diff)
	}
}

func TestLinesEnableIdempotent(t *testing.T) {
	l := NewLines("# BR2_PACKAGE_QT_LICENSE_APPROVED is not set\n")
	l.Enable("BR2_PACKAGE_QT_LICENSE_APPROVED")
	first := l.String()
	l.Enable("BR2_PACKAGE_QT_LICENSE_APPROVED")
	second := l.String()
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("Enable is not idempotent (-first +second):\n%s", diff)
	}
	if !l.Has("BR2_PACKAGE_QT_LICENSE_APPROVED=y") {
		t.Errorf("Enable did not produce an enabled line: %q", first)
	}
}

func TestLinesDrop(t *testing.T) {
	l := NewLines("BR2_PACKAGE_LTP_TESTSUITE=y\nBR2_PACKAGE_KEEP=y\n")
	n := l.Drop("BR2_PACKAGE_LTP_TESTSUITE")
	if n != 1 {
		t.Fatalf("Drop: got %d, want 1", n)
	}
	if l.Has("BR2_PACKAGE_LTP_TESTSUITE=y") {
		t.Errorf("Drop left the symbol set")
	}
	if !l.Has("BR2_PACKAGE_KEEP=y") {
		t.Errorf("Drop removed an unrelated line")
	}
}

func TestLinesContainsLineSubstring(t *testing.T) {
	l := NewLines("BR2_PACKAGE_QT=y\n# BR2_PACKAGE_QT_LICENSE_APPROVED is not set\n")
	if !l.ContainsLine("# BR2_PACKAGE_QT_LICENSE_APPROVED is not set\n") {
		t.Errorf("ContainsLine: expected substring match against rendered text")
	}
	if l.ContainsLine("BR2_PACKAGE_QT_LICENSE_APPROVED is not set\nextra") {
		t.Errorf("ContainsLine: matched a substring that isn't present")
	}
}
