package buildrun

import (
	"context"
	"os/exec"
	"testing"
)

func TestExitCodeMapsExitStatus(t *testing.T) {
	tests := []struct {
		name string
		arg  string
		want int
	}{
		{"success", "exit 0", 0},
		{"timeout sentinel", "exit 124", timeoutExitCode},
		{"generic failure", "exit 2", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := exec.Command("sh", "-c", tt.arg).Run()
			if got := exitCode(err); got != tt.want {
				t.Errorf("exitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestExitCodeNilIsZero(t *testing.T) {
	if got := exitCode(nil); got != 0 {
		t.Errorf("exitCode(nil) = %d, want 0", got)
	}
}

func TestGitHeadReturnsEmptyOutsideARepo(t *testing.T) {
	got := gitHead(context.Background(), t.TempDir())
	if got != "" {
		t.Errorf("gitHead() = %q, want empty string for a non-repository directory", got)
	}
}
