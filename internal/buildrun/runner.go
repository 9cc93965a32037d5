// Package buildrun executes a Buildroot build under a wall-clock timeout
// and niceness, capturing output to a log file, and runs the secondary
// legal-info pass.
package buildrun

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/xerrors"
)

// MaxDuration is the wall-clock bound enforced by the external `timeout`
// helper.
const MaxDuration = 8 * time.Hour

// timeoutExitCode is the exit status `timeout(1)` uses to signal that it
// killed the child for exceeding the deadline.
const timeoutExitCode = 124

// Status is the tri-state build outcome.
type Status string

const (
	StatusOK      Status = "OK"
	StatusFail    Status = "NOK"
	StatusTimeout Status = "TIMEOUT"
)

// Options configures one build invocation.
type Options struct {
	SourceDir     string
	OutputDir     string
	DLDir         string
	Jobs          int
	Nice          int
	ExtraMakeOpts []string
	// PublishPID is called with the live build child's PID as soon as it
	// starts, and with 0 once it has exited. This is the hook the
	// supervisor's shared PID array (internal/shm) is wired through.
	PublishPID func(pid int)
}

// Result is the outcome of one build cycle.
type Result struct {
	Status         Status
	ConfigPath     string
	DefconfigPath  string
	LogPath        string
	LegalInfoPath  string
	SourceRevision string
}

// Run executes the build as:
//
//	timeout <MaxDuration> nice -n <nice> make O=<output> -C <src> \
//	    BR2_DL_DIR=<dl> BR2_JLEVEL=<jobs> <extra-make-opts>
//
// stdout/stderr are teed into output/logfile. On a zero exit, a secondary
// `legal-info` pass runs; its failure demotes the result to FAIL.
func Run(ctx context.Context, opts Options) (*Result, error) {
	logPath := filepath.Join(opts.OutputDir, "logfile")
	logFile, err := os.Create(logPath)
	if err != nil {
		return nil, xerrors.Errorf("creating %s: %w", logPath, err)
	}
	defer logFile.Close()

	args := []string{
		fmt.Sprintf("%d", int(MaxDuration.Seconds())) + "s",
		"nice", "-n", fmt.Sprintf("%d", opts.Nice),
		"make",
		"O=" + mustAbs(opts.OutputDir),
		"-C", opts.SourceDir,
		"BR2_DL_DIR=" + mustAbs(opts.DLDir),
		fmt.Sprintf("BR2_JLEVEL=%d", opts.Jobs),
	}
	args = append(args, opts.ExtraMakeOpts...)

	cmd := exec.CommandContext(ctx, "timeout", args...)
	cmd.Stdout = io.MultiWriter(os.Stdout, logFile)
	cmd.Stderr = io.MultiWriter(os.Stderr, logFile)

	if err := cmd.Start(); err != nil {
		return nil, xerrors.Errorf("starting build: %w", err)
	}
	if opts.PublishPID != nil {
		opts.PublishPID(cmd.Process.Pid)
	}
	runErr := cmd.Wait()
	if opts.PublishPID != nil {
		opts.PublishPID(0)
	}

	result := &Result{
		LogPath:       logPath,
		ConfigPath:    filepath.Join(opts.OutputDir, ".config"),
		DefconfigPath: filepath.Join(opts.OutputDir, "defconfig"),
	}
	result.SourceRevision = gitHead(ctx, opts.SourceDir)

	switch exitCode(runErr) {
	case 0:
		// fall through to legal-info
	case timeoutExitCode:
		result.Status = StatusTimeout
		return result, nil
	default:
		result.Status = StatusFail
		return result, nil
	}

	legalInfo := exec.CommandContext(ctx, "make",
		"O="+mustAbs(opts.OutputDir),
		"-C", opts.SourceDir,
		"legal-info")
	legalInfo.Stdout = io.MultiWriter(os.Stdout, logFile)
	legalInfo.Stderr = io.MultiWriter(os.Stderr, logFile)
	if err := legalInfo.Run(); err != nil {
		result.Status = StatusFail
		return result, nil
	}

	result.Status = StatusOK
	result.LegalInfoPath = filepath.Join(opts.OutputDir, "legal-info", "manifest.csv")
	return result, nil
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if xerrors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}

// gitHead returns the checked-out HEAD commit hash, or "" if the lookup
// fails for any reason: git rev-parse failures are ignored, never
// surfaced as a build failure.
func gitHead(ctx context.Context, sourceDir string) string {
	cmd := exec.CommandContext(ctx, "git", "-C", sourceDir, "rev-parse", "HEAD")
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

func mustAbs(dir string) string {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return dir
	}
	return abs
}
