// Package results implements the ResultPackager: post-build diagnosis of
// the failing package, log excerpting, config-log collection, and tarball
// archiving.
package results

import (
	"bytes"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/renameio"
	"golang.org/x/exp/mmap"
	"golang.org/x/xerrors"

	"github.com/vlad-zakharov/buildroot-test/internal/buildrun"
)

// failureLineRE matches a make failure line naming the package/toolchain
// build directory that failed, e.g.
// "make: *** [/.../build/openssl-1.1.1/Makefile:123: openssl] Error 1".
var failureLineRE = regexp.MustCompile(`make: \*\*\* .*/(?:build|toolchain)/([^/]*)/`)

// FailureReason is the (package, version) pair extracted from the tail of
// the build log, split on the final '-' in the matched path segment.
type FailureReason struct {
	Package string
	Version string
}

// Unknown reports whether no failure reason could be identified.
func (r FailureReason) Unknown() bool { return r.Package == "" }

func (r FailureReason) dirName() string { return r.Package + "-" + r.Version }

// FindFailureReason scans the last n lines of log for the failure pattern
// and returns the (package, version) pair, or the zero value if none
// matched.
func FindFailureReason(log []byte, n int) FailureReason {
	lines := lastLines(log, n)
	for i := len(lines) - 1; i >= 0; i-- {
		m := failureLineRE.FindStringSubmatch(lines[i])
		if m == nil {
			continue
		}
		idx := strings.LastIndexByte(m[1], '-')
		if idx < 0 {
			return FailureReason{Package: m[1]}
		}
		return FailureReason{Package: m[1][:idx], Version: m[1][idx+1:]}
	}
	return FailureReason{}
}

func lastLines(b []byte, n int) []string {
	text := strings.TrimRight(string(b), "\n")
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}

// configLogNames are the diagnostic artifacts mirrored out of the failing
// package's build tree.
var configLogNames = map[string]bool{
	"config.log":      true,
	"CMakeCache.txt":  true,
	"CMakeError.log":  true,
	"CMakeOutput.log": true,
}

// Options configures one Package call. Submitter identifies this
// autobuilder instance in results/submitter.
type Options struct {
	OutputDir string
	Result    *buildrun.Result
	Submitter string
}

// Package runs the full ResultPackager pipeline and returns the path to
// the produced results.tar.bz2.
func Package(opts Options) (string, error) {
	resultsDir := filepath.Join(opts.OutputDir, "results")
	if err := os.MkdirAll(resultsDir, 0755); err != nil {
		return "", xerrors.Errorf("creating results dir: %w", err)
	}

	copyIfExists(opts.Result.ConfigPath, filepath.Join(resultsDir, "config"))
	copyIfExists(opts.Result.DefconfigPath, filepath.Join(resultsDir, "defconfig"))
	copyIfExists(filepath.Join(opts.OutputDir, "build", "build-time.log"), filepath.Join(resultsDir, "build-time.log"))
	if opts.Result.LegalInfoPath != "" {
		copyIfExists(opts.Result.LegalInfoPath, filepath.Join(resultsDir, "licenses-manifest.csv"))
	}

	if err := renameio.WriteFile(filepath.Join(resultsDir, "gitid"), []byte(opts.Result.SourceRevision), 0644); err != nil {
		return "", xerrors.Errorf("writing gitid: %w", err)
	}

	logBytes, err := os.ReadFile(opts.Result.LogPath)
	if err != nil {
		return "", xerrors.Errorf("reading %s: %w", opts.Result.LogPath, err)
	}
	reason := FindFailureReason(logBytes, 4)

	if err := extractEndLog(opts.Result.LogPath, reason, filepath.Join(resultsDir, "build-end.log")); err != nil {
		return "", xerrors.Errorf("extracting build-end.log: %w", err)
	}

	if !reason.Unknown() {
		if err := collectConfigLogs(filepath.Join(opts.OutputDir, "build", reason.dirName()), filepath.Join(resultsDir, reason.dirName())); err != nil {
			return "", xerrors.Errorf("collecting config logs: %w", err)
		}
	}

	if err := renameio.WriteFile(filepath.Join(resultsDir, "status"), []byte(opts.Result.Status), 0644); err != nil {
		return "", xerrors.Errorf("writing status: %w", err)
	}
	if err := renameio.WriteFile(filepath.Join(resultsDir, "submitter"), []byte(opts.Submitter), 0644); err != nil {
		return "", xerrors.Errorf("writing submitter: %w", err)
	}

	tarballPath := filepath.Join(opts.OutputDir, "results.tar.bz2")
	tar := exec.Command("tar", "-cjf", tarballPath, "-C", opts.OutputDir, "results")
	tar.Stdout = os.Stdout
	tar.Stderr = os.Stderr
	if err := tar.Run(); err != nil {
		return "", xerrors.Errorf("%v: %w", tar.Args, err)
	}
	return tarballPath, nil
}

func copyIfExists(src, dst string) {
	in, err := os.Open(src)
	if err != nil {
		return
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return
	}
	out, err := os.Create(dst)
	if err != nil {
		return
	}
	defer out.Close()
	io.Copy(out, in)
}

// extractEndLog writes the excerpt of logPath starting at the first
// occurrence of ">>> <package> <version>" (if a failure reason was
// identified) through EOF, into dst. If no reason was identified or the
// marker is absent, dst gets the last 500 lines instead. The log is
// memory-mapped since it can reach hundreds of MB; this performs a single
// linear scan for the marker.
func extractEndLog(logPath string, reason FailureReason, dst string) error {
	if !reason.Unknown() {
		r, err := mmap.Open(logPath)
		if err == nil {
			defer r.Close()
			buf := make([]byte, r.Len())
			if _, err := r.ReadAt(buf, 0); err == nil {
				marker := []byte(">>> " + reason.Package + " " + reason.Version)
				if idx := bytes.Index(buf, marker); idx >= 0 {
					return renameio.WriteFile(dst, buf[idx:], 0644)
				}
			}
		}
	}
	b, err := os.ReadFile(logPath)
	if err != nil {
		return err
	}
	lines := lastLines(b, 500)
	return renameio.WriteFile(dst, []byte(strings.Join(lines, "\n")+"\n"), 0644)
}

// collectConfigLogs walks srcDir, copying every config.log/CMakeCache.txt/
// CMakeError.log/CMakeOutput.log file into the same relative path under
// dstDir, creating destination directories on demand.
func collectConfigLogs(srcDir, dstDir string) error {
	return filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		if !configLogNames[filepath.Base(path)] {
			return nil
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		copyIfExists(path, filepath.Join(dstDir, rel))
		return nil
	})
}
