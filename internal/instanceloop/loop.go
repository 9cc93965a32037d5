// Package instanceloop implements the per-worker InstanceLoop: the
// infinite prepare → configure → build → package → submit cycle.
package instanceloop

import (
	"context"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"golang.org/x/xerrors"

	"github.com/vlad-zakharov/buildroot-test/internal/buildrun"
	"github.com/vlad-zakharov/buildroot-test/internal/config"
	"github.com/vlad-zakharov/buildroot-test/internal/results"
	"github.com/vlad-zakharov/buildroot-test/internal/submit"
	"github.com/vlad-zakharov/buildroot-test/internal/sysinfo"
	"github.com/vlad-zakharov/buildroot-test/internal/toolchain"
	"github.com/vlad-zakharov/buildroot-test/internal/version"
)

// Options configures one worker's forever loop.
type Options struct {
	InstanceID int
	Dir        string // instance-<i>/
	Logger     *log.Logger

	CoordinatorURL string
	ToolchainCSV   string
	BuildrootRepo  string
	Jobs           int
	Nice           int
	ExtraMakeOpts  []string
	Submitter      string
	HTTPURL        string
	HTTPLogin      string
	HTTPPassword   string

	Info       *sysinfo.Info
	RNG        *rand.Rand
	PublishPID func(pid int)
}

func (o Options) dlDir() string        { return filepath.Join(o.Dir, "dl") }
func (o Options) buildrootDir() string { return filepath.Join(o.Dir, "buildroot") }
func (o Options) outputDir() string    { return filepath.Join(o.Dir, "output") }

// Run executes the infinite loop. It returns nil once ctx is cancelled, and
// an error when the remote protocol version advances past what this build
// knows or when the build cannot be launched at all. A packaging failure is
// not returned: it exits the worker process through Logger.Fatalf.
func Run(ctx context.Context, opts Options) error {
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return xerrors.Errorf("creating instance dir: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := checkVersion(ctx, opts.CoordinatorURL); err != nil {
			if xerrors.Is(err, version.ErrIncompatible) {
				return xerrors.Errorf("remote protocol version: %w", err)
			}
			opts.Logger.Printf("version check: %v (cycle abandoned)", err)
			continue
		}

		if err := prepareBuild(ctx, opts); err != nil {
			opts.Logger.Printf("prepare_build: %v (cycle abandoned)", err)
			continue
		}

		tc, err := genConfig(ctx, opts)
		if err != nil {
			opts.Logger.Printf("gen_config: %v (cycle abandoned)", err)
			continue
		}
		opts.Logger.Printf("building with toolchain %s", tc.URL)

		result, err := buildrun.Run(ctx, buildrun.Options{
			SourceDir:     opts.buildrootDir(),
			OutputDir:     opts.outputDir(),
			DLDir:         opts.dlDir(),
			Jobs:          opts.Jobs,
			Nice:          opts.Nice,
			ExtraMakeOpts: opts.ExtraMakeOpts,
			PublishPID:    opts.PublishPID,
		})
		if err != nil {
			// The build framework itself failed to launch at all (e.g.
			// timeout/make missing) — this is a startup-fatal condition
			// for the whole process, not a per-cycle one, since
			// SystemInfo.CheckRequirements should have already ruled this
			// out.
			return xerrors.Errorf("do_build: %w", err)
		}

		opts.Logger.Printf("build finished: status=%s", result.Status)
		sendResults(ctx, opts, result)
	}
}

// checkVersion returns version.ErrIncompatible-wrapping error if the
// coordinator's protocol version has advanced past what this build
// understands; any other error (a transient fetch failure) is the
// caller's to retry on the next cycle rather than abort on.
func checkVersion(ctx context.Context, coordinatorURL string) error {
	return version.Check(ctx, http.DefaultClient, coordinatorURL)
}

// prepareBuild ensures dl/ exists (perturbing it to bound the download
// cache's growth), clones or pulls the buildroot checkout, and
// destroys/recreates output/.
func prepareBuild(ctx context.Context, opts Options) error {
	if err := os.MkdirAll(opts.dlDir(), 0755); err != nil {
		return err
	}
	if err := evictRandomEntries(opts.dlDir(), 5, opts.RNG); err != nil {
		return err
	}

	if _, err := os.Stat(opts.buildrootDir()); os.IsNotExist(err) {
		clone := exec.CommandContext(ctx, "git", "clone", opts.BuildrootRepo, opts.buildrootDir())
		clone.Stdout = os.Stdout
		clone.Stderr = os.Stderr
		if err := clone.Run(); err != nil {
			return xerrors.Errorf("%v: %w", clone.Args, err)
		}
	} else {
		pull := exec.CommandContext(ctx, "git", "-C", opts.buildrootDir(), "pull")
		pull.Stdout = os.Stdout
		pull.Stderr = os.Stderr
		if err := pull.Run(); err != nil {
			return xerrors.Errorf("%v: %w", pull.Args, err)
		}
	}

	if err := os.RemoveAll(opts.outputDir()); err != nil {
		return xerrors.Errorf("rm -rf output: %w", err)
	}
	if err := os.MkdirAll(opts.outputDir(), 0755); err != nil {
		return err
	}
	return nil
}

// evictRandomEntries removes up to n uniformly-random entries from dir,
// capped by the number present.
func evictRandomEntries(dir string, n int, rng *rand.Rand) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	if n > len(entries) {
		n = len(entries)
	}
	rng.Shuffle(len(entries), func(i, j int) { entries[i], entries[j] = entries[j], entries[i] })
	for _, e := range entries[:n] {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

// genConfig draws a fresh toolchain catalogue and samples an admissible
// configuration.
func genConfig(ctx context.Context, opts Options) (*toolchain.Config, error) {
	catalog, err := toolchain.Load(ctx, toolchain.HTTPFetcher{}, opts.ToolchainCSV, toolchain.HostArch(hostArch()))
	if err != nil {
		return nil, xerrors.Errorf("loading toolchain catalogue: %w", err)
	}

	sampler := &config.Sampler{
		RNG:       opts.RNG,
		Info:      opts.Info,
		Framework: config.Make{SourceDir: opts.buildrootDir()},
		SourceDir: opts.buildrootDir(),
		OutputDir: opts.outputDir(),
		HostArch:  toolchain.HostArch(hostArch()),
	}
	return sampler.Sample(ctx, catalog)
}

// sendResults packages and submits the build result. Submission never
// fails the loop: failures are logged and the next cycle begins. Packaging
// failure is escalated to a fatal exit for this worker process.
func sendResults(ctx context.Context, opts Options, result *buildrun.Result) {
	tarball, err := results.Package(results.Options{
		OutputDir: opts.outputDir(),
		Result:    result,
		Submitter: opts.Submitter,
	})
	if err != nil {
		opts.Logger.Fatalf("packaging result: %v", err)
	}

	localPath, err := submit.Submit(ctx, submit.Options{
		TarballPath: tarball,
		InstanceID:  opts.InstanceID,
		HTTPURL:     opts.HTTPURL,
		Login:       opts.HTTPLogin,
		Password:    opts.HTTPPassword,
	})
	if err != nil {
		opts.Logger.Printf("submit failed: %v", err)
		return
	}
	if localPath != "" {
		opts.Logger.Printf("kept locally: %s", localPath)
	} else {
		opts.Logger.Printf("uploaded %s", tarball)
	}
}

func hostArch() string {
	return runtime.GOARCH
}
