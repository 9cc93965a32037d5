// Package supervisor implements the process-level entry point: version
// gating, dependency checks, PID-file and shared PID array setup, worker
// process spawning, and the signalled-shutdown protocol.
package supervisor

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/renameio"
	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"

	"github.com/vlad-zakharov/buildroot-test/internal/shm"
	"github.com/vlad-zakharov/buildroot-test/internal/sysinfo"
	"github.com/vlad-zakharov/buildroot-test/internal/version"
)

// shmFDInChild is the well-known file-descriptor number the PID array is
// inherited on by re-exec'd worker processes (stdin/stdout/stderr occupy
// 0-2; os/exec.Cmd.ExtraFiles appends starting at 3).
const shmFDInChild = 3

// Config is the fully-resolved (CLI > file > default) configuration the
// supervisor runs with.
type Config struct {
	NInstances     int
	NJobs          int
	Nice           int
	Submitter      string
	HTTPURL        string
	HTTPLogin      string
	HTTPPassword   string
	MakeOpts       string
	PIDFile        string
	ToolchainCSV   string
	CoordinatorURL string
	BuildrootRepo  string
}

func (c Config) uploadEnabled() bool {
	return c.HTTPLogin != "" && c.HTTPPassword != ""
}

// Run performs the full startup sequence and blocks until every worker has
// exited (normally never, until a signal tears the tree down).
//
// selfExec is the path used to re-exec this same binary as a worker
// (os.Args[0]); each worker gets its instance id and the shared array's
// slot count through the -worker-instance and -worker-nshm flags of
// cmd/buildroot-autobuild, and the array itself on fd shmFDInChild.
func Run(ctx context.Context, cfg Config, selfExec string) error {
	// Force locale to C for deterministic tool output.
	os.Setenv("LC_ALL", "C")

	if err := version.Check(ctx, http.DefaultClient, cfg.CoordinatorURL); err != nil {
		return xerrors.Errorf("version check: %w", err)
	}

	info := sysinfo.New(cfg.uploadEnabled())
	if err := info.CheckRequirements(ctx); err != nil {
		return xerrors.Errorf("dependency check: %w", err)
	}
	logReport(info.Report())

	if err := renameio.WriteFile(cfg.PIDFile, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644); err != nil {
		return xerrors.Errorf("writing pid file: %w", err)
	}

	pids, err := shm.Create(cfg.NInstances)
	if err != nil {
		return xerrors.Errorf("allocating shared pid array: %w", err)
	}

	workers := make([]*exec.Cmd, cfg.NInstances)
	for i := 0; i < cfg.NInstances; i++ {
		cmd := exec.Command(selfExec,
			"-worker-instance", fmt.Sprintf("%d", i),
			"-worker-nshm", fmt.Sprintf("%d", cfg.NInstances),
		)
		cmd.ExtraFiles = []*os.File{os.NewFile(uintptr(pids.FD()), "shm")}
		cmd.Env = append(os.Environ(), workerConfigEnv(cfg)...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Start(); err != nil {
			return xerrors.Errorf("starting worker %d: %w", i, err)
		}
		workers[i] = cmd
	}

	installShutdownHandler(workers, pids)

	var firstErr error
	for i, w := range workers {
		if err := w.Wait(); err != nil {
			log.Printf("worker %d exited: %v", i, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// logReport prints the resolved path of every required tool and the
// presence of every optional one, so a startup failure further down can be
// cross-referenced against what was actually found on PATH.
func logReport(r sysinfo.Report) {
	for name, path := range r.Required {
		log.Printf("found required tool %s: %s", name, path)
	}
	for name, found := range r.Optional {
		log.Printf("optional tool %s: present=%v", name, found)
	}
}

// workerConfigEnv serializes the fields a worker needs that aren't passed
// as flags, to keep the re-exec command line short and avoid quoting
// headaches with e.g. make-opts.
func workerConfigEnv(cfg Config) []string {
	return []string{
		"BUILDROOT_AUTOBUILD_SUBMITTER=" + cfg.Submitter,
		"BUILDROOT_AUTOBUILD_HTTP_URL=" + cfg.HTTPURL,
		"BUILDROOT_AUTOBUILD_HTTP_LOGIN=" + cfg.HTTPLogin,
		"BUILDROOT_AUTOBUILD_HTTP_PASSWORD=" + cfg.HTTPPassword,
		"BUILDROOT_AUTOBUILD_MAKE_OPTS=" + cfg.MakeOpts,
		"BUILDROOT_AUTOBUILD_TC_CFG_URI=" + cfg.ToolchainCSV,
		"BUILDROOT_AUTOBUILD_COORDINATOR=" + cfg.CoordinatorURL,
		"BUILDROOT_AUTOBUILD_BUILDROOT_REPO=" + cfg.BuildrootRepo,
		fmt.Sprintf("BUILDROOT_AUTOBUILD_JOBS=%d", cfg.NJobs),
		fmt.Sprintf("BUILDROOT_AUTOBUILD_NICE=%d", cfg.Nice),
	}
}

// installShutdownHandler implements the shutdown protocol: on the first
// SIGINT/SIGTERM, re-install SIGINT as ignored and SIGTERM as default
// (preventing reentrant/recursive propagation), terminate every worker
// process, send SIGTERM directly to every live build PID published in the
// shared array (required because `timeout` places its child in its own
// process group, so a group signal to the worker would miss the
// grandchild), sweep the supervisor's own process group, then exit 1.
func installShutdownHandler(workers []*exec.Cmd, pids *shm.PIDArray) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		signal.Ignore(os.Interrupt)
		signal.Reset(syscall.SIGTERM)

		for _, w := range workers {
			if w.Process != nil {
				w.Process.Signal(syscall.SIGTERM)
			}
		}
		pids.KillAll()
		unix.Kill(0, syscall.SIGTERM)

		os.Exit(1)
	}()
}

// NewRNG returns a PRNG seeded for production use. Tests that need
// determinism build their own via rand.New(rand.NewSource(seed)) instead.
func NewRNG() *rand.Rand {
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}
