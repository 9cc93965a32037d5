// Command buildroot-autobuild drives a fleet of parallel Buildroot
// autobuilder instances: the supervisor process spawns and supervises
// N re-exec'd worker processes, each of which runs the forever
// prepare/configure/build/package/submit cycle.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/vlad-zakharov/buildroot-test/internal/appconfig"
	"github.com/vlad-zakharov/buildroot-test/internal/instanceloop"
	"github.com/vlad-zakharov/buildroot-test/internal/instancelog"
	"github.com/vlad-zakharov/buildroot-test/internal/shm"
	"github.com/vlad-zakharov/buildroot-test/internal/supervisor"
	"github.com/vlad-zakharov/buildroot-test/internal/sysinfo"
	"github.com/vlad-zakharov/buildroot-test/internal/version"
)

// shmFDInChild mirrors internal/supervisor.shmFDInChild: the fd number the
// shared PID array is inherited on (see os/exec.Cmd.ExtraFiles).
const shmFDInChild = 3

func main() {
	fset := flag.NewFlagSet("buildroot-autobuild", flag.ExitOnError)
	workerInstance := fset.Int("worker-instance", -1, "internal: run as worker for this instance index")
	workerNSHM := fset.Int("worker-nshm", 0, "internal: number of slots in the inherited shared pid array")

	settings, err := appconfig.Parse(fset, os.Args[1:])
	if err != nil {
		log.Fatalf("parsing arguments: %v", err)
	}

	if settings.PrintVersion {
		fmt.Println(version.Embedded)
		return
	}
	if settings.PrintHelp {
		fset.Usage()
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *workerInstance >= 0 {
		if err := runWorker(ctx, *workerInstance, *workerNSHM, settings); err != nil {
			log.Fatalf("worker %d: %v", *workerInstance, err)
		}
		return
	}

	cfg := supervisor.Config{
		NInstances:     settings.NInstances,
		NJobs:          settings.NJobs,
		Nice:           settings.Nice,
		Submitter:      settings.Submitter,
		HTTPURL:        settings.HTTPURL,
		HTTPLogin:      settings.HTTPLogin,
		HTTPPassword:   settings.HTTPPassword,
		MakeOpts:       settings.MakeOpts,
		PIDFile:        settings.PIDFile,
		ToolchainCSV:   settings.ToolchainCSV,
		CoordinatorURL: settings.CoordinatorURL,
		BuildrootRepo:  settings.BuildrootRepo,
	}
	if err := supervisor.Run(ctx, cfg, os.Args[0]); err != nil {
		log.Fatalf("supervisor: %v", err)
	}
}

// runWorker is the re-exec'd worker entry point: it reads the
// BUILDROOT_AUTOBUILD_* environment variables the supervisor set for it,
// opens the inherited shared PID array, and runs the instance's forever
// loop.
func runWorker(ctx context.Context, instanceID, nshm int, settings *appconfig.Settings) error {
	pids, err := shm.Open(shmFDInChild, nshm)
	if err != nil {
		return fmt.Errorf("opening inherited shared pid array: %w", err)
	}
	defer pids.Close()

	dir := fmt.Sprintf("instance-%d", instanceID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating instance directory: %w", err)
	}
	logger, logFile, err := instancelog.Open(filepath.Join(dir, "instance.log"), fmt.Sprintf("[instance-%d] ", instanceID))
	if err != nil {
		return fmt.Errorf("opening instance log: %w", err)
	}
	defer logFile.Close()

	httpURL := envOr("BUILDROOT_AUTOBUILD_HTTP_URL", settings.HTTPURL)
	httpLogin := envOr("BUILDROOT_AUTOBUILD_HTTP_LOGIN", settings.HTTPLogin)
	httpPassword := envOr("BUILDROOT_AUTOBUILD_HTTP_PASSWORD", settings.HTTPPassword)

	opts := instanceloop.Options{
		InstanceID:     instanceID,
		Dir:            dir,
		Logger:         logger,
		CoordinatorURL: envOr("BUILDROOT_AUTOBUILD_COORDINATOR", settings.CoordinatorURL),
		ToolchainCSV:   envOr("BUILDROOT_AUTOBUILD_TC_CFG_URI", settings.ToolchainCSV),
		BuildrootRepo:  envOr("BUILDROOT_AUTOBUILD_BUILDROOT_REPO", settings.BuildrootRepo),
		Jobs:           envOrInt("BUILDROOT_AUTOBUILD_JOBS", settings.NJobs),
		Nice:           envOrInt("BUILDROOT_AUTOBUILD_NICE", settings.Nice),
		ExtraMakeOpts:  splitMakeOpts(envOr("BUILDROOT_AUTOBUILD_MAKE_OPTS", settings.MakeOpts)),
		Submitter:      envOr("BUILDROOT_AUTOBUILD_SUBMITTER", settings.Submitter),
		HTTPURL:        httpURL,
		HTTPLogin:      httpLogin,
		HTTPPassword:   httpPassword,
		Info:           sysinfo.New(httpLogin != "" && httpPassword != ""),
		RNG:            supervisor.NewRNG(),
		PublishPID:     func(pid int) { pids.Set(instanceID, pid) },
	}

	return instanceloop.Run(ctx, opts)
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func splitMakeOpts(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return strings.Fields(s)
}
