package config

import (
	"context"
	"math/rand"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/xerrors"

	"github.com/vlad-zakharov/buildroot-test/internal/sysinfo"
	"github.com/vlad-zakharov/buildroot-test/internal/toolchain"
)

// maxRandomizeAttempts bounds the configuration randomisation loop.
const maxRandomizeAttempts = 100

// Framework abstracts the three Buildroot make targets the sampler drives,
// so tests can substitute a fake without shelling out to a real checkout.
type Framework interface {
	// OldConfig resolves symbol dependencies, answering every interactive
	// prompt with the empty string (accept defaults).
	OldConfig(ctx context.Context, outputDir string) error
	// RandPackageConfig flips package selections on/off with the given
	// probability mass (1-30, inclusive).
	RandPackageConfig(ctx context.Context, outputDir string, probability int) error
	// SaveDefconfig writes the minimised defconfig for outputDir.
	SaveDefconfig(ctx context.Context, outputDir string) error
}

// Make shells out to the Buildroot make targets in a source checkout rather
// than reimplementing Kconfig/make semantics in Go.
type Make struct {
	SourceDir string
}

func (m Make) run(ctx context.Context, outputDir, target string, extraEnv ...string) error {
	// Interactive prompts introduced by newly-added symbols are answered
	// with the empty string (accept defaults), matching Buildroot's own
	// "yes '' | make oldconfig" idiom.
	cmd := exec.CommandContext(ctx, "sh", "-c",
		"yes '' | make O="+outputDir+" -C "+m.SourceDir+" "+target)
	cmd.Env = append(os.Environ(), extraEnv...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return xerrors.Errorf("%v: %w", cmd.Args, err)
	}
	return nil
}

func (m Make) OldConfig(ctx context.Context, outputDir string) error {
	return m.run(ctx, outputDir, "oldconfig")
}

func (m Make) RandPackageConfig(ctx context.Context, outputDir string, probability int) error {
	return m.run(ctx, outputDir, "randpackageconfig",
		"KCONFIG_PROBABILITY="+strconv.Itoa(probability))
}

func (m Make) SaveDefconfig(ctx context.Context, outputDir string) error {
	return m.run(ctx, outputDir, "savedefconfig")
}

// Sampler draws a random admissible configuration.
type Sampler struct {
	RNG       *rand.Rand
	Info      *sysinfo.Info
	Framework Framework
	SourceDir string
	OutputDir string
	HostArch  string // as returned by toolchain.HostArch
}

// ErrExhausted is returned when the randomisation loop is exhausted without
// producing an admissible configuration.
var ErrExhausted = xerrors.New("cannot generate random configuration after 100 iterations")

// ErrToolchainUnusable is returned when is_toolchain_usable rejects the
// drawn toolchain for this host.
var ErrToolchainUnusable = xerrors.New("toolchain not usable on this host")

// Sample draws a random toolchain from catalog, seeds output/.config,
// resolves it with oldconfig, checks toolchain usability, then randomizes
// package selections until the fixup filter accepts (or the attempt bound
// is exceeded).
func (s *Sampler) Sample(ctx context.Context, catalog *toolchain.Catalog) (*toolchain.Config, error) {
	if len(catalog.Configs) == 0 {
		return nil, xerrors.New("toolchain catalogue is empty")
	}
	tc := catalog.Configs[s.RNG.Intn(len(catalog.Configs))]

	lines := NewLines(strings.Join(tc.Contents, "\n"))
	lines.Append(
		"BR2_PACKAGE_BUSYBOX_SHOW_OTHERS=y",
		"# BR2_TARGET_ROOTFS_TAR is not set",
		"BR2_COMPILER_PARANOID_UNSAFE_PATH=y",
	)
	if oneIn(s.RNG, 21) {
		lines.Append("BR2_ENABLE_DEBUG=y")
	}
	if oneIn(s.RNG, 31) {
		lines.Append("BR2_INIT_SYSTEMD=y")
	} else if oneIn(s.RNG, 21) {
		lines.Append("BR2_ROOTFS_DEVICE_CREATION_DYNAMIC_EUDEV=y")
	}
	if tc.Libc != "glibc" && oneIn(s.RNG, 21) {
		lines.Append("BR2_STATIC_LIBS=y")
	}

	if err := s.writeConfig(lines); err != nil {
		return nil, err
	}
	if err := s.Framework.OldConfig(ctx, s.OutputDir); err != nil {
		return nil, xerrors.Errorf("oldconfig: %w", err)
	}

	if !s.toolchainUsable(ctx, tc) {
		return nil, ErrToolchainUnusable
	}

	ctxVal := FixupContext{ToolchainURL: tc.URL, Libc: tc.Libc, Info: s.Info}
	accepted := false
	for attempt := 0; attempt < maxRandomizeAttempts; attempt++ {
		probability := 1 + s.RNG.Intn(30)
		if err := s.Framework.RandPackageConfig(ctx, s.OutputDir, probability); err != nil {
			return nil, xerrors.Errorf("randpackageconfig: %w", err)
		}
		current, err := s.readConfig()
		if err != nil {
			return nil, err
		}
		if Apply(current, ctxVal) {
			if err := s.writeConfig(current); err != nil {
				return nil, err
			}
			accepted = true
			break
		}
	}
	if !accepted {
		return nil, ErrExhausted
	}

	if err := s.Framework.OldConfig(ctx, s.OutputDir); err != nil {
		return nil, xerrors.Errorf("oldconfig (post-randomize): %w", err)
	}
	if err := s.Framework.SaveDefconfig(ctx, s.OutputDir); err != nil {
		return nil, xerrors.Errorf("savedefconfig: %w", err)
	}

	return &tc, nil
}

func oneIn(rng *rand.Rand, n int) bool {
	return rng.Intn(n) == 0
}

func (s *Sampler) configPath() string {
	return filepath.Join(s.OutputDir, ".config")
}

func (s *Sampler) writeConfig(lines *Lines) error {
	return os.WriteFile(s.configPath(), []byte(lines.String()), 0644)
}

func (s *Sampler) readConfig() (*Lines, error) {
	b, err := os.ReadFile(s.configPath())
	if err != nil {
		return nil, xerrors.Errorf("reading %s: %w", s.configPath(), err)
	}
	return NewLines(string(b)), nil
}

// toolchainUsable implements is_toolchain_usable: Linaro ARM/AARCH64/ARMEB
// toolchains require a host glibc >= 2.14 when the host is x86_64.
func (s *Sampler) toolchainUsable(ctx context.Context, tc toolchain.Config) bool {
	if s.HostArch != "x86_64" || !isLinaroARMFamily(tc.URL) {
		return true
	}
	out, err := exec.CommandContext(ctx, "ldd", "--version").Output()
	if err != nil {
		// Can't determine the host libc version; don't block the cycle on
		// an unrelated tooling failure.
		return true
	}
	firstLine := strings.SplitN(string(out), "\n", 2)[0]
	hostVersion := extractVersion(firstLine)
	return !versionLess(hostVersion, "2.14")
}

func isLinaroARMFamily(url string) bool {
	lower := strings.ToLower(url)
	if !strings.Contains(lower, "linaro") {
		return false
	}
	for _, fam := range []string{"arm", "aarch64", "armeb"} {
		if strings.Contains(lower, fam) {
			return true
		}
	}
	return false
}

// extractVersion pulls the trailing dotted-number version out of a line
// like "ldd (GNU libc) 2.31".
func extractVersion(line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}

// versionLess compares two dotted-numeric version strings component-wise.
func versionLess(a, b string) bool {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		var av, bv int
		if i < len(as) {
			av, _ = strconv.Atoi(as[i])
		}
		if i < len(bs) {
			bv, _ = strconv.Atoi(bs[i])
		}
		if av != bv {
			return av < bv
		}
	}
	return false
}
