package config

import (
	"strings"

	"github.com/vlad-zakharov/buildroot-test/internal/sysinfo"
)

// FixupContext carries the information a fixup rule may need beyond the
// config lines themselves: which toolchain was drawn and which host tools
// are available.
type FixupContext struct {
	ToolchainURL string
	Libc         string // glibc, uclibc, musl, ...
	Info         *sysinfo.Info
}

// fixupRule either mutates lines in place, or vetoes the whole draw by
// returning false. Rules run in order; the first veto short-circuits the
// rest. New knowledge of upstream bugs is added by appending one clause to
// fixupRules below, never by reordering existing ones.
type fixupRule func(lines *Lines, ctx FixupContext) bool

// badCombo is one documented (package, toolchain-URL-substring) pair known
// to fail upstream. Package may be "*" to veto the toolchain whatever
// packages are selected (used for toolchains that are broken outright for
// this host arch).
type badCombo struct {
	Package   string
	URLSubstr string
}

// knownBadCombos is a curated list of package/toolchain pairs known to fail
// upstream. It is opaque knowledge of Buildroot's current bug set, not an
// invariant of this system, and is expected to grow over time.
var knownBadCombos = []badCombo{
	{"BR2_PACKAGE_LTTNG_TOOLS", "ctng-arm-"},
	{"BR2_PACKAGE_LTTNG_TOOLS", "ctng-armeb-"},
	{"BR2_PACKAGE_LTTNG_TOOLS", "ctng-aarch64-"},
	{"BR2_PACKAGE_SDL", "ctng-powerpc-"},
	{"BR2_PACKAGE_LIBMPEG2", "ctng-powerpc-"},
	{"BR2_PACKAGE_PYTHON3", "mips64el-ctng-"},
	{"BR2_PACKAGE_STRONGSWAN", "mips64el-ctng-"},
	{"*", "mipsel-ctng-uclibc-"},
	{"BR2_PACKAGE_ALSA_LIB", "i486-ctng-uclibc-"}, // combined with STATIC_LIBS, see fixupKnownBadCombos
}

var fixupRules = []fixupRule{
	fixupQtLicense,
	fixupUclibcIncompatiblePackages,
	fixupMissingHostJavaTools,
	fixupPythonNFCRequiresBzr,
	fixupKnownBadCombos,
	fixupLibffiArchIncompatibility,
	fixupSunxiBoards,
}

// Apply runs every fixup rule in order against lines, mutating it in place.
// It returns false (veto) as soon as any rule rejects the configuration.
func Apply(lines *Lines, ctx FixupContext) bool {
	for _, rule := range fixupRules {
		if !rule(lines, ctx) {
			return false
		}
	}
	return true
}

// fixupQtLicense auto-accepts the Qt/Qt5Base license approval flags if
// Qt support is selected but the approval line is still in "not set" form.
func fixupQtLicense(lines *Lines, _ FixupContext) bool {
	for _, sym := range []string{"BR2_PACKAGE_QT", "BR2_PACKAGE_QT5BASE"} {
		if lines.Has(sym+"=y") && lines.ContainsLine("# "+sym+"_LICENSE_APPROVED is not set\n") {
			lines.Enable(sym + "_LICENSE_APPROVED")
		}
	}
	return true
}

// fixupUclibcIncompatiblePackages drops LTP_TESTSUITE, XFSPROGS, and
// MROUTED when a uClibc toolchain is in use — all three fail to build
// against uClibc upstream.
func fixupUclibcIncompatiblePackages(lines *Lines, ctx FixupContext) bool {
	if ctx.Libc != "uclibc" {
		return true
	}
	for _, sym := range []string{"BR2_PACKAGE_LTP_TESTSUITE", "BR2_PACKAGE_XFSPROGS", "BR2_PACKAGE_MROUTED"} {
		if lines.Has(sym + "=y") {
			lines.Drop(sym)
		}
	}
	return true
}

// fixupMissingHostJavaTools vetoes configurations that need a host Java
// tool we don't have.
func fixupMissingHostJavaTools(lines *Lines, ctx FixupContext) bool {
	for sym, tool := range map[string]string{
		"BR2_NEEDS_HOST_JAVA":  "java",
		"BR2_NEEDS_HOST_JAVAC": "javac",
		"BR2_NEEDS_HOST_JAR":   "jar",
	} {
		if lines.Has(sym + "=y") {
			if _, ok := ctx.Info.Has(tool); !ok {
				return false
			}
		}
	}
	return true
}

// fixupPythonNFCRequiresBzr vetoes PYTHON_NFC when bzr is absent: its
// source fetch depends on a bzr checkout.
func fixupPythonNFCRequiresBzr(lines *Lines, ctx FixupContext) bool {
	if !lines.Has("BR2_PACKAGE_PYTHON_NFC=y") {
		return true
	}
	_, ok := ctx.Info.Has("bzr")
	return ok
}

// fixupKnownBadCombos vetoes curated (package, toolchain-URL) pairs known
// to be currently broken upstream, plus the ALSA_LIB+STATIC_LIBS special
// case on the i486 uClibc ctng toolchain.
func fixupKnownBadCombos(lines *Lines, ctx FixupContext) bool {
	for _, combo := range knownBadCombos {
		if !strings.Contains(ctx.ToolchainURL, combo.URLSubstr) {
			continue
		}
		if combo.Package == "*" {
			return false
		}
		if lines.Has(combo.Package + "=y") {
			if combo.Package == "BR2_PACKAGE_ALSA_LIB" {
				if lines.Has("BR2_STATIC_LIBS=y") {
					return false
				}
				continue
			}
			return false
		}
	}
	return true
}

// fixupLibffiArchIncompatibility vetoes LIBFFI on sh2a/ARMV7M targets,
// where it is known not to build.
func fixupLibffiArchIncompatibility(lines *Lines, _ FixupContext) bool {
	if !lines.Has("BR2_PACKAGE_LIBFFI=y") {
		return true
	}
	for _, arch := range []string{"BR2_sh2a=y", "BR2_ARM_CPU_ARMV7M=y"} {
		if lines.Has(arch) {
			return false
		}
	}
	return true
}

// defaultFexFile is the concrete default FEX file line that replaces any
// FEX file setting when the sunxi-boards package is selected.
const defaultFexFile = "BR2_PACKAGE_SUNXI_BOARDS_FEX_FILE=\"sun7i-a20-olinuxino-lime2\""

// fixupSunxiBoards substitutes a concrete default FEX-file path whenever
// the sunxi-boards package is selected.
func fixupSunxiBoards(lines *Lines, _ FixupContext) bool {
	if lines.Has("BR2_PACKAGE_SUNXI_BOARDS=y") {
		lines.Remove(func(line string) bool {
			return strings.HasPrefix(line, "BR2_PACKAGE_SUNXI_BOARDS_FEX_FILE=")
		})
		lines.Append(defaultFexFile)
	}
	return true
}
