// Package sysinfo probes the host for the external programs the autobuilder
// depends on (make, git, gcc, timeout, curl, and a handful of optional
// tools), memoizing the lookups so that workers never race to re-resolve
// the same binary.
package sysinfo

import (
	"context"
	"os/exec"
	"strings"
	"sync"

	"golang.org/x/xerrors"
)

// required are the programs check_requirements insists on. curl is added
// dynamically when uploading is configured.
var required = []string{"make", "git", "gcc", "timeout"}

// optional are probed eagerly (not lazily) so workers never race to detect
// them for the first time mid-cycle.
var optional = []string{"bzr", "java", "javac", "jar"}

// Info is a memoized capability probe. The zero value is not usable; create
// one with New.
type Info struct {
	mu       sync.Mutex
	resolved map[string]string // name -> absolute path; absent for tools not found or not yet probed
	present  map[string]bool   // name -> found
	required []string
	optional []string
}

// New creates a probe for the package's required programs (plus curl when
// uploadEnabled is true) and optional programs, and eagerly resolves the
// optional set.
func New(uploadEnabled bool) *Info {
	req := append([]string{}, required...)
	if uploadEnabled {
		req = append(req, "curl")
	}
	info := &Info{
		resolved: make(map[string]string),
		present:  make(map[string]bool),
		required: req,
		optional: append([]string{}, optional...),
	}
	for _, name := range info.optional {
		info.has(name)
	}
	return info
}

// NewForTest builds an Info whose probe results are taken from present
// rather than from exec.LookPath, so callers that only care about
// CheckRequirements/Has semantics don't need real binaries on PATH.
func NewForTest(present map[string]bool) *Info {
	info := &Info{
		resolved: make(map[string]string),
		present:  make(map[string]bool),
	}
	for name, ok := range present {
		info.present[name] = ok
		if ok {
			info.resolved[name] = "/fake/bin/" + name
		}
	}
	return info
}

// Has returns the resolved absolute path for name and whether it was found.
// The result is memoized across calls.
func (i *Info) Has(name string) (path string, ok bool) {
	return i.has(name)
}

func (i *Info) has(name string) (string, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if ok, done := i.present[name]; done {
		return i.resolved[name], ok
	}
	path, err := exec.LookPath(name)
	if err != nil {
		i.present[name] = false
		return "", false
	}
	if (name == "java" || name == "javac") && isGCJ(name, path) {
		i.present[name] = false
		return "", false
	}
	i.present[name] = true
	i.resolved[name] = path
	return path, true
}

// isGCJ rejects Java implementations whose -version output mentions gcj,
// the GNU Java front-end that does not behave like a real JVM for our
// purposes.
func isGCJ(name, path string) bool {
	out, err := exec.Command(path, "-version").CombinedOutput()
	if err != nil {
		// Can't tell; treat as usable rather than rejecting a tool we
		// can't even run -version on for unrelated reasons.
		return false
	}
	return strings.Contains(strings.ToLower(string(out)), "gcj")
}

// CheckRequirements returns an error naming the first missing required
// program, or nil if every required program resolved.
func (i *Info) CheckRequirements(ctx context.Context) error {
	for _, name := range i.required {
		if _, ok := i.has(name); !ok {
			return xerrors.Errorf("required program %q not found on PATH", name)
		}
	}
	return nil
}

// Report summarizes the probe outcome for startup logging.
type Report struct {
	Required map[string]string // name -> resolved path (required tools only)
	Optional map[string]bool   // name -> found (optional tools only)
}

func (i *Info) Report() Report {
	i.mu.Lock()
	defer i.mu.Unlock()
	r := Report{
		Required: make(map[string]string, len(i.required)),
		Optional: make(map[string]bool, len(i.optional)),
	}
	for _, name := range i.required {
		r.Required[name] = i.resolved[name]
	}
	for _, name := range i.optional {
		r.Optional[name] = i.present[name]
	}
	return r
}
