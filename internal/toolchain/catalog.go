// Package toolchain fetches and filters the remote toolchain catalogue: a
// CSV of (url, hostarch, libc) rows, each pointing at a Buildroot defconfig
// fragment.
package toolchain

import (
	"context"
	"encoding/csv"
	"io"
	"net/http"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
)

// Config is one admitted toolchain row, with its defconfig contents fetched
// eagerly (never cached — a fresh fetch happens on every draw).
type Config struct {
	URL      string
	HostArch string // any, x86, x86_64, ...
	Libc     string // glibc, uclibc, musl, ...
	Contents []string
}

// Catalog is the set of toolchain rows admitted for this host.
type Catalog struct {
	Configs []Config
}

// HostArch normalizes runtime.GOARCH (or an override, for tests) into the
// catalogue's hostarch vocabulary: "386" becomes "x86" and "amd64" becomes
// "x86_64"; any other value is returned unchanged.
func HostArch(goarch string) string {
	switch goarch {
	case "386":
		return "x86"
	case "amd64":
		return "x86_64"
	default:
		return goarch
	}
}

// admits reports whether a row with the given hostarch should be kept for
// host.
func admits(host, rowHostArch string) bool {
	switch {
	case rowHostArch == "any":
		return true
	case rowHostArch == host:
		return true
	case host == "x86_64" && rowHostArch == "x86":
		return true
	default:
		return false
	}
}

// normalizeRowArch folds the i686/i386/x86 spellings a CSV row might use
// into the canonical "x86" identifier before admission is checked.
func normalizeRowArch(s string) string {
	switch s {
	case "i686", "i386", "x86":
		return "x86"
	default:
		return s
	}
}

// Fetcher fetches a URL's body as a string. HTTPFetcher below implements it
// over HTTP GET; tests substitute their own.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// HTTPFetcher fetches over plain HTTP GET.
type HTTPFetcher struct {
	Client *http.Client
}

func (f HTTPFetcher) Fetch(ctx context.Context, url string) (string, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", xerrors.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", xerrors.Errorf("fetching %s: unexpected status %s", url, resp.Status)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", xerrors.Errorf("reading %s: %w", url, err)
	}
	return string(b), nil
}

// Load downloads the CSV catalogue at csvURI, admits rows matching host,
// and fetches each admitted row's defconfig body concurrently (bounded by
// runtime.NumCPU). A failure to fetch any single row aborts the whole load.
func Load(ctx context.Context, f Fetcher, csvURI, host string) (*Catalog, error) {
	body, err := f.Fetch(ctx, csvURI)
	if err != nil {
		return nil, xerrors.Errorf("fetching toolchain catalogue %s: %w", csvURI, err)
	}

	r := csv.NewReader(strings.NewReader(body))
	r.FieldsPerRecord = 3
	r.TrimLeadingSpace = true

	var admitted []Config
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, xerrors.Errorf("parsing toolchain catalogue: %w", err)
		}
		url, hostarch, libc := rec[0], normalizeRowArch(rec[1]), rec[2]
		if !admits(host, hostarch) {
			continue
		}
		admitted = append(admitted, Config{URL: url, HostArch: hostarch, Libc: libc})
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(runtime.NumCPU())
	for i := range admitted {
		i := i
		eg.Go(func() error {
			contents, err := f.Fetch(egCtx, admitted[i].URL)
			if err != nil {
				return xerrors.Errorf("fetching defconfig %s: %w", admitted[i].URL, err)
			}
			admitted[i].Contents = strings.Split(strings.TrimRight(contents, "\n"), "\n")
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	return &Catalog{Configs: admitted}, nil
}
