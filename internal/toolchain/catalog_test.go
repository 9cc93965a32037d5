package toolchain

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type fakeFetcher struct {
	csv       string
	defconfig map[string]string
}

func (f fakeFetcher) Fetch(ctx context.Context, url string) (string, error) {
	if url == "csv" {
		return f.csv, nil
	}
	body, ok := f.defconfig[url]
	if !ok {
		return "", fmt.Errorf("no fixture defconfig for %s", url)
	}
	return body, nil
}

func TestHostArchNormalization(t *testing.T) {
	tests := []struct{ goarch, want string }{
		{"386", "x86"},
		{"amd64", "x86_64"},
		{"arm", "arm"},
		{"arm64", "arm64"},
	}
	for _, tt := range tests {
		if got := HostArch(tt.goarch); got != tt.want {
			t.Errorf("HostArch(%q) = %q, want %q", tt.goarch, got, tt.want)
		}
	}
}

func TestLoadAdmitsMatchingRowsOnly(t *testing.T) {
	f := fakeFetcher{
		csv: "" +
			"http://example/a.config, x86_64, glibc\n" +
			"http://example/b.config, x86, glibc\n" +
			"http://example/c.config, arm, glibc\n" +
			"http://example/d.config, any, musl\n",
		defconfig: map[string]string{
			"http://example/a.config": "BR2_X86_64=y\n",
			"http://example/b.config": "BR2_X86=y\n",
			"http://example/d.config": "BR2_SOMETHING=y\n",
		},
	}

	cat, err := Load(context.Background(), f, "csv", "x86_64")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	var urls []string
	for _, c := range cat.Configs {
		urls = append(urls, c.URL)
	}
	want := []string{"http://example/a.config", "http://example/b.config", "http://example/d.config"}
	less := func(a, b string) bool { return a < b }
	if diff := cmp.Diff(want, urls, cmpSortedStrings(less)); diff != "" {
		t.Errorf("admitted URLs mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadFetchesDefconfigContents(t *testing.T) {
	f := fakeFetcher{
		csv: "http://example/a.config, x86_64, glibc\n",
		defconfig: map[string]string{
			"http://example/a.config": "BR2_X86_64=y\nBR2_TOOLCHAIN_BUILDROOT_GLIBC=y\n",
		},
	}
	cat, err := Load(context.Background(), f, "csv", "x86_64")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cat.Configs) != 1 {
		t.Fatalf("got %d configs, want 1", len(cat.Configs))
	}
	want := []string{"BR2_X86_64=y", "BR2_TOOLCHAIN_BUILDROOT_GLIBC=y"}
	if diff := cmp.Diff(want, cat.Configs[0].Contents); diff != "" {
		t.Errorf("Contents mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadFailsOnDefconfigFetchError(t *testing.T) {
	f := fakeFetcher{
		csv:       "http://example/missing.config, x86_64, glibc\n",
		defconfig: map[string]string{},
	}
	if _, err := Load(context.Background(), f, "csv", "x86_64"); err == nil {
		t.Fatalf("Load: want error for unfetchable defconfig, got nil")
	}
}

// cmpSortedStrings is a tiny local option so TestLoadAdmitsMatchingRowsOnly
// can compare admitted URL sets ignoring the (unspecified) admission order.
func cmpSortedStrings(less func(a, b string) bool) cmp.Option {
	return cmp.Transformer("sorted", func(in []string) []string {
		out := append([]string(nil), in...)
		for i := 1; i < len(out); i++ {
			for j := i; j > 0 && less(out[j], out[j-1]); j-- {
				out[j], out[j-1] = out[j-1], out[j]
			}
		}
		return out
	})
}
