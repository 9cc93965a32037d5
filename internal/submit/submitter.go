// Package submit uploads a packaged build result to the coordinator, or
// falls back to a local content-addressed copy when no credentials are
// configured.
package submit

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"golang.org/x/xerrors"
)

// Options configures one submission attempt.
type Options struct {
	TarballPath string
	InstanceID  int
	HTTPURL     string
	Login       string
	Password    string
}

// credentialed reports whether both login and password are non-empty,
// the condition under which an HTTP upload is attempted instead of a
// local fallback.
func (o Options) credentialed() bool {
	return o.Login != "" && o.Password != ""
}

// Submit uploads the tarball, or renames it locally when uploading is
// disabled. It never fails the calling cycle: submission failures are
// logged by the caller, not retried.
func Submit(ctx context.Context, opts Options) (localPath string, err error) {
	if opts.credentialed() {
		return "", uploadHTTP(ctx, opts)
	}
	return renameLocal(opts)
}

func uploadHTTP(ctx context.Context, opts Options) error {
	f, err := os.Open(opts.TarballPath)
	if err != nil {
		return xerrors.Errorf("opening %s: %w", opts.TarballPath, err)
	}
	defer f.Close()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("uploadedfile", filepath.Base(opts.TarballPath))
	if err != nil {
		return xerrors.Errorf("creating multipart field: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return xerrors.Errorf("copying tarball into request: %w", err)
	}
	if err := w.WriteField("uploadsubmit", "1"); err != nil {
		return xerrors.Errorf("writing uploadsubmit field: %w", err)
	}
	if err := w.Close(); err != nil {
		return xerrors.Errorf("closing multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, opts.HTTPURL, &body)
	if err != nil {
		return xerrors.Errorf("building upload request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Expect", "")
	req.SetBasicAuth(opts.Login, opts.Password)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return xerrors.Errorf("uploading %s: %w", opts.TarballPath, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return xerrors.Errorf("uploading %s: unexpected status %s", opts.TarballPath, resp.Status)
	}
	return nil
}

// renameLocal renames the tarball to instance-<i>-<sha1>.tar.bz2 in the
// working directory, the SHA-1 being computed over the tarball bytes.
func renameLocal(opts Options) (string, error) {
	b, err := os.ReadFile(opts.TarballPath)
	if err != nil {
		return "", xerrors.Errorf("reading %s: %w", opts.TarballPath, err)
	}
	sum := sha1.Sum(b)
	name := fmt.Sprintf("instance-%d-%s.tar.bz2", opts.InstanceID, hex.EncodeToString(sum[:]))
	if err := os.Rename(opts.TarballPath, name); err != nil {
		return "", xerrors.Errorf("renaming %s to %s: %w", opts.TarballPath, name, err)
	}
	return name, nil
}
