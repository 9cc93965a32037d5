// Package version implements the remote protocol version gate: GET
// <coordinator>/version returns an integer on its first line; if it
// exceeds the embedded VERSION, the process must refuse to start (or, for
// a running worker, abort).
package version

import (
	"bufio"
	"context"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/xerrors"
)

// Embedded is this build's own protocol version.
const Embedded = 1

// ErrIncompatible is the sentinel wrapped by Check when the remote protocol
// version has advanced past what this build understands — the one
// condition that must abort the caller outright. Any other error Check
// returns (a fetch failure, a malformed response) is transient and should
// not be treated the same way.
var ErrIncompatible = xerrors.New("remote protocol version is newer than this build")

// Fetch retrieves the remote protocol version from coordinatorURL+"/version".
func Fetch(ctx context.Context, client *http.Client, coordinatorURL string) (int, error) {
	url := strings.TrimRight(coordinatorURL, "/") + "/version"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, xerrors.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, xerrors.Errorf("fetching %s: unexpected status %s", url, resp.Status)
	}
	scanner := bufio.NewScanner(resp.Body)
	if !scanner.Scan() {
		return 0, xerrors.Errorf("fetching %s: empty response", url)
	}
	v, err := strconv.Atoi(strings.TrimSpace(scanner.Text()))
	if err != nil {
		return 0, xerrors.Errorf("parsing version from %s: %w", url, err)
	}
	return v, nil
}

// Check fetches the remote version and returns an error if it exceeds
// Embedded.
func Check(ctx context.Context, client *http.Client, coordinatorURL string) error {
	remote, err := Fetch(ctx, client, coordinatorURL)
	if err != nil {
		return err
	}
	if remote > Embedded {
		return xerrors.Errorf("remote protocol version %d is newer than embedded version %d: %w", remote, Embedded, ErrIncompatible)
	}
	return nil
}
