package version

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/xerrors"
)

func TestCheckAcceptsSameOrOlderVersion(t *testing.T) {
	for _, remote := range []int{Embedded, Embedded - 1} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintf(w, "%d\n", remote)
		}))

		if err := Check(context.Background(), srv.Client(), srv.URL); err != nil {
			t.Errorf("Check() with remote version %d = %v, want nil", remote, err)
		}
		srv.Close()
	}
}

func TestCheckRejectsNewerRemoteVersion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "%d\n", Embedded+1)
	}))
	defer srv.Close()

	err := Check(context.Background(), srv.Client(), srv.URL)
	if err == nil {
		t.Fatalf("Check() = nil, want an error for a newer remote version")
	}
	if !xerrors.Is(err, ErrIncompatible) {
		t.Errorf("Check() error = %v, want it to wrap ErrIncompatible", err)
	}
}

func TestCheckFetchFailureDoesNotWrapErrIncompatible(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := Check(context.Background(), srv.Client(), srv.URL)
	if err == nil {
		t.Fatalf("Check() = nil, want an error for a failed fetch")
	}
	if xerrors.Is(err, ErrIncompatible) {
		t.Errorf("Check() error = %v, should not wrap ErrIncompatible for a transient fetch failure", err)
	}
}

func TestFetchStripsTrailingSlashAndTrimsWhitespace(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		fmt.Fprintf(w, " 2 \n")
	}))
	defer srv.Close()

	v, err := Fetch(context.Background(), srv.Client(), srv.URL+"/")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if v != 2 {
		t.Errorf("Fetch() = %d, want 2", v)
	}
	if gotPath != "/version" {
		t.Errorf("request path = %q, want /version", gotPath)
	}
}
