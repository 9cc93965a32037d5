package submit

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestSubmitRenamesLocallyWithoutCredentials(t *testing.T) {
	dir := t.TempDir()
	tarballPath := filepath.Join(dir, "results.tar.bz2")
	body := []byte("fake tarball bytes")
	if err := os.WriteFile(tarballPath, body, 0644); err != nil {
		t.Fatal(err)
	}

	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(wd)

	localPath, err := Submit(context.Background(), Options{
		TarballPath: "results.tar.bz2",
		InstanceID:  3,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	sum := sha1.Sum(body)
	want := fmt.Sprintf("instance-3-%s.tar.bz2", hex.EncodeToString(sum[:]))
	if localPath != want {
		t.Errorf("localPath = %q, want %q", localPath, want)
	}
	if _, err := os.Stat(want); err != nil {
		t.Errorf("expected renamed tarball to exist: %v", err)
	}
}

func TestSubmitUploadsWhenCredentialed(t *testing.T) {
	var gotExpect string
	var gotAuthOK bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotExpect = r.Header.Get("Expect")
		login, password, ok := r.BasicAuth()
		gotAuthOK = ok && login == "user" && password == "pass"
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("server: parsing multipart form: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	dir := t.TempDir()
	tarballPath := filepath.Join(dir, "results.tar.bz2")
	if err := os.WriteFile(tarballPath, []byte("fake tarball bytes"), 0644); err != nil {
		t.Fatal(err)
	}

	localPath, err := Submit(context.Background(), Options{
		TarballPath: tarballPath,
		InstanceID:  1,
		HTTPURL:     srv.URL,
		Login:       "user",
		Password:    "pass",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if localPath != "" {
		t.Errorf("localPath = %q, want empty string on successful upload", localPath)
	}
	if gotExpect != "" {
		t.Errorf("Expect header = %q, want empty", gotExpect)
	}
	if !gotAuthOK {
		t.Errorf("server did not see expected basic-auth credentials")
	}
}
