package appconfig

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
)

func TestParseDefaults(t *testing.T) {
	fset := flag.NewFlagSet("test", flag.ContinueOnError)
	s, err := Parse(fset, nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if s.NInstances != DefaultNInstances {
		t.Errorf("NInstances = %d, want %d", s.NInstances, DefaultNInstances)
	}
	if s.PIDFile != DefaultPIDFile {
		t.Errorf("PIDFile = %q, want %q", s.PIDFile, DefaultPIDFile)
	}
	if s.CoordinatorURL != DefaultCoordinator {
		t.Errorf("CoordinatorURL = %q, want %q", s.CoordinatorURL, DefaultCoordinator)
	}
}

func TestParseCLIOverridesDefault(t *testing.T) {
	fset := flag.NewFlagSet("test", flag.ContinueOnError)
	s, err := Parse(fset, []string{"-ninstances", "8", "-submitter", "me@example.org"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if s.NInstances != 8 {
		t.Errorf("NInstances = %d, want 8", s.NInstances)
	}
	if s.Submitter != "me@example.org" {
		t.Errorf("Submitter = %q, want me@example.org", s.Submitter)
	}
}

func TestParseConfigFileFillsUnsetFlags(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "autobuild.ini")
	ini := "[main]\nninstances = 4\nsubmitter = fromfile@example.org\n"
	if err := os.WriteFile(cfgPath, []byte(ini), 0644); err != nil {
		t.Fatal(err)
	}

	fset := flag.NewFlagSet("test", flag.ContinueOnError)
	s, err := Parse(fset, []string{"-config", cfgPath, "-submitter", "fromcli@example.org"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if s.NInstances != 4 {
		t.Errorf("NInstances = %d, want 4 (from config file)", s.NInstances)
	}
	if s.Submitter != "fromcli@example.org" {
		t.Errorf("Submitter = %q, want fromcli@example.org (CLI takes precedence)", s.Submitter)
	}
}

func TestParseVersionAndHelpFlags(t *testing.T) {
	fset := flag.NewFlagSet("test", flag.ContinueOnError)
	s, err := Parse(fset, []string{"-V"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !s.PrintVersion {
		t.Errorf("PrintVersion = false, want true for -V")
	}

	fset = flag.NewFlagSet("test", flag.ContinueOnError)
	s, err = Parse(fset, []string{"-h"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !s.PrintHelp {
		t.Errorf("PrintHelp = false, want true for -h")
	}
}
