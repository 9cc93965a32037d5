// Package appconfig resolves the autobuilder's settings from command-line
// flags, an optional INI config file, and embedded defaults, with CLI
// taking precedence over the file, and the file over the default.
package appconfig

import (
	"flag"

	"golang.org/x/xerrors"
	"gopkg.in/ini.v1"
)

// Embedded defaults, used when neither a CLI flag nor the config file sets
// a value.
const (
	DefaultNInstances    = 1
	DefaultNJobs         = 1
	DefaultNice          = 0
	DefaultPIDFile       = "/tmp/buildroot-autobuild.pid"
	DefaultCoordinator   = "http://autobuild.buildroot.org/"
	DefaultBuildrootRepo = "git://git.buildroot.net/buildroot"
)

// Settings mirrors the autobuilder's CLI surface, one field per flag.
type Settings struct {
	NInstances     int
	NJobs          int
	Nice           int
	Submitter      string
	HTTPURL        string
	HTTPLogin      string
	HTTPPassword   string
	MakeOpts       string
	PIDFile        string
	ConfigPath     string
	ToolchainCSV   string
	CoordinatorURL string
	BuildrootRepo  string

	PrintVersion bool
	PrintHelp    bool
}

// Parse resolves Settings from args with precedence CLI > config file >
// embedded default. The config file path itself can only come from the
// command line (there is nowhere else for it to come from).
func Parse(fset *flag.FlagSet, args []string) (*Settings, error) {
	s := &Settings{
		NInstances:     DefaultNInstances,
		NJobs:          DefaultNJobs,
		Nice:           DefaultNice,
		PIDFile:        DefaultPIDFile,
		CoordinatorURL: DefaultCoordinator,
		BuildrootRepo:  DefaultBuildrootRepo,
	}

	fset.IntVar(&s.NInstances, "ninstances", s.NInstances, "number of parallel build instances")
	fset.IntVar(&s.NJobs, "njobs", s.NJobs, "BR2_JLEVEL passed to each build")
	fset.IntVar(&s.Nice, "nice", s.Nice, "niceness of the build process")
	fset.StringVar(&s.Submitter, "submitter", "", "submitter identification string")
	fset.StringVar(&s.HTTPURL, "http-url", "", "coordinator upload URL")
	fset.StringVar(&s.HTTPLogin, "http-login", "", "HTTP basic-auth login for uploads")
	fset.StringVar(&s.HTTPPassword, "http-password", "", "HTTP basic-auth password for uploads")
	fset.StringVar(&s.MakeOpts, "make-opts", "", "extra make options")
	fset.StringVar(&s.PIDFile, "pid-file", s.PIDFile, "path to write the supervisor's PID")
	fset.StringVar(&s.ConfigPath, "config", "", "path to an INI config file")
	fset.StringVar(&s.ToolchainCSV, "tc-cfg-uri", "", "URI of the toolchain catalogue CSV")
	fset.StringVar(&s.CoordinatorURL, "coordinator", s.CoordinatorURL, "coordinator base URL")
	fset.StringVar(&s.BuildrootRepo, "buildroot-repo", s.BuildrootRepo, "buildroot git repository to clone")
	fset.BoolVar(&s.PrintVersion, "V", false, "print version and exit")
	fset.BoolVar(&s.PrintVersion, "version", false, "print version and exit")
	fset.BoolVar(&s.PrintHelp, "h", false, "print usage and exit")
	fset.BoolVar(&s.PrintHelp, "help", false, "print usage and exit")

	if err := fset.Parse(args); err != nil {
		return nil, err
	}

	if s.ConfigPath != "" {
		if err := applyConfigFile(fset, s); err != nil {
			return nil, xerrors.Errorf("reading config file %s: %w", s.ConfigPath, err)
		}
	}

	return s, nil
}

// applyConfigFile fills in any setting not explicitly given on the command
// line from the [main] section of the INI file at s.ConfigPath.
func applyConfigFile(fset *flag.FlagSet, s *Settings) error {
	explicit := make(map[string]bool)
	fset.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	cfg, err := ini.Load(s.ConfigPath)
	if err != nil {
		return err
	}
	main := cfg.Section("main")

	setString := func(flagName string, dst *string) {
		if explicit[flagName] {
			return
		}
		if main.HasKey(flagName) {
			*dst = main.Key(flagName).String()
		}
	}
	setInt := func(flagName string, dst *int) {
		if explicit[flagName] {
			return
		}
		if main.HasKey(flagName) {
			if v, err := main.Key(flagName).Int(); err == nil {
				*dst = v
			}
		}
	}

	setInt("ninstances", &s.NInstances)
	setInt("njobs", &s.NJobs)
	setInt("nice", &s.Nice)
	setString("submitter", &s.Submitter)
	setString("http-url", &s.HTTPURL)
	setString("http-login", &s.HTTPLogin)
	setString("http-password", &s.HTTPPassword)
	setString("make-opts", &s.MakeOpts)
	setString("pid-file", &s.PIDFile)
	setString("tc-cfg-uri", &s.ToolchainCSV)
	setString("coordinator", &s.CoordinatorURL)
	setString("buildroot-repo", &s.BuildrootRepo)

	return nil
}
