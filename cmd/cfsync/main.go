// Command cfsync points Cloudflare A and AAAA records at this host's public IP addresses.
//
// It runs once and exits; schedule it with cron or a systemd timer.
package main

import (
	"context"
	"fmt"
	"net/netip"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Travis-Britz/cfsync"
)

type options struct {
	ConfigFile  string
	Records     []string
	Token       string
	Key         string
	Email       string
	TokenFile   string
	IPv4        bool
	IPv6        bool
	IP          []string
	Interfaces  []string
	Services    []string
	Validate    bool
	Concurrency int
	Timeout     time.Duration
	Setup       bool
	Verbose     int
	Quiet       bool
}

func newFlagSet(o *options) *flag.FlagSet {
	fs := flag.NewFlagSet("cfsync", flag.ContinueOnError)
	fs.StringVarP(&o.ConfigFile, "config", "c", "", "YAML config file")
	fs.StringSliceVarP(&o.Records, "records", "r", nil, "Comma separated DNS records to update with the host's public IP [$CLOUDFLARE_RECORDS]")
	fs.StringVarP(&o.Token, "token", "t", "", "recommended: Cloudflare API token [$CLOUDFLARE_APITOKEN]")
	fs.StringVarP(&o.Key, "key", "k", "", "deprecated: Cloudflare global API key, also requires email [$CLOUDFLARE_APIKEY]")
	fs.StringVarP(&o.Email, "email", "e", "", "deprecated: Cloudflare account email, also requires API key [$CLOUDFLARE_EMAIL]")
	fs.StringVar(&o.TokenFile, "token-file", filepath.Join(os.Getenv("HOME"), ".cloudflare"), "Path to a file holding the API token")
	fs.BoolVarP(&o.IPv4, "ipv4", "4", false, "Only set A records")
	fs.BoolVarP(&o.IPv6, "ipv6", "6", false, "Only set AAAA records")
	fs.StringSliceVar(&o.IP, "ip", nil, "Use these addresses instead of looking them up; a family without one is left alone")
	fs.StringSliceVar(&o.Interfaces, "interface", nil, "Read addresses from these network interfaces instead of looking them up")
	fs.StringSliceVar(&o.Services, "service", nil, "Public IP lookup service URLs to use instead of the defaults")
	fs.BoolVar(&o.Validate, "validate-names", false, "Skip names that are not valid domain names under a known public suffix")
	fs.IntVar(&o.Concurrency, "concurrency", 0, "Maximum concurrent API requests (0 for no limit)")
	fs.DurationVar(&o.Timeout, "timeout", 2*time.Minute, "Give up on the run after this long")
	fs.BoolVar(&o.Setup, "setup", false, "Prompt for an API token, verify it and write it to the token file")
	fs.CountVarP(&o.Verbose, "verbose", "v", "Increase logging verbosity")
	fs.BoolVarP(&o.Quiet, "quiet", "q", false, "Only log errors")
	return fs
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "cfsync: %s\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var o options
	fs := newFlagSet(&o)
	if err := fs.Parse(args); err != nil {
		return err
	}

	log, flush, err := newLogger(o.Verbose, o.Quiet)
	if err != nil {
		return fmt.Errorf("error creating logger: %w", err)
	}
	defer flush()

	if o.Setup {
		return runSetup(log, o.TokenFile)
	}

	cfg, err := loadConfig(fs, o, os.LookupEnv)
	if err != nil {
		return err
	}
	if err := fillFromTokenFile(log, &cfg, o.TokenFile); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	log.V(1).Info("config is valid", "records", cfg.Records, "families", cfg.Families())

	opts, err := resolverOptions(o)
	if err != nil {
		return err
	}
	opts = append(opts,
		cfsync.WithLogger(log),
		cfsync.WithConcurrency(o.Concurrency),
	)
	client, err := cfsync.New(cfg, opts...)
	if err != nil {
		return fmt.Errorf("error creating client: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, o.Timeout)
	defer cancel()

	report, err := client.Run(ctx)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	log.V(1).Info("finished", "changed", report.Changed(), "warnings", len(report.Warnings))
	return nil
}

func resolverOptions(o options) ([]cfsync.ClientOption, error) {
	switch {
	case len(o.IP) > 0:
		for _, ip := range o.IP {
			if _, err := netip.ParseAddr(ip); err != nil {
				return nil, fmt.Errorf("invalid --ip %q: %w", ip, err)
			}
		}
		return []cfsync.ClientOption{cfsync.UsingAddresses(o.IP...)}, nil
	case len(o.Interfaces) > 0:
		return []cfsync.ClientOption{cfsync.UsingResolver(cfsync.InterfaceResolver(o.Interfaces...))}, nil
	case len(o.Services) > 0:
		return []cfsync.ClientOption{cfsync.UsingWebResolver(o.Services...)}, nil
	}
	return nil, nil
}

// loadConfig layers the config file, then the environment, then flags that were set explicitly.
func loadConfig(fs *flag.FlagSet, o options, lookupEnv func(string) (string, bool)) (cfsync.Config, error) {
	var cfg cfsync.Config
	if o.ConfigFile != "" {
		var err error
		if cfg, err = cfsync.LoadConfigFile(o.ConfigFile); err != nil {
			return cfg, err
		}
	}

	if v, ok := lookupEnv("CLOUDFLARE_RECORDS"); ok {
		cfg.Records = cfsync.SplitRecords(v)
	}
	if v, ok := lookupEnv("CLOUDFLARE_APITOKEN"); ok {
		cfg.Credentials.Token = v
	}
	if v, ok := lookupEnv("CLOUDFLARE_APIKEY"); ok {
		cfg.Credentials.Key = v
	}
	if v, ok := lookupEnv("CLOUDFLARE_EMAIL"); ok {
		cfg.Credentials.Email = v
	}

	if fs.Changed("records") {
		cfg.Records = o.Records
	}
	if fs.Changed("token") {
		cfg.Credentials.Token = o.Token
	}
	if fs.Changed("key") {
		cfg.Credentials.Key = o.Key
	}
	if fs.Changed("email") {
		cfg.Credentials.Email = o.Email
	}
	if fs.Changed("ipv4") {
		cfg.IPv4 = o.IPv4
	}
	if fs.Changed("ipv6") {
		cfg.IPv6 = o.IPv6
	}
	if fs.Changed("validate-names") {
		cfg.ValidateNames = o.Validate
	}
	return cfg, nil
}

// newLogger builds a console logger. logr verbosity n maps to zap level -n.
func newLogger(verbose int, quiet bool) (logr.Logger, func(), error) {
	zc := zap.NewProductionConfig()
	zc.Encoding = "console"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	zc.DisableStacktrace = true
	zc.DisableCaller = true
	zc.Sampling = nil
	level := zapcore.Level(-verbose)
	if quiet {
		level = zapcore.ErrorLevel
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	zl, err := zc.Build()
	if err != nil {
		return logr.Discard(), func() {}, err
	}
	return zapr.NewLogger(zl), func() { _ = zl.Sync() }, nil
}
