package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/term"

	"github.com/Travis-Britz/cfsync"
)

// fillFromTokenFile reads the API token from path when no credentials were configured elsewhere.
// A missing file starts the interactive setup if stdin is a terminal.
func fillFromTokenFile(log logr.Logger, cfg *cfsync.Config, path string) error {
	c := cfg.Credentials
	if c.Token != "" || c.Key != "" || c.Email != "" || path == "" {
		return nil
	}

	_, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		if !term.IsTerminal(int(syscall.Stdin)) {
			log.V(1).Info("token file does not exist", "path", path)
			return nil
		}
		log.Info("token file does not exist", "path", path)
		if err := runSetup(log, path); err != nil {
			return fmt.Errorf("setup: %w", err)
		}
	}
	if err := verifyPermissions(path); err != nil {
		return err
	}

	key, err := readKey(path)
	if err != nil {
		return fmt.Errorf("error reading key: %w", err)
	}
	log.V(1).Info("successfully read token from token file", "path", path)
	cfg.Credentials.Token = key
	return nil
}

func runSetup(log logr.Logger, path string) error {
	log.Info("running setup")
	fmt.Fprintf(os.Stderr, "Enter Cloudflare API Token: \n")
	bytekey, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return fmt.Errorf("runSetup: error reading from stdin: %w", err)
	}
	key := strings.TrimSpace(string(bytekey))

	cf, err := cfsync.NewCloudflare(cfsync.Credentials{Token: key})
	if err != nil {
		return fmt.Errorf("error creating api client: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	log.Info("verifying token...")
	if err := cf.VerifyToken(ctx); err != nil {
		return fmt.Errorf("unable to verify api token: %w", err)
	}
	log.Info("token verified successfully")

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("unable to create \"%s\": %w", path, err)
	}
	defer f.Close()
	if _, err := fmt.Fprintln(f, key); err != nil {
		return fmt.Errorf("unable to write \"%s\": %w", path, err)
	}
	log.Info("token written", "path", path)
	return nil
}

func readKey(path string) (key string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("error reading key: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	keyb, _, err := r.ReadLine()
	if err != nil {
		return "", fmt.Errorf("error reading line: %w", err)
	}
	return strings.TrimSpace(string(keyb)), nil
}

func verifyPermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("error checking token file permissions: %w", err)
	}

	perms := info.Mode().Perm()
	// Error messages will state that we want 0600,
	// but we'll also accept 0400 which is even more restricted.
	// The file might be provided by some secrets managing software as readonly.
	if perms != 0600 && perms != 0400 {
		return fmt.Errorf("invalid permissions for \"%s\": expected file permissions \"-rw-------\"; found \"%s\"", path, fs.FileMode(perms))
	}
	return nil
}
