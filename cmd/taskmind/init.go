package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/taskmind/taskmind/examples"
)

// runInit handles the "taskmind init [dir]" subcommand. It creates the
// data directory and installs the example config so a fresh installation
// works out of the box.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing taskmind workspace in %s\n", dir)

	dataDir := filepath.Join(dir, "data")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dataDir, err)
	}

	// The config holds the auth secret and provider API keys, so it gets
	// restricted permissions. Never overwrites user customizations.
	configPath := filepath.Join(dir, "taskmind.yaml")
	if err := writeIfMissing(w, configPath, examples.ConfigYAML, 0o600); err != nil {
		return err
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Edit taskmind.yaml, set TASKMIND_AUTH_SECRET and your provider")
	fmt.Fprintln(w, "API key, then run: taskmind serve")
	return nil
}

// writeIfMissing writes content to path only if the file does not already
// exist, reporting what it did to w.
func writeIfMissing(w io.Writer, path string, content []byte, mode os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, mode)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			fmt.Fprintf(w, "  - %s exists, skipping\n", path)
			return nil
		}
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(content); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(w, "  ✓ %s\n", path)
	return nil
}
