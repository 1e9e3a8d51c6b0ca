// Package config holds the subset of repository configuration the storage
// engine consumes: committer identity, excludes file location, and the
// packing knobs.
package config

import (
	"fmt"
	"io"

	"github.com/go-git/gcfg"
)

// Default values for the packing knobs.
const (
	// DefaultPackWindow is the number of prior similar objects considered
	// as delta bases while packing.
	DefaultPackWindow = 10
	// DefaultGCAuto is the loose object count that triggers an automatic
	// repack.
	DefaultGCAuto = 6700
)

// Config contains the repository configuration.
type Config struct {
	User struct {
		// Name is the committer/author name used when the caller provides
		// none.
		Name string
		// Email is the matching email address.
		Email string
	}

	Core struct {
		// Bare marks a repository without a worktree.
		Bare bool
		// ExcludesFile is the user-level ignore file combined below
		// repository ignores.
		ExcludesFile string `gcfg:"excludesfile"`
	}

	Pack struct {
		// Window is the delta search window used while packing.
		Window int
	}

	Gc struct {
		// Auto is the loose object threshold that makes a repack worth it.
		Auto int
	}
}

// NewConfig returns a Config with defaults filled in.
func NewConfig() *Config {
	c := &Config{}
	c.Pack.Window = DefaultPackWindow
	c.Gc.Auto = DefaultGCAuto
	return c
}

// Decode reads a git-config formatted stream into the Config. Unknown
// sections and keys are ignored.
func (c *Config) Decode(r io.Reader) error {
	return gcfg.FatalOnly(gcfg.ReadInto(c, r))
}

// Encode writes the Config as a git-config formatted stream.
func (c *Config) Encode(w io.Writer) error {
	if c.User.Name != "" || c.User.Email != "" {
		if _, err := fmt.Fprintf(w, "[user]\n\tname = %s\n\temail = %s\n", c.User.Name, c.User.Email); err != nil {
			return err
		}
	}

	if _, err := fmt.Fprintf(w, "[core]\n\tbare = %t\n", c.Core.Bare); err != nil {
		return err
	}

	if c.Core.ExcludesFile != "" {
		if _, err := fmt.Fprintf(w, "\texcludesfile = %s\n", c.Core.ExcludesFile); err != nil {
			return err
		}
	}

	if c.Pack.Window != 0 && c.Pack.Window != DefaultPackWindow {
		if _, err := fmt.Fprintf(w, "[pack]\n\twindow = %d\n", c.Pack.Window); err != nil {
			return err
		}
	}

	if c.Gc.Auto != 0 && c.Gc.Auto != DefaultGCAuto {
		if _, err := fmt.Fprintf(w, "[gc]\n\tauto = %d\n", c.Gc.Auto); err != nil {
			return err
		}
	}

	return nil
}

// Validate checks the configuration is coherent.
func (c *Config) Validate() error {
	if c.Pack.Window < 0 {
		return fmt.Errorf("pack.window must not be negative")
	}

	return nil
}
