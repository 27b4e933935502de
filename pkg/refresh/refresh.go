// Package refresh swaps a new release into the installation root of the
// local node: copy the archive in, unpack it, keep the current install as a
// timestamped backup and move the new tree into its place.
package refresh

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fly-io/clusterops/pkg/errors"
	"github.com/fly-io/clusterops/pkg/security"
)

// BackupTimeFormat suffixes the previous installation directory.
const BackupTimeFormat = "20060102-150405"

// Options configures a Refresher.
type Options struct {
	// Root holds the installation, /usr/local by default.
	Root string
	// Name is the installation directory under Root.
	Name   string
	Limits security.Limits
}

// Refresher replaces an installation with a release archive.
type Refresher struct {
	opts      Options
	validator *security.Validator

	// Now stamps backups; defaults to time.Now.
	Now func() time.Time
}

// New creates a Refresher. Zero option fields take the defaults.
func New(opts Options) *Refresher {
	if opts.Root == "" {
		opts.Root = "/usr/local"
	}
	if opts.Name == "" {
		opts.Name = "stardog"
	}
	if opts.Limits == (security.Limits{}) {
		opts.Limits = security.DefaultLimits()
	}
	return &Refresher{
		opts:      opts,
		validator: security.NewValidator(opts.Limits),
		Now:       time.Now,
	}
}

// Refresh installs releaseFile. Every step runs even when an earlier one
// failed; all failures are returned together.
func (r *Refresher) Refresh(ctx context.Context, releaseFile string) error {
	stamp := r.Now().Format(BackupTimeFormat)
	base := filepath.Base(releaseFile)
	copied := filepath.Join(r.opts.Root, base)
	unpacked := filepath.Join(r.opts.Root, TrimArchiveSuffix(base))
	install := filepath.Join(r.opts.Root, r.opts.Name)
	backup := install + "." + stamp

	slog.Info("refresh_start", "release", releaseFile, "install", install, "backup", backup)

	var errs []error
	step := func(name string, fn func() error) {
		if err := fn(); err != nil {
			slog.Warn("refresh_step_failed", "step", name, "error", err)
			errs = append(errs, errors.Wrap(err, name))
			return
		}
		slog.Info("refresh_step_complete", "step", name)
	}

	step("copy", func() error {
		if filepath.Clean(releaseFile) == copied {
			return nil
		}
		return copyFile(releaseFile, copied)
	})
	step("unpack", func() error {
		return Unpack(ctx, copied, r.opts.Root, r.validator)
	})
	step("backup", func() error {
		return os.Rename(install, backup)
	})
	step("swap", func() error {
		if unpacked == install {
			return fmt.Errorf("release unpacks onto %s itself", install)
		}
		return os.Rename(unpacked, install)
	})

	if len(errs) > 0 {
		return stderrors.Join(errs...)
	}
	slog.Info("refresh_complete", "install", install)
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
