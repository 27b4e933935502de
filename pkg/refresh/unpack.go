package refresh

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fly-io/clusterops/pkg/security"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
)

// Archive suffixes understood by Unpack, longest first.
var archiveSuffixes = []string{".tar.gz", ".tgz", ".zip"}

// TrimArchiveSuffix returns the directory name a release archive unpacks to.
func TrimArchiveSuffix(name string) string {
	for _, s := range archiveSuffixes {
		if strings.HasSuffix(name, s) {
			return strings.TrimSuffix(name, s)
		}
	}
	return name
}

// Unpack extracts a zip or gzip tar archive into destDir. Every entry is
// checked by v before anything is written for it.
func Unpack(ctx context.Context, archive, destDir string, v *security.Validator) error {
	v.Reset()

	var err error
	switch {
	case strings.HasSuffix(archive, ".zip"):
		err = unpackZip(ctx, archive, destDir, v)
	case strings.HasSuffix(archive, ".tar.gz"), strings.HasSuffix(archive, ".tgz"):
		err = unpackTarGz(ctx, archive, destDir, v)
	default:
		return fmt.Errorf("unsupported archive format: %s", filepath.Base(archive))
	}
	if err != nil {
		return err
	}

	fi, err := os.Stat(archive)
	if err != nil {
		return fmt.Errorf("failed to stat archive: %w", err)
	}
	return v.ValidateRatio(fi.Size())
}

func unpackZip(ctx context.Context, archive, destDir string, v *security.Validator) error {
	r, err := zip.OpenReader(archive)
	if err != nil {
		return fmt.Errorf("failed to open zip: %w", err)
	}
	defer r.Close()

	for _, f := range r.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := v.ValidatePath(f.Name); err != nil {
			return fmt.Errorf("invalid path in zip: %w", err)
		}
		target := filepath.Join(destDir, f.Name)
		mode := f.Mode()

		switch {
		case mode.IsDir():
			if err := v.ValidateOnDisk(destDir, target); err != nil {
				return err
			}
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}

		case mode&os.ModeSymlink != 0:
			rc, err := f.Open()
			if err != nil {
				return fmt.Errorf("failed to open zip entry: %w", err)
			}
			link, err := io.ReadAll(io.LimitReader(rc, 4096))
			rc.Close()
			if err != nil {
				return fmt.Errorf("failed to read symlink: %w", err)
			}
			if err := writeSymlink(v, destDir, f.Name, string(link), target); err != nil {
				return err
			}

		default:
			if err := v.AddFile(f.Name, int64(f.UncompressedSize64)); err != nil {
				return err
			}
			rc, err := f.Open()
			if err != nil {
				return fmt.Errorf("failed to open zip entry: %w", err)
			}
			err = writeFile(v, destDir, target, mode.Perm(), io.LimitReader(rc, int64(f.UncompressedSize64)))
			rc.Close()
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func unpackTarGz(ctx context.Context, archive, destDir string, v *security.Validator) error {
	f, err := os.Open(archive)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("failed to open gzip stream: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("tar read error: %w", err)
		}

		if err := v.ValidatePath(header.Name); err != nil {
			return fmt.Errorf("invalid path in tar: %w", err)
		}
		target := filepath.Join(destDir, header.Name)

		switch header.Typeflag {
		case tar.TypeDir:
			if err := v.ValidateOnDisk(destDir, target); err != nil {
				return err
			}
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}
		case tar.TypeReg:
			if err := v.AddFile(header.Name, header.Size); err != nil {
				return err
			}
			if err := writeFile(v, destDir, target, os.FileMode(header.Mode).Perm(), tr); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := writeSymlink(v, destDir, header.Name, header.Linkname, target); err != nil {
				return err
			}
		}
	}
}

// writeFile and writeSymlink re-check containment against what is already on
// disk: earlier entries may have planted links that a textual check misses.
func writeFile(v *security.Validator, destDir, target string, perm os.FileMode, r io.Reader) error {
	if err := v.ValidateOnDisk(destDir, target); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create parent dir: %w", err)
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}
	return out.Close()
}

func writeSymlink(v *security.Validator, destDir, name, link, target string) error {
	if err := v.ValidateSymlink(name, link); err != nil {
		return fmt.Errorf("invalid symlink target: %w", err)
	}
	if err := v.ValidateOnDisk(destDir, filepath.Dir(target)); err != nil {
		return err
	}
	if err := v.ValidateLinkOnDisk(destDir, target, link); err != nil {
		return fmt.Errorf("invalid symlink target: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create parent dir: %w", err)
	}
	if err := os.Symlink(link, target); err != nil && !os.IsExist(err) {
		return fmt.Errorf("failed to create symlink: %w", err)
	}
	return nil
}
