package logbundle

import (
	"archive/tar"
	"io"
	"os"
	"path/filepath"

	"github.com/fly-io/clusterops/pkg/errors"
	"github.com/klauspost/compress/gzip"
)

// ArchiveRoot is the top-level directory inside every bundle.
const ArchiveRoot = "stardog_logs"

// CreateTarball writes srcDir to dst as a gzip tar rooted at ArchiveRoot.
func CreateTarball(srcDir, dst string) error {
	out, err := os.Create(dst)
	if err != nil {
		return errors.Wrap(err, "failed to create tarball")
	}

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	walkErr := filepath.Walk(srcDir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, p)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(filepath.Join(ArchiveRoot, rel))

		link := ""
		if info.Mode()&os.ModeSymlink != 0 {
			if link, err = os.Readlink(p); err != nil {
				return err
			}
		}
		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		hdr.Name = name
		if info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})

	if walkErr != nil {
		out.Close()
		return errors.Wrap(walkErr, "failed to write tarball")
	}
	if err := tw.Close(); err != nil {
		out.Close()
		return errors.Wrap(err, "failed to finish tar stream")
	}
	if err := gz.Close(); err != nil {
		out.Close()
		return errors.Wrap(err, "failed to finish gzip stream")
	}
	return out.Close()
}
