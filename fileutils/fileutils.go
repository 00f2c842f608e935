// Package fileutils provides atomic file placement helpers. Downloads are
// staged in temp files and only renamed into place once complete, so readers
// never observe partially written assets.
package fileutils

import (
	"io"
	"os"
	"path/filepath"
)

// CopyFile copies src to dst atomically: the content lands in a temp file in
// dst's directory first and is renamed over dst.
func CopyFile(dst, src string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	return writeVia(dst, in, 0644)
}

// MoveFile moves src to dst atomically, across filesystem boundaries. A
// plain os.Rename fails with "invalid cross-device link" when temp and
// destination live on different devices; copying into a temp file next to
// dst keeps the final rename within one filesystem.
func MoveFile(dst, src string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	fi, err := in.Stat()
	if err != nil {
		return err
	}
	if err := writeVia(dst, in, fi.Mode()); err != nil {
		return err
	}
	return os.Remove(src)
}

// writeVia streams r into a temp file beside dst and renames it into place.
func writeVia(dst string, r io.Reader, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".tmp-place-")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Chmod(name, perm); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Rename(name, dst); err != nil {
		os.Remove(name)
		return err
	}
	return nil
}
