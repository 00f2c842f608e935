package memproc

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ExpandArchive extracts a fetched ZIP bundle into a sibling directory named
// by stripping the .zip extension and removes the bundle afterwards. The
// ledger already holds the provenance, so deleting the bundle only reclaims
// storage. Returns the directory the contents were extracted to.
func ExpandArchive(bundlePath string) (string, error) {
	r, err := zip.OpenReader(bundlePath)
	if err != nil {
		// insecure member names surface here as zip.ErrInsecurePath,
		// with a usable reader we still have to close
		if r != nil {
			r.Close()
		}
		return "", err
	}
	dir := strings.TrimSuffix(bundlePath, filepath.Ext(bundlePath))
	if err := os.MkdirAll(dir, 0755); err != nil {
		r.Close()
		return "", err
	}
	for _, f := range r.File {
		if err := extractOne(dir, f); err != nil {
			r.Close()
			return "", fmt.Errorf("extract %s: %w", f.Name, err)
		}
	}
	if err := r.Close(); err != nil {
		return "", err
	}
	if err := os.Remove(bundlePath); err != nil {
		return "", err
	}
	return dir, nil
}

// extractOne writes a single archive member below dir, refusing paths that
// escape it.
func extractOne(dir string, f *zip.File) error {
	dst := filepath.Join(dir, filepath.FromSlash(f.Name))
	rel, err := filepath.Rel(dir, dst)
	if err != nil || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("archive member escapes target directory: %s", f.Name)
	}
	if f.FileInfo().IsDir() {
		return os.MkdirAll(dst, 0755)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
