package memproc

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"
)

// SHA256File returns the lowercase hex digest of a file's full content,
// streaming so large videos do not need to fit in memory.
func SHA256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}
