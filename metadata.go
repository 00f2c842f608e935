package memproc

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	exiftool "github.com/barasher/go-exiftool"
)

// captureDateLayouts are the formats seen in export date cells, most common
// first. Trailing "UTC" is stripped before parsing.
var captureDateLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02.01.2006 15:04:05",
	"02.01.2006",
}

// ParseCaptureDate parses the loosely formatted date text from the export
// table. Returns false when the text matches no known layout.
func ParseCaptureDate(text string) (time.Time, bool) {
	text = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(text), "UTC"))
	if text == "" {
		return time.Time{}, false
	}
	for _, layout := range captureDateLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// MetadataWriter stamps capture dates and GPS coordinates onto media files
// via exiftool. A missing exiftool binary disables the feature for the whole
// run instead of failing per item.
type MetadataWriter struct {
	et *exiftool.Exiftool
}

// NewMetadataWriter probes for exiftool once. The returned writer is usable
// either way; Available reports whether writes will happen.
func NewMetadataWriter() *MetadataWriter {
	et, err := exiftool.NewExiftool()
	if err != nil {
		slog.Warn("exiftool not found, metadata will not be written", "err", err)
		return &MetadataWriter{}
	}
	return &MetadataWriter{et: et}
}

// Available reports whether exiftool was found at startup.
func (w *MetadataWriter) Available() bool { return w.et != nil }

// Close releases the underlying exiftool process, if any.
func (w *MetadataWriter) Close() error {
	if w.et == nil {
		return nil
	}
	return w.et.Close()
}

// WriteCaptureDate stamps the capture date onto a file and sets its mtime.
// Overlay and thumbnail files only get their mtime adjusted, as the
// compositor consumes and deletes them later. Returns true when exiftool
// actually wrote tags.
func (w *MetadataWriter) WriteCaptureDate(path, dateText string) bool {
	t, ok := ParseCaptureDate(dateText)
	if !ok || w.et == nil {
		return false
	}
	if kind := Classify(filepath.Base(path)); kind == KindOverlay || kind == KindThumbnail {
		// mtime still reflects the capture date for intermediate assets
		_ = os.Chtimes(path, t, t)
		return false
	}
	exifDate := t.Format("2006:01:02 15:04:05")
	fm := exiftool.EmptyFileMetadata()
	fm.File = path
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".jpg", ".jpeg", ".png":
		fm.SetString("DateTimeOriginal", exifDate)
		fm.SetString("CreateDate", exifDate)
		fm.SetString("ModifyDate", exifDate)
	case ".mp4", ".mov", ".avi":
		fm.SetString("CreateDate", exifDate)
		fm.SetString("MediaCreateDate", exifDate)
		fm.SetString("TrackCreateDate", exifDate)
		fm.SetString("ModifyDate", exifDate)
	default:
		return false
	}
	fm.SetString("-overwrite_original", "")
	w.et.WriteMetadata([]exiftool.FileMetadata{fm})
	if fm.Err != nil {
		slog.Debug("exiftool date write failed", "path", path, "err", fm.Err)
		return false
	}
	_ = os.Chtimes(path, t, t)
	return true
}

// WriteGPS stamps a coordinate pair onto a file. Signed decimal degrees are
// split into absolute value and hemisphere reference, as EXIF requires.
func (w *MetadataWriter) WriteGPS(path string, lat, lon float64) bool {
	if w.et == nil {
		return false
	}
	if kind := Classify(filepath.Base(path)); kind == KindOverlay || kind == KindThumbnail {
		return false
	}
	if !isMediaFile(path) {
		return false
	}
	latRef, lonRef := "N", "E"
	if lat < 0 {
		latRef = "S"
		lat = -lat
	}
	if lon < 0 {
		lonRef = "W"
		lon = -lon
	}
	fm := exiftool.EmptyFileMetadata()
	fm.File = path
	fm.SetString("GPSLatitude", fmt.Sprintf("%v", lat))
	fm.SetString("GPSLatitudeRef", latRef)
	fm.SetString("GPSLongitude", fmt.Sprintf("%v", lon))
	fm.SetString("GPSLongitudeRef", lonRef)
	fm.SetString("-overwrite_original", "")
	w.et.WriteMetadata([]exiftool.FileMetadata{fm})
	if fm.Err != nil {
		slog.Debug("exiftool gps write failed", "path", path, "err", fm.Err)
		return false
	}
	return true
}

// CopyTags transfers all tags from src to dst, used after compositing so the
// merged file keeps the capture metadata of its main input. Tag copying goes
// through the exiftool binary directly, as it is a whole-file operation.
func (w *MetadataWriter) CopyTags(src, dst string) error {
	if w.et == nil {
		return nil
	}
	bin, err := exec.LookPath("exiftool")
	if err != nil {
		return err
	}
	cmd := exec.Command(bin, "-overwrite_original", "-q", "-TagsFromFile", src, "-all:all", dst)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("exiftool tag copy: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// WriteTreeCaptureDate walks an expanded bundle directory and stamps the
// capture date onto every media file. Returns written and skipped counts.
func (w *MetadataWriter) WriteTreeCaptureDate(dir, dateText string) (written, skipped int) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !isMediaFile(path) {
			return nil
		}
		if w.WriteCaptureDate(path, dateText) {
			written++
		} else {
			skipped++
		}
		return nil
	})
	return written, skipped
}

// WriteTreeGPS stamps coordinates onto every media file below dir.
func (w *MetadataWriter) WriteTreeGPS(dir string, lat, lon float64) (written int) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !isMediaFile(path) {
			return nil
		}
		if w.WriteGPS(path, lat, lon) {
			written++
		}
		return nil
	})
	return written
}
