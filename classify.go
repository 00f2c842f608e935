package memproc

import (
	"path/filepath"
	"strings"
)

// Kind tags a file by the naming convention used inside expanded bundles.
// The export marks related files with a name infix; this is a convention,
// not a type system, so the classification lives in one place.
type Kind int

const (
	KindOther Kind = iota
	KindMain
	KindOverlay
	KindThumbnail
)

func (k Kind) String() string {
	switch k {
	case KindMain:
		return "main"
	case KindOverlay:
		return "overlay"
	case KindThumbnail:
		return "thumbnail"
	default:
		return "other"
	}
}

// Classify tags a filename by its infix. Overlays and thumbnails are
// intermediate assets: they are consumed by the compositor and must not
// receive capture metadata.
func Classify(name string) Kind {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "-overlay") || strings.Contains(lower, "_overlay"):
		return KindOverlay
	case strings.Contains(lower, "thumbnail"):
		return KindThumbnail
	case strings.Contains(lower, "-main.") || strings.Contains(lower, "_main."):
		return KindMain
	default:
		return KindOther
	}
}

var (
	videoExtensions = map[string]bool{
		".mp4": true, ".mov": true, ".avi": true,
		".mkv": true, ".webm": true, ".m4v": true,
	}
	imageExtensions = map[string]bool{
		".jpg": true, ".jpeg": true, ".png": true,
		".gif": true, ".bmp": true, ".webp": true,
	}
	// mediaExtensions limits which files receive metadata.
	mediaExtensions = map[string]bool{
		".jpg": true, ".jpeg": true, ".png": true,
		".mp4": true, ".mov": true, ".avi": true,
	}
)

func isVideoFile(path string) bool {
	return videoExtensions[strings.ToLower(filepath.Ext(path))]
}

func isImageFile(path string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(path))]
}

func isMediaFile(path string) bool {
	return mediaExtensions[strings.ToLower(filepath.Ext(path))]
}
