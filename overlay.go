package memproc

import (
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"image/png"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	xdraw "golang.org/x/image/draw"

	_ "image/gif"
)

// OverlayGroup is a directory holding a base asset and its transparent
// overlay, found by the naming convention inside expanded bundles. Groups
// are consumed by the compositor: the merged file replaces the directory.
type OverlayGroup struct {
	Dir     string // directory containing the pair
	Name    string // directory base name, becomes the output base name
	Main    string // path of the base image or video
	Overlay string // path of the overlay image
}

// FindOverlayGroups scans the immediate subdirectories of dir for main and
// overlay file pairs.
func FindOverlayGroups(dir string) ([]OverlayGroup, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var groups []OverlayGroup
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		sub := filepath.Join(dir, e.Name())
		files, err := os.ReadDir(sub)
		if err != nil {
			slog.Warn("cannot list directory", "dir", sub, "err", err)
			continue
		}
		var group OverlayGroup
		for _, f := range files {
			if f.IsDir() {
				continue
			}
			switch Classify(f.Name()) {
			case KindMain:
				group.Main = filepath.Join(sub, f.Name())
			case KindOverlay:
				group.Overlay = filepath.Join(sub, f.Name())
			}
		}
		if group.Main != "" && group.Overlay != "" {
			group.Dir = sub
			group.Name = e.Name()
			groups = append(groups, group)
		}
	}
	return groups, nil
}

// CompositorStats count group outcomes of a compositing pass.
type CompositorStats struct {
	Combined int
	Skipped  int
	Errored  int
}

// Compositor merges overlay groups into single files. Images are composited
// in-process; videos go through ffmpeg. Both tool paths degrade to skipping
// when the external binary is missing.
type Compositor struct {
	Dir           string
	Metadata      *MetadataWriter // used to carry tags from main to merged output, may be nil
	DryRun        bool
	KeepOriginals bool // keep the source directory after combining

	ffmpegPath  string
	ffprobePath string
}

// NewCompositor probes for ffmpeg and ffprobe once.
func NewCompositor(dir string, metadata *MetadataWriter) *Compositor {
	c := &Compositor{Dir: dir, Metadata: metadata}
	var err error
	if c.ffmpegPath, err = exec.LookPath("ffmpeg"); err != nil {
		slog.Warn("ffmpeg not found, video overlays will be skipped", "err", err)
	}
	if c.ffprobePath, err = exec.LookPath("ffprobe"); err != nil {
		slog.Debug("ffprobe not found, overlay scaling will use input size", "err", err)
	}
	return c
}

// FFmpegAvailable reports whether video compositing is possible this run.
func (c *Compositor) FFmpegAvailable() bool { return c.ffmpegPath != "" }

// DisableVideo turns off video compositing for the run, regardless of tool
// availability.
func (c *Compositor) DisableVideo() { c.ffmpegPath = "" }

// Run combines all overlay groups below the output directory. Per-group
// failures never affect other groups.
func (c *Compositor) Run() (CompositorStats, error) {
	var stats CompositorStats
	groups, err := FindOverlayGroups(c.Dir)
	if err != nil {
		return stats, err
	}
	slog.Info("found overlay groups", "n", len(groups), "dir", c.Dir)
	for _, group := range groups {
		switch c.processGroup(group) {
		case groupCombined:
			stats.Combined++
		case groupSkipped:
			stats.Skipped++
		case groupFailed:
			stats.Errored++
		}
	}
	slog.Info("overlay pass done",
		"combined", stats.Combined,
		"skipped", stats.Skipped,
		"errored", stats.Errored)
	return stats, nil
}

type groupResult int

const (
	groupCombined groupResult = iota
	groupSkipped
	groupFailed
)

func (c *Compositor) processGroup(group OverlayGroup) groupResult {
	output := filepath.Join(c.Dir, group.Name+filepath.Ext(group.Main))
	logger := slog.With("group", group.Name)
	if c.DryRun {
		logger.Info("would combine", "main", group.Main, "overlay", group.Overlay, "output", output)
		return groupSkipped
	}
	switch {
	case isVideoFile(group.Main):
		if !c.FFmpegAvailable() {
			logger.Warn("skipping video group, ffmpeg not available")
			return groupSkipped
		}
		if err := c.combineVideo(group.Main, group.Overlay, output); err != nil {
			logger.Warn("video combine failed", "err", err)
			return groupFailed
		}
	case isImageFile(group.Main):
		if err := CombineImages(group.Main, group.Overlay, output); err != nil {
			logger.Warn("image combine failed", "err", err)
			return groupFailed
		}
	default:
		logger.Warn("main file is neither image nor video", "main", group.Main)
		return groupSkipped
	}
	if c.Metadata != nil && c.Metadata.Available() {
		if err := c.Metadata.CopyTags(group.Main, output); err != nil {
			logger.Warn("metadata copy failed", "err", err)
		}
	}
	if !c.KeepOriginals {
		if err := os.RemoveAll(group.Dir); err != nil {
			logger.Warn("could not delete source directory", "err", err)
		}
	}
	logger.Info("combined", "output", output)
	return groupCombined
}

// CombineImages alpha-composites the overlay over the main image and writes
// the result: JPEG quality 95 when the main file was a JPEG, PNG otherwise.
func CombineImages(mainPath, overlayPath, outputPath string) error {
	base, err := decodeImage(mainPath)
	if err != nil {
		return fmt.Errorf("main image: %w", err)
	}
	overlay, err := decodeImage(overlayPath)
	if err != nil {
		return fmt.Errorf("overlay image: %w", err)
	}
	combined := AlphaComposite(base, overlay)
	out, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(outputPath)) {
	case ".jpg", ".jpeg":
		err = jpeg.Encode(out, combined, &jpeg.Options{Quality: 95})
	default:
		err = png.Encode(out, combined)
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return err
}

// AlphaComposite draws overlay over base with the standard alpha-over
// operator, resizing the overlay to the base bounds first when they differ.
// Resampling uses Catmull-Rom, a smooth quality-preserving filter.
func AlphaComposite(base, overlay image.Image) *image.RGBA {
	bounds := base.Bounds()
	dst := image.NewRGBA(bounds)
	draw.Draw(dst, bounds, base, bounds.Min, draw.Src)
	if !overlay.Bounds().Size().Eq(bounds.Size()) {
		scaled := image.NewRGBA(bounds)
		xdraw.CatmullRom.Scale(scaled, bounds, overlay, overlay.Bounds(), xdraw.Src, nil)
		draw.Draw(dst, bounds, scaled, bounds.Min, draw.Over)
		return dst
	}
	draw.Draw(dst, bounds, overlay, overlay.Bounds().Min, draw.Over)
	return dst
}

func decodeImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	return img, err
}

// combineVideo scales the overlay image to the main video's pixel dimensions
// and overlays it at the origin, re-encoding video while passing audio
// through unmodified.
func (c *Compositor) combineVideo(videoPath, overlayPath, outputPath string) error {
	filter := "[1:v]scale=iw:ih[ovr];[0:v][ovr]overlay=0:0:format=auto"
	if w, h, err := c.probeVideoDims(videoPath); err == nil {
		filter = fmt.Sprintf("[1:v]scale=%d:%d[ovr];[0:v][ovr]overlay=0:0:format=auto", w, h)
	}
	cmd := exec.Command(c.ffmpegPath,
		"-y",
		"-i", videoPath,
		"-i", overlayPath,
		"-filter_complex", filter,
		"-c:a", "copy",
		"-c:v", "libx264",
		"-preset", "medium",
		"-crf", "18",
		"-pix_fmt", "yuv420p",
		outputPath,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		detail := strings.TrimSpace(string(out))
		if len(detail) > 300 {
			detail = detail[:300] + "..."
		}
		return fmt.Errorf("ffmpeg: %w: %s", err, detail)
	}
	return nil
}

// probeVideoDims asks ffprobe for the pixel dimensions of the first video
// stream.
func (c *Compositor) probeVideoDims(path string) (width, height int, err error) {
	if c.ffprobePath == "" {
		return 0, 0, fmt.Errorf("ffprobe not available")
	}
	cmd := exec.Command(c.ffprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height",
		"-of", "csv=p=0",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, 0, err
	}
	parts := strings.Split(strings.TrimSpace(string(out)), ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("unexpected ffprobe output: %q", out)
	}
	if width, err = strconv.Atoi(parts[0]); err != nil {
		return 0, 0, err
	}
	if height, err = strconv.Atoi(parts[1]); err != nil {
		return 0, 0, err
	}
	return width, height, nil
}
