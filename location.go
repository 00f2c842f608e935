package memproc

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// LocationSummary is one entry of the metadata.json summary document written
// by the location step.
type LocationSummary struct {
	Filename    string    `json:"filename"`
	Date        string    `json:"date,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	Location    *Location `json:"location"`
}

// LocationStats count the work of a location metadata pass.
type LocationStats struct {
	Processed       int
	WithLocation    int
	WithoutLocation int
	Written         int
	Failed          int
}

// LocationStep pairs success-ledger entries with the GPS rows of the export
// by link index, writes coordinates into the downloaded files (or recursively
// into expanded bundle directories) and persists a metadata summary document.
// The success ledger is a precondition: without it there is nothing to pair.
type LocationStep struct {
	Export      *Export
	Ledger      *Ledger
	Dir         string // download directory
	SummaryPath string // metadata.json location, empty disables the summary
	Metadata    *MetadataWriter
}

// Run executes the pass. Per-file write failures are counted, never fatal.
func (s *LocationStep) Run() (LocationStats, error) {
	var (
		stats   LocationStats
		summary = make(map[string]LocationSummary)
	)
	for _, entry := range s.Export.Entries {
		id := UniqueID(entry.URL)
		rec, ok := s.Ledger.Get(id)
		if !ok {
			continue
		}
		stats.Processed++
		var loc *Location
		if entry.Index < len(s.Export.Locations) {
			loc = s.Export.Locations[entry.Index]
		}
		summary[id] = LocationSummary{
			Filename:    rec.Filename,
			Date:        rec.Date,
			ContentType: rec.ContentType,
			Location:    loc,
		}
		if loc == nil {
			stats.WithoutLocation++
			continue
		}
		stats.WithLocation++
		if s.Metadata == nil || !s.Metadata.Available() {
			continue
		}
		path := filepath.Join(s.Dir, rec.Filename)
		switch {
		case fileExists(path):
			if s.Metadata.WriteGPS(path, loc.Latitude, loc.Longitude) {
				stats.Written++
			} else {
				stats.Failed++
			}
		case dirExists(strings.TrimSuffix(path, ".zip")):
			// the bundle was expanded, stamp its contents
			n := s.Metadata.WriteTreeGPS(strings.TrimSuffix(path, ".zip"), loc.Latitude, loc.Longitude)
			stats.Written += n
		default:
			stats.Failed++
			slog.Debug("recorded file missing on disk", "id", id, "file", rec.Filename)
		}
	}
	if s.SummaryPath != "" {
		if err := writeJSONFile(s.SummaryPath, summary); err != nil {
			return stats, err
		}
	}
	slog.Info("location pass done",
		"processed", stats.Processed,
		"with_location", stats.WithLocation,
		"without_location", stats.WithoutLocation,
		"written", stats.Written,
		"failed", stats.Failed)
	return stats, nil
}

func fileExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}

func dirExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}
