package memproc

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLocationStepRun(t *testing.T) {
	dir := t.TempDir()
	export := &Export{
		Entries: []Entry{
			{URL: "https://app.example.com/dmd/memories?mid=loc-1", IsGet: true, Date: "2021-04-03 18:24:55 UTC", Index: 0},
			{URL: "https://app.example.com/dmd/memories?mid=loc-2", IsGet: true, Date: "2021-04-04 10:00:00 UTC", Index: 1},
			{URL: "https://app.example.com/dmd/memories?mid=loc-3", IsGet: true, Date: "2021-04-05 09:30:00 UTC", Index: 2},
		},
		Locations: []*Location{
			{Latitude: 40.7128, Longitude: -74.006},
			nil,
			{Latitude: 51.5074, Longitude: -0.1278},
		},
	}

	ledger, err := LoadLedger(filepath.Join(dir, "downloaded_files.json"))
	if err != nil {
		t.Fatalf("LoadLedger: %v", err)
	}
	mustRecord := func(id string, rec AssetRecord) {
		t.Helper()
		if err := ledger.Record(id, rec); err != nil {
			t.Fatalf("record %s: %v", id, err)
		}
	}
	mustRecord("loc-1", AssetRecord{
		Filename:    "20210403_182455_loc-1.jpg",
		URL:         export.Entries[0].URL,
		Date:        export.Entries[0].Date,
		ContentType: "image/jpeg",
	})
	mustRecord("loc-2", AssetRecord{
		Filename:    "20210404_100000_loc-2.mp4",
		URL:         export.Entries[1].URL,
		Date:        export.Entries[1].Date,
		ContentType: "video/mp4",
	})
	// loc-3 never downloaded, no ledger record

	summaryPath := filepath.Join(dir, "metadata.json")
	step := &LocationStep{
		Export:      export,
		Ledger:      ledger,
		Dir:         dir,
		SummaryPath: summaryPath,
	}
	stats, err := step.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Processed != 2 {
		t.Fatalf("processed: got %d, want 2", stats.Processed)
	}
	if stats.WithLocation != 1 || stats.WithoutLocation != 1 {
		t.Fatalf("got %d with, %d without location, want 1 and 1", stats.WithLocation, stats.WithoutLocation)
	}

	b, err := os.ReadFile(summaryPath)
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}
	var summary map[string]LocationSummary
	if err := json.Unmarshal(b, &summary); err != nil {
		t.Fatalf("summary is not valid JSON: %v", err)
	}
	want := map[string]LocationSummary{
		"loc-1": {
			Filename:    "20210403_182455_loc-1.jpg",
			Date:        "2021-04-03 18:24:55 UTC",
			ContentType: "image/jpeg",
			Location:    &Location{Latitude: 40.7128, Longitude: -74.006},
		},
		"loc-2": {
			Filename:    "20210404_100000_loc-2.mp4",
			Date:        "2021-04-04 10:00:00 UTC",
			ContentType: "video/mp4",
			Location:    nil,
		},
	}
	if diff := cmp.Diff(want, summary); diff != "" {
		t.Fatalf("summary mismatch (-want +got):\n%s", diff)
	}
}

func TestLocationStepEmptyLedger(t *testing.T) {
	dir := t.TempDir()
	ledger, err := LoadLedger(filepath.Join(dir, "l.json"))
	if err != nil {
		t.Fatalf("LoadLedger: %v", err)
	}
	step := &LocationStep{
		Export: &Export{Entries: []Entry{
			{URL: "https://app.example.com/dmd/memories?mid=x", IsGet: true, Index: 0},
		}},
		Ledger: ledger,
		Dir:    dir,
	}
	stats, err := step.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Processed != 0 {
		t.Fatalf("processed: got %d, want 0", stats.Processed)
	}
}
