package memproc

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// DownloadStats are a poor mans metrics for a download run.
type DownloadStats struct {
	Completed  int
	Downloaded int
	Skipped    int
	Errored    int
}

// Outcome classifies the result of one processed entry.
type Outcome int

const (
	OutcomeDownloaded Outcome = iota
	OutcomeSkipped
	OutcomeErrored
)

// Downloader drives fetches for all export entries with a fixed number of
// workers. Completion order across items is unspecified; the ledger reflects
// the union of all successes regardless of order. Ledger mutation plus
// persistence is a single critical section inside Ledger, shared by all
// workers.
type Downloader struct {
	Entries    []Entry
	NumWorkers int
	Limit      int // process only the first N entries, 0 means all
	Fetcher    *Fetcher
	Ledger     *Ledger
	Errors     *ErrorLedger
	Metadata   *MetadataWriter
	Index      *ContentIndex // optional content index, may be nil

	mu    sync.Mutex
	stats DownloadStats
}

// Stats returns a copy of the run counters.
func (d *Downloader) Stats() DownloadStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// Run feeds all pending entries to the worker pool and blocks until done.
func (d *Downloader) Run(ctx context.Context) error {
	if d.Fetcher == nil {
		return fmt.Errorf("downloader needs a fetcher")
	}
	if d.Ledger == nil || d.Errors == nil {
		return fmt.Errorf("downloader needs both ledgers")
	}
	workers := d.NumWorkers
	if workers < 1 {
		workers = 1
	}
	entries := d.Entries
	if d.Limit > 0 && d.Limit < len(entries) {
		entries = entries[:d.Limit]
		slog.Info("test mode, limiting run", "limit", d.Limit)
	}
	slog.Info("starting download run",
		"entries", len(entries),
		"workers", workers,
		"already_downloaded", d.Ledger.Len(),
		"previous_errors", d.Errors.Len())
	var (
		queue = make(chan Entry)
		wg    sync.WaitGroup
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		name := fmt.Sprintf("worker-%02d", i)
		go d.worker(ctx, name, queue, &wg, len(entries))
	}
	err := func() error {
		defer close(queue)
		for _, entry := range entries {
			select {
			case queue <- entry:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	}()
	wg.Wait()
	stats := d.Stats()
	slog.Info("download run done",
		"downloaded", stats.Downloaded,
		"skipped", stats.Skipped,
		"errored", stats.Errored,
		"total_recorded", d.Ledger.Len())
	return err
}

// worker drains the queue until it is closed or the context is cancelled.
// Errors never travel past this boundary; they become outcome values.
func (d *Downloader) worker(ctx context.Context, name string, queue chan Entry, wg *sync.WaitGroup, total int) {
	defer wg.Done()
	logger := slog.With(slog.String("worker", name))
	for entry := range queue {
		select {
		case <-ctx.Done():
			continue // drain remaining entries without processing
		default:
		}
		outcome := d.processEntry(logger, entry)
		d.mu.Lock()
		d.stats.Completed++
		switch outcome {
		case OutcomeDownloaded:
			d.stats.Downloaded++
		case OutcomeSkipped:
			d.stats.Skipped++
		case OutcomeErrored:
			d.stats.Errored++
		}
		completed, stats := d.stats.Completed, d.stats
		d.mu.Unlock()
		if completed%10 == 0 || completed == total {
			logger.Info("progress",
				"completed", completed,
				"total", total,
				"downloaded", stats.Downloaded,
				"skipped", stats.Skipped,
				"errored", stats.Errored)
		}
	}
	logger.Debug("worker shutdown ok")
}

// processEntry runs the full per-item pipeline: skip-check, fetch, metadata
// stamp, bundle expansion and ledger update.
func (d *Downloader) processEntry(logger *slog.Logger, entry Entry) Outcome {
	id := UniqueID(entry.URL)
	if d.Ledger.Contains(id) {
		logger.Debug("already downloaded", "id", id)
		return OutcomeSkipped
	}
	started := time.Now()
	result, err := d.Fetcher.Fetch(entry)
	if err != nil {
		logger.Warn("download failed", "id", id, "index", entry.Index, "err", err)
		if lerr := d.Errors.Record(id, entry.URL, entry.Date, entry.Index, err); lerr != nil {
			logger.Error("error ledger write failed", "err", lerr)
		}
		return OutcomeErrored
	}
	if d.Index != nil {
		if digest, err := SHA256File(result.Path); err == nil {
			if err := d.Index.Insert(id, entry.URL, digest); err != nil {
				logger.Warn("content index insert failed", "id", id, "err", err)
			}
		}
	}
	var metadataWritten bool
	if d.Metadata != nil {
		metadataWritten = d.Metadata.WriteCaptureDate(result.Path, entry.Date)
	}
	if strings.HasSuffix(result.Path, ".zip") {
		dir, err := ExpandArchive(result.Path)
		if err != nil {
			logger.Warn("bundle expansion failed", "id", id, "err", err)
		} else {
			logger.Debug("bundle expanded", "id", id, "dir", dir)
			if d.Metadata != nil {
				written, skipped := d.Metadata.WriteTreeCaptureDate(dir, entry.Date)
				if written > 0 || skipped > 0 {
					logger.Debug("bundle metadata", "written", written, "skipped", skipped)
				}
			}
		}
	}
	rec := AssetRecord{
		Filename:        result.Filename,
		URL:             entry.URL,
		Date:            entry.Date,
		ContentType:     result.ContentType,
		MetadataWritten: metadataWritten,
		Timestamp:       time.Now().Format(time.RFC3339),
	}
	if err := d.Ledger.Record(id, rec); err != nil {
		logger.Error("ledger write failed", "id", id, "err", err)
		return OutcomeErrored
	}
	logger.Info("downloaded", "id", id, "file", result.Filename, "t", time.Since(started))
	return OutcomeDownloaded
}
