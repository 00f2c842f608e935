package memproc

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AssetRecord describes one successfully fetched asset. Records are created
// once and never mutated; the identifier is the ledger key.
type AssetRecord struct {
	Filename        string `json:"filename"`
	URL             string `json:"url"`
	Date            string `json:"date,omitempty"`
	ContentType     string `json:"content_type,omitempty"`
	MetadataWritten bool   `json:"metadata_written"`
	Timestamp       string `json:"timestamp"`
}

// ErrorRecord describes one failed fetch. A later successful retry removes
// the entry implicitly, as the success ledger takes precedence.
type ErrorRecord struct {
	URL       string `json:"url"`
	Date      string `json:"date,omitempty"`
	Error     string `json:"error"`
	Index     int    `json:"index"`
	Timestamp string `json:"timestamp"`
}

// Ledger is a JSON backed map from asset identifier to AssetRecord. It is the
// single source of truth for "has this asset already been retrieved": re-runs
// skip every identifier present here. Mutation and persistence happen inside
// one critical section, and the file is replaced via temp file and rename so
// it stays valid JSON even if a writer dies mid-update.
type Ledger struct {
	Path string

	mu      sync.Mutex
	entries map[string]AssetRecord
}

// LoadLedger reads the ledger at path. A missing file yields an empty ledger.
func LoadLedger(path string) (*Ledger, error) {
	l := &Ledger{
		Path:    path,
		entries: make(map[string]AssetRecord),
	}
	b, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		return l, nil
	case err != nil:
		return nil, err
	}
	if err := json.Unmarshal(b, &l.entries); err != nil {
		return nil, fmt.Errorf("ledger %s: %w", path, err)
	}
	return l, nil
}

// Contains reports whether an identifier has been recorded.
func (l *Ledger) Contains(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.entries[id]
	return ok
}

// Get returns the record for an identifier, if present.
func (l *Ledger) Get(id string) (AssetRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.entries[id]
	return rec, ok
}

// Len returns the number of recorded assets.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Record stores a record and rewrites the ledger file. Safe for concurrent
// use by download workers.
func (l *Ledger) Record(id string, rec AssetRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[id] = rec
	return writeJSONFile(l.Path, l.entries)
}

// Each calls fn for every recorded identifier. The snapshot is taken under
// the lock, fn runs without it.
func (l *Ledger) Each(fn func(id string, rec AssetRecord)) {
	l.mu.Lock()
	snapshot := make(map[string]AssetRecord, len(l.entries))
	for id, rec := range l.entries {
		snapshot[id] = rec
	}
	l.mu.Unlock()
	for id, rec := range snapshot {
		fn(id, rec)
	}
}

// ErrorLedger is the failure counterpart of Ledger, keyed the same way.
// Entries are overwritten on retry.
type ErrorLedger struct {
	Path string

	mu      sync.Mutex
	entries map[string]ErrorRecord
}

// LoadErrorLedger reads the error ledger at path, tolerating a missing file.
func LoadErrorLedger(path string) (*ErrorLedger, error) {
	l := &ErrorLedger{
		Path:    path,
		entries: make(map[string]ErrorRecord),
	}
	b, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		return l, nil
	case err != nil:
		return nil, err
	}
	if err := json.Unmarshal(b, &l.entries); err != nil {
		return nil, fmt.Errorf("error ledger %s: %w", path, err)
	}
	return l, nil
}

// Len returns the number of recorded failures.
func (l *ErrorLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Record stores a failure with context and rewrites the file.
func (l *ErrorLedger) Record(id, url, date string, index int, cause error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[id] = ErrorRecord{
		URL:       url,
		Date:      date,
		Error:     cause.Error(),
		Index:     index,
		Timestamp: time.Now().Format(time.RFC3339),
	}
	return writeJSONFile(l.Path, l.entries)
}

// writeJSONFile marshals v indented and replaces path atomically. The rename
// keeps partially written states invisible to readers.
func writeJSONFile(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".ledger-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}
