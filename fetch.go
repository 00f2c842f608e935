package memproc

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/memtools/memproc/fileutils"
	"github.com/sethgrid/pester"
)

// userAgent is sent with every request; the export CDN rejects requests
// without a browser-like agent.
const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36"

// knownExtensions is the allow-list for extensions taken directly from the
// URL path; anything else defers to the response content type.
var knownExtensions = map[string]bool{
	".mp4":  true,
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".zip":  true,
}

// Fetcher retrieves a single asset per call and streams it to the output
// directory. It carries no per-item state and is safe for concurrent use.
type Fetcher struct {
	Client  *pester.Client
	Dir     string // output directory for fetched assets
	Timeout time.Duration
}

// NewFetcher returns a fetcher writing into dir, with a retrying HTTP client
// bounded by timeout per attempt.
func NewFetcher(dir string, timeout time.Duration) *Fetcher {
	client := pester.New()
	client.Timeout = timeout
	client.MaxRetries = 3
	client.Backoff = pester.ExponentialBackoff
	return &Fetcher{
		Client:  client,
		Dir:     dir,
		Timeout: timeout,
	}
}

// FetchResult describes the outcome of a single successful fetch.
type FetchResult struct {
	Path        string // final location on disk
	Filename    string // base name of Path
	ContentType string // response content type header
}

// Fetch retrieves one asset. GET requests use the URL as-is; the export
// format marks some links as POST, where the query string travels as the
// request body against the bare URL. The response body is streamed to a temp
// file and moved into place, so partially fetched assets never appear under
// their final name.
func (f *Fetcher) Fetch(entry Entry) (*FetchResult, error) {
	req, err := buildRequest(entry)
	if err != nil {
		return nil, err
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status: %s", resp.Status)
	}
	contentType := resp.Header.Get("Content-Type")
	tmp, err := os.CreateTemp(f.Dir, "memproc-fetch-*")
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp.Name())
	head, err := copyWithHead(tmp, resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, err
	}
	id := UniqueID(entry.URL)
	filename := buildFilename(id, entry.Date, resolveExtension(entry.URL, contentType, head))
	dst := filepath.Join(f.Dir, filename)
	if err := fileutils.MoveFile(dst, tmp.Name()); err != nil {
		return nil, err
	}
	return &FetchResult{
		Path:        dst,
		Filename:    filename,
		ContentType: contentType,
	}, nil
}

// buildRequest maps an export entry to an HTTP request.
func buildRequest(entry Entry) (*http.Request, error) {
	var (
		req *http.Request
		err error
	)
	if entry.IsGet {
		req, err = http.NewRequest(http.MethodGet, entry.URL, nil)
	} else {
		rawURL, body, _ := strings.Cut(entry.URL, "?")
		req, err = http.NewRequest(http.MethodPost, rawURL, strings.NewReader(body))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	return req, nil
}

// copyWithHead streams r to w and returns up to the first 512 bytes for
// content sniffing, without buffering the whole body.
func copyWithHead(w io.Writer, r io.Reader) ([]byte, error) {
	head := make([]byte, 512)
	n, err := io.ReadFull(r, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, err
	}
	head = head[:n]
	if _, err := w.Write(head); err != nil {
		return nil, err
	}
	if _, err := io.Copy(w, r); err != nil {
		return nil, err
	}
	return head, nil
}

// resolveExtension picks the output extension: URL path suffix if on the
// allow-list, then the content type header, then sniffed leading bytes, then
// .mp4 as a last resort, as videos dominate the export.
func resolveExtension(rawURL, contentType string, head []byte) string {
	urlPath, _, _ := strings.Cut(rawURL, "?")
	if ext := strings.ToLower(path.Ext(path.Base(urlPath))); knownExtensions[ext] {
		return ext
	}
	switch {
	case strings.Contains(contentType, "video"):
		return ".mp4"
	case strings.Contains(contentType, "image/jpeg"), strings.Contains(contentType, "image/jpg"):
		return ".jpg"
	case strings.Contains(contentType, "image/png"):
		return ".png"
	case strings.Contains(contentType, "zip"):
		return ".zip"
	}
	if len(head) > 0 {
		if ext := mimetype.Detect(head).Extension(); knownExtensions[ext] {
			return ext
		}
	}
	return ".mp4"
}

// buildFilename prefixes the identifier with the parsed capture date, when
// the date text parses, yielding names like 20210403_182455_<id>.jpg.
func buildFilename(id, date, ext string) string {
	if t, ok := ParseCaptureDate(date); ok {
		return fmt.Sprintf("%s_%s%s", t.Format("20060102_150405"), id, ext)
	}
	return id + ext
}
