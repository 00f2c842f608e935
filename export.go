package memproc

import (
	"crypto/md5"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	// linkPattern matches the inline download invocation embedded in the
	// export page, capturing the URL and the request method flag.
	linkPattern = regexp.MustCompile(`downloadMemories\('(.+?)',\s*this,\s*(true|false)\)`)
	midPattern  = regexp.MustCompile(`mid=([a-zA-Z0-9\-]+)`)
	// coordPattern matches the location cell, e.g. "Latitude, Longitude: 48.26275, 13.296288"
	coordPattern = regexp.MustCompile(`Latitude,\s*Longitude:\s*([+-]?\d+\.?\d*),\s*([+-]?\d+\.?\d*)`)
)

// dateTableSelector locates the table holding one row per memory, with the
// capture date in the first cell. Row order is assumed to align with the
// order of download links in the document; ParseExport logs a warning when
// the counts diverge.
const dateTableSelector = "body > div.rightpanel > table > tbody"

// Entry is one download link found in the export document, in document order.
type Entry struct {
	URL   string // source url, possibly with encoded characters
	IsGet bool   // request method flag from the link invocation
	Date  string // raw capture date text, empty if the table had no row
	Index int    // position in the document, used for error reporting
}

// Location is a GPS coordinate pair parsed from the export table.
type Location struct {
	Latitude  float64
	Longitude float64
}

// Export is the parsed content of a memories export HTML document.
type Export struct {
	Entries   []Entry
	Locations []*Location // one slot per table row, nil if the row had no coordinates
}

// ParseExportFile reads and parses an export document from disk. A missing
// file is a precondition failure for any step that needs the export.
func ParseExportFile(path string) (*Export, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("export file: %w", err)
	}
	return ParseExport(string(b))
}

// ParseExport extracts download links, capture dates and locations from raw
// HTML. Absence of the date table yields entries without dates, not an error.
func ParseExport(html string) (*Export, error) {
	var export Export
	matches := linkPattern.FindAllStringSubmatch(html, -1)
	dates, locations := parseTable(html)
	if len(dates) > 0 && len(dates) != len(matches) {
		slog.Warn("link and date counts diverge, positional alignment may be off",
			"links", len(matches), "dates", len(dates))
	}
	for i, m := range matches {
		entry := Entry{
			URL:   m[1],
			IsGet: m[2] == "true",
			Index: i,
		}
		if i < len(dates) {
			entry.Date = dates[i]
		}
		export.Entries = append(export.Entries, entry)
	}
	export.Locations = locations
	return &export, nil
}

// parseTable walks the memory table and collects the first cell of each row
// as a date string, plus one location slot per row, nil when the row holds no
// coordinates. Keeping empty slots preserves the row/link alignment.
func parseTable(html string) (dates []string, locations []*Location) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, nil
	}
	doc.Find(dateTableSelector).First().Find("tr").Each(func(i int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() == 0 {
			return
		}
		dates = append(dates, strings.TrimSpace(cells.First().Text()))
		var loc *Location
		cells.EachWithBreak(func(j int, cell *goquery.Selection) bool {
			m := coordPattern.FindStringSubmatch(cell.Text())
			if m == nil {
				return true
			}
			lat, errLat := strconv.ParseFloat(m[1], 64)
			lon, errLon := strconv.ParseFloat(m[2], 64)
			if errLat != nil || errLon != nil {
				return true
			}
			loc = &Location{Latitude: lat, Longitude: lon}
			return false // one location per row
		})
		locations = append(locations, loc)
	})
	return dates, locations
}

// UniqueID derives a stable identifier for an asset URL. The primary source
// is the mid query parameter; URLs without one fall back to an MD5 digest of
// the full URL string, so the same URL always maps to the same id.
func UniqueID(url string) string {
	if m := midPattern.FindStringSubmatch(url); m != nil {
		return m[1]
	}
	return fmt.Sprintf("%x", md5.Sum([]byte(url)))
}
