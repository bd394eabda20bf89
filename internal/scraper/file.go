package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// FileScraper replays scrape results from a JSON file. The file holds either
// one array used for every target, or an object keyed by "keyword@pincode".
type FileScraper struct {
	path string
}

// NewFile constructs a replaying scraper.
func NewFile(path string) *FileScraper {
	return &FileScraper{path: path}
}

// Scrape re-reads the file on every call so edits are picked up.
func (f *FileScraper) Scrape(ctx context.Context, keyword, pincode string) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read replay file: %w", err)
	}
	return LoadRecords(raw, keyword, pincode)
}

// LoadRecords picks the records for one target out of a replay document.
func LoadRecords(raw []byte, keyword, pincode string) ([]Record, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var records []Record
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, fmt.Errorf("decode replay array: %w", err)
		}
		return records, nil
	}

	var byTarget map[string][]Record
	if err := json.Unmarshal(trimmed, &byTarget); err != nil {
		return nil, fmt.Errorf("decode replay object: %w", err)
	}
	records, ok := byTarget[keyword+"@"+pincode]
	if !ok {
		return nil, fmt.Errorf("replay file has no entry for %s@%s", keyword, pincode)
	}
	return records, nil
}

var _ Scraper = (*FileScraper)(nil)
