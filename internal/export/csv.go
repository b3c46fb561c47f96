// Package export writes scraped results to a CSV file per job.
package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/kalambet/scrapejobs/internal/storage"
)

// Header is the column order of every exported file.
var Header = []string{
	"tweet_id", "tweet_url", "username", "display_name", "text", "timestamp",
	"tweet_type", "likes", "retweets", "replies", "hashtags", "mentions", "profile_link",
}

// utf8BOM lets spreadsheet applications detect the encoding.
const utf8BOM = "\ufeff"

// Filename returns the export file name for a job.
func Filename(jobID string) string {
	return "twitter_scrape_" + jobID + ".csv"
}

// CSVFile appends result rows to an export file. It is safe for
// concurrent use.
type CSVFile struct {
	mu   sync.Mutex
	f    *os.File
	w    *csv.Writer
	name string
	rows int
}

// Create makes dir if needed and creates the export file for jobID with its
// header row written.
func Create(dir, jobID string) (*CSVFile, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	name := Filename(jobID)
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("creating export file: %w", err)
	}
	if _, err := f.WriteString(utf8BOM); err != nil {
		f.Close()
		return nil, fmt.Errorf("writing export header: %w", err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(Header); err != nil {
		f.Close()
		return nil, fmt.Errorf("writing export header: %w", err)
	}
	return &CSVFile{f: f, w: w, name: name}, nil
}

// Name returns the base name of the file, which is what gets reported to
// clients.
func (c *CSVFile) Name() string {
	return c.name
}

// Path returns the full path of the file on disk.
func (c *CSVFile) Path() string {
	return c.f.Name()
}

// Rows returns the number of data rows written so far.
func (c *CSVFile) Rows() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rows
}

// Write appends records and flushes them to disk.
func (c *CSVFile) Write(records []storage.Result) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range records {
		if err := c.w.Write(row(r)); err != nil {
			return fmt.Errorf("writing record %s: %w", r.ID, err)
		}
		c.rows++
	}
	c.w.Flush()
	return c.w.Error()
}

// Close flushes pending rows and closes the file.
func (c *CSVFile) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		c.f.Close()
		return err
	}
	return c.f.Close()
}

// Remove closes and deletes the file. Used when a job produced nothing.
func (c *CSVFile) Remove() error {
	c.Close()
	return os.Remove(c.f.Name())
}

func row(r storage.Result) []string {
	profile := ""
	if r.Username != "" {
		profile = "https://x.com/" + r.Username
	}
	return []string{
		r.ID,
		r.URL,
		r.Username,
		r.DisplayName,
		r.Text,
		r.Timestamp,
		string(r.Kind),
		strconv.Itoa(r.Likes),
		strconv.Itoa(r.Retweets),
		strconv.Itoa(r.Replies),
		r.Hashtags.String(),
		r.Mentions.String(),
		profile,
	}
}
