package event

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// KindMotion is the event kind written for motion recordings.
const KindMotion = "Movimento"

const (
	recordPrefix = "evento_"
	recordExt    = "json"
)

// Record is the persisted description of one event.
type Record struct {
	Timestamp string `json:"timestamp"`
	Kind      string `json:"evento"`
	Clip      string `json:"arquivo"`
}

// Time parses the record timestamp in local time.
func (r Record) Time() (time.Time, error) {
	return time.ParseInLocation(RecordTimeLayout, r.Timestamp, time.Local)
}

// Entry is a record read back from the journal directory.
type Entry struct {
	Path   string
	Record Record
}

// Journal writes one JSON file per event. Files are never overwritten.
type Journal struct {
	dir string

	mu  sync.Mutex
	now func() time.Time
}

// NewJournal creates a journal that writes into dir.
func NewJournal(dir string) *Journal {
	return &Journal{dir: dir, now: time.Now}
}

// Dir returns the record directory.
func (j *Journal) Dir() string {
	return j.dir
}

// SetClock replaces the time source used for timestamps and file names.
func (j *Journal) SetClock(now func() time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.now = now
}

// Write records an event of the given kind for clipPath and returns the
// record and the path of the file it was written to.
func (j *Journal) Write(kind, clipPath string) (Record, string, error) {
	j.mu.Lock()
	now := j.now()
	j.mu.Unlock()

	rec := Record{
		Timestamp: now.Format(RecordTimeLayout),
		Kind:      kind,
		Clip:      clipPath,
	}

	data, err := json.MarshalIndent(rec, "", "    ")
	if err != nil {
		return Record{}, "", fmt.Errorf("failed to encode record: %w", err)
	}

	f, err := reserve(j.dir, recordPrefix, now, recordExt)
	if err != nil {
		return Record{}, "", fmt.Errorf("failed to create record: %w", err)
	}
	path := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		return Record{}, "", fmt.Errorf("failed to write record %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return Record{}, "", fmt.Errorf("failed to close record %s: %w", path, err)
	}

	return rec, path, nil
}

// Records reads every record in the journal directory, sorted by file name.
// A missing directory yields no records. Unreadable files are skipped.
func (j *Journal) Records() ([]Entry, error) {
	dirEntries, err := os.ReadDir(j.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read record directory: %w", err)
	}

	var names []string
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || !strings.HasPrefix(name, recordPrefix) || filepath.Ext(name) != "."+recordExt {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make([]Entry, 0, len(names))
	for _, name := range names {
		path := filepath.Join(j.dir, name)

		data, err := os.ReadFile(path)
		if err != nil {
			log.Warn().Str("component", "journal").Str("record", path).Err(err).Msg("Skipping unreadable record")
			continue
		}

		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			log.Warn().Str("component", "journal").Str("record", path).Err(err).Msg("Skipping malformed record")
			continue
		}

		entries = append(entries, Entry{Path: path, Record: rec})
	}

	return entries, nil
}
