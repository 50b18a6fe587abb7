package event

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// Time layouts used in file names and record bodies.
const (
	FileTimeLayout   = "20060102_150405"
	RecordTimeLayout = "2006-01-02 15:04:05"
)

// maxSuffix bounds the search for a free name within one second.
const maxSuffix = 1000

// reserve exclusively creates <dir>/<prefix><stamp>.<ext>, or the first free
// <prefix><stamp>_N.<ext> when that name is taken, and returns the open file.
func reserve(dir, prefix string, at time.Time, ext string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	stamp := at.Format(FileTimeLayout)
	for n := 0; n < maxSuffix; n++ {
		name := prefix + stamp
		if n > 0 {
			name = fmt.Sprintf("%s_%d", name, n)
		}
		path := filepath.Join(dir, name+"."+ext)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("failed to create %s: %w", path, err)
		}
	}

	return nil, fmt.Errorf("no free name for %s%s.%s in %s", prefix, stamp, ext, dir)
}
