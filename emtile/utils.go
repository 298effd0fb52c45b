package emtile

import (
	"fmt"
	"path/filepath"

	humanize "github.com/dustin/go-humanize"
)

const (
	Kilo = 1 << 10
	Mega = 1 << 20
	Giga = 1 << 30
)

// ConvertToAbsolute returns path unchanged if it is absolute, otherwise joins it
// onto baseDir and returns the cleaned absolute form.
func ConvertToAbsolute(path, baseDir string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty path cannot be made absolute")
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path), nil
	}
	return filepath.Abs(filepath.Join(baseDir, path))
}

// ByteSize returns a human readable size like "82 MB".
func ByteSize(n int64) string {
	if n < 0 {
		return fmt.Sprintf("%d B", n)
	}
	return humanize.Bytes(uint64(n))
}

// Percent returns 100*part/total, or 0 when total is zero.
func Percent(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return 100.0 * float64(part) / float64(total)
}
