// Package exifcheck reports whether an image still carries decodable EXIF data.
package exifcheck

import (
	"os"

	"github.com/rwcarlsen/goexif/exif"
)

// HasExif reports whether path holds an EXIF block goexif can read. Unreadable files and
// files without EXIF report false. A block that decodes with non-critical errors counts.
func HasExif(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	_, err = exif.Decode(f)
	if err == nil {
		return true
	}
	return !exif.IsCriticalError(err)
}
