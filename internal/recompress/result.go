package recompress

import (
	"jpegsweep/internal/database"
	"jpegsweep/internal/scan"
)

// Result describes what happened to one candidate
type Result struct {
	Path         string
	Kind         scan.Kind
	Action       string // one of the database.Action* values
	OutputPath   string
	Format       string // sniffed format, PNG candidates only
	SizeBefore   int64
	SizeAfter    int64
	Reason       string
	Deleted      bool  // original removed after conversion
	MetadataLost bool  // verify_metadata found the EXIF block gone
	Blocked      error // safety validator refusal, if any
	Err          error
}

// Failed reports whether the file counts toward a non-zero exit
func (r Result) Failed() bool {
	return r.Err != nil
}

// Summary aggregates the results of a run
type Summary struct {
	Recompressed  int
	Converted     int
	Deleted       int
	Skipped       int
	DryRun        int
	Failed        int
	SafetyBlocked int
	MetadataLost  int
	BytesSaved    int64
}

func (s *Summary) add(r Result) {
	switch r.Action {
	case database.ActionRecompress:
		s.Recompressed++
	case database.ActionConvert:
		s.Converted++
	case database.ActionSkip:
		s.Skipped++
	case database.ActionDryRun:
		s.DryRun++
	}
	if r.Deleted {
		s.Deleted++
	}
	if r.Failed() {
		s.Failed++
	}
	if r.Blocked != nil {
		s.SafetyBlocked++
	}
	if r.MetadataLost {
		s.MetadataLost++
	}
	if r.SizeAfter > 0 && r.SizeBefore > r.SizeAfter {
		s.BytesSaved += r.SizeBefore - r.SizeAfter
	}
}
