package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Operation label values
const (
	OpJPEG = "jpeg"
	OpPNG  = "png"
)

// Run metrics
var (
	// RunDuration tracks how long a whole run takes
	RunDuration prometheus.Histogram

	// LastRunTimestamp records the Unix time of the last completed run
	LastRunTimestamp prometheus.Gauge

	// ToolDuration tracks each external tool invocation, labeled by tool
	ToolDuration *prometheus.HistogramVec
)

// Per-file metrics
var (
	FilesScannedTotal  *prometheus.CounterVec
	FilesRecompressed  prometheus.Counter
	PNGsConverted      prometheus.Counter
	OriginalsDeleted   prometheus.Counter
	FilesSkippedTotal  *prometheus.CounterVec
	FilesFailedTotal   *prometheus.CounterVec
	BytesSavedTotal    prometheus.Counter
	MetadataLostTotal  prometheus.Counter
	SafetyBlockedTotal prometheus.Counter
)

func initRunMetrics() {
	RunDuration = NewDurationHistogram(
		"jpegsweep_run_duration_seconds",
		"Duration of a full run in seconds.",
		DurationBuckets,
	)

	LastRunTimestamp = NewGauge(
		"jpegsweep_last_run_timestamp",
		"Timestamp of the last completed run (Unix epoch seconds).",
	)

	ToolDuration = NewDurationHistogramVec(
		"jpegsweep_tool_duration_seconds",
		"Duration of external tool invocations in seconds.",
		ToolBuckets,
		[]string{"tool"},
	)
}

func initFileMetrics() {
	FilesScannedTotal = NewCounterVec(
		"jpegsweep_files_scanned_total",
		"Files matched by the name patterns, by operation.",
		[]string{"operation"},
	)

	FilesRecompressed = NewCounter(
		"jpegsweep_files_recompressed_total",
		"JPEG files rewritten in place.",
	)

	PNGsConverted = NewCounter(
		"jpegsweep_pngs_converted_total",
		"Mislabeled PNG files rewritten to a .jpg path.",
	)

	OriginalsDeleted = NewCounter(
		"jpegsweep_originals_deleted_total",
		"Original PNG-named files removed after a successful conversion.",
	)

	FilesSkippedTotal = NewCounterVec(
		"jpegsweep_files_skipped_total",
		"Files left untouched, by reason.",
		[]string{"reason"},
	)

	FilesFailedTotal = NewCounterVec(
		"jpegsweep_files_failed_total",
		"Files whose processing failed, by operation.",
		[]string{"operation"},
	)

	BytesSavedTotal = NewCounter(
		"jpegsweep_bytes_saved_total",
		"Bytes saved by lossless rewrites (negative growth is not subtracted).",
	)

	MetadataLostTotal = NewCounter(
		"jpegsweep_metadata_lost_total",
		"Rewrites whose output no longer carries the source's EXIF block.",
	)

	SafetyBlockedTotal = NewCounter(
		"jpegsweep_safety_blocked_total",
		"Writes or deletes refused by the safety validator.",
	)
}

func registerRunMetrics() {
	prometheus.MustRegister(RunDuration)
	prometheus.MustRegister(LastRunTimestamp)
	prometheus.MustRegister(ToolDuration)
}

func registerFileMetrics() {
	prometheus.MustRegister(FilesScannedTotal)
	prometheus.MustRegister(FilesRecompressed)
	prometheus.MustRegister(PNGsConverted)
	prometheus.MustRegister(OriginalsDeleted)
	prometheus.MustRegister(FilesSkippedTotal)
	prometheus.MustRegister(FilesFailedTotal)
	prometheus.MustRegister(BytesSavedTotal)
	prometheus.MustRegister(MetadataLostTotal)
	prometheus.MustRegister(SafetyBlockedTotal)
}

// RecordRun observes the run duration and stamps the last-run gauge
func RecordRun(elapsed time.Duration) {
	RunDuration.Observe(elapsed.Seconds())
	LastRunTimestamp.Set(float64(time.Now().Unix()))
}

// RecordSaved adds before-after to the saved bytes when the file shrank
func RecordSaved(before, after int64) {
	if after > 0 && before > after {
		BytesSavedTotal.Add(float64(before - after))
	}
}

// ObserveTool records how long one tool call took
func ObserveTool(tool string, start time.Time) {
	ToolDuration.WithLabelValues(tool).Observe(time.Since(start).Seconds())
}
