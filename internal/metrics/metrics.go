package metrics

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var initOnce sync.Once

// Init creates and registers all metrics with the default registry.
// It is safe to call multiple times.
func Init() {
	initOnce.Do(func() {
		initRunMetrics()
		initFileMetrics()

		registerRunMetrics()
		registerFileMetrics()

		// present in the output even when a run matched nothing
		LastRunTimestamp.Set(0)
		for _, op := range []string{OpJPEG, OpPNG} {
			FilesFailedTotal.WithLabelValues(op)
			FilesScannedTotal.WithLabelValues(op)
		}
	})
}

// WriteTextfile writes every registered metric to path in the text exposition format,
// for node_exporter's textfile collector. The file is replaced atomically.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
