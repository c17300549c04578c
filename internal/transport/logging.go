// SPDX-License-Identifier: MIT
package transport

import (
	"sync/atomic"

	"spectra/internal/analysis"
	"spectra/internal/log"
)

// LoggingTransport writes a one-line feature summary per result at debug
// level, and a throughput line at info level every Every results.
type LoggingTransport struct {
	Every uint64
	log   log.Logger
	count atomic.Uint64
}

// NewLoggingTransport creates a LoggingTransport that summarizes every
// every results. Zero disables the summary line.
func NewLoggingTransport(every uint64) *LoggingTransport {
	lt := &LoggingTransport{Every: every, log: log.Component("transport.log")}
	lt.log.Infof("using logging transport")
	return lt
}

// Name implements Transport.
func (lt *LoggingTransport) Name() string { return "log" }

// Send logs the features of r. It never fails.
func (lt *LoggingTransport) Send(r *analysis.Result) error {
	n := lt.count.Add(1)
	f := r.Features
	lt.log.Debugf("frame %d: rms=%.4f peak=%.4f dominant=%.1fHz centroid=%.1fHz rolloff=%.1fHz flux=%.4f zcr=%.4f onset=%t",
		r.Seq, f.RMS, f.Peak, f.DominantHz, f.CentroidHz, f.RolloffHz, f.Flux, f.ZeroCrossingRate, f.Onset)
	if lt.Every > 0 && n%lt.Every == 0 {
		lt.log.Infof("%d frames analyzed, last seq %d", n, r.Seq)
	}
	return nil
}

// Sent returns the number of results logged.
func (lt *LoggingTransport) Sent() uint64 { return lt.count.Load() }

// Close is a no-op.
func (lt *LoggingTransport) Close() error {
	lt.log.Debugf("closed after %d frames", lt.count.Load())
	return nil
}

var _ Transport = (*LoggingTransport)(nil)
