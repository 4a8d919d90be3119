package util

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/aybabtme/uniplot/histogram"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// ──────────────────────────────────────────────────────────────────────────────
// Transfer statistics
// ──────────────────────────────────────────────────────────────────────────────

// Stats accumulates per-chunk throughput samples of one transfer. It is owned
// by the goroutine that calls Record.
type Stats struct {
	Bytes   int64
	Elapsed time.Duration // time spent moving chunks, not wall time
	Chunks  int
	rates   []float64 // bytes per second, one per chunk
}

// Record adds one chunk of n bytes that took d.
func (s *Stats) Record(n int, d time.Duration) {
	s.Bytes += int64(n)
	s.Elapsed += d
	s.Chunks++
	if d > 0 {
		s.rates = append(s.rates, float64(n)/d.Seconds())
	}
}

// Rate returns the mean throughput in bytes per second.
func (s *Stats) Rate() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Bytes) / s.Elapsed.Seconds()
}

// Summary renders a one-line report, with thousands separators for the byte
// count.
func (s *Stats) Summary() string {
	p := message.NewPrinter(language.AmericanEnglish)
	return p.Sprintf("%d bytes in %d chunks, %s/s average",
		s.Bytes, s.Chunks, trimBytes(formatBytes(s.Rate())))
}

// Histogram prints the distribution of per-chunk throughput to w. Nothing is
// printed when every chunk ran at the same rate.
func (s *Stats) Histogram(w io.Writer) error {
	if len(s.rates) < 2 || slices.Min(s.rates) == slices.Max(s.rates) {
		return nil
	}
	hist := histogram.Hist(10, s.rates)
	return histogram.Fprintf(w, hist, histogram.Linear(40), func(v float64) string {
		return formatBytes(v) + "/s"
	})
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// FormatBytes is formatBytes without the padding.
func FormatBytes(b int64) string {
	return trimBytes(formatBytes(float64(b)))
}

func trimBytes(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
