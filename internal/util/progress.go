package util

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

const mib = 1 << 20

// Progress renders a transfer progress bar on its own goroutine. Report never
// blocks the caller: bytes accumulate in an atomic counter and a wake-up is
// posted on a capacity-1 channel, dropped when one is already pending.
type Progress struct {
	title string
	total int64

	pending atomic.Int64
	moved   atomic.Int64
	busy    atomic.Int64 // nanoseconds spent in chunks
	notify  chan struct{}
	done    chan struct{}
	stopped chan struct{}

	Stats Stats // owned by the Report caller; read after Finish
	start time.Time
}

// NewProgress creates a reporter for a transfer of total bytes.
func NewProgress(title string, total int64) *Progress {
	return &Progress{
		title:   title,
		total:   total,
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Start launches the render goroutine.
func (p *Progress) Start() {
	p.start = time.Now()
	units := int((p.total + mib - 1) / mib)
	bar, err := pterm.DefaultProgressbar.
		WithTotal(max(units, 1)).
		WithTitle(p.title).
		WithShowElapsedTime(true).
		Start()
	if err != nil {
		LogDebug("progress bar unavailable: %v", err)
		bar = nil
	}
	go p.loop(bar)
}

// Report records a finished chunk. It is safe to call before Start and after
// Finish.
func (p *Progress) Report(n int, elapsed time.Duration) {
	p.Stats.Record(n, elapsed)
	p.pending.Add(int64(n))
	p.moved.Add(int64(n))
	p.busy.Add(int64(elapsed))
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Finish stops the render goroutine and waits for it to flush.
func (p *Progress) Finish() {
	if p.start.IsZero() {
		return
	}
	select {
	case <-p.done:
		return
	default:
	}
	close(p.done)
	<-p.stopped
}

// Took returns the wall time since Start.
func (p *Progress) Took() time.Duration {
	return time.Since(p.start)
}

func (p *Progress) loop(bar *pterm.ProgressbarPrinter) {
	defer close(p.stopped)

	var carry int64 // bytes not yet shown as a whole MiB
	flush := func() {
		carry += p.pending.Swap(0)
		if bar == nil || carry < mib {
			return
		}
		bar.Add(int(carry / mib))
		carry %= mib
		if busy := time.Duration(p.busy.Load()); busy > 0 {
			rate := float64(p.moved.Load()) / busy.Seconds()
			bar.UpdateTitle(fmt.Sprintf("%s (%s/s)", p.title, FormatBytes(int64(rate))))
		}
	}

	for {
		select {
		case <-p.notify:
			flush()
		case <-p.done:
			flush()
			if bar != nil {
				if carry > 0 && bar.Current < bar.Total {
					bar.Add(1)
				}
				bar.Stop()
			}
			return
		}
	}
}
