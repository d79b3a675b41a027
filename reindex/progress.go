package reindex

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// maxListedSkips caps the skipped resource ids named in the summary.
const maxListedSkips = 10

// Progress accumulates the outcome of a reindex run and writes a status
// line every interval resources.
type Progress struct {
	w        io.Writer
	total    int
	interval int
	start    time.Time

	mu         sync.Mutex
	indexed    int
	skipped    []string
	nextReport int
}

// NewProgress starts the clock for a run over total resources.
func NewProgress(w io.Writer, total, interval int) *Progress {
	if w == nil {
		w = io.Discard
	}
	if interval < 1 {
		interval = 1
	}
	return &Progress{
		w:          w,
		total:      total,
		interval:   interval,
		start:      time.Now(),
		nextReport: interval,
	}
}

// Record adds the outcome of one batch.
func (p *Progress) Record(indexed int, skipped []string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.indexed += indexed
	p.skipped = append(p.skipped, skipped...)
	if done := p.done(); done >= p.nextReport {
		p.status()
		for p.nextReport <= done {
			p.nextReport += p.interval
		}
	}
}

// Result returns the counts recorded so far.
func (p *Progress) Result() *Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.result()
}

// Finish writes the summary and returns the final counts.
func (p *Progress) Finish() *Result {
	p.mu.Lock()
	defer p.mu.Unlock()

	result := p.result()
	fmt.Fprintf(p.w, "\nReindex complete. Indexed %d resources, skipped %d in %v\n",
		result.Indexed, result.Skipped, result.Elapsed.Round(time.Millisecond))
	if len(p.skipped) > 0 {
		listed := p.skipped[:min(len(p.skipped), maxListedSkips)]
		more := ""
		if len(p.skipped) > len(listed) {
			more = fmt.Sprintf(" and %d more", len(p.skipped)-len(listed))
		}
		fmt.Fprintf(p.w, "Skipped (no shard or deleted): %s%s\n", strings.Join(listed, ", "), more)
	}
	return result
}

func (p *Progress) done() int {
	return p.indexed + len(p.skipped)
}

func (p *Progress) result() *Result {
	return &Result{
		Total:   p.total,
		Indexed: p.indexed,
		Skipped: len(p.skipped),
		Elapsed: time.Since(p.start),
	}
}

// status writes the running totals. Callers hold mu.
func (p *Progress) status() {
	done := p.done()
	percentage := 0.0
	if p.total > 0 {
		percentage = float64(done) / float64(p.total) * 100.0
	}
	rate := float64(done) / time.Since(p.start).Seconds()
	fmt.Fprintf(p.w, "\rReindexed %d/%d (%.1f%%), %d skipped - %.1f resources/s",
		done, p.total, percentage, len(p.skipped), rate)
}
