// Package progress implements the shared counters and cooperative
// cancellation used across the pipeline: a worker thread only yields by
// completing its chunk, so cancellation checks are inserted at the top of
// each chunk iteration and at every point-level progress increment.
package progress

import "sync/atomic"

// Progress tracks chunk and point counters shared across every worker
// clone of the pipeline.
type Progress struct {
	totalChunks int64
	doneChunks  int64
	totalPoints int64
	donePoints  int64

	cancelled atomic.Bool
}

// New returns a Progress for a run of nChunks chunks.
func New(nChunks int) *Progress {
	p := &Progress{}
	p.totalChunks = int64(nChunks)
	return p
}

// ChunkDone increments the completed-chunk counter. Call once per chunk,
// after clear(), regardless of whether the chunk was processed or skipped.
func (p *Progress) ChunkDone() {
	atomic.AddInt64(&p.doneChunks, 1)
}

// AddPoints adds n to the total expected point count for the current
// chunk's reader stage, and PointDone increments the processed count.
func (p *Progress) AddPoints(n int64) { atomic.AddInt64(&p.totalPoints, n) }
func (p *Progress) PointDone()        { atomic.AddInt64(&p.donePoints, 1) }

// Chunks returns (done, total).
func (p *Progress) Chunks() (int64, int64) {
	return atomic.LoadInt64(&p.doneChunks), atomic.LoadInt64(&p.totalChunks)
}

// Points returns (done, total).
func (p *Progress) Points() (int64, int64) {
	return atomic.LoadInt64(&p.donePoints), atomic.LoadInt64(&p.totalPoints)
}

// Cancel requests cooperative cancellation. Any worker may call this on a
// hard error; the outer loop polls Cancelled and stops scheduling new
// chunks.
func (p *Progress) Cancel() { p.cancelled.Store(true) }

// Cancelled reports whether cancellation has been requested.
func (p *Progress) Cancelled() bool { return p.cancelled.Load() }

// Fraction returns the overall completion fraction in [0,1], combining
// chunk and point progress so a progress bar (an external collaborator
//) has a single number to render.
func (p *Progress) Fraction() float64 {
	done, total := p.Chunks()
	if total == 0 {
		return 1
	}
	chunkFrac := float64(done) / float64(total)

	pd, pt := p.Points()
	if pt == 0 {
		return chunkFrac
	}
	// Weight the current chunk's point progress into the fraction of the
	// chunk currently in flight.
	within := float64(pd) / float64(pt) / float64(total)
	return chunkFrac + within
}
