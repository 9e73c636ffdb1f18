// Package frontier owns the deduplicated visited set and pending queue that
// drive a crawl. All operations are safe under concurrent callers, and
// admit is atomic with respect to duplicate detection: visited and pending
// share a single mutex rather than being modeled as two independent
// collections, per the shared-mutable-queue design note.
package frontier

import (
	"sync"

	"github.com/coreindex/sitecrawler/internal/model"
)

// Frontier is the set of URLs known to a run plus the subset still to visit.
type Frontier struct {
	mu      sync.Mutex
	cond    *sync.Cond
	visited map[string]struct{}
	pending []model.URL
	// active counts URLs that Take has handed out but Done has not yet been
	// called for — the only true measure of in-flight work. Termination
	// depends on this, not on a caller-side concurrency semaphore, so that
	// dequeuing a URL and marking it done are each atomic with the
	// pending-emptiness check.
	active int
	closed bool
	config model.CrawlerConfiguration
}

// New builds an empty Frontier scoped by cfg's filters.
func New(cfg model.CrawlerConfiguration) *Frontier {
	f := &Frontier{
		visited: make(map[string]struct{}),
		config:  cfg,
	}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// Admit normalizes url, inserts it into visited if not already present, and
// — only when it also passes at least one configured filter — appends it to
// pending. A URL already in visited (by any prior admit or admitSeen) is a
// no-op, and nothing is appended once the frontier is closed. Returns true
// if the URL was newly appended to pending.
func (f *Frontier) Admit(u model.URL) bool {
	u = model.Normalize(u)
	key := u.String()

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, seen := f.visited[key]; seen {
		return false
	}
	f.visited[key] = struct{}{}

	if f.closed || !f.config.Matches(u) {
		return false
	}
	f.pending = append(f.pending, u)
	f.cond.Signal()
	return true
}

// AdmitSeen records url as visited without ever enqueueing it to pending.
// Used by the browser's response observer for redirect targets and
// sub-resource requests so later discoveries short-circuit.
func (f *Frontier) AdmitSeen(u model.URL) {
	u = model.Normalize(u)
	key := u.String()

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, seen := f.visited[key]; seen {
		return
	}
	f.visited[key] = struct{}{}
}

// Take dequeues one URL from pending, blocking until one is available or the
// frontier is closed. The second return value is false once the frontier is
// closed and drained. A successful Take increments the active count; the
// caller must call Done exactly once for every URL it receives, once that
// URL (and everything it caused to be admitted) has been fully processed.
func (f *Frontier) Take() (model.URL, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for len(f.pending) == 0 && !f.closed {
		f.cond.Wait()
	}
	if len(f.pending) == 0 {
		return model.URL{}, false
	}
	u := f.pending[0]
	f.pending = f.pending[1:]
	f.active++
	return u, true
}

// Done marks one URL previously returned by Take as fully processed. Once
// pending is empty and no URL is still active, the frontier closes itself
// and wakes any blocked Take — this is the only place a normal (non-error,
// non-cancellation) run terminates, and it is atomic with the emptiness
// check by construction: both the decrement and the check happen under the
// same lock acquisition.
func (f *Frontier) Done() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.active--
	if len(f.pending) == 0 && f.active == 0 && !f.closed {
		f.closed = true
		f.cond.Broadcast()
	}
}

// Close marks the frontier as done: no further URLs will ever be admitted to
// pending, and any blocked Take unblocks.
func (f *Frontier) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	f.cond.Broadcast()
}

// Closed reports whether Close has been called.
func (f *Frontier) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// PendingLen reports the current backlog size, for metrics and tests.
func (f *Frontier) PendingLen() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

// VisitedLen reports the total number of URLs ever admitted (via Admit or
// AdmitSeen), for the invariant |visited| >= |set of URLs enqueued|.
func (f *Frontier) VisitedLen() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.visited)
}

