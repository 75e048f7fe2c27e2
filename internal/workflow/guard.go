// Package workflow implements the interruptible paper-triage pipeline:
// the step graph, the engine driving it, and the per-run concurrency
// guard. A run suspends at waiting_decision by persisting its state and
// returning; resumption is a fresh invocation that reloads the state,
// so arbitrarily long human-response latency holds no resources open.
package workflow

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hugo-lorenzo-mato/paperflow/internal/core"
)

// Guard enforces at most one in-flight execution section per run. A
// second admission while the first is open is refused, not queued:
// callers are webhook deliveries that retry upstream, so pushing the
// retry out keeps the engine free of queues.
type Guard struct {
	mu       sync.Mutex
	inflight map[core.RunID]string
}

// NewGuard creates an empty guard.
func NewGuard() *Guard {
	return &Guard{inflight: make(map[core.RunID]string)}
}

// Ticket is an open execution section. Release returns the run to the
// admissible state; releasing twice is a no-op.
type Ticket struct {
	ID    string
	runID core.RunID
	guard *Guard
	once  sync.Once
}

// Admit opens an exclusive execution section for the run. Returns a
// conflict-category DomainError when another section is open.
func (g *Guard) Admit(id core.RunID) (*Ticket, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, held := g.inflight[id]; held {
		return nil, core.ErrRunInFlight(id)
	}
	t := &Ticket{
		ID:    uuid.NewString(),
		runID: id,
		guard: g,
	}
	g.inflight[id] = t.ID
	return t, nil
}

// Release closes the execution section.
func (t *Ticket) Release() {
	t.once.Do(func() {
		t.guard.mu.Lock()
		defer t.guard.mu.Unlock()
		if t.guard.inflight[t.runID] == t.ID {
			delete(t.guard.inflight, t.runID)
		}
	})
}

// InFlight reports whether an execution section is open for the run.
func (g *Guard) InFlight(id core.RunID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, held := g.inflight[id]
	return held
}

// DedupTTL is how long a trigger fingerprint suppresses repeats.
// Webhook-style deliveries redeliver within minutes, so ten is plenty.
const DedupTTL = 10 * time.Minute

// sweepThreshold bounds the suppression table; expired entries are
// only swept once the table grows past it.
const sweepThreshold = 1024

// Deduper suppresses duplicate external triggers. Process-local and
// best-effort: it softens duplicate-webhook bursts, it does not provide
// correctness (the Guard does).
type Deduper interface {
	IsDuplicate(key string) bool
}

// TTLDeduper records trigger fingerprints with a fixed expiry.
type TTLDeduper struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[string]time.Time
	now  func() time.Time
}

// NewTTLDeduper creates a deduper with the given TTL (DedupTTL when
// zero).
func NewTTLDeduper(ttl time.Duration) *TTLDeduper {
	if ttl <= 0 {
		ttl = DedupTTL
	}
	return &TTLDeduper{
		ttl:  ttl,
		seen: make(map[string]time.Time),
		now:  time.Now,
	}
}

// IsDuplicate checks and atomically records the fingerprint. Returns
// true when an identical trigger was admitted within the TTL. An empty
// key never counts as a duplicate.
func (d *TTLDeduper) IsDuplicate(key string) bool {
	if key == "" {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if len(d.seen) > sweepThreshold {
		for k, ts := range d.seen {
			if now.Sub(ts) >= d.ttl {
				delete(d.seen, k)
			}
		}
	}

	if ts, ok := d.seen[key]; ok && now.Sub(ts) < d.ttl {
		return true
	}
	d.seen[key] = now
	return false
}

var _ Deduper = (*TTLDeduper)(nil)
