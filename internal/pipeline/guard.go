package pipeline

import "sync"

// inflight tracks clip ids with a pipeline run in progress.
type inflight struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func newInflight() *inflight {
	return &inflight{ids: make(map[string]struct{})}
}

// acquire claims id, returning false if another run already holds it.
func (g *inflight) acquire(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.ids[id]; busy {
		return false
	}
	g.ids[id] = struct{}{}
	return true
}

func (g *inflight) release(id string) {
	g.mu.Lock()
	delete(g.ids, id)
	g.mu.Unlock()
}

// InFlight reports whether a run for id is in progress.
func (p *Pipeline) InFlight(id string) bool {
	p.guard.mu.Lock()
	defer p.guard.mu.Unlock()
	_, busy := p.guard.ids[id]
	return busy
}
