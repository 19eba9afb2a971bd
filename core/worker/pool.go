package worker

import (
	"fmt"
	"slices"
)

// Pool is a fixed set of workers hosted by one node. Workers that stopped
// are not replaced; Lookup stops returning them.
type Pool struct {
	ids     []string
	workers map[string]*Worker
}

// NewPool starts one worker per id. template supplies every option but the
// ID. Duplicate ids start a single worker.
func NewPool(ids []string, template Options) (*Pool, error) {
	p := &Pool{workers: make(map[string]*Worker, len(ids))}
	for _, id := range ids {
		if _, dup := p.workers[id]; dup {
			continue
		}
		opts := template
		opts.ID = id
		w, err := New(opts)
		if err != nil {
			p.Stop()
			return nil, fmt.Errorf("start worker %s: %w", id, err)
		}
		p.workers[id] = w
		p.ids = append(p.ids, id)
	}
	return p, nil
}

// Lookup returns the running worker for id.
func (p *Pool) Lookup(id string) (*Worker, bool) {
	w, ok := p.workers[id]
	if !ok {
		return nil, false
	}
	select {
	case <-w.Done():
		return nil, false
	default:
		return w, true
	}
}

// IDs returns the ids the pool was started with, running or not.
func (p *Pool) IDs() []string { return slices.Clone(p.ids) }

// Workers returns the workers that are still running.
func (p *Pool) Workers() []*Worker {
	out := make([]*Worker, 0, len(p.ids))
	for _, id := range p.ids {
		if w, ok := p.Lookup(id); ok {
			out = append(out, w)
		}
	}
	return out
}

func (p *Pool) Stop() {
	for _, w := range p.workers {
		w.Stop()
	}
}
