package infrastructure

import (
	"sync"
	"time"

	"saldobot/internal/entities"
)

// PendingRequests tracks which account each provider conversation concerns,
// keyed by the provider's sender identity
type PendingRequests struct {
	mu       sync.RWMutex
	requests map[string]entities.PendingRequest
	// replaced holds the request each live entry displaced, restored when
	// the newer one is cleared
	replaced       map[string]entities.PendingRequest
	latest         entities.PendingRequest
	previousLatest entities.PendingRequest
	ttl            time.Duration
	now            func() time.Time
}

// NewPendingRequests creates the correlation map. ttl <= 0 disables expiry.
func NewPendingRequests(ttl time.Duration) *PendingRequests {
	return &PendingRequests{
		requests: make(map[string]entities.PendingRequest),
		replaced: make(map[string]entities.PendingRequest),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Arm records req for its sender, replacing any earlier request
func (p *PendingRequests) Arm(req entities.PendingRequest) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if req.ArmedAt.IsZero() {
		req.ArmedAt = p.now()
	}
	key := entities.NormalizeSender(req.Sender)
	if old, exists := p.requests[key]; exists {
		p.replaced[key] = old
	} else {
		delete(p.replaced, key)
	}
	p.requests[key] = req
	p.previousLatest = p.latest
	p.latest = req
}

// Lookup returns the live request armed for sender
func (p *PendingRequests) Lookup(sender string) (entities.PendingRequest, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	req, exists := p.requests[entities.NormalizeSender(sender)]
	if !exists || p.expired(req) {
		return entities.PendingRequest{}, false
	}
	return req, true
}

// Latest returns the most recently armed request regardless of sender or age.
// It backs the single-slot session mode.
func (p *PendingRequests) Latest() (entities.PendingRequest, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latest, p.latest.AccountNumber != ""
}

// Clear forgets the request for sender if it is still the one identified by
// requestID, and reinstates the request it replaced. An empty requestID drops
// the entry unconditionally without reinstating anything.
func (p *PendingRequests) Clear(sender, requestID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := entities.NormalizeSender(sender)
	req, exists := p.requests[key]
	if !exists {
		return
	}
	if requestID != "" && req.RequestID != requestID {
		return
	}

	delete(p.requests, key)
	if old, ok := p.replaced[key]; ok && requestID != "" {
		p.requests[key] = old
	}
	delete(p.replaced, key)

	switch req.RequestID {
	case p.latest.RequestID:
		p.latest = entities.PendingRequest{}
		if requestID != "" {
			p.latest = p.previousLatest
		}
		p.previousLatest = entities.PendingRequest{}
	case p.previousLatest.RequestID:
		p.previousLatest = entities.PendingRequest{}
	}
}

// Sweep drops expired requests and returns how many were removed
func (p *PendingRequests) Sweep() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	removed := 0
	for key, req := range p.requests {
		if p.expired(req) {
			delete(p.requests, key)
			delete(p.replaced, key)
			removed++
		}
	}
	for key, req := range p.replaced {
		if p.expired(req) {
			delete(p.replaced, key)
		}
	}
	return removed
}

// Len returns the number of tracked requests, expired ones included
func (p *PendingRequests) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.requests)
}

func (p *PendingRequests) expired(req entities.PendingRequest) bool {
	return p.ttl > 0 && p.now().Sub(req.ArmedAt) > p.ttl
}
