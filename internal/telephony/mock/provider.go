package mock

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/acme/outbound-survey/internal/telephony"
)

// Provider simulates the telephony bridge for development and tests.
type Provider struct {
	mu       sync.Mutex
	rng      *rand.Rand
	placed   []telephony.CallRequest
	failNext error
}

// NewProvider constructs a mock provider.
func NewProvider() *Provider {
	return &Provider{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// FailNext makes the next PlaceCall return err.
func (p *Provider) FailNext(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failNext = err
}

// Placed returns the dial requests accepted so far.
func (p *Provider) Placed() []telephony.CallRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]telephony.CallRequest, len(p.placed))
	copy(out, p.placed)
	return out
}

// PlaceCall records the request and fabricates a provider call id.
func (p *Provider) PlaceCall(ctx context.Context, req telephony.CallRequest) (telephony.CallResult, error) {
	select {
	case <-ctx.Done():
		return telephony.CallResult{}, ctx.Err()
	default:
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failNext != nil {
		err := p.failNext
		p.failNext = nil
		return telephony.CallResult{}, err
	}

	p.placed = append(p.placed, req)
	return telephony.CallResult{
		ProviderCallID: fmt.Sprintf("MOCK%016x", p.rng.Uint64()),
		Status:         "queued",
	}, nil
}
