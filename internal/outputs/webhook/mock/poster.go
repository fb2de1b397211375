package mock

import (
	"context"

	"github.com/bakkerme/dealwatch/internal/outputs/webhook"
)

// Poster records payloads. When FailOn is set, calls whose 1-based index
// is a key return the mapped error instead of recording.
type Poster struct {
	Payloads []webhook.Payload
	Err      error
	FailOn   map[int]error
	calls    int
}

func (p *Poster) Post(ctx context.Context, payload webhook.Payload) error {
	_ = ctx
	p.calls++
	if err, ok := p.FailOn[p.calls]; ok {
		return err
	}
	if p.Err != nil {
		return p.Err
	}
	p.Payloads = append(p.Payloads, payload)
	return nil
}

// Calls returns how many times Post was invoked.
func (p *Poster) Calls() int {
	return p.calls
}
