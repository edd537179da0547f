package gateway

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"afyalog/internal/metrics"
)

// Sandbox accepts every well-formed push and never calls back; callbacks
// are delivered by hand (or by tests) against the returned tracking id.
type Sandbox struct {
	mu     sync.Mutex
	pushes []PushRequest
}

func NewSandbox() *Sandbox {
	return &Sandbox{}
}

func (s *Sandbox) Push(ctx context.Context, req PushRequest) (*PushResult, error) {
	channel, err := NormalizeChannel(req.Channel)
	if err != nil {
		return nil, err
	}
	req.Channel = channel

	s.mu.Lock()
	s.pushes = append(s.pushes, req)
	s.mu.Unlock()

	metrics.GatewayRequestsTotal.WithLabelValues("sandbox", "accepted").Inc()
	return &PushResult{
		TrackingID: uuid.NewString(),
		Accepted:   true,
		Message:    "sandbox push accepted",
	}, nil
}

// Pushes returns a copy of every accepted request.
func (s *Sandbox) Pushes() []PushRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PushRequest, len(s.pushes))
	copy(out, s.pushes)
	return out
}
