package channel

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/unclebandit/outreach-scheduler/internal/model"
)

// MockAdapter simulates a provider that fails a fraction of sends.
type MockAdapter struct {
	FailureRate float64
	Latency     time.Duration

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewMockAdapter(failureRate float64, seed int64) *MockAdapter {
	return &MockAdapter{FailureRate: failureRate, rnd: rand.New(rand.NewSource(seed))}
}

func (m *MockAdapter) Supports(ch model.Channel) bool { return ch.IsValid() }

func (m *MockAdapter) Send(ctx context.Context, msg Message) error {
	if m.Latency > 0 {
		select {
		case <-time.After(m.Latency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.mu.Lock()
	r := m.rnd.Float64()
	m.mu.Unlock()
	if r < m.FailureRate {
		return fmt.Errorf("mock %s delivery to %s failed", msg.Channel, msg.Address)
	}
	return nil
}
