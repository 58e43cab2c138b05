package payment

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/xid"
)

var simulatedDeclines = []string{
	"recipient wallet not found",
	"recipient wallet limit reached",
	"destination number is not registered",
}

// Simulator approves a configurable share of payouts after a short delay.
type Simulator struct {
	SuccessRate float64
	Latency     time.Duration

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewSimulator(successRate float64, latency time.Duration) *Simulator {
	return &Simulator{
		SuccessRate: successRate,
		Latency:     latency,
		rnd:         rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5eed)),
	}
}

func (s *Simulator) SendPayment(ctx context.Context, p Payout) (Result, error) {
	if s.Latency > 0 {
		timer := time.NewTimer(s.Latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-timer.C:
		}
	}

	s.mu.Lock()
	roll := s.rnd.Float64()
	decline := simulatedDeclines[s.rnd.IntN(len(simulatedDeclines))]
	s.mu.Unlock()

	if roll >= s.SuccessRate {
		return Result{OK: false, Message: decline}, nil
	}
	return Result{
		OK:            true,
		Message:       "sent via " + p.Method,
		TransactionID: "SIM" + xid.New().String(),
	}, nil
}
