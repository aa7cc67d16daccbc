package gateway

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrDeclined is returned when the simulated network rejects a call.
var ErrDeclined = errors.New("gateway declined the operation")

// SimulatedClient stands in for the real payment network. Each call sleeps
// for the configured latency and fails with the configured probability.
type SimulatedClient struct {
	latency     time.Duration
	failureRate float64

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewSimulatedClient creates a simulated gateway. The seed makes failure
// sequences reproducible in tests.
func NewSimulatedClient(latency time.Duration, failureRate float64, seed int64) *SimulatedClient {
	return &SimulatedClient{
		latency:     latency,
		failureRate: failureRate,
		rnd:         rand.New(rand.NewSource(seed)),
	}
}

func (s *SimulatedClient) Authorize(ctx context.Context, req AuthorizeRequest) (*Result, error) {
	if err := s.simulateCall(ctx); err != nil {
		return nil, err
	}
	ref := "sim_" + uuid.New().String()
	return &Result{
		Status:      "authorized",
		ReferenceID: ref,
		Raw: map[string]interface{}{
			"reference_id":   ref,
			"status":         "authorized",
			"amount":         req.Amount,
			"currency":       req.Currency,
			"method_type":    req.MethodType,
			"correlation_id": req.CorrelationID,
		},
	}, nil
}

func (s *SimulatedClient) Capture(ctx context.Context, referenceID string, amount int64, correlationID string) (*Result, error) {
	return s.followUp(ctx, "captured", referenceID, amount, correlationID)
}

func (s *SimulatedClient) Refund(ctx context.Context, referenceID string, amount int64, correlationID string) (*Result, error) {
	return s.followUp(ctx, "refunded", referenceID, amount, correlationID)
}

func (s *SimulatedClient) followUp(ctx context.Context, status, referenceID string, amount int64, correlationID string) (*Result, error) {
	if referenceID == "" {
		return nil, fmt.Errorf("gateway: missing reference id")
	}
	if err := s.simulateCall(ctx); err != nil {
		return nil, err
	}
	return &Result{
		Status:      status,
		ReferenceID: referenceID,
		Raw: map[string]interface{}{
			"reference_id":   referenceID,
			"status":         status,
			"amount":         amount,
			"correlation_id": correlationID,
		},
	}, nil
}

func (s *SimulatedClient) simulateCall(ctx context.Context) error {
	if s.latency > 0 {
		timer := time.NewTimer(s.latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	s.mu.Lock()
	roll := s.rnd.Float64()
	s.mu.Unlock()

	if roll < s.failureRate {
		return ErrDeclined
	}
	return nil
}
