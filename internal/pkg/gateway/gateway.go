package gateway

import (
	"context"
	"strconv"
	"time"

	"github.com/payward/payward/internal/pkg/env"
)

// Result is the gateway's answer to a single call. Raw carries the
// provider response verbatim so it can be stored alongside the
// transaction.
type Result struct {
	Status      string
	ReferenceID string
	Raw         map[string]interface{}
}

// AuthorizeRequest carries everything the gateway needs to reserve funds.
type AuthorizeRequest struct {
	Amount        int64
	Currency      string
	MethodType    string
	MethodDetails map[string]interface{}
	CorrelationID string
}

// Client is the external payment actor. The ledger only ever talks to this
// interface; production and test implementations differ in latency and
// failure behavior, never in contract shape.
type Client interface {
	Authorize(ctx context.Context, req AuthorizeRequest) (*Result, error)
	Capture(ctx context.Context, referenceID string, amount int64, correlationID string) (*Result, error)
	Refund(ctx context.Context, referenceID string, amount int64, correlationID string) (*Result, error)
}

// NewClientFromEnv builds the configured gateway client. Only the simulated
// client exists today; GATEWAY_LATENCY_MS and GATEWAY_FAILURE_RATE tune it.
func NewClientFromEnv() Client {
	latencyMS, err := strconv.Atoi(env.GetEnv("GATEWAY_LATENCY_MS", "150"))
	if err != nil || latencyMS < 0 {
		latencyMS = 150
	}
	failureRate, err := strconv.ParseFloat(env.GetEnv("GATEWAY_FAILURE_RATE", "0.1"), 64)
	if err != nil || failureRate < 0 || failureRate > 1 {
		failureRate = 0.1
	}
	return NewSimulatedClient(time.Duration(latencyMS)*time.Millisecond, failureRate, time.Now().UnixNano())
}
