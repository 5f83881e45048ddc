package routing

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/vietddude/chainwallet/internal/infra/rpc/provider"
)

// RetryConfig defines backoff behaviour for endpoint cooldowns and redials.
type RetryConfig struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffMultiple float64
}

// DefaultRetryConfig provides sensible defaults.
var DefaultRetryConfig = RetryConfig{
	MaxAttempts:     5,
	InitialDelay:    1 * time.Second,
	MaxDelay:        60 * time.Second,
	BackoffMultiple: 2.0,
}

// ErrorAction determines how to handle an error.
type ErrorAction int

const (
	// ActionFailover marks the endpoint unhealthy and tries the next one.
	ActionFailover ErrorAction = iota
	// ActionExpected returns the error to the caller; the endpoint is fine.
	ActionExpected
	// ActionAbort stops immediately because the caller gave up.
	ActionAbort
)

func (a ErrorAction) String() string {
	switch a {
	case ActionFailover:
		return "failover"
	case ActionExpected:
		return "expected"
	case ActionAbort:
		return "abort"
	}
	return "unknown"
}

// JSON-RPC error codes that describe the request rather than the endpoint.
var expectedCodes = map[int]bool{
	3:      true, // execution reverted
	-32602: true, // invalid params
}

// Messages that describe the request or account state rather than the endpoint.
var expectedMessages = []string{
	"execution reverted",
	"nonce too low",
	"insufficient funds",
	"already known",
	"replacement transaction underpriced",
	"intrinsic gas too low",
	"invalid params",
}

// ClassifyError determines the action for a given error. Only a short
// allow-list of errors is treated as expected; everything else is a reason
// to distrust the endpoint.
func ClassifyError(err error) ErrorAction {
	if err == nil {
		return ActionExpected
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ActionAbort
	}

	var rpcErr *provider.RPCError
	if errors.As(err, &rpcErr) && expectedCodes[rpcErr.Code] {
		return ActionExpected
	}

	sLower := strings.ToLower(err.Error())
	for _, msg := range expectedMessages {
		if strings.Contains(sLower, msg) {
			return ActionExpected
		}
	}
	return ActionFailover
}

// IsExpected reports whether err is an application error that says nothing
// about endpoint health.
func IsExpected(err error) bool {
	return err != nil && ClassifyError(err) == ActionExpected
}

// Backoff returns the delay before attempt (zero based).
func Backoff(attempt int, config RetryConfig) time.Duration {
	return calculateBackoff(attempt, config)
}

func calculateBackoff(attempt int, config RetryConfig) time.Duration {
	delay := float64(config.InitialDelay) * math.Pow(config.BackoffMultiple, float64(attempt))
	if delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}
	return time.Duration(delay)
}
