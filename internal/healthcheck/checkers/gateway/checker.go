package gatewaychecker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/memohai/expander/internal/gateway"
	"github.com/memohai/expander/internal/healthcheck"
)

const (
	checkTypeGatewayConnection = "gateway.connection"
	checkTypeDispatchLoad      = "dispatch.load"
)

// ConnectionObserver reads the gateway connection state.
type ConnectionObserver interface {
	State() gateway.State
	StateSince() time.Time
}

// LoadObserver reads the number of running expansions.
type LoadObserver interface {
	InFlight() int64
}

// Checker evaluates gateway connection and dispatcher load.
type Checker struct {
	logger   *slog.Logger
	observer ConnectionObserver
	load     LoadObserver
	now      func() time.Time
}

// NewChecker creates a gateway health checker. load may be nil.
func NewChecker(log *slog.Logger, observer ConnectionObserver, load LoadObserver) *Checker {
	if log == nil {
		log = slog.Default()
	}
	return &Checker{
		logger:   log.With(slog.String("checker", "healthcheck_gateway")),
		observer: observer,
		load:     load,
		now:      time.Now,
	}
}

// ListChecks evaluates the gateway connection and in-flight expansions.
func (c *Checker) ListChecks(ctx context.Context) []healthcheck.CheckResult {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return []healthcheck.CheckResult{}
	}
	checks := []healthcheck.CheckResult{c.connectionCheck()}
	if c.load != nil {
		checks = append(checks, healthcheck.CheckResult{
			ID:       checkTypeDispatchLoad,
			Type:     checkTypeDispatchLoad,
			Status:   healthcheck.StatusOK,
			Summary:  fmt.Sprintf("%d expansions in flight.", c.load.InFlight()),
			Metadata: map[string]any{"in_flight": c.load.InFlight()},
		})
	}
	return checks
}

func (c *Checker) connectionCheck() healthcheck.CheckResult {
	item := healthcheck.CheckResult{
		ID:   checkTypeGatewayConnection,
		Type: checkTypeGatewayConnection,
	}
	if c.observer == nil {
		c.logger.Warn("gateway healthcheck dependency is unavailable")
		item.Status = healthcheck.StatusWarn
		item.Summary = "Gateway checker service is not available."
		item.Detail = "connection observer is nil"
		return item
	}

	state := c.observer.State()
	since := c.observer.StateSince()
	item.Metadata = map[string]any{"state": string(state)}
	if !since.IsZero() {
		item.Metadata["since"] = since.UTC().Format("2006-01-02T15:04:05Z")
		item.Metadata["for_seconds"] = int64(c.now().Sub(since) / time.Second)
	}

	switch state {
	case gateway.StateReady, gateway.StateStreaming:
		item.Status = healthcheck.StatusOK
		item.Summary = "Gateway is connected."
	case gateway.StateConnecting:
		item.Status = healthcheck.StatusWarn
		item.Summary = "Gateway is connecting."
	case gateway.StateReconnecting:
		item.Status = healthcheck.StatusWarn
		item.Summary = "Gateway connection dropped, reconnecting."
	case gateway.StateTerminated:
		item.Status = healthcheck.StatusError
		item.Summary = "Gateway connection is terminated."
	default:
		item.Status = healthcheck.StatusUnknown
		item.Summary = "Gateway state is unknown."
	}
	return item
}
