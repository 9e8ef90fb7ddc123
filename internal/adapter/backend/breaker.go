package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"quickchat/internal/domain"
	"quickchat/internal/infra/config"
	"quickchat/internal/infra/metrics"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// breaker guards calls to one AWS service. After repeated failures it fails
// fast with domain.ErrCircuitOpen instead of reaching the service.
type breaker[T any] struct {
	service string
	cb      *gobreaker.CircuitBreaker[T]
	metrics *metrics.Metrics
}

func newBreaker[T any](service string, cfg config.CircuitBreakerConfig, m *metrics.Metrics, logger *slog.Logger) *breaker[T] {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultCBTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultCBInterval
	}

	b := &breaker[T]{service: service, metrics: m}
	b.cb = gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:        "aws:" + service,
		MaxRequests: 1,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
			m.SetBreakerOpen(service, to == gobreaker.StateOpen)
		},
		// Caller mistakes and cancellations say nothing about service health.
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, domain.ErrInvalidInput) ||
				errors.Is(err, context.Canceled)
		},
	})
	m.SetBreakerOpen(service, false)
	return b
}

// execute runs fn through the breaker and records the outcome.
func (b *breaker[T]) execute(fn func() (T, error)) (T, error) {
	v, err := b.cb.Execute(fn)
	switch {
	case err == nil:
		b.metrics.RecordUpstream(b.service, "ok")
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		b.metrics.RecordUpstream(b.service, "rejected")
		return v, domain.NewSubSystemError(b.service, "backend."+b.service,
			domain.ErrCircuitOpen, fmt.Sprintf("%s unavailable", b.service))
	default:
		b.metrics.RecordUpstream(b.service, "error")
	}
	return v, err
}

func (b *breaker[T]) state() gobreaker.State { return b.cb.State() }
