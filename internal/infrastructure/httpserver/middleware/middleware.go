package middleware

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/avatarctic/idempotency-engine/internal/core/ports"
)

// MiddlewareCollection holds all middleware instances
type MiddlewareCollection struct {
	Idempotency *IdempotencyMiddleware
	Logging     *LoggingMiddleware
	Metrics     *MetricsMiddleware
}

// NewMiddlewareCollection creates a new collection of all middleware
func NewMiddlewareCollection(
	idempotency ports.Idempoter,
	logger *logrus.Logger,
	requestsTotal *prometheus.CounterVec,
	requestDuration *prometheus.HistogramVec,
) *MiddlewareCollection {
	return &MiddlewareCollection{
		Idempotency: NewIdempotencyMiddleware(idempotency, logger),
		Logging:     NewLoggingMiddleware(logger),
		Metrics:     NewMetricsMiddleware(requestsTotal, requestDuration),
	}
}
