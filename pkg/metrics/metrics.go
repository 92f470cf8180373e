// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-shw.
//
// go-shw is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package metrics provides Prometheus instrumentation for the request layer:
// operations and their latency per entry point, descriptors built, and the
// failures worth alerting on (allocation exhaustion, authentication
// failures, pool exhaustion).
package metrics

import (
	"errors"
	"io"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"

	"github.com/jeremyhahn/go-shw/pkg/types"
)

const (
	// Namespace is the Prometheus namespace for all request layer metrics
	Namespace = "shw"

	// Label names
	LabelOperation = "operation"
	LabelStatus    = "status"
	LabelErrorType = "error_type"

	// Status values
	StatusSuccess = "success"
	StatusError   = "error"
	StatusPending = "pending"

	// Operation names
	OpHash             = "hash"
	OpHMACPrecompute   = "hmac_precompute"
	OpHMAC             = "hmac"
	OpSymmetricEncrypt = "symmetric_encrypt"
	OpSymmetricDecrypt = "symmetric_decrypt"
	OpAuthEncrypt      = "auth_encrypt"
	OpAuthDecrypt      = "auth_decrypt"
	OpEstablishKey     = "establish_key"
	OpExtractKey       = "extract_key"
	OpReleaseKey       = "release_key"
	OpReadKey          = "read_key"
	OpRandom           = "random"
	OpResults          = "results"
)

var (
	// OperationsTotal counts entry point calls by operation and status.
	// Non-blocking submissions are recorded as pending.
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "operations_total",
			Help:      "Total number of requests by operation and status",
		},
		[]string{LabelOperation, LabelStatus},
	)

	// OperationDuration tracks entry point latency in seconds, from
	// validation to return.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of requests in seconds",
			Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		},
		[]string{LabelOperation},
	)

	// ErrorsTotal counts failed requests by operation and error class.
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "errors_total",
			Help:      "Total number of errors by operation and error type",
		},
		[]string{LabelOperation, LabelErrorType},
	)

	// DescriptorsTotal counts descriptors submitted to the executor.
	DescriptorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "descriptors_total",
			Help:      "Total number of descriptors submitted by operation",
		},
		[]string{LabelOperation},
	)

	// OutstandingRequests is the number of submitted non-blocking requests
	// whose results have not been collected.
	OutstandingRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "outstanding_requests",
			Help:      "Number of non-blocking requests awaiting result collection",
		},
	)

	// enabled tracks whether metrics collection is enabled
	enabled atomic.Bool
)

func init() {
	enabled.Store(true)
}

// RecordOperation records a request with its duration and status.
//
// Example:
//
//	start := time.Now()
//	err := e.hash(ctx, uc, hc, msg, out)
//	metrics.RecordOperation(metrics.OpHash, metrics.Status(err), time.Since(start).Seconds())
func RecordOperation(operation, status string, duration float64) {
	if !enabled.Load() {
		return
	}
	OperationsTotal.WithLabelValues(operation, status).Inc()
	OperationDuration.WithLabelValues(operation).Observe(duration)
}

// RecordError records a failed request under the error class of err.
func RecordError(operation string, err error) {
	if !enabled.Load() || err == nil {
		return
	}
	ErrorsTotal.WithLabelValues(operation, ErrorType(err)).Inc()
}

// RecordDescriptors adds n submitted descriptors for operation.
func RecordDescriptors(operation string, n int) {
	if !enabled.Load() {
		return
	}
	DescriptorsTotal.WithLabelValues(operation).Add(float64(n))
}

// RequestSubmitted increments the outstanding request gauge.
func RequestSubmitted() {
	if !enabled.Load() {
		return
	}
	OutstandingRequests.Inc()
}

// RequestCollected decrements the outstanding request gauge.
func RequestCollected() {
	if !enabled.Load() {
		return
	}
	OutstandingRequests.Dec()
}

// Status maps an error to a status label.
func Status(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusSuccess
}

// ErrorType maps an error to a short label for ErrorsTotal.
func ErrorType(err error) string {
	switch {
	case errors.Is(err, types.ErrNoMemory):
		return "no_memory"
	case errors.Is(err, types.ErrAuthFailed):
		return "auth_failed"
	case errors.Is(err, types.ErrPoolFull):
		return "pool_full"
	case errors.Is(err, types.ErrBadFlags),
		errors.Is(err, types.ErrBadAlgorithm),
		errors.Is(err, types.ErrBadMode),
		errors.Is(err, types.ErrBadKeyLength),
		errors.Is(err, types.ErrBadLength),
		errors.Is(err, types.ErrBadContext),
		errors.Is(err, types.ErrBadBlob):
		return "invalid_argument"
	case errors.Is(err, types.ErrKeyNotPresent),
		errors.Is(err, types.ErrKeyNotEstablished),
		errors.Is(err, types.ErrKeyAlreadyEstablished),
		errors.Is(err, types.ErrKeyNotReadable):
		return "key_state"
	default:
		return "executor"
	}
}

// WriteText writes every metric registered with the default registry in
// the Prometheus text exposition format.
func WriteText(w io.Writer) error {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

// Enable enables metrics collection.
func Enable() {
	enabled.Store(true)
}

// Disable disables metrics collection.
// Useful for testing or when metrics are not desired.
func Disable() {
	enabled.Store(false)
}

// IsEnabled returns whether metrics collection is currently enabled.
func IsEnabled() bool {
	return enabled.Load()
}
