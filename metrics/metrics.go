// Package metrics exports runtime telemetry to Prometheus: block
// production and import, extrinsic outcomes, fatal errors and the gRPC
// surface the host drives.
//
// Collector implements executive.Observer; pass it as the executive's
// Observer and serve Handler on the metrics address.
package metrics

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/blockberries/frame"
	"github.com/blockberries/frame/executive"
	"github.com/blockberries/frame/types"
)

// DefaultNamespace is used when NewCollector is given none.
const DefaultNamespace = "frame"

var _ executive.Observer = (*Collector)(nil)

// Collector provides runtime metrics collection.
type Collector struct {
	registry *prometheus.Registry

	// Block metrics
	blocksStarted   prometheus.Counter
	blocksSealed    prometheus.Counter
	blocksCommitted prometheus.Counter
	blockFailures   *prometheus.CounterVec
	blockDuration   prometheus.Histogram
	blockWeight     prometheus.Histogram
	headNumber      prometheus.Gauge
	commitChanges   prometheus.Histogram

	// Extrinsic metrics
	extrinsics *prometheus.CounterVec
	rejected   *prometheus.CounterVec
	fees       prometheus.Counter

	// RPC metrics
	rpcRequests *prometheus.CounterVec
	rpcDuration *prometheus.HistogramVec

	mu        sync.Mutex
	blockFrom time.Time
}

// NewCollector creates a new runtime metrics collector with its own
// registry, including the Go and process collectors.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	c := &Collector{registry: prometheus.NewRegistry()}

	c.blocksStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "block",
		Name:      "started_total",
		Help:      "Blocks opened for building or import.",
	})
	c.blocksSealed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "block",
		Name:      "sealed_total",
		Help:      "Blocks sealed after finalization.",
	})
	c.blocksCommitted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "block",
		Name:      "committed_total",
		Help:      "Blocks committed to the backend.",
	})
	c.blockFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "block",
			Name:      "failures_total",
			Help:      "Blocks rejected with a fatal error, by kind.",
		},
		[]string{"kind"},
	)
	c.blockDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "block",
		Name:      "duration_seconds",
		Help:      "Time from initialization to seal.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
	})
	c.blockWeight = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "block",
		Name:      "weight",
		Help:      "Weight consumed by sealed blocks.",
		Buckets:   prometheus.ExponentialBuckets(1000, 4, 10),
	})
	c.headNumber = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "block",
		Name:      "head_number",
		Help:      "Number of the last committed block.",
	})
	c.commitChanges = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "block",
		Name:      "commit_changes",
		Help:      "Storage keys written or deleted per commit.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
	})

	c.extrinsics = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "extrinsic",
			Name:      "applied_total",
			Help:      "Extrinsics applied, by dispatch result.",
		},
		[]string{"result"},
	)
	c.rejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "extrinsic",
			Name:      "rejected_total",
			Help:      "Extrinsics refused inclusion, by validity reason.",
		},
		[]string{"reason"},
	)
	c.fees = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "extrinsic",
		Name:      "fees_total",
		Help:      "Fees withdrawn from signers.",
	})

	c.rpcRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "requests_total",
			Help:      "Runtime RPCs handled, by method and status code.",
		},
		[]string{"method", "code"},
	)
	c.rpcDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "duration_seconds",
			Help:      "Duration of runtime RPCs.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
		},
		[]string{"method"},
	)

	c.registry.MustRegister(
		c.blocksStarted,
		c.blocksSealed,
		c.blocksCommitted,
		c.blockFailures,
		c.blockDuration,
		c.blockWeight,
		c.headNumber,
		c.commitChanges,
		c.extrinsics,
		c.rejected,
		c.fees,
		c.rpcRequests,
		c.rpcDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns an HTTP handler exposing the registered metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// --- executive.Observer ---

func (c *Collector) BlockStarted(uint64) {
	c.blocksStarted.Inc()
	c.mu.Lock()
	c.blockFrom = time.Now()
	c.mu.Unlock()
}

func (c *Collector) ExtrinsicApplied(out types.ApplyOutcome) {
	result := "success"
	if !out.Success {
		result = "failed"
	}
	c.extrinsics.WithLabelValues(result).Inc()
	c.fees.Add(float64(out.Fee))
}

func (c *Collector) ExtrinsicRejected(err *types.TransactionValidityError) {
	c.rejected.WithLabelValues(err.Reason.String()).Inc()
}

func (c *Collector) BlockSealed(out types.BlockOutcome) {
	c.blocksSealed.Inc()
	c.blockWeight.Observe(float64(out.Weight))
	c.mu.Lock()
	if !c.blockFrom.IsZero() {
		c.blockDuration.Observe(time.Since(c.blockFrom).Seconds())
		c.blockFrom = time.Time{}
	}
	c.mu.Unlock()
}

func (c *Collector) BlockCommitted(res types.CommitResult) {
	c.blocksCommitted.Inc()
	c.headNumber.Set(float64(res.Block.Number))
	c.commitChanges.Observe(float64(res.Changes))
}

func (c *Collector) BlockFailed(err *frame.FatalError) {
	c.blockFailures.WithLabelValues(err.Kind.String()).Inc()
	c.mu.Lock()
	c.blockFrom = time.Time{}
	c.mu.Unlock()
}

// --- gRPC ---

// UnaryServerInterceptor records the count and duration of every
// unary RPC.
func (c *Collector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		method := methodName(info.FullMethod)
		c.rpcDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
		c.rpcRequests.WithLabelValues(method, status.Code(err).String()).Inc()
		return resp, err
	}
}

// methodName strips the service prefix from a full gRPC method name.
func methodName(full string) string {
	return full[strings.LastIndex(full, "/")+1:]
}
