package llm

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks per-model gateway traffic.
type Metrics struct {
	Requests   *prometheus.CounterVec
	Failures   *prometheus.CounterVec
	DurationMS *prometheus.HistogramVec
}

// NewMetrics registers the gateway metric family on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_requests",
			Help: "Completion and embedding requests by model.",
		}, requestLabelNames),
		Failures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_failures",
			Help: "Failed requests by model.",
		}, requestLabelNames),
		DurationMS: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "llm_internal_request_duration_ms",
			Help:    "End-to-end upstream request latency in milliseconds.",
			Buckets: []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		}, []string{"model"}),
	}
}

var requestLabelNames = []string{"model", "stream", "tool_choice", "user", "metadata"}

func boolLabel(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

func requestLabels(model string, stream bool, req *ChatRequest) []string {
	return []string{model, boolLabel(stream), req.ToolChoice, req.User, boolLabel(len(req.Metadata) > 0)}
}

// instrumentedChat wraps a ChatProvider with request counting and latency
// recording. Failures on stream open count as failures; mid-stream errors
// are the caller's to observe.
type instrumentedChat struct {
	ChatProvider
	metrics *Metrics
}

// Instrument wraps provider so every request is counted against metrics.
// A nil metrics returns the provider unchanged.
func Instrument(provider ChatProvider, metrics *Metrics) ChatProvider {
	if metrics == nil {
		return provider
	}
	return &instrumentedChat{ChatProvider: provider, metrics: metrics}
}

func (p *instrumentedChat) ChatRequest(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	start := time.Now()
	labels := requestLabels(p.Name(), false, req)
	p.metrics.Requests.WithLabelValues(labels...).Inc()

	resp, err := p.ChatProvider.ChatRequest(ctx, req)
	p.metrics.DurationMS.WithLabelValues(p.Name()).Observe(float64(time.Since(start).Milliseconds()))
	if err != nil {
		p.metrics.Failures.WithLabelValues(labels...).Inc()
	}
	return resp, err
}

func (p *instrumentedChat) ChatStream(ctx context.Context, req *ChatRequest) (*ChatStream, error) {
	start := time.Now()
	labels := requestLabels(p.Name(), true, req)
	p.metrics.Requests.WithLabelValues(labels...).Inc()

	stream, err := p.ChatProvider.ChatStream(ctx, req)
	if err != nil {
		p.metrics.DurationMS.WithLabelValues(p.Name()).Observe(float64(time.Since(start).Milliseconds()))
		p.metrics.Failures.WithLabelValues(labels...).Inc()
		return nil, err
	}

	// Record duration when the stream drains rather than when it opens.
	inner := stream
	done := false
	return NewChatStream(func() (*ChatChunk, error) {
		chunk, err := inner.Recv()
		if err != nil && !done {
			done = true
			p.metrics.DurationMS.WithLabelValues(p.Name()).Observe(float64(time.Since(start).Milliseconds()))
		}
		return chunk, err
	}, inner.Close), nil
}
