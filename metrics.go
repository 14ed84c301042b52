// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package rchannel

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the channel engine's Prometheus collectors. A nil *Metrics
// on Options disables collection entirely; every increment/observe call
// guards against a nil receiver so Channel code never needs a separate
// "is metrics enabled" branch.
type Metrics struct {
	CallsTotal        prometheus.Counter
	CallErrorsTotal   prometheus.Counter
	CallDuration      prometheus.Histogram
	ExportsActive     prometheus.Gauge
	PipeBytesSent     prometheus.Counter
	PipeBytesAcked    prometheus.Counter
	PingTimeoutsTotal prometheus.Counter
}

// NewMetrics constructs and registers a Metrics set on reg, prefixing every
// metric name with "rchannel_".
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CallsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rchannel_calls_total",
			Help: "Total RPC calls issued by this channel.",
		}),
		CallErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rchannel_call_errors_total",
			Help: "Total RPC calls that returned a remote or transport error.",
		}),
		CallDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rchannel_call_duration_seconds",
			Help:    "Round-trip latency of RPC calls.",
			Buckets: prometheus.DefBuckets,
		}),
		ExportsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rchannel_exports_active",
			Help: "Currently live entries in the export table.",
		}),
		PipeBytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rchannel_pipe_bytes_sent_total",
			Help: "Total bytes written across all pipes on this channel.",
		}),
		PipeBytesAcked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rchannel_pipe_bytes_acked_total",
			Help: "Total bytes acked across all pipes on this channel.",
		}),
		PingTimeoutsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rchannel_ping_timeouts_total",
			Help: "Total consecutive-ping-timeout events observed.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.CallsTotal, m.CallErrorsTotal, m.CallDuration,
			m.ExportsActive, m.PipeBytesSent, m.PipeBytesAcked, m.PingTimeoutsTotal)
	}
	return m
}

func (m *Metrics) incCalls() {
	if m != nil {
		m.CallsTotal.Inc()
	}
}

func (m *Metrics) incCallErrors() {
	if m != nil {
		m.CallErrorsTotal.Inc()
	}
}

func (m *Metrics) observeCallDuration(seconds float64) {
	if m != nil {
		m.CallDuration.Observe(seconds)
	}
}

func (m *Metrics) setExportsActive(n float64) {
	if m != nil {
		m.ExportsActive.Set(n)
	}
}

func (m *Metrics) addPipeBytesSent(n float64) {
	if m != nil {
		m.PipeBytesSent.Add(n)
	}
}

func (m *Metrics) addPipeBytesAcked(n float64) {
	if m != nil {
		m.PipeBytesAcked.Add(n)
	}
}

func (m *Metrics) incPingTimeouts() {
	if m != nil {
		m.PingTimeoutsTotal.Inc()
	}
}
