package perf

import (
	"expvar"
	"net/http"
	"strings"

	"github.com/encodeous/metric"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	DispatchLatency  = metric.NewHistogram("1m1s")
	HandleLatency    = metric.NewHistogram("1m1s")
	PacketsPerSecond = metric.NewCounter("10s1s")

	Registry  = prometheus.NewRegistry()
	Decisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sdnproxy",
		Name:      "decisions_total",
		Help:      "Packet decisions taken by the engine, by packet kind and outcome.",
	}, []string{"kind", "decision"})
)

func init() {
	Registry.MustRegister(Decisions)

	http.Handle("/debug/metrics", metric.Handler(metric.Exposed))
	expvar.Publish("sdnproxy:DispatchLatency (µs)", DispatchLatency)
	expvar.Publish("sdnproxy:HandleLatency (µs)", HandleLatency)
	expvar.Publish("sdnproxy:Packets/s", PacketsPerSecond)
}

// Decision counts one outcome for a kind of packet.
func Decision(kind, decision string) {
	Decisions.WithLabelValues(kind, decision).Inc()
	PacketsPerSecond.Add(1)
}

// Handler serves the decision counters in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Snapshot returns the current value of every decision counter, keyed by
// series name with its labels.
func Snapshot() (map[string]float64, error) {
	families, err := Registry.Gather()
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			labels := make([]string, 0, len(m.GetLabel()))
			for _, l := range m.GetLabel() {
				labels = append(labels, l.GetName()+"="+l.GetValue())
			}
			out[mf.GetName()+"{"+strings.Join(labels, ",")+"}"] = m.GetCounter().GetValue()
		}
	}
	return out, nil
}
