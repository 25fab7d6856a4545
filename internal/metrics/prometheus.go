package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// RegisterPrometheus exposes the collector's counters under the given
// namespace. Registration is idempotent across re-initialization.
func RegisterPrometheus(namespace string, c *Collector) {
	register := func(col prometheus.Collector) {
		if err := prometheus.Register(col); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				// Leave the metric unexported rather than failing startup.
				return
			}
		}
	}

	register(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "connections_total",
		Help:      "Total number of accepted connections",
	}, func() float64 { return float64(c.TotalConn.Load()) }))

	register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connections_active",
		Help:      "Number of currently active connections",
	}, func() float64 { return float64(c.ActiveConn.Load()) }))

	register(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bytes_sent_total",
		Help:      "Total bytes forwarded client to backend",
	}, func() float64 { return float64(c.TotalBytesSent.Load()) }))

	register(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bytes_received_total",
		Help:      "Total bytes forwarded backend to client",
	}, func() float64 { return float64(c.TotalBytesRecv.Load()) }))
}
