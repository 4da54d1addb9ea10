package server

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	exports   *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	converted prometheus.Counter
	findings  prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		exports: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pdfexport_exports_total",
				Help: "Exports by mode and outcome",
			},
			[]string{"mode", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pdfexport_export_duration_seconds",
				Help:    "Duration of successful exports",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"mode"},
		),
		converted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pdfexport_colors_converted_total",
			Help: "Unsafe colors rewritten to rgb()",
		}),
		findings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pdfexport_verify_findings_total",
			Help: "Unsafe declarations reported by /verify",
		}),
	}
	reg.MustRegister(m.exports, m.duration, m.converted, m.findings)
	return m
}
