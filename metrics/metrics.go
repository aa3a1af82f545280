// MODUL: metrics
// ZWECK: Prometheus-Zaehler fuer Payload-I/O, Fingerprints und Pipeline-Stufen
// INPUT: Ereignisse aus payload, fingerprint, reconcile und pipeline
// OUTPUT: Registry, optional als Textfile (node_exporter Format)
// NEBENEFFEKTE: WriteFile schreibt atomisch in eine Datei
// ABHAENGIGKEITEN: prometheus/client_golang
// HINWEISE: Alle Methoden sind nil-sicher; ein nil *Metrics zaehlt nichts

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "modelconvert"

// Metrics buendelt alle Zaehler einer Registry
type Metrics struct {
	Registry *prometheus.Registry

	BytesCopied   prometheus.Counter
	PayloadReads  prometheus.Counter
	Surrogates    prometheus.Counter
	Stages        *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec
}

// New erstellt eine eigene Registry, damit Tests sich nicht gegenseitig stoeren
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		BytesCopied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payload_bytes_copied_total",
			Help:      "Bytes written into merged payload files",
		}),
		PayloadReads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payload_reads_total",
			Help:      "Tensor windows read from source payload files",
		}),
		Surrogates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fingerprint_surrogates_total",
			Help:      "Fingerprint values served instead of payload bytes",
		}),
		Stages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_total",
			Help:      "Pipeline stage outcomes",
		}, []string{"stage", "outcome"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of executed pipeline stages",
			Buckets:   []float64{0.01, 0.1, 1, 10, 60, 300, 1800},
		}, []string{"stage"}),
	}
	m.Registry.MustRegister(m.BytesCopied, m.PayloadReads, m.Surrogates, m.Stages, m.StageDuration)
	return m
}

// AddCopied zaehlt kopierte Payload-Bytes
func (m *Metrics) AddCopied(n int64) {
	if m != nil && n > 0 {
		m.BytesCopied.Add(float64(n))
	}
}

// IncReads zaehlt einen gelesenen Tensor-Bereich
func (m *Metrics) IncReads() {
	if m != nil {
		m.PayloadReads.Inc()
	}
}

// IncSurrogates zaehlt einen ausgelieferten Fingerprint
func (m *Metrics) IncSurrogates() {
	if m != nil {
		m.Surrogates.Inc()
	}
}

// ObserveStage zaehlt das Ergebnis einer Stufe; d=0 fuer uebersprungene Stufen
func (m *Metrics) ObserveStage(stage, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Stages.WithLabelValues(stage, outcome).Inc()
	if d > 0 {
		m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
	}
}

// WriteFile schreibt alle Metriken im Textformat
func (m *Metrics) WriteFile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.Registry)
}
