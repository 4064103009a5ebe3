package metrics

import "github.com/prometheus/client_golang/prometheus"

// WhatsAppMetrics exposes gauges/counters/histograms for the gateway lifecycle
// and bulk dispatch.
type WhatsAppMetrics struct {
	connectionStatus *prometheus.GaugeVec
	webhookEvents    *prometheus.CounterVec
	outboundTotal    *prometheus.CounterVec
	pollTicks        *prometheus.CounterVec
	bulkDuration     prometheus.Histogram
	statuses         []string
}

// NewWhatsAppMetrics registers the collectors on reg (default registerer when nil).
// statuses lists every connection status so the gauge can be zeroed on change.
func NewWhatsAppMetrics(reg prometheus.Registerer, statuses ...string) *WhatsAppMetrics {
	m := &WhatsAppMetrics{
		connectionStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "loyalty",
			Subsystem: "whatsapp",
			Name:      "connection_status",
			Help:      "Current gateway connection status (1 for the active status)",
		}, []string{"status"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loyalty",
			Subsystem: "whatsapp",
			Name:      "webhook_events_total",
			Help:      "Total inbound gateway webhook events",
		}, []string{"event", "action"}),
		outboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loyalty",
			Subsystem: "whatsapp",
			Name:      "outbound_total",
			Help:      "Total outbound WhatsApp sends by result",
		}, []string{"result"}),
		pollTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loyalty",
			Subsystem: "whatsapp",
			Name:      "poll_ticks_total",
			Help:      "Connection poller ticks by result",
		}, []string{"result"}),
		bulkDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "loyalty",
			Subsystem: "whatsapp",
			Name:      "bulk_duration_seconds",
			Help:      "Wall time of bulk dispatch batches",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		statuses: append([]string(nil), statuses...),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.connectionStatus, m.webhookEvents, m.outboundTotal, m.pollTicks, m.bulkDuration)
	return m
}

// ObserveStatus marks status as the active connection status.
func (m *WhatsAppMetrics) ObserveStatus(status string) {
	if m == nil {
		return
	}
	for _, s := range m.statuses {
		m.connectionStatus.WithLabelValues(s).Set(0)
	}
	m.connectionStatus.WithLabelValues(status).Set(1)
}

func (m *WhatsAppMetrics) ObserveWebhook(event, action string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(event, action).Inc()
}

func (m *WhatsAppMetrics) ObserveOutbound(success bool) {
	if m == nil {
		return
	}
	result := "failed"
	if success {
		result = "sent"
	}
	m.outboundTotal.WithLabelValues(result).Inc()
}

func (m *WhatsAppMetrics) ObservePollTick(result string) {
	if m == nil {
		return
	}
	m.pollTicks.WithLabelValues(result).Inc()
}

func (m *WhatsAppMetrics) ObserveBulkDuration(seconds float64) {
	if m == nil {
		return
	}
	m.bulkDuration.Observe(seconds)
}
