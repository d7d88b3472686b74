package api

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

const commandsMetricsMsg = "commands.request.metrics"

var commandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "boardsync_api_commands_total",
	Help: "Commands received by outcome (accepted, duplicate, rejected, failed)",
}, []string{"outcome"})

type commandRequestMetrics struct {
	logger          *log.Logger
	start           time.Time
	decodeDuration  time.Duration
	dedupeDuration  time.Duration
	enqueueDuration time.Duration
	received        int
	accepted        int
	duplicates      int
	errorStage      string
}

func newCommandRequestMetrics(logger *log.Logger) *commandRequestMetrics {
	return &commandRequestMetrics{logger: logger, start: time.Now()}
}

func (m *commandRequestMetrics) ObserveDecode(d time.Duration)  { m.decodeDuration = d }
func (m *commandRequestMetrics) ObserveDedupe(d time.Duration)  { m.dedupeDuration = d }
func (m *commandRequestMetrics) ObserveEnqueue(d time.Duration) { m.enqueueDuration = d }

func (m *commandRequestMetrics) SetCounts(received, accepted, duplicates int) {
	m.received = received
	m.accepted = accepted
	m.duplicates = duplicates
}

func (m *commandRequestMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

// Log emits one summary line per request and updates the intake counters.
func (m *commandRequestMetrics) Log(status int, err error) {
	if m == nil || m.logger == nil {
		return
	}
	switch {
	case m.errorStage == "decode" || m.errorStage == "validate" || m.errorStage == "authorize":
		commandsTotal.WithLabelValues("rejected").Add(float64(max(m.received, 1)))
	case m.errorStage != "":
		commandsTotal.WithLabelValues("failed").Add(float64(m.received))
	default:
		commandsTotal.WithLabelValues("accepted").Add(float64(m.accepted))
		commandsTotal.WithLabelValues("duplicate").Add(float64(m.duplicates))
	}

	fields := log.Fields{
		"route":      "/api/commands",
		"status":     status,
		"total_ms":   durationToMillis(time.Since(m.start)),
		"received":   m.received,
		"accepted":   m.accepted,
		"duplicates": m.duplicates,
	}
	if m.decodeDuration > 0 {
		fields["decode_ms"] = durationToMillis(m.decodeDuration)
	}
	if m.dedupeDuration > 0 {
		fields["dedupe_ms"] = durationToMillis(m.dedupeDuration)
	}
	if m.enqueueDuration > 0 {
		fields["enqueue_ms"] = durationToMillis(m.enqueueDuration)
	}
	if m.errorStage != "" {
		fields["error_stage"] = m.errorStage
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	m.logger.WithFields(fields).Info(commandsMetricsMsg)
}
