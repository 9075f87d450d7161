package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Datapath metrics
	beatsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fcbus_beats_total",
		Help: "Total valid beats driven onto the bus",
	}, []string{"width"})

	framesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fcbus_frames_total",
		Help: "Total frames completed (eof beats driven)",
	}, []string{"width"})

	frameBytes = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fcbus_frame_bytes",
		Help:    "Length of frames fetched from the source",
		Buckets: prometheus.ExponentialBuckets(16, 2, 10), // 16B to 8KiB
	}, []string{"width"})

	idleCyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fcbus_idle_cycles_total",
		Help: "Active cycles without a valid beat after streaming started",
	}, []string{"width"})

	cyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fcbus_cycles_total",
		Help: "Clock edges seen by the streamer, by gate state",
	}, []string{"width", "gate"})

	fetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fcbus_fetch_duration_seconds",
		Help:    "Latency of synchronous frame fetches",
		Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10), // 10µs to ~2.6s
	}, []string{"width"})

	sourceErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fcbus_source_errors_total",
		Help: "Fatal frame source failures",
	}, []string{"source"})

	streamerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fcbus_streamer_state",
		Help: "Current streamer FSM state (0=init 1=requesting 2=streaming 3=draining)",
	}, []string{"width"})

	requestLine = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fcbus_request_asserted",
		Help: "Whether the next-frame request line is asserted",
	}, []string{"width"})

	// Checker metrics
	checkedFramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fcbus_checked_frames_total",
		Help: "Frames compared by the checker, by result",
	}, []string{"width", "result"})
)

// RecordBeat counts one driven beat and, when eof is set, one completed frame
func RecordBeat(width string, eof bool) {
	beatsTotal.WithLabelValues(width).Inc()
	if eof {
		framesTotal.WithLabelValues(width).Inc()
	}
}

// RecordCycle counts a clock edge
func RecordCycle(width string, gate bool) {
	label := "open"
	if !gate {
		label = "closed"
	}
	cyclesTotal.WithLabelValues(width, label).Inc()
}

// IncrementIdleCycles counts a bubble on the bus
func IncrementIdleCycles(width string) {
	idleCyclesTotal.WithLabelValues(width).Inc()
}

// ObserveFetch records one frame fetch
func ObserveFetch(width string, seconds float64, length int) {
	fetchDuration.WithLabelValues(width).Observe(seconds)
	frameBytes.WithLabelValues(width).Observe(float64(length))
}

// IncrementSourceError counts a fatal source failure
func IncrementSourceError(source string) {
	sourceErrorsTotal.WithLabelValues(source).Inc()
}

// SetStreamerState exports the FSM state and request line
func SetStreamerState(width string, state int, req bool) {
	streamerState.WithLabelValues(width).Set(float64(state))
	v := 0.0
	if req {
		v = 1
	}
	requestLine.WithLabelValues(width).Set(v)
}

// RecordCheck counts one checked frame
func RecordCheck(width string, pass bool) {
	result := "pass"
	if !pass {
		result = "fail"
	}
	checkedFramesTotal.WithLabelValues(width, result).Inc()
}
