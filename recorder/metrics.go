package recorder

import (
	"github.com/alwitt/voxmux/common"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics recording engine metrics. A nil *Metrics records nothing.
type Metrics struct {
	activeRecordings prometheus.Gauge
	bytesWritten     prometheus.Counter
	framesReceived   prometheus.Counter
	stops            *prometheus.CounterVec
	admissionErrors  *prometheus.CounterVec
	occupancyUsers   prometheus.Gauge
	occupancyChans   prometheus.Gauge
}

/*
NewMetrics define and register the recording engine metrics

	@param registry prometheus.Registerer - metrics registry
	@returns new Metrics
*/
func NewMetrics(registry prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		activeRecordings: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "voxmux",
			Name:      "active_recordings",
			Help:      "Recordings currently tracked, placeholders included",
		}),
		bytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "voxmux",
			Name:      "recorded_bytes_total",
			Help:      "Container bytes written across all recordings",
		}),
		framesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "voxmux",
			Name:      "received_frames_total",
			Help:      "Audio frames received across all recordings",
		}),
		stops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voxmux",
			Name:      "recording_stops_total",
			Help:      "Recordings stopped, by reason",
		}, []string{"reason"}),
		admissionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voxmux",
			Name:      "admission_failures_total",
			Help:      "Recording requests refused, by cause",
		}, []string{"cause"}),
		occupancyUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "voxmux",
			Name:      "occupancy_users",
			Help:      "Users in recorded channels",
		}),
		occupancyChans: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "voxmux",
			Name:      "occupancy_channels",
			Help:      "Recorded channels",
		}),
	}
	for _, collector := range []prometheus.Collector{
		m.activeRecordings,
		m.bytesWritten,
		m.framesReceived,
		m.stops,
		m.admissionErrors,
		m.occupancyUsers,
		m.occupancyChans,
	} {
		if err := registry.Register(collector); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) recordingAdded() {
	if m != nil {
		m.activeRecordings.Inc()
	}
}

func (m *Metrics) recordingRemoved(reason common.StopReason) {
	if m != nil {
		m.activeRecordings.Dec()
		m.stops.WithLabelValues(string(reason)).Inc()
	}
}

func (m *Metrics) frameWritten(bytes uint64) {
	if m != nil {
		m.framesReceived.Inc()
		m.bytesWritten.Add(float64(bytes))
	}
}

func (m *Metrics) admissionFailed(cause string) {
	if m != nil {
		m.admissionErrors.WithLabelValues(cause).Inc()
	}
}

func (m *Metrics) occupancy(occupancy common.Occupancy) {
	if m != nil {
		m.occupancyUsers.Set(float64(occupancy.Users))
		m.occupancyChans.Set(float64(occupancy.Channels))
	}
}
