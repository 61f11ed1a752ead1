package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const metricPrefix = "brewfleet_"

var (
	registerOnce sync.Once

	busMessagesIn *prometheus.CounterVec
	ordersPlaced  prometheus.Counter

	actuationsStarted  prometheus.Counter
	actuationFailures  prometheus.Counter
	actuationCompleted prometheus.Counter

	stationsActive  prometheus.Gauge
	peersOnline     prometheus.Gauge
	malformedDrops  prometheus.Counter
	missingConfigs  prometheus.Counter
)

// Init registers controller metrics on the default registry. Safe to call
// more than once.
func Init() {
	registerOnce.Do(func() {
		busMessagesIn = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "bus_messages_in_total",
				Help: "Inbound bus messages by kind",
			},
			[]string{"kind"},
		)
		ordersPlaced = prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "orders_placed_total",
			Help: "Orders placed through this controller",
		})
		actuationsStarted = prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "actuations_started_total",
			Help: "Actuation sequences started",
		})
		actuationFailures = prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "actuation_failures_total",
			Help: "Hardware trigger calls that reported failure",
		})
		actuationCompleted = prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "actuations_completed_total",
			Help: "Actuation sequences that reached COMPLETED",
		})
		stationsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "stations_active",
			Help: "Stations whose last retained state is not DISCONNECTED",
		})
		peersOnline = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "controllers_online",
			Help: "Controller sessions currently ONLINE",
		})
		malformedDrops = prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "malformed_messages_total",
			Help: "Inbound messages dropped as malformed",
		})
		missingConfigs = prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "missing_config_aborts_total",
			Help: "Start events abandoned for lack of actuation config",
		})

		prometheus.MustRegister(
			busMessagesIn,
			ordersPlaced,
			actuationsStarted,
			actuationFailures,
			actuationCompleted,
			stationsActive,
			peersOnline,
			malformedDrops,
			missingConfigs,
		)
	})
}

func MessageIn(kind string) {
	if busMessagesIn != nil {
		busMessagesIn.WithLabelValues(kind).Inc()
	}
}

func OrderPlaced() {
	if ordersPlaced != nil {
		ordersPlaced.Inc()
	}
}

func ActuationStarted() {
	if actuationsStarted != nil {
		actuationsStarted.Inc()
	}
}

func ActuationFailed() {
	if actuationFailures != nil {
		actuationFailures.Inc()
	}
}

func ActuationCompleted() {
	if actuationCompleted != nil {
		actuationCompleted.Inc()
	}
}

func SetStationsActive(n int) {
	if stationsActive != nil {
		stationsActive.Set(float64(n))
	}
}

func SetPeersOnline(n int) {
	if peersOnline != nil {
		peersOnline.Set(float64(n))
	}
}

func MalformedDropped() {
	if malformedDrops != nil {
		malformedDrops.Inc()
	}
}

func MissingConfigAbort() {
	if missingConfigs != nil {
		missingConfigs.Inc()
	}
}
