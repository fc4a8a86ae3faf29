package modem

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors updated by a [*Modem].
type Metrics struct {
	// Counter metrics
	commands      *prometheus.CounterVec
	retries       prometheus.Counter
	bytesReceived prometheus.Counter
	ringDrops     prometheus.Counter
	erasures      prometheus.Counter
	exchanges     *prometheus.CounterVec

	// Gauge metrics
	state prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered, which is what [New] does when the caller did
// not supply a [Metrics].
func NewMetrics(reg prometheus.Registerer, device string) (*Metrics, error) {
	labels := prometheus.Labels{"device": device}
	m := &Metrics{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "modem",
			Subsystem:   "at",
			Name:        "commands_total",
			ConstLabels: labels,
			Help:        "Total number of AT command exchanges by result",
		}, []string{"result"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "modem",
			Subsystem:   "at",
			Name:        "retries_total",
			ConstLabels: labels,
			Help:        "Total number of AT command attempts after the first",
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "modem",
			Subsystem:   "rx",
			Name:        "bytes_total",
			ConstLabels: labels,
			Help:        "Total number of bytes delivered by the serial channel",
		}),
		ringDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "modem",
			Subsystem:   "rx",
			Name:        "dropped_bytes_total",
			ConstLabels: labels,
			Help:        "Total number of bytes overwritten because the ring buffer was full",
		}),
		erasures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "modem",
			Subsystem:   "stream",
			Name:        "terminator_erasures_total",
			ConstLabels: labels,
			Help:        "Total number of terminator erasures performed on a backing store",
		}),
		exchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "modem",
			Subsystem:   "http",
			Name:        "exchanges_total",
			ConstLabels: labels,
			Help:        "Total number of HTTP exchanges by result code",
		}, []string{"code"}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "modem",
			Subsystem:   "session",
			Name:        "state",
			ConstLabels: labels,
			Help:        "Current session state as its numeric value",
		}),
	}

	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{
		m.commands, m.retries, m.bytesReceived, m.ringDrops, m.erasures, m.exchanges, m.state,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) commandDone(matched bool) {
	if matched {
		m.commands.WithLabelValues("match").Inc()
		return
	}
	m.commands.WithLabelValues("nomatch").Inc()
}
