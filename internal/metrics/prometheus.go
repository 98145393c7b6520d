package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "dlmm_range_bot"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type Prometheus struct {
	Metrics *Metrics

	registry *prometheus.Registry
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	newCounter := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: promNamespace,
			Name:      name,
			Help:      help,
		})
		registry.MustRegister(c)
		return c
	}

	m := &Metrics{
		RangeChecks:        promCounter{newCounter("range_checks_total", "Total number of per-position range checks.")},
		RangeExits:         promCounter{newCounter("range_exits_total", "Total number of detected range exits.")},
		RebalancesStarted:  promCounter{newCounter("rebalances_started_total", "Total number of rebalance attempts started.")},
		RebalancesComplete: promCounter{newCounter("rebalances_complete_total", "Total number of rebalances completed with a new position.")},
		RebalancesFailed:   promCounter{newCounter("rebalances_failed_total", "Total number of failed rebalance attempts.")},
		PositionsClosed:    promCounter{newCounter("positions_closed_total", "Total number of positions closed without replacement.")},
		FeeClaims:          promCounter{newCounter("fee_claims_total", "Total number of fee claim operations submitted.")},
		AlertsSent:         promCounter{newCounter("alerts_sent_total", "Total number of out-of-range alerts delivered.")},
	}

	return &Prometheus{Metrics: m, registry: registry}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
