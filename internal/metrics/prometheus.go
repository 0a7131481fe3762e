package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "basis_vault"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type promGauge struct {
	gauge prometheus.Gauge
}

func (p promGauge) Set(value float64) {
	p.gauge.Set(value)
}

type Prometheus struct {
	Metrics *Metrics

	registry           *prometheus.Registry
	utilizations       prometheus.Counter
	deutilizations     prometheus.Counter
	swapFailures       prometheus.Counter
	keeperActions      prometheus.Counter
	responseDeviations prometheus.Counter
	withdrawsQueued    prometheus.Counter
	withdrawsClaimed   prometheus.Counter
	currentLeverage    prometheus.Gauge
	totalAssets        prometheus.Gauge
	withdrawGap        prometheus.Gauge
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	utilizations := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "utilizations_total",
		Help:      "Total number of utilize operations started.",
	})
	deutilizations := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "deutilizations_total",
		Help:      "Total number of deutilize operations started.",
	})
	swapFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "swap_failures_total",
		Help:      "Total number of swap attempts reported failed by the adapter.",
	})
	keeperActions := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "keeper_actions_total",
		Help:      "Total number of keeper upkeep actions performed.",
	})
	responseDeviations := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "response_deviations_total",
		Help:      "Total number of position responses deviating beyond threshold.",
	})
	withdrawsQueued := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "withdraws_queued_total",
		Help:      "Total number of withdraw requests that could not be paid from idle.",
	})
	withdrawsClaimed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "withdraws_claimed_total",
		Help:      "Total number of withdraw requests claimed.",
	})
	currentLeverage := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: promNamespace,
		Name:      "current_leverage",
		Help:      "Position leverage (1.0 == unlevered).",
	})
	totalAssets := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: promNamespace,
		Name:      "total_assets",
		Help:      "Total managed assets in raw token units.",
	})
	withdrawGap := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: promNamespace,
		Name:      "withdraw_gap",
		Help:      "Requested minus processed withdraw assets in raw token units.",
	})
	registry.MustRegister(utilizations, deutilizations, swapFailures, keeperActions, responseDeviations, withdrawsQueued, withdrawsClaimed, currentLeverage, totalAssets, withdrawGap)
	return &Prometheus{
		Metrics: &Metrics{
			Utilizations:       promCounter{utilizations},
			Deutilizations:     promCounter{deutilizations},
			SwapFailures:       promCounter{swapFailures},
			KeeperActions:      promCounter{keeperActions},
			ResponseDeviations: promCounter{responseDeviations},
			WithdrawsQueued:    promCounter{withdrawsQueued},
			WithdrawsClaimed:   promCounter{withdrawsClaimed},
			CurrentLeverage:    promGauge{currentLeverage},
			TotalAssets:        promGauge{totalAssets},
			WithdrawGap:        promGauge{withdrawGap},
		},
		registry:           registry,
		utilizations:       utilizations,
		deutilizations:     deutilizations,
		swapFailures:       swapFailures,
		keeperActions:      keeperActions,
		responseDeviations: responseDeviations,
		withdrawsQueued:    withdrawsQueued,
		withdrawsClaimed:   withdrawsClaimed,
		currentLeverage:    currentLeverage,
		totalAssets:        totalAssets,
		withdrawGap:        withdrawGap,
	}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
