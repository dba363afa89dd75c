// Package monitor exposes Prometheus instrumentation for the trading
// pipeline. Collectors are package-level and registered on the default
// registry so every layer can record without plumbing.
package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TicksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scalpbot",
		Name:      "ticks_processed_total",
		Help:      "Price ticks consumed per pair.",
	}, []string{"pair"})

	IntentsDecided = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scalpbot",
		Name:      "intents_decided_total",
		Help:      "Risk gate decisions by outcome.",
	}, []string{"outcome"})

	OrdersSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "scalpbot",
		Name:      "orders_submitted_total",
		Help:      "Orders sent to the venue, including retries.",
	})

	OrdersTerminal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scalpbot",
		Name:      "orders_terminal_total",
		Help:      "Orders reaching a terminal state, by state.",
	}, []string{"state"})

	SubmitRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "scalpbot",
		Name:      "submit_retries_total",
		Help:      "Order submissions retried after transport failures.",
	})

	TradingEnabled = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "scalpbot",
		Name:      "trading_enabled",
		Help:      "1 when new entries are allowed, 0 when halted.",
	})

	DailyPnL = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "scalpbot",
		Name:      "daily_pnl",
		Help:      "Realized profit and loss since the daily rollover.",
	})

	ConsecutiveLosses = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "scalpbot",
		Name:      "consecutive_losses",
		Help:      "Current consecutive losing-trade streak.",
	})

	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "scalpbot",
		Name:      "open_positions",
		Help:      "Number of open positions across all strategies.",
	})
)
