package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "copilot"

var (
	gatewayCalls    *prometheus.CounterVec
	gatewayDuration *prometheus.HistogramVec
	cacheLookups    *prometheus.CounterVec
	relayState      prometheus.Gauge
	relayReconnects prometheus.Counter
	relayUpdates    prometheus.Counter
	subscribers     prometheus.Gauge
	droppedSubs     prometheus.Counter
	rpcSessions     prometheus.Gauge
	toolCalls       *prometheus.CounterVec

	registry = prometheus.NewRegistry()
	once     sync.Once
)

func init() {
	gatewayCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "gateway_calls_total",
		Help:      "Gateway client operations by outcome",
	}, []string{"operation", "outcome"})
	gatewayDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "gateway_call_seconds",
		Help:      "Gateway client operation latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})
	cacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "gateway_cache_lookups_total",
		Help:      "Response cache lookups by result",
	}, []string{"result"})
	relayState = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "relay_state",
		Help:      "Market data relay state (0 disconnected, 1 connecting, 2 awaiting handshake, 3 streaming)",
	})
	relayReconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "relay_connect_attempts_total",
		Help:      "Upstream streaming connection attempts",
	})
	relayUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "relay_updates_total",
		Help:      "Normalized market data updates broadcast",
	})
	subscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "broadcast_subscribers",
		Help:      "Connected market data subscribers",
	})
	droppedSubs = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "broadcast_dropped_subscribers_total",
		Help:      "Subscribers removed because their queue was full",
	})
	rpcSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "rpc_sessions",
		Help:      "Open RPC transport sessions",
	})
	toolCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tool_calls_total",
		Help:      "Tool invocations by tool and outcome",
	}, []string{"tool", "outcome"})
}

func register() {
	once.Do(func() {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			gatewayCalls, gatewayDuration, cacheLookups,
			relayState, relayReconnects, relayUpdates,
			subscribers, droppedSubs,
			rpcSessions, toolCalls,
		)
	})
}

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	register()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func ObserveGatewayCall(operation string, start time.Time, err error) {
	gatewayCalls.WithLabelValues(operation, outcome(err)).Inc()
	gatewayDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func CacheLookup(hit bool) {
	if hit {
		cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	cacheLookups.WithLabelValues("miss").Inc()
}

func SetRelayState(state int) {
	relayState.Set(float64(state))
}

func RelayConnectAttempt() {
	relayReconnects.Inc()
}

func RelayUpdate() {
	relayUpdates.Inc()
}

func SetSubscribers(n int) {
	subscribers.Set(float64(n))
}

func SubscriberDropped() {
	droppedSubs.Inc()
}

func SetRPCSessions(n int) {
	rpcSessions.Set(float64(n))
}

func ToolCall(tool string, err error) {
	toolCalls.WithLabelValues(tool, outcome(err)).Inc()
}
