package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RemoteCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "remote_calls_total", Help: "Remote calls completed, by label and outcome"},
		[]string{"call", "outcome"},
	)
	RemoteRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "remote_retries_total", Help: "Transient-failure retries performed"},
		[]string{"call"},
	)
	CallsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "remote_calls_in_flight", Help: "Outbound calls currently holding a concurrency slot"},
	)
	CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "commands_total", Help: "Console commands executed, by opcode and status"},
		[]string{"opcode", "status"},
	)
)

func init() {
	prometheus.MustRegister(RemoteCallsTotal, RemoteRetriesTotal, CallsInFlight, CommandsTotal)
}

// Serve exposes /metrics on addr in a background goroutine.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
