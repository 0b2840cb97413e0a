package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/ircprobe/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus counters
var (
	LinesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ircprobe_lines_sent_total",
		Help: "Total protocol lines written by harness sessions.",
	})
	LinesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ircprobe_lines_received_total",
		Help: "Total protocol lines read by harness sessions.",
	})
	FloodMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ircprobe_flood_messages_total",
		Help: "Total messages issued by the flood generator.",
	})
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ircprobe_active_sessions",
		Help: "Sessions currently connected.",
	})
	ReplyWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ircprobe_reply_wait_seconds",
		Help:    "Time spent in bounded waits for an expected reply.",
		Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2, 5},
	})
	ScenarioResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ircprobe_scenario_results_total",
		Help: "Scenario outcomes by result (pass, fail, fixture).",
	}, []string{"result"})
	HubDroppedLines = promauto.NewCounter(prometheus.CounterOpts{
		Name: "refserver_hub_dropped_lines_total",
		Help: "Lines dropped by the reference server hub due to slow clients.",
	})
	HubKickedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "refserver_hub_kicked_clients_total",
		Help: "Reference server clients disconnected by the kick backpressure policy.",
	})
	HubActiveClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "refserver_hub_active_clients",
		Help: "Current number of clients connected to the reference server.",
	})
	HubRejectedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "refserver_hub_rejected_clients_total",
		Help: "Reference server connections rejected by the client limit.",
	})
	HubQueueDepthMax = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "refserver_hub_queue_depth_max",
		Help: "Largest per-client outbound queue depth at the last fan-out.",
	})
	HubQueueDepthAvg = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "refserver_hub_queue_depth_avg",
		Help: "Average per-client outbound queue depth at the last fan-out.",
	})
	RefLinesIn = promauto.NewCounter(prometheus.CounterOpts{
		Name: "refserver_lines_in_total",
		Help: "Command lines read by the reference server.",
	})
	RefLinesOut = promauto.NewCounter(prometheus.CounterOpts{
		Name: "refserver_lines_out_total",
		Help: "Reply lines written by the reference server.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	MalformedLines = promauto.NewCounter(prometheus.CounterOpts{
		Name: "malformed_lines_total",
		Help: "Lines that decoded without a command.",
	})
	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrConnect   = "connect"
	ErrSend      = "send"
	ErrRecv      = "recv"
	ErrTimeout   = "timeout"
	ErrClosed    = "closed"
	ErrFixture   = "fixture"
	ErrFlood     = "flood"
	ErrRefRead   = "refserver_read"
	ErrRefWrite  = "refserver_write"
	ErrRefAccept = "refserver_accept"
	ErrDiscovery = "discovery"
)

// Scenario result labels.
const (
	ResultPass    = "pass"
	ResultFail    = "fail"
	ResultFixture = "fixture"
)

// StartHTTP serves Prometheus metrics at /metrics and readiness at /ready.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for easy logging (avoid Prometheus scraping in-process)
var (
	localSent      uint64
	localRecv      uint64
	localFlood     uint64
	localSessions  int64
	localPass      uint64
	localFail      uint64
	localFixture   uint64
	localHubDrop   uint64
	localHubKick   uint64
	localHubClient uint64
	localErrors    uint64
	localMalformed uint64
	localRefIn     uint64
	localRefOut    uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	Sent       uint64
	Received   uint64
	Flood      uint64
	Sessions   int64
	Pass       uint64
	Fail       uint64
	Fixture    uint64
	HubDrops   uint64
	HubKicks   uint64
	HubClients uint64
	Errors     uint64 // sum across error labels
	Malformed  uint64
	RefIn      uint64
	RefOut     uint64
}

func Snap() Snapshot {
	return Snapshot{
		Sent:       atomic.LoadUint64(&localSent),
		Received:   atomic.LoadUint64(&localRecv),
		Flood:      atomic.LoadUint64(&localFlood),
		Sessions:   atomic.LoadInt64(&localSessions),
		Pass:       atomic.LoadUint64(&localPass),
		Fail:       atomic.LoadUint64(&localFail),
		Fixture:    atomic.LoadUint64(&localFixture),
		HubDrops:   atomic.LoadUint64(&localHubDrop),
		HubKicks:   atomic.LoadUint64(&localHubKick),
		HubClients: atomic.LoadUint64(&localHubClient),
		Errors:     atomic.LoadUint64(&localErrors),
		Malformed:  atomic.LoadUint64(&localMalformed),
		RefIn:      atomic.LoadUint64(&localRefIn),
		RefOut:     atomic.LoadUint64(&localRefOut),
	}
}

// Wrapper helpers to keep call sites simple.
func IncSent() {
	LinesSent.Inc()
	atomic.AddUint64(&localSent, 1)
}

func IncReceived() {
	LinesReceived.Inc()
	atomic.AddUint64(&localRecv, 1)
}

func IncFlood() {
	FloodMessages.Inc()
	atomic.AddUint64(&localFlood, 1)
}

// SessionOpened and SessionClosed track the active session gauge.
func SessionOpened() {
	ActiveSessions.Set(float64(atomic.AddInt64(&localSessions, 1)))
}

func SessionClosed() {
	ActiveSessions.Set(float64(atomic.AddInt64(&localSessions, -1)))
}

// ObserveWait records the duration of one bounded wait in seconds.
func ObserveWait(seconds float64) { ReplyWait.Observe(seconds) }

// IncScenario records a scenario outcome.
func IncScenario(result string) {
	ScenarioResults.WithLabelValues(result).Inc()
	switch result {
	case ResultPass:
		atomic.AddUint64(&localPass, 1)
	case ResultFail:
		atomic.AddUint64(&localFail, 1)
	case ResultFixture:
		atomic.AddUint64(&localFixture, 1)
	}
}

func IncHubDrop() {
	HubDroppedLines.Inc()
	atomic.AddUint64(&localHubDrop, 1)
}

func IncHubKick() {
	HubKickedClients.Inc()
	atomic.AddUint64(&localHubKick, 1)
}

func SetHubClients(n int) {
	HubActiveClients.Set(float64(n))
	atomic.StoreUint64(&localHubClient, uint64(n))
}

func IncHubReject() { HubRejectedClients.Inc() }

// SetQueueDepth records the max and average outbound queue depth.
func SetQueueDepth(max, avg int) {
	HubQueueDepthMax.Set(float64(max))
	HubQueueDepthAvg.Set(float64(avg))
}

func IncRefIn() {
	RefLinesIn.Inc()
	atomic.AddUint64(&localRefIn, 1)
}

func AddRefOut(n int) {
	if n <= 0 {
		return
	}
	RefLinesOut.Add(float64(n))
	atomic.AddUint64(&localRefOut, uint64(n))
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

func IncMalformed() {
	MalformedLines.Inc()
	atomic.AddUint64(&localMalformed, 1)
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	for _, lbl := range []string{
		ErrConnect, ErrSend, ErrRecv, ErrTimeout, ErrClosed,
		ErrFixture, ErrFlood, ErrRefRead, ErrRefWrite, ErrRefAccept, ErrDiscovery,
	} {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil { // if not set yet, treat as ready so metrics endpoint doesn't flap
		return true
	}
	return fn()
}
