package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/go-flexcan/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus collectors
var (
	TxFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flexcan_tx_frames_total",
		Help: "Frames whose transmission completed, by instance.",
	}, []string{"instance"})
	RxFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flexcan_rx_frames_total",
		Help: "Frames queued by the receive interrupt, by instance.",
	}, []string{"instance"})
	RxDiscarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flexcan_rx_discarded_frames_total",
		Help: "Frames dropped because the reception queue was full, by instance.",
	}, []string{"instance"})
	RxIgnored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flexcan_rx_ignored_interrupts_total",
		Help: "Receive interrupts whose flags matched no receive slot.",
	})
	FilterReconfigs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flexcan_filter_reconfigurations_total",
		Help: "Completed acceptance filter reprogramming passes.",
	})
	GroupStarted = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flexcan_group_started",
		Help: "1 while an interface group is started.",
	})
	BusDroppedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bus_dropped_frames_total",
		Help: "Frames dropped by the bus because an attached port was slow.",
	})
	BusPorts = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bus_ports",
		Help: "Ports currently attached to the bus.",
	})
	BusFanout = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bus_broadcast_fanout",
		Help: "Ports targeted by the most recent broadcast.",
	})
	BusQueueDepthMax = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bus_queue_depth_max",
		Help: "Max queued frames among bus ports in the last sample.",
	})
	BusQueueDepthAvg = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bus_queue_depth_avg",
		Help: "Approximate average queued frames per bus port in the last sample.",
	})
	LinkRxFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "link_rx_frames_total",
		Help: "Frames received from an external link.",
	}, []string{"link"})
	LinkTxFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "link_tx_frames_total",
		Help: "Frames written to an external link.",
	}, []string{"link"})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	MalformedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "malformed_frames_total",
		Help: "Rejected malformed frames from external links.",
	})
	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Link label values.
const (
	LinkSocketCAN = "socketcan"
	LinkSerial    = "serial"
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrBadArgument    = "bad_argument"
	ErrNotStarted     = "not_started"
	ErrTxBufferFull   = "tx_buffer_full"
	ErrTxTimeout      = "tx_timeout"
	ErrHandshake      = "handshake"
	ErrTimerInit      = "timer_init"
	ErrSerialWrite    = "serial_write"
	ErrSerialOverflow = "serial_tx_overflow"
	ErrSerialRead     = "serial_read"
	ErrSocketCANWrite = "socketcan_write"
	ErrSocketCANOver  = "socketcan_tx_overflow"
	ErrSocketCANRead  = "socketcan_read"
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

// Per-instance series are bound once so the interrupt path does not format
// label values.
const boundInstances = 8

type instanceSeries struct {
	tx, rx, discarded prometheus.Counter
}

var series [boundInstances]instanceSeries

func init() {
	for i := range series {
		lbl := strconv.Itoa(i)
		series[i] = instanceSeries{
			tx:        TxFrames.WithLabelValues(lbl),
			rx:        RxFrames.WithLabelValues(lbl),
			discarded: RxDiscarded.WithLabelValues(lbl),
		}
	}
}

func seriesFor(instance int) instanceSeries {
	if instance >= 0 && instance < boundInstances {
		return series[instance]
	}
	lbl := strconv.Itoa(instance)
	return instanceSeries{
		tx:        TxFrames.WithLabelValues(lbl),
		rx:        RxFrames.WithLabelValues(lbl),
		discarded: RxDiscarded.WithLabelValues(lbl),
	}
}

// Local mirrored counters for easy logging (avoid Prometheus scraping in-process)
var (
	localTx        uint64
	localRx        uint64
	localDiscarded uint64
	localIgnored   uint64
	localReconfigs uint64
	localBusDrop   uint64
	localBusPorts  uint64
	localFanout    uint64
	localLinkRx    uint64
	localLinkTx    uint64
	localErrors    uint64
	localMalformed uint64
	localQDMax     uint64
	localQDAvg     uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	Tx            uint64
	Rx            uint64
	Discarded     uint64
	Ignored       uint64
	Reconfigs     uint64
	BusDrops      uint64
	BusPorts      uint64
	Fanout        uint64
	LinkRx        uint64
	LinkTx        uint64
	Errors        uint64 // sum across error labels
	Malformed     uint64
	QueueDepthMax uint64
	QueueDepthAvg uint64
}

func Snap() Snapshot {
	return Snapshot{
		Tx:            atomic.LoadUint64(&localTx),
		Rx:            atomic.LoadUint64(&localRx),
		Discarded:     atomic.LoadUint64(&localDiscarded),
		Ignored:       atomic.LoadUint64(&localIgnored),
		Reconfigs:     atomic.LoadUint64(&localReconfigs),
		BusDrops:      atomic.LoadUint64(&localBusDrop),
		BusPorts:      atomic.LoadUint64(&localBusPorts),
		Fanout:        atomic.LoadUint64(&localFanout),
		LinkRx:        atomic.LoadUint64(&localLinkRx),
		LinkTx:        atomic.LoadUint64(&localLinkTx),
		Errors:        atomic.LoadUint64(&localErrors),
		Malformed:     atomic.LoadUint64(&localMalformed),
		QueueDepthMax: atomic.LoadUint64(&localQDMax),
		QueueDepthAvg: atomic.LoadUint64(&localQDAvg),
	}
}

// IncTx counts a completed transmission on instance.
func IncTx(instance int) {
	seriesFor(instance).tx.Inc()
	atomic.AddUint64(&localTx, 1)
}

// IncRx counts a frame queued by the receive interrupt of instance.
func IncRx(instance int) {
	seriesFor(instance).rx.Inc()
	atomic.AddUint64(&localRx, 1)
}

// IncRxDiscard counts a frame dropped on a full reception queue.
func IncRxDiscard(instance int) {
	seriesFor(instance).discarded.Inc()
	atomic.AddUint64(&localDiscarded, 1)
}

func IncRxIgnored() {
	RxIgnored.Inc()
	atomic.AddUint64(&localIgnored, 1)
}

func IncFilterReconfig() {
	FilterReconfigs.Inc()
	atomic.AddUint64(&localReconfigs, 1)
}

func SetGroupStarted(on bool) {
	if on {
		GroupStarted.Set(1)
		return
	}
	GroupStarted.Set(0)
}

func IncBusDrop() {
	BusDroppedFrames.Inc()
	atomic.AddUint64(&localBusDrop, 1)
}

func SetBusPorts(n int) {
	BusPorts.Set(float64(n))
	atomic.StoreUint64(&localBusPorts, uint64(n))
}

func SetBroadcastFanout(n int) {
	BusFanout.Set(float64(n))
	atomic.StoreUint64(&localFanout, uint64(n))
}

// IncLinkRx counts a frame received from an external link.
func IncLinkRx(link string) {
	LinkRxFrames.WithLabelValues(link).Inc()
	atomic.AddUint64(&localLinkRx, 1)
}

// IncLinkTx counts a frame written to an external link.
func IncLinkTx(link string) {
	LinkTxFrames.WithLabelValues(link).Inc()
	atomic.AddUint64(&localLinkTx, 1)
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

func IncMalformed() {
	MalformedFrames.Inc()
	atomic.AddUint64(&localMalformed, 1)
}

// SetQueueDepth records a snapshot of max and avg bus port queue depth.
func SetQueueDepth(max, avg int) {
	BusQueueDepthMax.Set(float64(max))
	BusQueueDepthAvg.Set(float64(avg))
	atomic.StoreUint64(&localQDMax, uint64(max))
	atomic.StoreUint64(&localQDAvg, uint64(avg))
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	// Pre-register error series so the first error does not pay the registration.
	for _, lbl := range []string{
		ErrBadArgument, ErrNotStarted, ErrTxBufferFull, ErrTxTimeout,
		ErrHandshake, ErrTimerInit,
		ErrSerialWrite, ErrSerialOverflow, ErrSerialRead,
		ErrSocketCANWrite, ErrSocketCANOver, ErrSocketCANRead,
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
	if fn == nil { // not set yet: report ready so the endpoint doesn't flap
		return true
	}
	return fn()
}
