package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name.
const Namespace = "linechat"

type Metrics struct {
	registry *prometheus.Registry

	sessionsActive  *prometheus.GaugeVec
	sessionsTotal   *prometheus.CounterVec
	sessionDur      prometheus.Histogram
	roomMsgCnt      *prometheus.CounterVec
	privateMsgCnt   *prometheus.CounterVec
	deliveryFailCnt *prometheus.CounterVec
	gamesActive     prometheus.Gauge
	httpReqCnt      *prometheus.CounterVec
	httpDur         *prometheus.HistogramVec
}

// New creates a registry with process and Go collectors plus the chat metrics.
func New() *Metrics {
	ns := Namespace
	r := prometheus.NewRegistry()
	r.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	r.MustRegister(collectors.NewGoCollector())

	sessionsActive := prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: ns, Name: "sessions_active"}, []string{"transport"})
	sessionsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "sessions_total"}, []string{"transport"})
	sessionDur := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: ns,
		Name:      "session_duration_seconds",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
	})
	r.MustRegister(sessionsActive, sessionsTotal, sessionDur)

	roomMsgCnt := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "room_messages_total"}, []string{"room"})
	privateMsgCnt := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "private_messages_total"}, []string{"status"})
	deliveryFailCnt := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "delivery_failures_total"}, []string{"scope"})
	gamesActive := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: ns, Name: "games_active"})
	r.MustRegister(roomMsgCnt, privateMsgCnt, deliveryFailCnt, gamesActive)

	httpReqCnt := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "http_requests_total"}, []string{"method", "route", "status"})
	httpDur := prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: "http_request_duration_seconds"}, []string{"method", "route", "status"})
	r.MustRegister(httpReqCnt, httpDur)

	return &Metrics{
		registry:        r,
		sessionsActive:  sessionsActive,
		sessionsTotal:   sessionsTotal,
		sessionDur:      sessionDur,
		roomMsgCnt:      roomMsgCnt,
		privateMsgCnt:   privateMsgCnt,
		deliveryFailCnt: deliveryFailCnt,
		gamesActive:     gamesActive,
		httpReqCnt:      httpReqCnt,
		httpDur:         httpDur,
	}
}

// RegisterGauge exposes a value sampled at scrape time, e.g. names online.
func (m *Metrics) RegisterGauge(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

func (m *Metrics) SessionStart(transport string) {
	m.sessionsTotal.WithLabelValues(transport).Inc()
	m.sessionsActive.WithLabelValues(transport).Inc()
}

func (m *Metrics) SessionDone(transport string, since time.Time) {
	m.sessionsActive.WithLabelValues(transport).Dec()
	m.sessionDur.Observe(time.Since(since).Seconds())
}

func (m *Metrics) RoomMessage(room string, dropped int) {
	m.roomMsgCnt.WithLabelValues(room).Inc()
	if dropped > 0 {
		m.deliveryFailCnt.WithLabelValues("room").Add(float64(dropped))
	}
}

func (m *Metrics) PrivateMessage(delivered bool) {
	status := "delivered"
	if !delivered {
		status = "failed"
		m.deliveryFailCnt.WithLabelValues("private").Inc()
	}
	m.privateMsgCnt.WithLabelValues(status).Inc()
}

func (m *Metrics) GameStart() {
	m.gamesActive.Inc()
}

func (m *Metrics) GameDone() {
	m.gamesActive.Dec()
}

func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		m.httpReqCnt.WithLabelValues(c.Request.Method, route, status).Inc()
		m.httpDur.WithLabelValues(c.Request.Method, route, status).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
