// Package metrics instruments the relay from the outside: decorators around
// domain.Connection and domain.MessageHandler count events, bytes and
// connect/disconnect transitions without touching routing semantics.
package metrics

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jitsi/excalidraw-backend/domain"
)

// Handler exposes the default prometheus registry, for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

type Recorder struct {
	connects    prometheus.Counter
	disconnects prometheus.Counter
	connections prometheus.Gauge
	eventsIn    *prometheus.CounterVec
	eventsOut   *prometheus.CounterVec
	bytesIn     *prometheus.CounterVec
	bytesOut    *prometheus.CounterVec
}

func NewRecorder(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		connects: f.NewCounter(prometheus.CounterOpts{
			Namespace: "excalidraw", Subsystem: "relay",
			Name: "connects_total", Help: "Completed websocket handshakes.",
		}),
		disconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: "excalidraw", Subsystem: "relay",
			Name: "disconnects_total", Help: "Connection teardowns.",
		}),
		connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "excalidraw", Subsystem: "relay",
			Name: "connections", Help: "Currently live connections.",
		}),
		eventsIn: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "excalidraw", Subsystem: "relay",
			Name: "events_in_total", Help: "Inbound events by type.",
		}, []string{"event"}),
		eventsOut: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "excalidraw", Subsystem: "relay",
			Name: "events_out_total", Help: "Outbound events by type.",
		}, []string{"event"}),
		bytesIn: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "excalidraw", Subsystem: "relay",
			Name: "bytes_in_total", Help: "Inbound frame bytes by event type.",
		}, []string{"event"}),
		bytesOut: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "excalidraw", Subsystem: "relay",
			Name: "bytes_out_total", Help: "Outbound frame bytes by event type.",
		}, []string{"event"}),
	}
}

// InstrumentHandler wraps a message handler so every inbound frame and every
// lifecycle transition is counted. Connections passed through to the inner
// handler are wrapped too, covering the outbound path.
func (r *Recorder) InstrumentHandler(inner domain.MessageHandler) domain.MessageHandler {
	return &instrumentedHandler{inner: inner, rec: r}
}

type instrumentedHandler struct {
	inner domain.MessageHandler
	rec   *Recorder
}

func (h *instrumentedHandler) HandleConnect(conn domain.Connection) {
	h.rec.connects.Inc()
	h.rec.connections.Inc()
	h.inner.HandleConnect(h.rec.wrap(conn))
}

func (h *instrumentedHandler) Handle(conn domain.Connection, data []byte) {
	event := eventType(data)
	h.rec.eventsIn.WithLabelValues(event).Inc()
	h.rec.bytesIn.WithLabelValues(event).Add(float64(len(data)))
	h.inner.Handle(h.rec.wrap(conn), data)
}

func (h *instrumentedHandler) HandleDisconnect(conn domain.Connection) {
	h.rec.disconnects.Inc()
	h.rec.connections.Dec()
	h.inner.HandleDisconnect(h.rec.wrap(conn))
}

func (r *Recorder) wrap(conn domain.Connection) domain.Connection {
	if _, ok := conn.(*instrumentedConn); ok {
		return conn
	}
	return &instrumentedConn{Connection: conn, rec: r}
}

type instrumentedConn struct {
	domain.Connection
	rec *Recorder
}

func (c *instrumentedConn) Send(data []byte) error {
	c.rec.outbound(data)
	return c.Connection.Send(data)
}

func (c *instrumentedConn) SendVolatile(data []byte) {
	c.rec.outbound(data)
	c.Connection.SendVolatile(data)
}

func (r *Recorder) outbound(data []byte) {
	event := eventType(data)
	r.eventsOut.WithLabelValues(event).Inc()
	r.bytesOut.WithLabelValues(event).Add(float64(len(data)))
}

// eventType peeks at the envelope's type field for labelling; frames that do
// not parse are counted under "invalid".
func eventType(data []byte) string {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil || envelope.Type == "" {
		return "invalid"
	}
	return envelope.Type
}
