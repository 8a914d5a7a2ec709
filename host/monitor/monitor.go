// Package monitor collects samples from ADC blocks and exposes them as
// Prometheus metrics, a JSON snapshot over HTTP and MQTT messages.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Reading is one conversion.
type Reading struct {
	OID     uint8     `json:"oid"`
	Channel uint8     `json:"channel"`
	Value   uint16    `json:"value"`
	At      time.Time `json:"at"`
}

// Alarm is one fault report.
type Alarm struct {
	OID   uint8     `json:"oid"`
	Kind  string    `json:"kind"`
	Value uint32    `json:"value"`
	At    time.Time `json:"at"`
}

// Publisher sends one message. *MQTT implements it.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

type key struct{ oid, channel uint8 }

// Hub is the sink for readings and alarms. All methods are safe for
// concurrent use.
type Hub struct {
	log    zerolog.Logger
	reg    *prometheus.Registry
	prefix string

	samples *prometheus.CounterVec
	values  *prometheus.GaugeVec
	faults  *prometheus.CounterVec
	dropped prometheus.Gauge
	dieTemp prometheus.Gauge
	vdda    prometheus.Gauge

	mu     sync.RWMutex
	latest map[key]Reading
	alarms []Alarm
}

// MaxAlarms is the number of alarms kept for /faults.
const MaxAlarms = 64

// NewHub returns a hub with its own metrics registry. MQTT topics start
// with prefix.
func NewHub(log zerolog.Logger, prefix string) *Hub {
	h := &Hub{
		log:    log,
		reg:    prometheus.NewRegistry(),
		prefix: prefix,
		latest: make(map[key]Reading),
		samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stmadc",
			Name:      "samples_total",
			Help:      "Conversions received per channel.",
		}, []string{"oid", "channel"}),
		values: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "stmadc",
			Name:      "value",
			Help:      "Last raw value per channel.",
		}, []string{"oid", "channel"}),
		faults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stmadc",
			Name:      "faults_total",
			Help:      "Fault reports per block and kind.",
		}, []string{"oid", "kind"}),
		dropped: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "stmadc",
			Name:      "dropped",
			Help:      "Samples lost to full queues.",
		}),
		dieTemp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "stmadc",
			Name:      "die_temperature_celsius",
			Help:      "Internal temperature sensor.",
		}),
		vdda: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "stmadc",
			Name:      "vdda_volts",
			Help:      "Analog supply derived from VREFINT.",
		}),
	}
	h.reg.MustRegister(h.samples, h.values, h.faults, h.dropped, h.dieTemp, h.vdda)
	return h
}

// Registry returns the metrics registry.
func (h *Hub) Registry() *prometheus.Registry { return h.reg }

func (h *Hub) Sample(r Reading) {
	oid, ch := strconv.Itoa(int(r.OID)), strconv.Itoa(int(r.Channel))
	h.samples.WithLabelValues(oid, ch).Inc()
	h.values.WithLabelValues(oid, ch).Set(float64(r.Value))

	h.mu.Lock()
	h.latest[key{r.OID, r.Channel}] = r
	h.mu.Unlock()
}

func (h *Hub) Fault(a Alarm) {
	h.faults.WithLabelValues(strconv.Itoa(int(a.OID)), a.Kind).Inc()
	h.log.Warn().Uint8("oid", a.OID).Str("kind", a.Kind).Uint32("value", a.Value).Msg("ADC fault")

	h.mu.Lock()
	h.alarms = append(h.alarms, a)
	if len(h.alarms) > MaxAlarms {
		h.alarms = h.alarms[len(h.alarms)-MaxAlarms:]
	}
	h.mu.Unlock()
}

func (h *Hub) SetDropped(n uint32) { h.dropped.Set(float64(n)) }

// SetDie records the die temperature in milli Celsius and VDDA in
// microvolts.
func (h *Hub) SetDie(milliC, microV int32) {
	h.dieTemp.Set(float64(milliC) / 1000)
	h.vdda.Set(float64(microV) / 1e6)
}

// Latest returns the last reading of every channel ordered by oid and
// channel.
func (h *Hub) Latest() []Reading {
	h.mu.RLock()
	out := make([]Reading, 0, len(h.latest))
	for _, r := range h.latest {
		out = append(out, r)
	}
	h.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].OID != out[j].OID {
			return out[i].OID < out[j].OID
		}
		return out[i].Channel < out[j].Channel
	})
	return out
}

// Alarms returns the most recent alarms, oldest first.
func (h *Hub) Alarms() []Alarm {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]Alarm(nil), h.alarms...)
}

// Router serves /metrics, /samples, /faults and /healthz.
func (h *Hub) Router() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(h.reg, promhttp.HandlerOpts{})))
	e.GET("/samples", func(c echo.Context) error {
		return c.JSON(http.StatusOK, h.Latest())
	})
	e.GET("/faults", func(c echo.Context) error {
		return c.JSON(http.StatusOK, h.Alarms())
	})
	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})
	return e
}

// Serve runs the HTTP server on addr until ctx is done.
func (h *Hub) Serve(ctx context.Context, addr string) error {
	e := h.Router()
	errc := make(chan error, 1)
	go func() {
		h.log.Debug().Str("address", addr).Msg("Serving HTTP")
		errc <- e.Start(addr)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	h.log.Info().Msg("Closing HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Topic returns the MQTT topic of one channel.
func (h *Hub) Topic(oid, channel uint8) string {
	return h.prefix + "/" + strconv.Itoa(int(oid)) + "/" + strconv.Itoa(int(channel))
}

// PublishOnce sends the latest reading of every channel.
func (h *Hub) PublishOnce(p Publisher) error {
	var firstErr error
	for _, r := range h.Latest() {
		payload, err := json.Marshal(r)
		if err != nil {
			return err
		}
		if err := p.Publish(h.Topic(r.OID, r.Channel), payload); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// RunPublisher publishes the latest readings every interval until ctx is
// done. Publish errors are logged, not returned.
func (h *Hub) RunPublisher(ctx context.Context, p Publisher, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := h.PublishOnce(p); err != nil {
				h.log.Warn().Err(err).Msg("MQTT publish failed")
			}
		}
	}
}
