package relay

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

var (
	wsConnectionAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nostrfeed_relay_connection_attempts_total",
		Help: "The total number of connection attempts to relays",
	}, []string{"relay"})

	wsConnectionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nostrfeed_relay_connection_errors_total",
		Help: "The total number of relay connection errors encountered",
	}, []string{"relay"})

	wsCurrentConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nostrfeed_relay_current_connections",
		Help: "The current number of open relay connections",
	})

	wsPingLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "nostrfeed_relay_ping_latency_seconds",
		Help:    "Latency of websocket ping/pong round trips",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 10), // Start at 1ms, double each bucket, 10 buckets
	})
)

const (
	wsReadBufferSize  = 1024 * 1024 // 1MB
	wsWriteBufferSize = 16 * 1024   // 16KB
	wsReadTimeout     = 60 * time.Second
	wsWriteTimeout    = 10 * time.Second
	wsPingInterval    = 30 * time.Second
)

// dial opens a websocket to the relay, retrying with exponential backoff up to
// config.DialAttempts times
func dial(ctx context.Context, relayURL string, config Config) (*websocket.Conn, error) {
	u, err := url.Parse(relayURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse relay URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("relay URL %s must use ws or wss", relayURL)
	}

	dialer := websocket.Dialer{
		ReadBufferSize:   wsReadBufferSize,
		WriteBufferSize:  wsWriteBufferSize,
		HandshakeTimeout: config.DialTimeout,
		NetDialContext: (&net.Dialer{
			Timeout:   config.DialTimeout,
			KeepAlive: 45 * time.Second,
		}).DialContext,
	}

	headers := http.Header{}
	if config.UserAgent != "" {
		headers.Set("User-Agent", config.UserAgent)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.Multiplier = 1.5

	var conn *websocket.Conn
	operation := func() error {
		wsConnectionAttempts.WithLabelValues(relayURL).Inc()

		c, _, dialErr := dialer.DialContext(ctx, u.String(), headers)
		if dialErr != nil {
			wsConnectionErrors.WithLabelValues(relayURL).Inc()
			log.WithFields(log.Fields{
				"relay": relayURL,
				"error": dialErr,
			}).Warn("Error connecting to relay")
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return dialErr
		}
		conn = c
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(b, config.DialAttempts), ctx)); err != nil {
		return nil, err
	}

	setupConnectionHandlers(conn, relayURL)
	return conn, nil
}

// setupConnectionHandlers configures deadlines and control frame handlers
func setupConnectionHandlers(conn *websocket.Conn, relayURL string) {
	conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

	conn.SetCloseHandler(func(code int, text string) error {
		log.WithFields(log.Fields{
			"relay": relayURL,
			"code":  code,
		}).Infof("Relay closed the connection: %s", text)
		return nil
	})

	conn.SetPingHandler(func(appData string) error {
		log.WithField("relay", relayURL).Debug("Received ping from relay")
		if err := conn.SetReadDeadline(time.Now().Add(wsReadTimeout)); err != nil {
			return err
		}
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(wsWriteTimeout))
	})
}

// handlePong records ping latency and extends the read deadline
func (r *Relay) handlePong(appData string) error {
	if sent := r.lastPing.Load(); sent != 0 {
		wsPingLatency.Observe(time.Since(time.Unix(0, sent)).Seconds())
	}
	return r.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
}

// managePingPong keeps the connection alive between queries. It closes the
// connection when a ping can no longer be written.
func (r *Relay) managePingPong(ctx context.Context) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.closed:
			return
		case <-ticker.C:
			r.lastPing.Store(time.Now().UnixNano())
			err := r.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(wsWriteTimeout))

			if err != nil {
				log.WithFields(log.Fields{
					"relay": r.URL,
					"error": err,
				}).Warn("Ping failed, closing relay connection")
				wsConnectionErrors.WithLabelValues(r.URL).Inc()
				r.Close()
				return
			}
		}
	}
}
