package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/nbd-wtf/go-nostr"
	log "github.com/sirupsen/logrus"
)

// ErrConnectionClosed is returned for queries pending on a connection that went away
var ErrConnectionClosed = errors.New("relay connection closed")

// SourceError reports a relay that could not answer a query
type SourceError struct {
	Relay string
	Op    string // "dial", "write", "query", "closed"
	Err   error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("relay %s: %s: %v", e.Relay, e.Op, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// Relay is a single websocket connection to a relay. Subscriptions are
// multiplexed over it and dispatched by subscription id.
type Relay struct {
	URL string

	conn     *websocket.Conn
	writeMu  sync.Mutex
	subsMu   sync.Mutex
	subs     map[string]*subscription
	closed   chan struct{}
	once     sync.Once
	lastPing atomic.Int64
	verify   bool
}

type subscription struct {
	filter nostr.Filter
	mu     sync.Mutex
	events []*nostr.Event
	done   chan struct{}
	once   sync.Once
	err    error
}

func (s *subscription) add(evt *nostr.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
}

func (s *subscription) finish(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.done)
	})
}

func (s *subscription) result() ([]*nostr.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events, s.err
}

// Connect dials the relay and starts reading from it
func Connect(ctx context.Context, relayURL string, config Config) (*Relay, error) {
	conn, err := dial(ctx, relayURL, config)
	if err != nil {
		return nil, &SourceError{Relay: relayURL, Op: "dial", Err: err}
	}

	r := &Relay{
		URL:    relayURL,
		conn:   conn,
		subs:   make(map[string]*subscription),
		closed: make(chan struct{}),
		verify: config.VerifySignatures,
	}
	conn.SetPongHandler(r.handlePong)

	wsCurrentConnections.Inc()
	log.WithField("relay", relayURL).Info("Connected to relay")

	// The keepalive outlives the dial context, it stops when the relay closes
	go r.managePingPong(context.Background())
	go r.readLoop()

	return r, nil
}

// IsConnected reports whether the connection is still usable
func (r *Relay) IsConnected() bool {
	select {
	case <-r.closed:
		return false
	default:
		return true
	}
}

// Close shuts the connection down and fails every pending subscription
func (r *Relay) Close() error {
	var err error
	r.once.Do(func() {
		close(r.closed)
		wsCurrentConnections.Dec()

		r.subsMu.Lock()
		for id, sub := range r.subs {
			sub.finish(ErrConnectionClosed)
			delete(r.subs, id)
		}
		r.subsMu.Unlock()

		err = r.conn.Close()
	})
	return err
}

// Query sends a REQ for filter and collects the stored events the relay
// returns before EOSE. The subscription is closed afterwards.
func (r *Relay) Query(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error) {
	subID := uuid.NewString()
	sub := &subscription{
		filter: filter,
		done:   make(chan struct{}),
	}

	r.subsMu.Lock()
	r.subs[subID] = sub
	r.subsMu.Unlock()

	defer func() {
		r.subsMu.Lock()
		delete(r.subs, subID)
		r.subsMu.Unlock()
	}()

	if err := r.write(nostr.ReqEnvelope{SubscriptionID: subID, Filters: nostr.Filters{filter}}); err != nil {
		return nil, &SourceError{Relay: r.URL, Op: "write", Err: err}
	}

	select {
	case <-ctx.Done():
		r.closeSubscription(subID)
		return nil, &SourceError{Relay: r.URL, Op: "query", Err: ctx.Err()}
	case <-sub.done:
	}

	events, err := sub.result()
	if err != nil {
		return nil, &SourceError{Relay: r.URL, Op: "closed", Err: err}
	}

	r.closeSubscription(subID)
	return events, nil
}

func (r *Relay) closeSubscription(subID string) {
	if !r.IsConnected() {
		return
	}
	if err := r.write(nostr.CloseEnvelope(subID)); err != nil {
		log.WithFields(log.Fields{
			"relay": r.URL,
			"error": err,
		}).Debug("Failed to close subscription")
	}
}

func (r *Relay) write(frame json.Marshaler) error {
	data, err := frame.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if err := r.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return r.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop dispatches relay frames to subscriptions until the connection fails
func (r *Relay) readLoop() {
	defer r.Close()

	for {
		_, message, err := r.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithFields(log.Fields{
					"relay": r.URL,
					"error": err,
				}).Warn("Unexpected relay connection close")
				wsConnectionErrors.WithLabelValues(r.URL).Inc()
			}
			return
		}

		if err := r.handleFrame(message); err != nil {
			log.WithFields(log.Fields{
				"relay": r.URL,
				"error": err,
			}).Debug("Skipping relay frame")
		}
	}
}

func (r *Relay) handleFrame(message []byte) error {
	switch env := nostr.ParseMessage(message).(type) {
	case nil:
		return fmt.Errorf("failed to decode frame")
	case *nostr.EventEnvelope:
		if env.SubscriptionID == nil {
			return fmt.Errorf("EVENT frame without subscription id")
		}
		sub := r.subscription(*env.SubscriptionID)
		if sub == nil {
			return nil
		}
		evt := env.Event
		if !sub.filter.Matches(&evt) {
			return fmt.Errorf("event %s does not match the subscription filter", evt.ID)
		}
		if r.verify {
			if ok, err := evt.CheckSignature(); err != nil || !ok {
				return fmt.Errorf("event %s has an invalid signature", evt.ID)
			}
		}
		sub.add(&evt)
	case *nostr.EOSEEnvelope:
		if sub := r.subscription(string(*env)); sub != nil {
			sub.finish(nil)
		}
	case *nostr.ClosedEnvelope:
		if sub := r.subscription(env.SubscriptionID); sub != nil {
			sub.finish(fmt.Errorf("subscription closed by relay: %s", env.Reason))
		}
	case *nostr.NoticeEnvelope:
		log.WithFields(log.Fields{
			"relay":  r.URL,
			"notice": string(*env),
		}).Info("Relay notice")
	}
	return nil
}

func (r *Relay) subscription(id string) *subscription {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()
	return r.subs[id]
}
