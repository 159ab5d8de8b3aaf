package relay_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"nostrfeed/relay"

	"github.com/gorilla/websocket"
	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type relayMode int

const (
	modeStore relayMode = iota
	modeClosed
	modeSilent
)

// fakeRelay serves stored events over the nostr websocket protocol
func fakeRelay(t *testing.T, mode relayMode, stored []*nostr.Event) string {
	t.Helper()
	upgrader := websocket.Upgrader{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				return
			}
			req, ok := nostr.ParseMessage(message).(*nostr.ReqEnvelope)
			if !ok || len(req.Filters) == 0 {
				continue
			}
			subID := req.SubscriptionID

			switch mode {
			case modeClosed:
				writeFrame(conn, nostr.ClosedEnvelope{SubscriptionID: subID, Reason: "blocked: go away"})
			case modeSilent:
			case modeStore:
				filter := req.Filters[0]
				matching := make([]*nostr.Event, 0)
				for _, evt := range stored {
					if filter.Matches(evt) {
						matching = append(matching, evt)
					}
				}
				sort.Slice(matching, func(i, j int) bool { return matching[i].CreatedAt > matching[j].CreatedAt })
				if filter.Limit > 0 && len(matching) > filter.Limit {
					matching = matching[:filter.Limit]
				}
				for _, evt := range matching {
					writeFrame(conn, nostr.EventEnvelope{SubscriptionID: &subID, Event: *evt})
				}
				writeFrame(conn, nostr.EOSEEnvelope(subID))
			}
		}
	}))
	t.Cleanup(server.Close)

	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func writeFrame(conn *websocket.Conn, frame json.Marshaler) {
	data, err := frame.MarshalJSON()
	if err == nil {
		_ = conn.WriteMessage(websocket.TextMessage, data)
	}
}

func testConfig() relay.Config {
	cfg := relay.DefaultConfig()
	cfg.DialTimeout = time.Second
	cfg.DialAttempts = 0
	cfg.VerifySignatures = false
	return cfg
}

func note(id string, createdAt int64) *nostr.Event {
	return &nostr.Event{ID: id, Kind: 1, CreatedAt: nostr.Timestamp(createdAt), Content: "hello " + id, Tags: nostr.Tags{}}
}

func TestRelayQueryCollectsUntilEOSE(t *testing.T) {
	url := fakeRelay(t, modeStore, []*nostr.Event{note("a", 10), note("b", 20), note("c", 30)})

	r, err := relay.Connect(context.Background(), url, testConfig())
	require.NoError(t, err)
	defer r.Close()

	until := nostr.Timestamp(25)
	events, err := r.Query(context.Background(), nostr.Filter{Kinds: []int{1}, Until: &until, Limit: 10})
	require.NoError(t, err)

	ids := make([]string, len(events))
	for i, evt := range events {
		ids[i] = evt.ID
	}
	assert.Equal(t, []string{"b", "a"}, ids)
}

func TestRelayQueryClosedByRelay(t *testing.T) {
	url := fakeRelay(t, modeClosed, nil)

	r, err := relay.Connect(context.Background(), url, testConfig())
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Query(context.Background(), nostr.Filter{Kinds: []int{1}})
	var sourceErr *relay.SourceError
	require.ErrorAs(t, err, &sourceErr)
	assert.Equal(t, "closed", sourceErr.Op)
}

func TestRelayQueryTimesOut(t *testing.T) {
	url := fakeRelay(t, modeSilent, nil)

	r, err := relay.Connect(context.Background(), url, testConfig())
	require.NoError(t, err)
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err = r.Query(ctx, nostr.Filter{Kinds: []int{1}})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestRelayRejectsInvalidSignatures(t *testing.T) {
	sk := nostr.GeneratePrivateKey()
	signed := &nostr.Event{Kind: 1, CreatedAt: 100, Content: "signed", Tags: nostr.Tags{}}
	require.NoError(t, signed.Sign(sk))

	forged := &nostr.Event{Kind: 1, CreatedAt: 50, Content: "forged", Tags: nostr.Tags{}}
	require.NoError(t, forged.Sign(sk))
	forged.Content = "tampered"

	url := fakeRelay(t, modeStore, []*nostr.Event{signed, forged})

	cfg := testConfig()
	cfg.VerifySignatures = true
	r, err := relay.Connect(context.Background(), url, cfg)
	require.NoError(t, err)
	defer r.Close()

	events, err := r.Query(context.Background(), nostr.Filter{Kinds: []int{1}})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, signed.ID, events[0].ID)
}

func TestConnectUnreachableRelay(t *testing.T) {
	_, err := relay.Connect(context.Background(), "ws://127.0.0.1:1", testConfig())

	var sourceErr *relay.SourceError
	require.ErrorAs(t, err, &sourceErr)
	assert.Equal(t, "dial", sourceErr.Op)
}

func TestConnectRejectsNonWebsocketURL(t *testing.T) {
	_, err := relay.Connect(context.Background(), "https://relay.example.com", testConfig())
	assert.Error(t, err)
}

func TestPoolQueryMergesAndDeduplicates(t *testing.T) {
	first := fakeRelay(t, modeStore, []*nostr.Event{note("a", 10), note("b", 20)})
	second := fakeRelay(t, modeStore, []*nostr.Event{note("b", 20), note("c", 30)})

	pool := relay.NewPool(testConfig())
	defer pool.Close()

	events, err := pool.Query(context.Background(), []string{first, second}, nostr.Filter{Kinds: []int{1}, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestPoolQueryToleratesPartialFailure(t *testing.T) {
	healthy := fakeRelay(t, modeStore, []*nostr.Event{note("a", 10)})
	broken := fakeRelay(t, modeClosed, nil)

	pool := relay.NewPool(testConfig())
	defer pool.Close()

	events, err := pool.Query(context.Background(), []string{healthy, broken}, nostr.Filter{Kinds: []int{1}})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestPoolQueryFailsWhenEveryRelayFails(t *testing.T) {
	broken := fakeRelay(t, modeClosed, nil)

	pool := relay.NewPool(testConfig())
	defer pool.Close()

	_, err := pool.Query(context.Background(), []string{broken}, nostr.Filter{Kinds: []int{1}})
	assert.Error(t, err)
}

func TestPoolQueryByIDs(t *testing.T) {
	first := strings.Repeat("0", 60) + "abcd"
	second := strings.Repeat("0", 60) + "ef01"
	other := strings.Repeat("0", 60) + "9999"
	url := fakeRelay(t, modeStore, []*nostr.Event{note(first, 10), note(second, 20), note(other, 30)})

	pool := relay.NewPool(testConfig())
	defer pool.Close()

	scope := nostr.Filter{Kinds: []int{1}}

	tests := []struct {
		name string
		ids  []string
		want []string
	}{
		{"full id", []string{second}, []string{second}},
		{"suffix", []string{"abcd"}, []string{first}},
		{"full id and suffix", []string{second, "abcd"}, []string{first, second}},
		{"unknown suffix", []string{"7777"}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := pool.QueryByIDs(context.Background(), []string{url}, scope, tt.ids)
			require.NoError(t, err)

			ids := make([]string, 0, len(events))
			for _, evt := range events {
				ids = append(ids, evt.ID)
			}
			sort.Strings(ids)
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestPoolQueryByIDsNeedsScopeForSuffixes(t *testing.T) {
	url := fakeRelay(t, modeStore, []*nostr.Event{note(strings.Repeat("0", 60)+"abcd", 10)})

	pool := relay.NewPool(testConfig())
	defer pool.Close()

	events, err := pool.QueryByIDs(context.Background(), []string{url}, nostr.Filter{}, []string{"abcd"})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestPoolReusesConnections(t *testing.T) {
	url := fakeRelay(t, modeStore, nil)

	pool := relay.NewPool(testConfig())
	defer pool.Close()

	first, err := pool.Relay(context.Background(), url)
	require.NoError(t, err)
	second, err := pool.Relay(context.Background(), url)
	require.NoError(t, err)

	assert.Same(t, first, second)
}
