package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optionsurface/internal/domain/contract"
	"optionsurface/internal/feed"
	"optionsurface/pkg/errors"
	"optionsurface/pkg/logger"
)

// feedServer accepts one connection at a time, records subscriptions and
// writes whatever is queued on frames
type feedServer struct {
	*httptest.Server
	mu       sync.Mutex
	subs     []SubscribeRequest
	frames   chan string
	upgrader websocket.Upgrader
}

func newFeedServer(t *testing.T) *feedServer {
	t.Helper()
	s := &feedServer{frames: make(chan string, 16)}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

func (s *feedServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	go func() {
		for frame := range s.frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				return
			}
		}
	}()

	for {
		var req SubscribeRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		s.mu.Lock()
		s.subs = append(s.subs, req)
		s.mu.Unlock()
	}
}

func (s *feedServer) subscriptions() []SubscribeRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SubscribeRequest(nil), s.subs...)
}

func (s *feedServer) url() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func TestFeedClientSubscribesAndPushesBatches(t *testing.T) {
	srv := newFeedServer(t)
	transport := feed.NewChanTransport(8)

	var reads int
	var mu sync.Mutex
	client := NewFeedClient(ClientConfig{URL: srv.url(), Mode: "full"}, transport, func() {
		mu.Lock()
		reads++
		mu.Unlock()
	}, logger.NewNop())

	require.ErrorIs(t, client.Subscribe([]int64{256265, 260105}), errors.ErrWSNotConnected)
	require.NoError(t, client.Connect(context.Background()))
	t.Cleanup(func() { _ = client.Stop(context.Background()) })

	require.Eventually(t, func() bool { return len(srv.subscriptions()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, SubscribeRequest{Action: "subscribe", Instruments: []int64{256265, 260105}, Mode: "full"}, srv.subscriptions()[0])

	srv.frames <- `[{"instrument_token":256265,"last_price":21520.5},{"instrument_token":260105,"last_price":46110}]`
	srv.frames <- `{"instrument_token":256265,"last_price":21521}`

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	batch, err := transport.Receive(ctx)
	require.NoError(t, err)
	assert.Len(t, batch, 2)

	batch, err = transport.Receive(ctx)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.JSONEq(t, `{"instrument_token":256265,"last_price":21521}`, string(batch[0]))

	mu.Lock()
	assert.Equal(t, 2, reads)
	mu.Unlock()

	st := client.GetStats()
	assert.Equal(t, int64(2), st.MessagesReceived)
	assert.Equal(t, 2, st.Subscribed)
	assert.True(t, client.IsConnected())
}

func TestFeedClientStopIsIdempotent(t *testing.T) {
	srv := newFeedServer(t)
	client := NewFeedClient(ClientConfig{URL: srv.url()}, feed.NewChanTransport(1), nil, logger.NewNop())

	require.NoError(t, client.Connect(context.Background()))
	require.NoError(t, client.Stop(context.Background()))
	require.NoError(t, client.Stop(context.Background()))
	assert.False(t, client.IsConnected())
}

func TestFeedClientDialFailure(t *testing.T) {
	client := NewFeedClient(ClientConfig{URL: "ws://127.0.0.1:1/ticks"}, feed.NewChanTransport(1), nil, logger.NewNop())
	err := client.Connect(context.Background())
	require.Error(t, err)
	assert.False(t, client.IsConnected())
}

func TestFeedManagerResubscribesOnUniverseChange(t *testing.T) {
	srv := newFeedServer(t)
	mgr := NewFeedManager("ws-0", ClientConfig{URL: srv.url()}, feed.NewChanTransport(8), ManagerConfig{HealthCheckInterval: time.Hour}, logger.NewNop())

	require.NoError(t, mgr.Start(context.Background(), []int64{1}))
	t.Cleanup(func() { _ = mgr.Stop(context.Background()) })
	require.Eventually(t, func() bool { return len(srv.subscriptions()) == 1 }, 2*time.Second, 10*time.Millisecond)

	u := contract.NewUniverse(time.Now(), []contract.OptionContract{
		{InstrumentID: 11, Symbol: "NIFTY24FEB21500CE"},
		{InstrumentID: 12, Symbol: "NIFTY24FEB21500PE"},
	}, nil, nil)
	require.NoError(t, mgr.UniverseChanged(context.Background(), u))

	require.Eventually(t, func() bool { return len(srv.subscriptions()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t, []int64{11, 12}, srv.subscriptions()[1].Instruments)
	assert.Equal(t, true, mgr.GetStats()["connected"])
}
