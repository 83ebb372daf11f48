package websocket

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"optionsurface/internal/feed"
	"optionsurface/pkg/errors"
	"optionsurface/pkg/logger"
)

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 5 * time.Second
)

// BatchSink receives raw payload batches read from the socket
type BatchSink interface {
	Push(ctx context.Context, batch [][]byte) error
}

// ClientConfig configures one feed connection
type ClientConfig struct {
	URL          string
	Mode         string // subscription mode sent upstream, e.g. full
	PingInterval time.Duration
	ReadTimeout  time.Duration
}

// SubscribeRequest is the subscription message sent after connecting
type SubscribeRequest struct {
	Action      string  `json:"action"`
	Instruments []int64 `json:"instruments"`
	Mode        string  `json:"mode"`
}

// Stats are cumulative connection counters
type Stats struct {
	ConnectedSince   time.Time
	MessagesReceived int64
	MessagesSent     int64
	ErrorCount       int64
	Subscribed       int
}

// FeedClient is one websocket connection to a tick feed. Every text or binary
// frame is split into payloads and pushed to the sink unmodified.
type FeedClient struct {
	cfg    ClientConfig
	sink   BatchSink
	onRead func()
	log    *logger.Logger

	mu          sync.Mutex
	conn        *websocket.Conn
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	instruments []int64

	connected        atomic.Bool
	connectedSince   atomic.Int64
	messagesReceived atomic.Int64
	messagesSent     atomic.Int64
	errorCount       atomic.Int64
}

// NewFeedClient creates a client. onRead, if set, is called for every frame
// and lets a health monitor track liveness.
func NewFeedClient(cfg ClientConfig, sink BatchSink, onRead func(), log *logger.Logger) *FeedClient {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 5 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.Mode == "" {
		cfg.Mode = "full"
	}
	if onRead == nil {
		onRead = func() {}
	}
	if log == nil {
		log = logger.Get()
	}
	return &FeedClient{
		cfg:    cfg,
		sink:   sink,
		onRead: onRead,
		log:    log.With("component", "feed_ws", "url", cfg.URL),
	}
}

// Connect dials the feed, replays the current subscription and starts the
// read and ping loops
func (c *FeedClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected.Load() {
		return nil
	}
	if c.conn != nil {
		// the previous read loop died on its own
		c.cancel()
		c.conn.Close()
		c.wg.Wait()
		c.conn = nil
	}

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = handshakeTimeout

	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		c.errorCount.Add(1)
		return errors.Mark(errors.Wrapf(err, "dial %s", c.cfg.URL), errors.ErrUnavailable)
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	})
	if err := conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
		conn.Close()
		return errors.Wrap(err, "set read deadline")
	}

	c.conn = conn
	if len(c.instruments) > 0 {
		if err := c.writeSubscribe(c.instruments); err != nil {
			conn.Close()
			c.conn = nil
			return err
		}
	}

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.connected.Store(true)
	c.connectedSince.Store(time.Now().UnixNano())

	c.wg.Add(2)
	go c.readLoop(loopCtx, conn)
	go c.pingLoop(loopCtx, conn)

	c.log.Infow("Feed websocket connected", "instruments", len(c.instruments))
	return nil
}

// Subscribe replaces the subscription. When disconnected the ids are kept and
// sent on the next Connect.
func (c *FeedClient) Subscribe(ids []int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.instruments = append([]int64(nil), ids...)
	if !c.connected.Load() || c.conn == nil {
		return errors.ErrWSNotConnected
	}
	return c.writeSubscribe(c.instruments)
}

// writeSubscribe must be called with mu held
func (c *FeedClient) writeSubscribe(ids []int64) error {
	req := SubscribeRequest{Action: "subscribe", Instruments: ids, Mode: c.cfg.Mode}
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return errors.Wrap(err, "set write deadline")
	}
	if err := c.conn.WriteJSON(req); err != nil {
		c.errorCount.Add(1)
		return errors.Wrap(err, "send subscription")
	}
	c.messagesSent.Add(1)
	c.log.Infow("Subscribed to feed", "instruments", len(ids), "mode", c.cfg.Mode)
	return nil
}

func (c *FeedClient) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer c.wg.Done()
	defer c.connected.Store(false)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.errorCount.Add(1)
				c.log.Warnw("Feed websocket read failed", "error", err)
			}
			return
		}
		if err := conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
			return
		}

		c.messagesReceived.Add(1)
		c.onRead()

		batch, err := feed.SplitBatch(data)
		if err != nil {
			c.errorCount.Add(1)
			c.log.Debugw("Dropping undecodable frame", "error", err, "size", len(data))
			continue
		}
		if len(batch) == 0 {
			continue
		}
		if err := c.sink.Push(ctx, batch); err != nil {
			if ctx.Err() == nil && !errors.Is(err, errors.ErrTransportClosed) {
				c.log.Warnw("Failed to hand off batch", "error", err)
			}
			return
		}
	}
}

func (c *FeedClient) pingLoop(ctx context.Context, conn *websocket.Conn) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				c.errorCount.Add(1)
				c.log.Debugw("Ping failed", "error", err)
				return
			}
		}
	}
}

// Stop closes the connection and waits for the loops to exit
func (c *FeedClient) Stop(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	cancel := c.cancel
	c.conn = nil
	c.cancel = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	if cancel != nil {
		cancel()
	}

	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	conn.Close()
	c.connected.Store(false)

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(errors.ErrTimeout, "feed websocket shutdown")
	}
}

// IsConnected reports whether the read loop is alive
func (c *FeedClient) IsConnected() bool {
	return c.connected.Load()
}

// GetStats returns connection counters
func (c *FeedClient) GetStats() Stats {
	c.mu.Lock()
	subscribed := len(c.instruments)
	c.mu.Unlock()

	var since time.Time
	if ns := c.connectedSince.Load(); ns > 0 {
		since = time.Unix(0, ns)
	}
	return Stats{
		ConnectedSince:   since,
		MessagesReceived: c.messagesReceived.Load(),
		MessagesSent:     c.messagesSent.Load(),
		ErrorCount:       c.errorCount.Load(),
		Subscribed:       subscribed,
	}
}
