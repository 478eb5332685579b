package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"

	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/domain"
	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/observability"
	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/security"
)

const (
	DefaultOutboundQueueSize     = 256
	DefaultSlowConsumerDropLimit = 512

	// writeWait bounds a single frame write on the socket.
	writeWait = 10 * time.Second
)

// wsConn is the slice of *websocket.Conn the client needs. Tests substitute
// a recording fake.
type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	ReadMessage() (int, []byte, error)
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
	Close() error
}

// Client owns one websocket connection. All writes to the socket go through
// its write pump, fed by three outbound lanes with different loss rules:
//
//   - control: replies and status frames, never dropped;
//   - snapshots: one slot per snapshot kind, latest wins. Presence
//     snapshots are whole-state, so replacing an unsent one loses nothing;
//   - events: bounded queue. When full the oldest event is dropped and the
//     connection is marked degraded; past the drop limit the connection is
//     closed as a slow consumer.
type Client struct {
	ID        string
	Namespace domain.Namespace

	conn   wsConn
	clk    clock.Clock
	logger *slog.Logger

	queueCap         int
	dropLimit        int64
	heartbeatTimeout time.Duration

	mu             sync.Mutex
	state          ConnState
	claims         *security.Claims
	subscription   domain.Subscription
	connectedAt    time.Time
	lastSeen       time.Time
	control        []outboundFrame
	orgSnapshot    *outboundFrame
	globalSnapshot *outboundFrame
	events         []outboundFrame
	dropped        int64
	degradedSent   bool

	notify    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(id string, ns domain.Namespace, conn wsConn, queueCap int, dropLimit int64, heartbeatTimeout time.Duration, clk clock.Clock, logger *slog.Logger) *Client {
	if queueCap <= 0 {
		queueCap = DefaultOutboundQueueSize
	}
	if dropLimit <= 0 {
		dropLimit = DefaultSlowConsumerDropLimit
	}
	if clk == nil {
		clk = clock.New()
	}
	now := clk.Now().UTC()
	return &Client{
		ID:               id,
		Namespace:        ns,
		conn:             conn,
		clk:              clk,
		logger:           logger,
		queueCap:         queueCap,
		dropLimit:        dropLimit,
		heartbeatTimeout: heartbeatTimeout,
		state:            StateConnecting,
		connectedAt:      now,
		lastSeen:         now,
		notify:           make(chan struct{}, 1),
		done:             make(chan struct{}),
	}
}

func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) transition(to ConnState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !canTransition(c.state, to) {
		return fmt.Errorf("illegal connection state transition %s -> %s", c.state, to)
	}
	c.state = to
	return nil
}

func (c *Client) setClaims(claims *security.Claims) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.claims = claims
}

func (c *Client) OrganizationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.claims == nil {
		return ""
	}
	return c.claims.OrganizationID
}

func (c *Client) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.claims == nil {
		return ""
	}
	return c.claims.Subject
}

func (c *Client) IsSuperAdmin() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.claims != nil && c.claims.IsSuperAdmin()
}

// touch records inbound activity for the liveness monitor.
func (c *Client) touch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSeen = c.clk.Now().UTC()
}

func (c *Client) setSubscription(sub domain.Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscription = sub
}

// SetEventFilters swaps the analytics filter set. Safe to call while the
// event pump is delivering; filters apply from the next event.
func (c *Client) SetEventFilters(types []domain.EventType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscription.SetFilters(types)
}

func (c *Client) WantsEvent(t domain.EventType) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscription.WantsType(t)
}

// Session describes the connection for introspection and logging.
func (c *Client) Session() domain.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	sess := domain.Session{
		SocketID:        c.ID,
		Namespace:       c.Namespace,
		ConnectedAt:     c.connectedAt,
		LastHeartbeatAt: c.lastSeen,
	}
	if c.claims != nil {
		sess.UserID = c.claims.Subject
		sess.OrganizationID = c.claims.OrganizationID
		sess.Role = c.claims.Role
	}
	return sess
}

func (c *Client) Done() <-chan struct{} {
	return c.done
}

// QueueControl enqueues a frame on the lossless lane.
func (c *Client) QueueControl(f outboundFrame) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.control = append(c.control, f)
	c.mu.Unlock()
	c.signal()
}

// QueueSnapshot places a presence snapshot in its mailbox slot, replacing
// any unsent predecessor. Replacement is not loss: the newer snapshot
// supersedes the older one entirely.
func (c *Client) QueueSnapshot(f outboundFrame) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	if f.Type == frameGlobal {
		c.globalSnapshot = &f
	} else {
		c.orgSnapshot = &f
	}
	c.mu.Unlock()
	c.signal()
}

// QueueEvent enqueues an analytics event, evicting the oldest queued event
// when the lane is full.
func (c *Client) QueueEvent(evt domain.AnalyticsEvent) {
	var exceeded bool

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	e := evt
	c.events = append(c.events, outboundFrame{Type: frameEvent, Event: &e})
	if len(c.events) > c.queueCap {
		copy(c.events, c.events[1:])
		c.events = c.events[:len(c.events)-1]
		c.dropped++
		observability.RecordEventDropped(context.Background(), "slow_consumer")
		if !c.degradedSent {
			c.degradedSent = true
			c.control = append(c.control, outboundFrame{
				Type:          frameStatus,
				Degraded:      true,
				DroppedEvents: c.dropped,
			})
		}
		exceeded = c.dropped > c.dropLimit
	}
	c.mu.Unlock()

	c.signal()
	if exceeded {
		if c.logger != nil {
			c.logger.Warn("closing slow consumer",
				"socket_id", c.ID,
				"namespace", string(c.Namespace),
				"dropped_events", c.DroppedEvents())
		}
		c.closeWith(CloseSlowConsumer, "slow consumer")
	}
}

func (c *Client) DroppedEvents() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

func (c *Client) signal() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// writePump is the only goroutine allowed to write data frames. It drains
// the outbound lanes on demand, pings on an interval, and enforces the
// heartbeat liveness rules.
func (c *Client) writePump() {
	pingPeriod := c.heartbeatTimeout / 3
	if pingPeriod <= 0 {
		pingPeriod = 10 * time.Second
	}
	ticker := c.clk.Ticker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-c.notify:
			if !c.flush() {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.closeWith(websocket.CloseGoingAway, "write failed")
				return
			}
			if !c.checkLiveness() {
				return
			}
		}
	}
}

// flush drains all lanes in priority order: control, org snapshot, global
// snapshot, events. Returns false when the connection died mid-write.
func (c *Client) flush() bool {
	for {
		frame, ok := c.nextFrame()
		if !ok {
			return true
		}
		if err := writeFrame(c.conn, frame); err != nil {
			c.closeWith(websocket.CloseGoingAway, "write failed")
			return false
		}
	}
}

func (c *Client) nextFrame() (outboundFrame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.control) > 0 {
		f := c.control[0]
		c.control = c.control[1:]
		return f, true
	}
	if c.orgSnapshot != nil {
		f := *c.orgSnapshot
		c.orgSnapshot = nil
		return f, true
	}
	if c.globalSnapshot != nil {
		f := *c.globalSnapshot
		c.globalSnapshot = nil
		return f, true
	}
	if len(c.events) > 0 {
		f := c.events[0]
		copy(c.events, c.events[1:])
		c.events = c.events[:len(c.events)-1]
		return f, true
	}
	return outboundFrame{}, false
}

// checkLiveness walks a quiet connection toward closure: past the heartbeat
// timeout it is marked reconnecting; past the grace window it is closed.
func (c *Client) checkLiveness() bool {
	c.mu.Lock()
	stale := c.clk.Now().UTC().Sub(c.lastSeen)
	state := c.state
	c.mu.Unlock()

	grace := c.heartbeatTimeout + c.heartbeatTimeout/2
	switch {
	case c.heartbeatTimeout <= 0:
		return true
	case stale > grace:
		if c.logger != nil {
			c.logger.Info("closing connection after missed heartbeats",
				"socket_id", c.ID,
				"namespace", string(c.Namespace),
				"stale_for", stale.String())
		}
		c.closeWith(websocket.CloseGoingAway, "heartbeat timeout")
		return false
	case stale > c.heartbeatTimeout && state == StateActive:
		if err := c.transition(StateReconnecting); err == nil && c.logger != nil {
			c.logger.Debug("connection went quiet", "socket_id", c.ID)
		}
	}
	return true
}

// closeWith terminates the connection exactly once: state flips to closed,
// pumps are released, and a close frame with the given code is attempted.
func (c *Client) closeWith(code int, reason string) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = StateClosed
		c.mu.Unlock()
		close(c.done)

		msg := websocket.FormatCloseMessage(code, reason)
		deadline := time.Now().Add(writeWait)
		if err := c.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil && c.logger != nil {
			c.logger.Debug("close frame not delivered", "socket_id", c.ID, "error", err)
		}
		_ = c.conn.Close()
	})
}

func writeFrame(conn wsConn, frame outboundFrame) error {
	raw, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, raw)
}
