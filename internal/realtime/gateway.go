package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/config"
	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/domain"
	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/observability"
	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/presence"
	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/security"
)

// TokenVerifier validates the bearer token presented during the websocket
// handshake.
type TokenVerifier interface {
	ParseAccessToken(raw string) (*security.Claims, error)
}

// Gateway upgrades dashboard connections and runs their full lifecycle:
// authentication, presence registration or analytics subscription, inbound
// message handling, heartbeats, and teardown.
type Gateway struct {
	registry presence.Registry
	bus      EventBus
	hub      *Hub
	tokens   TokenVerifier
	clk      clock.Clock
	logger   *slog.Logger

	authTimeout      time.Duration
	heartbeatTimeout time.Duration
	presenceWindow   time.Duration
	queueCap         int
	dropLimit        int64

	upgrader websocket.Upgrader
}

func NewGateway(registry presence.Registry, bus EventBus, hub *Hub, tokens TokenVerifier, cfg *config.Config, clk clock.Clock, logger *slog.Logger) *Gateway {
	if clk == nil {
		clk = clock.New()
	}
	return &Gateway{
		registry:         registry,
		bus:              bus,
		hub:              hub,
		tokens:           tokens,
		clk:              clk,
		logger:           logger,
		authTimeout:      cfg.AuthTimeout,
		heartbeatTimeout: cfg.HeartbeatTimeout,
		presenceWindow:   cfg.PresenceWindow,
		queueCap:         cfg.OutboundQueueSize,
		dropLimit:        int64(cfg.SlowConsumerDropLimit),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(cfg.WSAllowedOrigins),
		},
	}
}

func (g *Gateway) HandlePresence(w http.ResponseWriter, r *http.Request) {
	g.serve(w, r, domain.NamespacePresence)
}

func (g *Gateway) HandleAnalytics(w http.ResponseWriter, r *http.Request) {
	g.serve(w, r, domain.NamespaceAnalytics)
}

func (g *Gateway) serve(w http.ResponseWriter, r *http.Request, ns domain.Namespace) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		observability.RecordGatewayEvent(r.Context(), "upgrade", "error")
		g.logger.Warn("websocket upgrade failed", "namespace", string(ns), "error", err)
		return
	}

	client := newClient(uuid.NewString(), ns, conn, g.queueCap, g.dropLimit, g.heartbeatTimeout, g.clk, g.logger)

	claims, err := g.authenticate(r, conn)
	if err != nil {
		observability.RecordGatewayEvent(r.Context(), "auth", "error")
		observability.EmitAuditCtx(r.Context(), observability.AuditInput{
			EventName:   "gateway.auth",
			ActorUserID: "anonymous",
			TargetType:  "websocket",
			TargetID:    client.ID,
			Action:      "authenticate",
			Outcome:     "failure",
			Reason:      "invalid_or_missing_token",
		}, "namespace", string(ns), "remote_addr", r.RemoteAddr)
		client.closeWith(CloseAuthFailure, "authentication required")
		return
	}
	client.setClaims(claims)
	sub := domain.NewSubscription(client.ID, claims.OrganizationID, nil)
	sub.AllOrganizations = claims.IsSuperAdmin()
	client.setSubscription(sub)

	if err := client.transition(StateAuthenticated); err != nil {
		g.logger.Error("connection state error", "socket_id", client.ID, "error", err)
		client.closeWith(websocket.CloseInternalServerErr, "state error")
		return
	}
	observability.RecordGatewayEvent(r.Context(), "auth", "success")
	g.logger.Info("connection authenticated",
		"socket_id", client.ID,
		"namespace", string(ns),
		"user_id", claims.Subject,
		"organization_id", claims.OrganizationID,
		"role", claims.Role)

	g.hub.Register(client)
	observability.RecordGatewaySessionChange(r.Context(), string(ns), 1)
	defer g.teardown(client)

	if err := client.transition(StateSubscribed); err != nil {
		g.logger.Error("connection state error", "socket_id", client.ID, "error", err)
		client.closeWith(websocket.CloseInternalServerErr, "state error")
		return
	}
	go client.writePump()

	switch ns {
	case domain.NamespacePresence:
		if err := g.initPresence(r.Context(), client); err != nil {
			g.logger.Error("presence setup failed", "socket_id", client.ID, "error", err)
			client.closeWith(websocket.CloseInternalServerErr, "presence unavailable")
			return
		}
	case domain.NamespaceAnalytics:
		events, unsubscribe, err := g.subscribeAnalytics(r.Context(), client)
		if err != nil {
			g.logger.Error("analytics setup failed", "socket_id", client.ID, "error", err)
			client.closeWith(websocket.CloseInternalServerErr, "analytics unavailable")
			return
		}
		defer unsubscribe()
		go g.eventPump(client, events)
	}

	if err := client.transition(StateActive); err != nil {
		g.logger.Error("connection state error", "socket_id", client.ID, "error", err)
		client.closeWith(websocket.CloseInternalServerErr, "state error")
		return
	}

	g.readLoop(client)
}

// authenticate resolves the access token from the Authorization header, the
// token query parameter, or a first auth frame arriving within the auth
// timeout. Until it succeeds no data frame leaves the server.
func (g *Gateway) authenticate(r *http.Request, conn wsConn) (*security.Claims, error) {
	token := bearerToken(r)
	if token == "" {
		var err error
		token, err = awaitAuthFrame(conn, g.authTimeout)
		if err != nil {
			return nil, err
		}
	}
	return g.tokens.ParseAccessToken(token)
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

func awaitAuthFrame(conn wsConn, timeout time.Duration) (string, error) {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return "", err
	}
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return "", fmt.Errorf("await auth frame: %w", err)
	}
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return "", fmt.Errorf("decode auth frame: %w", err)
	}
	if frame.Type != msgAuth || strings.TrimSpace(frame.Token) == "" {
		return "", errors.New("first frame must carry the auth token")
	}
	return frame.Token, nil
}

// initPresence registers the socket and queues the initial snapshot, plus
// the cross-organization breakdown for super-admins.
func (g *Gateway) initPresence(ctx context.Context, c *Client) error {
	organizationID := c.OrganizationID()
	if err := g.registry.Register(ctx, organizationID, c.UserID(), c.ID); err != nil {
		return fmt.Errorf("register presence: %w", err)
	}

	count, err := g.registry.CountActive(ctx, organizationID, g.presenceWindow)
	if err != nil {
		return fmt.Errorf("initial presence count: %w", err)
	}
	snap := domain.PresenceSnapshot{
		OrganizationID: organizationID,
		TotalUsers:     count,
		Timestamp:      g.clk.Now().UTC(),
	}
	c.QueueSnapshot(outboundFrame{Type: frameInit, Snapshot: &snap})

	if c.IsSuperAdmin() {
		counts, err := g.registry.ActiveByOrganization(ctx, g.presenceWindow)
		if err != nil {
			g.logger.Warn("initial global snapshot skipped", "socket_id", c.ID, "error", err)
		} else {
			gs := buildGlobalSnapshot(counts, g.clk.Now().UTC())
			c.QueueSnapshot(outboundFrame{Type: frameGlobal, Global: &gs})
		}
	}
	return nil
}

// subscribeAnalytics opens the bus channel matching the caller's reach:
// super-admins get the global feed, everyone else their organization's.
func (g *Gateway) subscribeAnalytics(ctx context.Context, c *Client) (<-chan domain.AnalyticsEvent, func(), error) {
	if c.IsSuperAdmin() {
		return g.bus.SubscribeGlobal(ctx)
	}
	return g.bus.Subscribe(ctx, c.OrganizationID())
}

// eventPump forwards bus events to the client, applying its filters. A
// foreign-organization event on a tenant-scoped connection means the
// isolation chain upstream failed; the connection is cut, never served.
func (g *Gateway) eventPump(c *Client, events <-chan domain.AnalyticsEvent) {
	ctx := context.Background()
	for {
		select {
		case <-c.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if !c.IsSuperAdmin() && evt.OrganizationID != c.OrganizationID() {
				observability.EmitAuditCtx(ctx, observability.AuditInput{
					EventName:   "gateway.isolation.violation",
					ActorUserID: observability.ActorUserID(c.UserID()),
					TargetType:  "organization",
					TargetID:    evt.OrganizationID,
					Action:      "deliver",
					Outcome:     "blocked",
					Reason:      "foreign_event_on_tenant_feed",
				}, "socket_id", c.ID, "event_id", evt.ID)
				observability.RecordEventDropped(ctx, "tenant_isolation")
				c.closeWith(CloseTenantViolation, "tenant isolation")
				return
			}
			if !c.WantsEvent(evt.Type) {
				continue
			}
			c.QueueEvent(evt)
		}
	}
}

func (g *Gateway) readLoop(c *Client) {
	readWait := 2 * g.heartbeatTimeout
	refresh := func() {
		c.touch()
		if c.State() == StateReconnecting {
			if err := c.transition(StateActive); err == nil {
				g.logger.Debug("connection resumed", "socket_id", c.ID)
			}
		}
		if readWait > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(readWait))
		}
	}
	refresh()
	c.conn.SetPongHandler(func(string) error {
		refresh()
		g.refreshPresence(c)
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if c.State() != StateClosed {
				g.logger.Debug("read loop ended", "socket_id", c.ID, "error", err)
			}
			return
		}
		refresh()

		var frame inboundFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.QueueControl(errorFrame("BAD_MESSAGE", "messages must be JSON objects"))
			continue
		}
		g.handleInbound(c, frame)
		if c.State() == StateClosed {
			return
		}
	}
}

func (g *Gateway) handleInbound(c *Client, frame inboundFrame) {
	ctx := context.Background()
	switch frame.Type {
	case msgHeartbeat:
		g.refreshPresence(c)
	case msgAuth:
		// already authenticated; nothing to do
	case msgSubscribe:
		if c.Namespace != domain.NamespaceAnalytics {
			c.QueueControl(errorFrame("UNSUPPORTED", "subscribe is only valid on the analytics namespace"))
			return
		}
		types := domain.NormalizeEventTypes(frame.EventTypes)
		c.SetEventFilters(types)
		names := make([]string, 0, len(types))
		for _, t := range types {
			names = append(names, string(t))
		}
		observability.RecordGatewayEvent(ctx, "subscribe", "success")
		c.QueueControl(outboundFrame{Type: frameSubscribed, EventTypes: names})
	case msgGetRecent:
		if c.Namespace != domain.NamespaceAnalytics {
			c.QueueControl(errorFrame("UNSUPPORTED", "getRecent is only valid on the analytics namespace"))
			return
		}
		organizationID := c.OrganizationID()
		if frame.OrganizationID != "" && frame.OrganizationID != organizationID {
			if !c.IsSuperAdmin() {
				g.isolationViolation(ctx, c, frame.OrganizationID)
				return
			}
			organizationID = frame.OrganizationID
		}
		events, err := g.bus.GetRecent(ctx, organizationID, frame.Limit)
		if err != nil {
			observability.RecordGatewayEvent(ctx, "get_recent", "error")
			c.QueueControl(errorFrame("INTERNAL", "event backlog unavailable"))
			return
		}
		observability.RecordGatewayEvent(ctx, "get_recent", "success")
		c.QueueControl(outboundFrame{Type: frameRecent, Events: events})
	default:
		c.QueueControl(errorFrame("UNKNOWN_TYPE", "unsupported message type"))
	}
}

// refreshPresence extends the socket's registry lease. A socket the sweeper
// already reaped is simply registered again; the client still holds its full
// identity.
func (g *Gateway) refreshPresence(c *Client) {
	if c.Namespace != domain.NamespacePresence {
		return
	}
	ctx := context.Background()
	err := g.registry.Heartbeat(ctx, c.OrganizationID(), c.ID)
	if errors.Is(err, presence.ErrNotRegistered) {
		err = g.registry.Register(ctx, c.OrganizationID(), c.UserID(), c.ID)
	}
	if err != nil {
		g.logger.Warn("presence heartbeat failed", "socket_id", c.ID, "error", err)
	}
}

func (g *Gateway) isolationViolation(ctx context.Context, c *Client, targetOrganizationID string) {
	observability.EmitAuditCtx(ctx, observability.AuditInput{
		EventName:   "gateway.isolation.violation",
		ActorUserID: observability.ActorUserID(c.UserID()),
		TargetType:  "organization",
		TargetID:    targetOrganizationID,
		Action:      "read",
		Outcome:     "blocked",
		Reason:      "cross_tenant_request",
	}, "socket_id", c.ID, "actor_organization_id", c.OrganizationID())
	observability.RecordGatewayEvent(ctx, "isolation", "violation")
	c.closeWith(CloseTenantViolation, "tenant isolation")
}

func (g *Gateway) teardown(c *Client) {
	ctx := context.Background()
	g.hub.Unregister(c)
	if c.Namespace == domain.NamespacePresence {
		err := g.registry.Unregister(ctx, c.OrganizationID(), c.ID)
		if err != nil && !errors.Is(err, presence.ErrNotRegistered) {
			g.logger.Warn("presence unregister failed", "socket_id", c.ID, "error", err)
		}
	}
	observability.RecordGatewaySessionChange(ctx, string(c.Namespace), -1)
	c.closeWith(websocket.CloseNormalClosure, "")
	g.logger.Info("connection closed",
		"socket_id", c.ID,
		"namespace", string(c.Namespace),
		"user_id", c.UserID(),
		"organization_id", c.OrganizationID())
}

// originChecker allows all origins when the list is empty or contains "*";
// otherwise the Origin header must match one entry. Requests without an
// Origin header (non-browser clients) always pass.
func originChecker(allowed []string) func(*http.Request) bool {
	allowAll := len(allowed) == 0
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		if origin == "*" {
			allowAll = true
		}
		set[strings.ToLower(origin)] = struct{}{}
	}
	return func(r *http.Request) bool {
		if allowAll {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.ToLower(origin)]
		return ok
	}
}
