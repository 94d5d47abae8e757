package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/evalgo/flowcollab/internal/apierr"
	"github.com/evalgo/flowcollab/internal/authn"
	"github.com/evalgo/flowcollab/internal/collab"
	"github.com/evalgo/flowcollab/internal/eventbus"
	"github.com/evalgo/flowcollab/internal/ratelimit"
)

type logf func(format string, args ...interface{})

// Gateway owns every connection accepted by this process instance,
// enforces admission and per-message rate limits, and fans out both
// locally-scoped broadcasts and cross-instance events delivered over the
// event bus. It implements collab.Broadcaster so the coordinator never
// touches a transport connection directly.
type Gateway struct {
	auth    *authn.Authenticator
	limiter *ratelimit.Limiter
	coord   *collab.Coordinator
	bus     *eventbus.Bus
	logger  logf

	upgrader websocket.Upgrader

	mu       sync.RWMutex
	sessions map[string]*Session

	subs []*eventbus.Subscription
}

// New builds a gateway over its collaborators. SetCoordinator must be
// called before Serve handles a connection (the coordinator and gateway
// hold a reference to each other and so can't both be constructed in one
// step); main wiring does New, collab.New(..., gw), gw.SetCoordinator.
func New(auth *authn.Authenticator, limiter *ratelimit.Limiter, bus *eventbus.Bus, logger logf) *Gateway {
	if logger == nil {
		logger = func(string, ...interface{}) {}
	}
	return &Gateway{
		auth:    auth,
		limiter: limiter,
		bus:     bus,
		logger:  logger,
		sessions: make(map[string]*Session),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// SetCoordinator wires the collaboration coordinator this gateway
// dispatches flow/room operations to.
func (g *Gateway) SetCoordinator(c *collab.Coordinator) {
	g.coord = c
}

// StartEventBridge subscribes to flow:update:* and ai:response:* so
// mutations and AI replies produced by other instances (or this one's own
// collab coordinator, which only broadcasts locally) reach this gateway's
// local connections. Call once after SetCoordinator.
func (g *Gateway) StartEventBridge(ctx context.Context) error {
	sub1, err := g.bus.Subscribe(ctx, eventbus.TopicFlowUpdateAll(), g.onFlowUpdateEvent)
	if err != nil {
		return err
	}
	sub2, err := g.bus.Subscribe(ctx, eventbus.TopicAIResponseAll(), g.onAIResponseEvent)
	if err != nil {
		_ = sub1.Close()
		return err
	}
	g.subs = append(g.subs, sub1, sub2)
	return nil
}

// Close tears down the event bridge subscriptions. Live connections are
// closed individually as their handlers return.
func (g *Gateway) Close() {
	for _, s := range g.subs {
		_ = s.Close()
	}
}

func (g *Gateway) onFlowUpdateEvent(env eventbus.Envelope) {
	flowID, _ := env.Payload["flowId"].(string)
	if flowID == "" {
		return
	}
	g.ToRoom(flowID, EventFlowUpdated, env.Payload, "")
}

func (g *Gateway) onAIResponseEvent(env eventbus.Envelope) {
	if g.coord != nil {
		// Routing on this path is decided here from the payload
		// (connectionId, else projectId); Coordinator.HandleAIResponse
		// is not called.
	}
	if connID, ok := env.Payload["connectionId"].(string); ok && connID != "" {
		g.ToConnection(connID, EventAIResponse, env.Payload)
		return
	}
	if projectID, ok := env.Payload["projectId"].(string); ok && projectID != "" {
		g.ToRoom(projectID, EventAIResponse, env.Payload, "")
	}
}

// ToRoom implements collab.Broadcaster: deliver to every local session
// the coordinator reports as a member of flowID's room, except
// excludeConnID. A member connection id not locally present (it belongs
// to another gateway instance) is silently skipped — it was already
// reached via the event bus subscription on that instance.
func (g *Gateway) ToRoom(flowID, event string, payload interface{}, excludeConnID string) {
	if g.coord == nil {
		return
	}
	for _, m := range g.coord.Roster(flowID) {
		if m.ConnectionID == excludeConnID {
			continue
		}
		g.ToConnection(m.ConnectionID, event, payload)
	}
}

// ToConnection implements collab.Broadcaster: deliver to one locally-held
// session, if present. No-op otherwise — a bad/absent member must never
// starve the rest of a broadcast.
func (g *Gateway) ToConnection(connID, event string, payload interface{}) {
	g.mu.RLock()
	sess, ok := g.sessions[connID]
	g.mu.RUnlock()
	if !ok {
		return
	}
	sess.enqueue(Envelope{ID: uuid.NewString(), Type: event, Timestamp: time.Now().UTC(), Payload: payload})
}

// ServeHTTP upgrades the request to a WebSocket and runs the connection's
// full lifecycle: authenticate, admit, loop, disconnect-cleanup. It
// returns only once the connection has closed.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, err := g.authenticate(r)
	if err != nil {
		http.Error(w, string(apierr.CodeOf(err)), http.StatusUnauthorized)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger("gateway: upgrade failed: %v", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ok, aerr := g.limiter.AcquireConnection(ctx, identity.UserID, identity.Tier)
	if aerr != nil || !ok {
		g.writeAndClose(conn, EventError, map[string]interface{}{"type": string(apierr.ConnLimit), "message": "connection limit reached for this tier"})
		return
	}
	defer func() { _ = g.limiter.ReleaseConnection(context.Background(), identity.UserID) }()

	sess := &Session{
		ConnectionID: uuid.NewString(),
		UserID:       identity.UserID,
		Tier:         identity.Tier,
		ConnectedAt:  time.Now().UTC().Unix(),
		conn:         conn,
		send:         make(chan Envelope, 64),
	}

	g.mu.Lock()
	g.sessions[sess.ConnectionID] = sess
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		delete(g.sessions, sess.ConnectionID)
		g.mu.Unlock()
		if g.coord != nil {
			g.coord.DisconnectAll(context.Background(), sess.UserID, sess.ConnectionID)
		}
		_ = conn.Close()
	}()

	sess.enqueue(Envelope{Type: EventConnected, Timestamp: time.Now().UTC(), Payload: map[string]interface{}{
		"connectionId": sess.ConnectionID, "userId": sess.UserID, "tier": sess.Tier,
	}})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); g.sendLoop(ctx, sess) }()
	go func() { defer wg.Done(); g.pingLoop(ctx, conn) }()

	g.readLoop(ctx, sess)
	cancel()
	wg.Wait()
}

func (g *Gateway) writeAndClose(conn *websocket.Conn, event string, payload interface{}) {
	_ = conn.WriteJSON(Envelope{Type: event, Timestamp: time.Now().UTC(), Payload: payload})
	_ = conn.Close()
}

func (g *Gateway) authenticate(r *http.Request) (*authn.Identity, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = r.Header.Get("Authorization")
	}
	return g.auth.Authenticate(token)
}

// readLoop is the cooperative per-connection reader: it never blocks any
// other connection's handler, since each runs on its own goroutine with
// its own context.
func (g *Gateway) readLoop(ctx context.Context, sess *Session) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			sess.enqueue(Envelope{Type: EventError, Timestamp: time.Now().UTC(), Payload: map[string]interface{}{
				"type": string(apierr.ValidationError), "message": "malformed frame",
			}})
			continue
		}

		result, rerr := g.limiter.CheckAndConsume(ctx, sess.UserID, sess.ConnectionID, sess.Tier, ratelimit.Message)
		if rerr != nil || !result.Allowed {
			sess.enqueue(Envelope{Type: EventError, Timestamp: time.Now().UTC(), Payload: map[string]interface{}{
				"type": string(apierr.RateLimit), "message": "message rate exceeded",
			}})
			continue
		}

		g.dispatch(ctx, sess, frame)
	}
}

func (g *Gateway) sendLoop(ctx context.Context, sess *Session) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-sess.send:
			if !ok {
				return
			}
			if err := sess.writeJSON(env); err != nil {
				return
			}
		}
	}
}

func (g *Gateway) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		}
	}
}
