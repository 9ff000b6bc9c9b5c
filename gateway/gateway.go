package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/taskhive/taskhive/fanout"
	"github.com/taskhive/taskhive/internal/metrics"
	"github.com/taskhive/taskhive/presence"
	"github.com/taskhive/taskhive/services"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// EventRegister must be the first event a client sends; everything else
	// is rejected until registration succeeds.
	EventRegister   = "register"
	EventRegistered = "registered"
	EventError      = "error"
)

// ClientMessage is the frame read from clients.
type ClientMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type registerPayload struct {
	UserID string `json:"user_id"`
}

type ackPayload struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

// FeatureHandler routes a client event that arrived after registration.
// Returning an error closes the connection.
type FeatureHandler func(ctx context.Context, g *Gateway, connID, userID string, msg ClientMessage) error

// Gateway terminates websocket connections for one feature namespace. It
// verifies the principal on register, tracks presence in the shared registry
// and routes feature events to the configured handlers.
type Gateway struct {
	namespace string
	verifier  *services.PrincipalVerifier
	registry  *presence.Registry
	fanout    *fanout.Fanout
	sender    *LocalSender
	handlers  map[string]FeatureHandler
	upgrader  websocket.Upgrader
}

// NewGateway creates a gateway for one namespace. All gateways of a process
// can share a single LocalSender only if connection ids never collide, which
// uuid guarantees; still, each gateway gets its own to keep ownership obvious.
func NewGateway(
	namespace string,
	verifier *services.PrincipalVerifier,
	registry *presence.Registry,
	fo *fanout.Fanout,
	sender *LocalSender,
) *Gateway {
	return &Gateway{
		namespace: namespace,
		verifier:  verifier,
		registry:  registry,
		fanout:    fo,
		sender:    sender,
		handlers:  make(map[string]FeatureHandler),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Namespace returns the feature namespace this gateway serves.
func (g *Gateway) Namespace() string { return g.namespace }

// Fanout returns the fan-out bound to this gateway's namespace.
func (g *Gateway) Fanout() *fanout.Fanout { return g.fanout }

// Handle registers a feature event handler. Must be called before serving.
func (g *Gateway) Handle(event string, h FeatureHandler) {
	g.handlers[event] = h
}

// ServeWS upgrades the request and runs the connection until it closes.
func (g *Gateway) ServeWS(c echo.Context) error {
	conn, err := g.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Warn().Err(err).Str("namespace", g.namespace).Msg("websocket upgrade failed")
		return err
	}

	connID := uuid.NewString()
	g.sender.Add(connID, conn)
	metrics.ActiveConnectionsGauge.WithLabelValues(g.namespace).Inc()

	g.readLoop(c.Request().Context(), conn, connID)
	return nil
}

func (g *Gateway) readLoop(ctx context.Context, conn *websocket.Conn, connID string) {
	var (
		userID     string
		registered bool
		cleanup    sync.Once
	)

	teardown := func() {
		cleanup.Do(func() {
			g.sender.Remove(connID)
			metrics.ActiveConnectionsGauge.WithLabelValues(g.namespace).Dec()
			conn.Close()
			if registered {
				// Presence cleanup must survive request context cancellation.
				rmCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := g.registry.Remove(rmCtx, connID); err != nil {
					log.Error().Err(err).
						Str("namespace", g.namespace).
						Str("conn_id", connID).
						Msg("failed to remove connection from presence registry")
				}
			}
		})
	}
	defer teardown()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	go g.pingLoop(conn, connID)

	for {
		var msg ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("namespace", g.namespace).Str("conn_id", connID).Msg("websocket closed unexpectedly")
			}
			return
		}

		if msg.Event == EventRegister {
			id, err := g.register(ctx, connID, msg.Data)
			if err != nil {
				g.sendAck(connID, EventRegistered, false, "registration rejected")
				return
			}
			userID = id
			registered = true
			g.sendAck(connID, EventRegistered, true, "")
			continue
		}

		if !registered {
			g.sendAck(connID, EventError, false, "register first")
			continue
		}

		handler, ok := g.handlers[msg.Event]
		if !ok {
			g.sendAck(connID, EventError, false, "unknown event")
			continue
		}
		if err := handler(ctx, g, connID, userID, msg); err != nil {
			log.Warn().Err(err).
				Str("namespace", g.namespace).
				Str("event", msg.Event).
				Str("user_id", userID).
				Msg("feature handler failed")
			return
		}
	}
}

func (g *Gateway) register(ctx context.Context, connID string, data json.RawMessage) (string, error) {
	var payload registerPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", err
	}

	user, err := g.verifier.Verify(ctx, payload.UserID)
	if err != nil {
		return "", err
	}
	if err := g.registry.Register(ctx, user.ID, connID); err != nil {
		return "", err
	}

	log.Info().
		Str("namespace", g.namespace).
		Str("user_id", user.ID).
		Str("conn_id", connID).
		Msg("websocket registered")
	return user.ID, nil
}

func (g *Gateway) pingLoop(conn *websocket.Conn, connID string) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for range ticker.C {
		if !g.sender.Owns(connID) {
			return
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
			return
		}
	}
}

func (g *Gateway) sendAck(connID, event string, success bool, reason string) {
	data, err := json.Marshal(ackPayload{Success: success, Reason: reason})
	if err != nil {
		return
	}
	if err := g.sender.Send(connID, event, data); err != nil {
		log.Debug().Err(err).Str("conn_id", connID).Msg("failed to send ack")
	}
}
