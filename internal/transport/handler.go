package transport

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"coursepulse/internal/config"
	"coursepulse/internal/event"
	"coursepulse/internal/registry"
)

// Authenticator resolves a bearer credential to a user identity. It is
// an external hook: the engine never owns accounts or tokens.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (event.Identity, error)
}

// Dispatcher routes one inbound client event. Implementations must
// isolate their own failures; a handler error never tears down the
// connection.
type Dispatcher interface {
	Handle(ctx context.Context, conn registry.Link, raw []byte)
}

// RosterCleaner removes a dropped connection's user from every live
// session roster it participates in.
type RosterCleaner interface {
	DropConnection(link registry.Link)
}

// Flusher replays pending unread notifications once per new
// connection.
type Flusher interface {
	FlushPending(ctx context.Context, link registry.Link)
}

// AuditWriter records the device-session audit trail. Write-once per
// connect, update-once per disconnect; failures degrade to log-only.
type AuditWriter interface {
	CreateDeviceSession(ctx context.Context, s *event.DeviceSession) error
	CloseDeviceSession(ctx context.Context, connectionID string, at time.Time) error
	LatestDeviceSession(ctx context.Context, userID string) (*event.DeviceSession, error)
}

var upgrader = websocket.Upgrader{
	HandshakeTimeout: 10 * time.Second,
	CheckOrigin: func(r *http.Request) bool {
		// Origin enforcement happens at the edge proxy.
		return true
	},
}

// Handler authenticates handshakes and runs the per-connection
// lifecycle: admit, auto-join personal and role scopes, post-connect
// checks, read pump, cleanup.
type Handler struct {
	registry   *registry.Registry
	dispatcher Dispatcher
	rosters    RosterCleaner
	flusher    Flusher
	audit      AuditWriter
	auth       Authenticator
	cfg        config.WebSocketConfig
	logger     *zap.Logger
}

func NewHandler(reg *registry.Registry, dispatcher Dispatcher, rosters RosterCleaner, flusher Flusher, audit AuditWriter, auth Authenticator, cfg config.WebSocketConfig, logger *zap.Logger) *Handler {
	return &Handler{
		registry:   reg,
		dispatcher: dispatcher,
		rosters:    rosters,
		flusher:    flusher,
		audit:      audit,
		auth:       auth,
		cfg:        cfg,
		logger:     logger.Named("transport"),
	}
}

// HandleWebSocket is the handshake entry point. Authentication is
// resolved before the upgrade so rejected clients get a proper HTTP
// status and never touch registry state.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		http.Error(w, "missing credential", http.StatusUnauthorized)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.AuthTimeout)
	defer cancel()

	ident, err := h.auth.Authenticate(ctx, token)
	if err != nil {
		http.Error(w, "invalid credential", http.StatusUnauthorized)
		return
	}
	if !ident.IsActive {
		http.Error(w, "account inactive", http.StatusForbidden)
		return
	}
	if !event.ValidRole(ident.Role) {
		http.Error(w, "unrecognized role", http.StatusForbidden)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	device := event.DescribeDevice(r.UserAgent(), clientAddr(r))
	conn := NewConnection(ws, ident, device, h.cfg.SendBuffer, h.cfg.WriteTimeout)

	if err := h.registry.Register(conn); err != nil {
		h.logger.Error("connection admission failed",
			zap.String("user_id", ident.UserID), zap.Error(err))
		_ = conn.Close()
		return
	}

	// Every connection belongs to its personal and role scopes for the
	// whole of its life.
	_ = h.registry.JoinScope(conn, registry.UserScope(ident.UserID))
	_ = h.registry.JoinScope(conn, registry.RoleScope(ident.Role))

	if err := conn.Send(event.OutConnected, map[string]any{
		"connection_id": conn.ID(),
		"device_count":  h.registry.ConnectionCount(ident.UserID),
	}); err != nil {
		h.logger.Debug("connected ack failed", zap.Error(err))
	}

	h.logger.Info("connection admitted",
		zap.String("user_id", ident.UserID),
		zap.String("role", ident.Role),
		zap.String("connection_id", conn.ID()),
		zap.String("device_class", device.Class))

	go h.postConnect(conn)
	go h.readLoop(conn)
}

// postConnect runs the side effects that must not block admission:
// audit trail, new-device check, pending-notification flush. Each step
// degrades independently on persistence failure.
func (h *Handler) postConnect(conn *Connection) {
	ctx := context.Background()

	previous, err := h.audit.LatestDeviceSession(ctx, conn.UserID())
	if err != nil {
		h.logger.Warn("device history lookup failed",
			zap.String("user_id", conn.UserID()), zap.Error(err))
		previous = nil
	}

	if err := h.audit.CreateDeviceSession(ctx, &event.DeviceSession{
		ConnectionID: conn.ID(),
		UserID:       conn.UserID(),
		Device:       conn.Device(),
		ConnectedAt:  conn.ConnectedAt(),
	}); err != nil {
		h.logger.Warn("device session audit write failed",
			zap.String("connection_id", conn.ID()), zap.Error(err))
	}

	if previous != nil && !event.SameDevice(previous.Device, conn.Device()) {
		// Weak fingerprint on purpose; see DeviceDescriptor.
		h.registry.SendToUser(conn.UserID(), event.OutSecurityAlert, map[string]any{
			"reason":          "new_device_login",
			"device":          conn.Device(),
			"previous_device": previous.Device,
		})
	}

	h.flusher.FlushPending(ctx, conn)
}

// readLoop pumps inbound frames into the dispatcher and keeps the
// heartbeat alive. On any read error the deferred cleanup removes the
// connection from rosters, scopes, presence, and the audit trail.
func (h *Handler) readLoop(conn *Connection) {
	defer func() {
		h.rosters.DropConnection(conn)
		h.registry.Unregister(conn.ID())
		if err := h.audit.CloseDeviceSession(context.Background(), conn.ID(), time.Now()); err != nil {
			h.logger.Warn("device session audit close failed",
				zap.String("connection_id", conn.ID()), zap.Error(err))
		}
		_ = conn.Close()
		h.logger.Info("connection closed",
			zap.String("user_id", conn.UserID()),
			zap.String("connection_id", conn.ID()))
	}()

	ws := conn.ws
	if err := ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout)); err != nil {
		return
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	})

	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ticker.C:
				if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.cfg.WriteTimeout)); err != nil {
					return
				}
			case <-conn.ctx.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Debug("read error",
					zap.String("connection_id", conn.ID()), zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		h.dispatcher.Handle(context.Background(), conn, data)
	}
}

func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// clientAddr prefers the forwarded client address set by the edge
// proxy, falling back to the socket peer.
func clientAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i > 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
