package signaling

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/peerlink/broker/internal/metrics"
	"github.com/peerlink/broker/internal/origin"
	"github.com/peerlink/broker/internal/rendezvous"
)

// Metric event names exported by the transport layer.
const (
	MetricWSConnections  = "ws_connections"
	MetricWSDisconnects  = "ws_disconnects"
	MetricSendQueueFull  = "ws_send_queue_full"
	MetricRateLimited    = "ws_rate_limited"
	MetricOriginRejected = "origin_rejected"
)

const (
	DefaultIdleTimeout     = 60 * time.Second
	DefaultPingInterval    = 20 * time.Second
	DefaultMaxMessageBytes = 64 * 1024
)

type Config struct {
	Registry   *rendezvous.Registry
	ICEServers []webrtc.ICEServer

	// AllowedOrigins is the normalized allowlist applied to browser
	// requests. Empty means same-host only; "*" admits any origin.
	AllowedOrigins []string

	IdleTimeout          time.Duration
	PingInterval         time.Duration
	MaxMessageBytes      int64
	MaxMessagesPerSecond int

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

func (c Config) withDefaults() Config {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Metrics == nil {
		c.Metrics = metrics.New()
	}
	return c
}

// Server exposes the room REST API and the WebSocket signaling endpoint on
// top of a rendezvous.Registry.
type Server struct {
	cfg      Config
	registry *rendezvous.Registry
	log      *slog.Logger
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
}

func NewServer(cfg Config) *Server {
	cfg = cfg.withDefaults()
	s := &Server{
		cfg:      cfg,
		registry: cfg.Registry,
		log:      cfg.Logger,
		metrics:  cfg.Metrics,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return origin.CheckHeader(r.Header.Get("Origin"), r.Host, cfg.AllowedOrigins)
		},
	}
	return s
}

// RegisterRoutes mounts the broker API on mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/rooms", s.withOriginPolicy(s.handleCreateRoom))
	mux.HandleFunc("GET /api/rooms/{code}", s.withOriginPolicy(s.handleRoomStatus))
	mux.HandleFunc("GET /api/rooms/{code}/exists", s.withOriginPolicy(s.handleRoomExists))
	mux.HandleFunc("GET /webrtc/ice", s.withOriginPolicy(s.handleICEServers))
	mux.HandleFunc("GET /ws", s.handleWebSocket)
}

// withOriginPolicy rejects disallowed cross-origin REST calls and mirrors the
// origin back for allowed ones. Requests without an Origin header (curl,
// server-to-server) always pass.
func (s *Server) withOriginPolicy(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Origin")
		if !origin.CheckHeader(header, r.Host, s.cfg.AllowedOrigins) {
			s.metrics.Inc(MetricOriginRejected)
			s.log.Warn("origin rejected", "origin", header, "path", r.URL.Path)
			writeJSONError(w, http.StatusForbidden, "origin_forbidden", "origin not allowed")
			return
		}
		if header != "" {
			w.Header().Set("Access-Control-Allow-Origin", header)
			w.Header().Set("Vary", "Origin")
		}
		next(w, r)
	}
}

type roomCreatedResponse struct {
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	info, err := s.registry.CreateRoom()
	if err != nil {
		if errors.Is(err, rendezvous.ErrCapacityExceeded) {
			writeJSONError(w, http.StatusServiceUnavailable, errCodeCapacityExceeded, "could not allocate a room code")
			return
		}
		s.log.Error("create room failed", "err", err)
		writeJSONError(w, http.StatusInternalServerError, errCodeInternal, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, roomCreatedResponse{
		Code:      info.Code,
		CreatedAt: info.CreatedAt,
		ExpiresAt: info.ExpiresAt,
	})
}

type roomStatusResponse struct {
	Code         string    `json:"code"`
	HasInitiator bool      `json:"hasInitiator"`
	HasResponder bool      `json:"hasResponder"`
	CreatedAt    time.Time `json:"createdAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

func (s *Server) handleRoomStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.registry.Status(r.PathValue("code"))
	if err != nil {
		writeJSONError(w, http.StatusNotFound, errCodeRoomNotFound, "room not found or expired")
		return
	}
	writeJSON(w, http.StatusOK, roomStatusResponse{
		Code:         status.Code,
		HasInitiator: status.HasInitiator,
		HasResponder: status.HasResponder,
		CreatedAt:    status.CreatedAt,
		ExpiresAt:    status.ExpiresAt,
	})
}

type roomExistsResponse struct {
	Exists       bool `json:"exists"`
	HasInitiator bool `json:"hasInitiator"`
	HasResponder bool `json:"hasResponder"`
}

// handleRoomExists answers 200 for unknown codes too; absence is data here,
// not an error.
func (s *Server) handleRoomExists(w http.ResponseWriter, r *http.Request) {
	exists, occ := s.registry.Exists(r.PathValue("code"))
	writeJSON(w, http.StatusOK, roomExistsResponse{
		Exists:       exists,
		HasInitiator: occ.HasInitiator,
		HasResponder: occ.HasResponder,
	})
}

type iceServersResponse struct {
	ICEServers []webrtc.ICEServer `json:"iceServers"`
}

func (s *Server) handleICEServers(w http.ResponseWriter, r *http.Request) {
	servers := s.cfg.ICEServers
	if servers == nil {
		servers = []webrtc.ICEServer{}
	}
	writeJSON(w, http.StatusOK, iceServersResponse{ICEServers: servers})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		s.log.Debug("websocket upgrade failed", "err", err, "origin", r.Header.Get("Origin"))
		return
	}

	sess := newSession(s, conn)
	s.metrics.Inc(MetricWSConnections)
	s.log.Info("session opened", "conn_id", sess.connID, "remote", r.RemoteAddr)

	go sess.writePump()
	sess.readLoop()
	s.metrics.Inc(MetricWSDisconnects)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("response encode failed", "err", err)
	}
}

type errorResponse struct {
	Error wireError `json:"error"`
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: wireError{Code: code, Message: message}})
}
