package rendezvous

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/peerlink/broker/internal/metrics"
)

// Metric event names exported by the registry.
const (
	MetricRoomsCreated      = "rooms_created"
	MetricRoomsExpired      = "rooms_expired"
	MetricRoomsDeleted      = "rooms_deleted"
	MetricCodeCollisions    = "code_collisions"
	MetricJoinConflicts     = "join_conflicts"
	MetricSignalsRelayed    = "signals_relayed"
	MetricDeliveriesDropped = "deliveries_dropped"
)

const (
	DefaultRoomTTL       = 30 * time.Minute
	DefaultCodeLength    = 6
	DefaultCodeAttempts  = 16
	DefaultSweepInterval = time.Minute
)

type Config struct {
	// RoomTTL is the absolute lifetime of a room. Activity (heartbeats,
	// signals, joins) does not extend it.
	RoomTTL time.Duration

	// CodeLength is the number of characters drawn for a room code.
	CodeLength int

	// CodeAttempts caps collision retries during CreateRoom before the call
	// fails with ErrCapacityExceeded.
	CodeAttempts int

	// SweepInterval is the period of the active expiry sweep run by Run.
	SweepInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.RoomTTL <= 0 {
		c.RoomTTL = DefaultRoomTTL
	}
	if c.CodeLength <= 0 {
		c.CodeLength = DefaultCodeLength
	}
	if c.CodeAttempts <= 0 {
		c.CodeAttempts = DefaultCodeAttempts
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	return c
}

// Registry owns all live rooms. It is constructed at service start, injected
// into the transport layer, and torn down with the process; there is no
// ambient/global room state.
//
// A single mutex guards the room map and all room mutations. Room operations
// only hold it for short, non-blocking critical sections; event delivery to
// peers happens outside the lock.
type Registry struct {
	cfg     Config
	clock   Clock
	metrics *metrics.Metrics
	log     *slog.Logger

	mu    sync.Mutex
	rooms map[string]*Room
}

func NewRegistry(cfg Config, m *metrics.Metrics, clock Clock, logger *slog.Logger) *Registry {
	if m == nil {
		m = metrics.New()
	}
	if clock == nil {
		clock = RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		cfg:     cfg.withDefaults(),
		clock:   clock,
		metrics: m,
		log:     logger,
		rooms:   make(map[string]*Room),
	}
}

func (g *Registry) Metrics() *metrics.Metrics { return g.metrics }

// CreateRoom allocates a fresh code and inserts an empty room with an
// absolute expiry of now+RoomTTL. The collision check and the insert happen
// atomically under the registry lock, so two concurrent callers can never be
// handed the same code.
func (g *Registry) CreateRoom() (RoomInfo, error) {
	for attempt := 0; attempt < g.cfg.CodeAttempts; attempt++ {
		code, err := newCode(g.cfg.CodeLength)
		if err != nil {
			return RoomInfo{}, err
		}

		now := g.clock.Now()
		g.mu.Lock()
		if existing, ok := g.rooms[code]; ok && !existing.expired(now) {
			g.mu.Unlock()
			g.metrics.Inc(MetricCodeCollisions)
			continue
		}
		room := &Room{
			Code:      code,
			CreatedAt: now,
			ExpiresAt: now.Add(g.cfg.RoomTTL),
		}
		g.rooms[code] = room
		g.mu.Unlock()

		g.metrics.Inc(MetricRoomsCreated)
		g.log.Info("room created", "code", code, "expires_at", room.ExpiresAt)
		return RoomInfo{Code: code, CreatedAt: room.CreatedAt, ExpiresAt: room.ExpiresAt}, nil
	}

	return RoomInfo{}, ErrCapacityExceeded
}

// lookupLocked returns the live room for code. Expired rooms are evicted
// opportunistically and read as absent.
func (g *Registry) lookupLocked(code string, now time.Time) *Room {
	room, ok := g.rooms[code]
	if !ok {
		return nil
	}
	if room.expired(now) {
		delete(g.rooms, code)
		g.metrics.Inc(MetricRoomsExpired)
		return nil
	}
	return room
}

// Status returns the occupancy view of a live room, or ErrRoomNotFound for
// unknown and expired codes alike.
func (g *Registry) Status(code string) (Status, error) {
	now := g.clock.Now()
	g.mu.Lock()
	defer g.mu.Unlock()

	room := g.lookupLocked(code, now)
	if room == nil {
		return Status{}, ErrRoomNotFound
	}
	occ := room.occupancy()
	return Status{
		Code:         room.Code,
		HasInitiator: occ.HasInitiator,
		HasResponder: occ.HasResponder,
		CreatedAt:    room.CreatedAt,
		ExpiresAt:    room.ExpiresAt,
	}, nil
}

// Exists reports room existence without an error path; unknown and expired
// codes both read as absent.
func (g *Registry) Exists(code string) (bool, Occupancy) {
	now := g.clock.Now()
	g.mu.Lock()
	defer g.mu.Unlock()

	room := g.lookupLocked(code, now)
	if room == nil {
		return false, Occupancy{}
	}
	return true, room.occupancy()
}

// Join binds a connection to a role slot of a live room.
//
// Joining a slot already held by the same connection is an idempotent rejoin
// and overwrites the slot. Joining a slot held by a different connection
// fails with ErrRoleConflict and leaves the occupant untouched. When the
// join fills the second slot, the opposite participant is notified that a
// peer joined; the joining side is not notified of its own join.
func (g *Registry) Join(code string, role Role, clientID, connID string, peer Peer) (Occupancy, error) {
	now := g.clock.Now()

	g.mu.Lock()
	room := g.lookupLocked(code, now)
	if room == nil {
		g.mu.Unlock()
		return Occupancy{}, ErrRoomNotFound
	}

	slot := room.slot(role)
	if cur := *slot; cur != nil && cur.ConnID != connID {
		g.mu.Unlock()
		g.metrics.Inc(MetricJoinConflicts)
		return Occupancy{}, ErrRoleConflict
	}
	*slot = &Participant{ClientID: clientID, ConnID: connID, Peer: peer}

	occ := room.occupancy()
	var other *Participant
	if occ.full() {
		other = *room.slot(role.Other())
	}
	g.mu.Unlock()

	if other != nil {
		g.deliver(other, Event{Type: EventPeerJoined, Role: role, ClientID: clientID})
	}
	g.log.Info("participant joined", "code", code, "role", role.String(), "client_id", clientID)
	return occ, nil
}

// Leave clears the slot bound to connID, if any. When the room is left with
// both slots empty it is deleted immediately rather than waiting for expiry;
// otherwise the remaining participant is told that its peer left.
//
// Leave is idempotent and side-effect-free when the room or the slot is
// already gone: disconnect races must not raise errors.
func (g *Registry) Leave(code, connID string) {
	g.mu.Lock()
	room, ok := g.rooms[code]
	if !ok {
		g.mu.Unlock()
		return
	}

	left, leftRole, ok := room.byConn(connID)
	if !ok {
		g.mu.Unlock()
		return
	}
	*room.slot(leftRole) = nil

	var remaining *Participant
	deleted := room.empty()
	if deleted {
		delete(g.rooms, code)
	} else {
		remaining = *room.slot(leftRole.Other())
	}
	g.mu.Unlock()

	if remaining != nil {
		g.deliver(remaining, Event{Type: EventPeerLeft, Role: leftRole, ClientID: left.ClientID})
	}
	if deleted {
		g.metrics.Inc(MetricRoomsDeleted)
		g.log.Info("room deleted", "code", code)
	}
	g.log.Info("participant left", "code", code, "role", leftRole.String(), "client_id", left.ClientID)
}

// Relay forwards an opaque payload to the participant whose clientId matches
// targetClientID, tagged with the sender's clientId. The sender is resolved
// from the room slot bound to fromConnID, never from caller-supplied data;
// a sender that has not joined the room is identified by its connection id.
//
// Delivery is a single best-effort attempt to exactly one connection: no
// fan-out, no retry, no buffering for an unreachable target.
func (g *Registry) Relay(code, fromConnID, targetClientID string, payload json.RawMessage) error {
	now := g.clock.Now()

	g.mu.Lock()
	room := g.lookupLocked(code, now)
	if room == nil {
		g.mu.Unlock()
		return ErrRoomNotFound
	}
	target := room.byClient(targetClientID)
	if target == nil {
		g.mu.Unlock()
		return ErrTargetNotFound
	}
	fromClientID := fromConnID
	if from, _, ok := room.byConn(fromConnID); ok {
		fromClientID = from.ClientID
	}
	g.mu.Unlock()

	g.deliver(target, Event{Type: EventSignal, FromClientID: fromClientID, Payload: payload})
	g.metrics.Inc(MetricSignalsRelayed)
	return nil
}

func (g *Registry) deliver(p *Participant, ev Event) {
	if p.Peer == nil || !p.Peer.Deliver(ev) {
		g.metrics.Inc(MetricDeliveriesDropped)
		g.log.Warn("event delivery dropped", "type", string(ev.Type), "client_id", p.ClientID)
	}
}

// Len returns the number of rooms currently held, including expired rooms
// that have not been swept yet.
func (g *Registry) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}

// Run drives the active expiry sweep until ctx is cancelled. Lookups already
// evict lazily; the sweep bounds memory held by abandoned rooms that nobody
// touches again.
func (g *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(g.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.sweep()
		}
	}
}

func (g *Registry) sweep() {
	now := g.clock.Now()

	g.mu.Lock()
	var expired []string
	for code, room := range g.rooms {
		if room.expired(now) {
			expired = append(expired, code)
		}
	}
	for _, code := range expired {
		delete(g.rooms, code)
	}
	g.mu.Unlock()

	for range expired {
		g.metrics.Inc(MetricRoomsExpired)
	}
	if len(expired) > 0 {
		g.log.Info("swept expired rooms", "count", len(expired))
	}
}
